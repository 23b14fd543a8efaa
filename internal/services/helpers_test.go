package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/collaborators"
	"github.com/aawaaz/civic-pipeline/internal/config"
	"github.com/aawaaz/civic-pipeline/internal/events"
	"github.com/aawaaz/civic-pipeline/internal/geo"
	"github.com/aawaaz/civic-pipeline/internal/lock"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClassifier struct {
	raw   string
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, req collaborators.ClassificationRequest) (*collaborators.RawClassification, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &collaborators.RawClassification{Raw: f.raw, Model: "fake"}, nil
}

type fakeTranscriber struct {
	result *collaborators.Transcription
	err    error
	calls  atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioRef, languageHint string) (*collaborators.Transcription, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeImageAnalyzer struct {
	result collaborators.ImageAnalysis
	err    error
}

func (f *fakeImageAnalyzer) Analyze(ctx context.Context, imageRef string) (*collaborators.ImageAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.result
	out.ImageRef = imageRef
	return &out, nil
}

// flakyStore rejects complaint writes that would leave the complaint in one of
// the failing statuses
type flakyStore struct {
	*store.Memory
	mu      sync.Mutex
	failing map[models.Status]bool
}

func (f *flakyStore) failWrites(statuses ...models.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = make(map[models.Status]bool, len(statuses))
	for _, s := range statuses {
		f.failing[s] = true
	}
}

func (f *flakyStore) UpdateComplaint(ctx context.Context, c *models.Complaint) error {
	f.mu.Lock()
	fail := f.failing[c.Status]
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: disk full", models.ErrPersistenceFailure)
	}
	return f.Memory.UpdateComplaint(ctx, c)
}

type harness struct {
	ctrl        *Controller
	store       *store.Memory
	locker      *lock.Memory
	registry    *config.Registry
	recorder    *events.Recorder
	classifier  *fakeClassifier
	transcriber *fakeTranscriber
	images      *fakeImageAnalyzer
}

const potholeReply = "```json\n" + `{"category":"POTHOLE","confidence":0.9,"summary":"Deep pothole near the market","suggested_priority":6,"entities":{"locations":["market road"],"severity_indicators":[],"affected_infrastructure":["road"]}}` + "\n```"

func newHarness(t *testing.T, configure ...func(*Deps, *ControllerSettings)) *harness {
	t.Helper()
	registry, err := config.LoadRegistry("")
	require.NoError(t, err)

	h := &harness{
		store:       store.NewMemory(),
		locker:      lock.NewMemory(),
		registry:    registry,
		recorder:    &events.Recorder{},
		classifier:  &fakeClassifier{raw: potholeReply},
		transcriber: &fakeTranscriber{result: &collaborators.Transcription{Text: "pothole outside my house", Language: "en", Confidence: 0.8}},
		images: &fakeImageAnalyzer{result: collaborators.ImageAnalysis{
			DetectedObjects: []collaborators.DetectedObject{{Label: "pothole", Confidence: 0.7}},
			SafetyFlags:     collaborators.SafetyFlags{IsSafe: true},
		}},
	}

	deps := Deps{
		Store:    h.store,
		Locker:   h.locker,
		Registry: registry,
		Collaborators: collaborators.Set{
			Transcriber:   h.transcriber,
			ImageAnalyzer: h.images,
			Classifier:    h.classifier,
		},
		Normalizer: NewNormalizer(0.5),
		Emitter:    events.Sync{Publisher: h.recorder},
	}
	settings := ControllerSettings{
		PipelineTimeout: 2 * time.Second,
		PersistBackoff:  time.Millisecond,
	}
	for _, fn := range configure {
		fn(&deps, &settings)
	}
	h.ctrl = NewController(deps, settings, zap.NewNop().Sugar())
	return h
}

func textRequest(description string) *models.SubmitRequest {
	return &models.SubmitRequest{
		CitizenRef:  "citizen-42",
		Language:    "en",
		Description: description,
		Lat:         12.9716,
		Lon:         77.5946,
	}
}

// seedClassified stores a classified complaint submitted at the given time
func seedClassified(t *testing.T, s *store.Memory, id string, cat models.Category, p models.GeoPoint, at time.Time) *models.Complaint {
	t.Helper()
	c := &models.Complaint{
		ID:             id,
		TrackingNumber: "CMP-" + id,
		CitizenRef:     "c",
		Location:       geo.NewPoint(p.Lat, p.Lon),
		Classification: &models.ClassificationResult{Category: cat, Confidence: 0.9},
		Priority:       5,
		Status:         models.StatusAssigned,
		SubmittedAt:    at,
	}
	require.NoError(t, s.CreateComplaint(context.Background(), c))
	return c
}
