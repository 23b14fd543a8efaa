// Package services contains business logic layers.
// Services are called by handlers and interact with the store, the
// collaborators and the event notifier.
package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/collaborators"
	"github.com/aawaaz/civic-pipeline/internal/config"
	"github.com/aawaaz/civic-pipeline/internal/events"
	"github.com/aawaaz/civic-pipeline/internal/geo"
	"github.com/aawaaz/civic-pipeline/internal/lock"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/resilience"
	"github.com/aawaaz/civic-pipeline/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Actors recorded in status history
const (
	ActorCitizen = "citizen"
	ActorSystem  = "system"
)

const (
	maxConflictRetries = 5
	imageConcurrency   = 4
	commitTimeout      = 10 * time.Second
)

// DepartmentSource yields the current department mapping snapshot
type DepartmentSource interface {
	Current() *config.Snapshot
}

// DensityReader answers historical complaint density at a location
type DensityReader interface {
	DensityAt(category models.Category, p models.GeoPoint) int
}

// PipelineObserver records pipeline activity, normally the metrics collector
type PipelineObserver interface {
	Submitted()
	PipelineFinished(status string, took time.Duration)
	Transition(from, to string)
	CollaboratorCall(collaborator string, err error)
}

// Policies guards each collaborator kind with its own breaker
type Policies struct {
	Transcription  *resilience.Policy
	ImageAnalysis  *resilience.Policy
	Classification *resilience.Policy
}

// ControllerSettings tunes the lifecycle controller
type ControllerSettings struct {
	PipelineTimeout time.Duration
	LockTTL         time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
}

// Deps bundles the controller's collaborators
type Deps struct {
	Store         store.Store
	Locker        lock.Locker
	Registry      DepartmentSource
	Collaborators collaborators.Set
	Policies      Policies
	Normalizer    *Normalizer
	Density       DensityReader
	Emitter       events.Emitter
	Observer      PipelineObserver
}

// Controller is the complaint lifecycle state machine. It is the only writer
// of status, status history and assigned department.
type Controller struct {
	store     store.Store
	locker    lock.Locker
	registry  DepartmentSource
	collab    collaborators.Set
	policies  Policies
	normalize *Normalizer
	density   DensityReader
	emitter   events.Emitter
	observer  PipelineObserver
	audit     *AuditChain
	validate  *validator.Validate
	settings  ControllerSettings
	clock     func() time.Time
	logger    *zap.SugaredLogger
}

// NewController creates a new lifecycle controller
func NewController(deps Deps, settings ControllerSettings, logger *zap.SugaredLogger) *Controller {
	if settings.PipelineTimeout <= 0 {
		settings.PipelineTimeout = 45 * time.Second
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = settings.PipelineTimeout + 30*time.Second
	}
	if settings.PersistAttempts <= 0 {
		settings.PersistAttempts = 3
	}
	if settings.PersistBackoff <= 0 {
		settings.PersistBackoff = 100 * time.Millisecond
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	return &Controller{
		store:     deps.Store,
		locker:    deps.Locker,
		registry:  deps.Registry,
		collab:    deps.Collaborators,
		policies:  deps.Policies,
		normalize: deps.Normalizer,
		density:   deps.Density,
		emitter:   deps.Emitter,
		observer:  deps.Observer,
		audit:     NewAuditChain(),
		validate:  v,
		settings:  settings,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Submit files a new complaint and runs the pipeline synchronously. Once the
// complaint is stored the citizen always gets a tracking number, even when
// processing later fails.
func (c *Controller) Submit(ctx context.Context, req *models.SubmitRequest) (*models.SubmitResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if !req.HasContent() {
		return nil, models.ValidationError("description", "one of description, audio_ref or image_refs is required")
	}

	now := c.clock()
	complaint := &models.Complaint{
		ID:          uuid.NewString(),
		CitizenRef:  req.CitizenRef,
		Language:    req.Language,
		Description: strings.TrimSpace(req.Description),
		AudioRef:    req.AudioRef,
		ImageRefs:   append([]string{}, req.ImageRefs...),
		Location:    geo.NewPoint(req.Lat, req.Lon),
		Status:      models.StatusSubmitted,
		SubmittedAt: now,
	}
	complaint.StatusHistory = c.audit.Append(nil, models.StatusHistoryEntry{
		Status:    models.StatusSubmitted,
		Timestamp: now,
		Actor:     ActorCitizen,
	})

	if err := c.create(ctx, complaint); err != nil {
		return nil, err
	}
	if c.observer != nil {
		c.observer.Submitted()
	}
	c.logger.Infow("Complaint submitted",
		"complaint_id", complaint.ID,
		"tracking_number", complaint.TrackingNumber,
	)

	// Processing outlives a disconnected client but not the pipeline timeout
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.PipelineTimeout)
	defer cancel()

	final, err := c.process(pctx, complaint.ID, models.StatusSubmitted, ActorSystem)
	if err != nil {
		c.logger.Errorw("Pipeline failed after submission",
			"complaint_id", complaint.ID,
			"error", err,
		)
		final = complaint
		if latest, gerr := c.store.GetComplaint(context.WithoutCancel(ctx), complaint.ID); gerr == nil {
			final = latest
		}
	}

	return &models.SubmitResponse{
		ComplaintID:             final.ID,
		TrackingNumber:          final.TrackingNumber,
		Status:                  final.Status,
		EstimatedResolutionDays: c.estimatedDays(final),
	}, nil
}

// create stores the complaint under a fresh tracking number, regenerating on collision
func (c *Controller) create(ctx context.Context, complaint *models.Complaint) error {
	var err error
	for attempt := 0; attempt < maxTrackingAttempts; attempt++ {
		complaint.TrackingNumber = NewTrackingNumber(complaint.SubmittedAt)
		err = resilience.Retry(ctx, c.settings.PersistAttempts, c.settings.PersistBackoff, func() error {
			return c.store.CreateComplaint(ctx, complaint)
		})
		if !errors.Is(err, models.ErrDuplicateTrackingNumber) {
			break
		}
		c.logger.Warnw("Tracking number collision, regenerating", "attempt", attempt+1)
	}
	if err != nil {
		return fmt.Errorf("store complaint: %w", err)
	}
	return nil
}

// Reprocess re-runs the pipeline for a complaint waiting in NEEDS_REVIEW, or
// one left in PROCESSING by a run whose commit failed
func (c *Controller) Reprocess(ctx context.Context, id, actor string) (*models.Complaint, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.settings.PipelineTimeout)
	defer cancel()
	return c.process(pctx, id, models.StatusNeedsReview, actor)
}

// collected is what the collaborators returned for one run
type collected struct {
	mu            sync.Mutex
	transcription *collaborators.Transcription
	images        []collaborators.ImageAnalysis
	raw           *collaborators.RawClassification
}

// process runs one serialized pipeline execution. from is the status the
// complaint must be in for the run to start.
func (c *Controller) process(ctx context.Context, id string, from models.Status, actor string) (*models.Complaint, error) {
	release, err := c.locker.Acquire(ctx, id, c.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	started := c.clock()
	stranded := false
	complaint, err := c.mutate(ctx, id, func(cp *models.Complaint) error {
		// Holding the lock means no run is in flight, so a PROCESSING
		// complaint here was left behind by a failed commit.
		if from == models.StatusNeedsReview && cp.Status == models.StatusProcessing {
			stranded = true
			return nil
		}
		stranded = false
		if cp.Status != from {
			return models.TransitionError(cp.Status, models.StatusProcessing)
		}
		return c.applyTransition(cp, models.StatusProcessing, actor, "")
	})
	if err != nil {
		return nil, err
	}
	if stranded {
		c.logger.Warnw("Resuming complaint stranded in processing", "complaint_id", id, "actor", actor)
	} else {
		c.recordTransition(from, models.StatusProcessing)
	}

	got := c.gather(ctx, complaint)

	var (
		outcome models.Complaint
		notes   string
	)
	if cerr := ctx.Err(); cerr != nil {
		notes = "processing cancelled: " + cerr.Error()
		outcome = c.reviewOutcome(complaint, nil, models.DepartmentManualReview, notes)
	} else {
		outcome, notes = c.decide(complaint, got)
	}

	// Commit all pipeline fields in one write so a late cancellation can never
	// leave half of them behind.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	final, err := c.mutate(cctx, id, func(cp *models.Complaint) error {
		if cp.Status != models.StatusProcessing {
			return models.TransitionError(cp.Status, outcome.Status)
		}
		cp.Classification = outcome.Classification
		cp.Priority = outcome.Priority
		cp.Routing = outcome.Routing
		if cp.Language == "" {
			cp.Language = outcome.Language
		}
		processed := c.clock()
		cp.ProcessedAt = &processed
		cp.AssignedDepartment = outcome.AssignedDepartment
		return c.applyTransition(cp, outcome.Status, ActorSystem, notes)
	})
	if err != nil {
		c.parkForReview(id, err)
		return nil, fmt.Errorf("commit pipeline result: %w", err)
	}

	c.recordTransition(models.StatusProcessing, final.Status)
	c.emitFor(final, notes)
	if c.observer != nil {
		c.observer.PipelineFinished(string(final.Status), c.clock().Sub(started))
	}
	c.logger.Infow("Complaint processed",
		"complaint_id", final.ID,
		"status", final.Status,
		"department", final.AssignedDepartment,
		"priority", final.Priority,
	)
	return final, nil
}

// gather calls the collaborators. Transcription and image analysis run in
// parallel; classification follows because it needs their text.
func (c *Controller) gather(ctx context.Context, complaint *models.Complaint) *collected {
	got := &collected{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageConcurrency + 1)

	if complaint.AudioRef != "" && c.collab.Transcriber != nil {
		g.Go(func() error {
			var t *collaborators.Transcription
			err := c.call(gctx, c.policies.Transcription, complaint.ID, func(ctx context.Context) error {
				var err error
				t, err = c.collab.Transcriber.Transcribe(ctx, complaint.AudioRef, complaint.Language)
				return err
			})
			if err == nil && t != nil {
				got.mu.Lock()
				got.transcription = t
				got.mu.Unlock()
			}
			return nil
		})
	}

	var images []*collaborators.ImageAnalysis
	if c.collab.ImageAnalyzer != nil {
		images = make([]*collaborators.ImageAnalysis, len(complaint.ImageRefs))
		for i, ref := range complaint.ImageRefs {
			i, ref := i, ref
			g.Go(func() error {
				_ = c.call(gctx, c.policies.ImageAnalysis, complaint.ID, func(ctx context.Context) error {
					a, err := c.collab.ImageAnalyzer.Analyze(ctx, ref)
					if err == nil {
						images[i] = a
					}
					return err
				})
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, a := range images {
		if a != nil {
			got.images = append(got.images, *a)
		}
	}

	if c.collab.Classifier == nil || ctx.Err() != nil {
		return got
	}
	text := strings.TrimSpace(strings.Join(nonEmpty(complaint.Description, transcriptText(got.transcription)), "\n\n"))
	hints := imageHints(got.images)
	if text == "" && len(hints) == 0 {
		return got
	}
	req := collaborators.ClassificationRequest{
		ComplaintID: complaint.ID,
		Language:    complaint.Language,
		Text:        text,
		ImageHints:  hints,
	}
	_ = c.call(ctx, c.policies.Classification, complaint.ID, func(ctx context.Context) error {
		raw, err := c.collab.Classifier.Classify(ctx, req)
		if err == nil {
			got.raw = raw
		}
		return err
	})
	return got
}

// call runs fn under policy. A nil policy calls fn directly.
func (c *Controller) call(ctx context.Context, policy *resilience.Policy, complaintID string, fn func(ctx context.Context) error) error {
	var err error
	name := "unguarded"
	if policy == nil {
		err = fn(ctx)
	} else {
		name = policy.Name()
		err = policy.Do(ctx, complaintID, fn)
	}
	if c.observer != nil {
		c.observer.CollaboratorCall(name, err)
	}
	if err != nil {
		c.logger.Warnw("Collaborator degraded",
			"collaborator", name,
			"complaint_id", complaintID,
			"error", err,
		)
	}
	return err
}

// decide normalizes, scores and routes. It never fails: every gap ends in a
// review queue.
func (c *Controller) decide(complaint *models.Complaint, got *collected) (models.Complaint, string) {
	snap := c.registry.Current()

	result, err := c.normalize.Normalize(Signals{
		Description:    complaint.Description,
		Transcription:  got.transcription,
		Images:         got.images,
		Classification: got.raw,
	})
	if err != nil {
		return c.reviewOutcome(complaint, nil, models.DepartmentManualReview, "classification unavailable"), "classification unavailable"
	}

	density := 0
	if c.density != nil {
		density = c.density.DensityAt(result.Category, complaint.Location)
	}
	priority := ScorePriority(PriorityInputsFor(result, density))

	out := *complaint
	out.Classification = &result
	out.Priority = priority
	if got.transcription != nil && got.transcription.Language != "" {
		out.Language = got.transcription.Language
	}

	if result.NeedsManualReview {
		notes := fmt.Sprintf("low confidence %.2f", result.Confidence)
		review := c.reviewOutcome(&out, &result, models.DepartmentManualReview, notes)
		review.Priority = priority
		return review, notes
	}

	decision, err := Route(result.Category, priority, result.Alternatives, snap)
	if err != nil {
		notes := fmt.Sprintf("no department mapping for %s", result.Category)
		review := c.reviewOutcome(&out, &result, models.DepartmentManualTriage, notes)
		review.Priority = priority
		return review, notes
	}

	out.Routing = &decision
	out.AssignedDepartment = decision.PrimaryDepartment
	out.Status = models.StatusAssigned
	return out, ""
}

var errNotProcessing = errors.New("complaint is no longer processing")

// parkForReview moves a complaint whose pipeline result could not be committed
// out of PROCESSING. Best effort: if this write fails too, Reprocess resumes it.
func (c *Controller) parkForReview(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	notes := "pipeline result not saved: " + cause.Error()
	parked, err := c.mutate(ctx, id, func(cp *models.Complaint) error {
		if cp.Status != models.StatusProcessing {
			return errNotProcessing
		}
		routing := ManualRoute(models.DepartmentManualReview, c.registry.Current())
		cp.Routing = &routing
		cp.AssignedDepartment = models.DepartmentManualReview
		return c.applyTransition(cp, models.StatusNeedsReview, ActorSystem, notes)
	})
	if errors.Is(err, errNotProcessing) {
		return
	}
	if err != nil {
		c.logger.Errorw("Complaint left in processing", "complaint_id", id, "error", err)
		return
	}
	c.recordTransition(models.StatusProcessing, models.StatusNeedsReview)
	c.emitFor(parked, notes)
}

func (c *Controller) reviewOutcome(complaint *models.Complaint, result *models.ClassificationResult, queue, notes string) models.Complaint {
	out := *complaint
	out.Classification = result
	routing := ManualRoute(queue, c.registry.Current())
	out.Routing = &routing
	out.AssignedDepartment = queue
	out.Status = models.StatusNeedsReview
	return out
}

// Transition applies an admin- or system-requested status change
func (c *Controller) Transition(ctx context.Context, id string, to models.Status, actor, notes string) (*models.Complaint, error) {
	if !to.Valid() {
		return nil, models.ValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	if to == models.StatusProcessing {
		return c.Reprocess(ctx, id, actor)
	}

	release, err := c.locker.Acquire(ctx, id, c.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	var from models.Status
	updated, err := c.mutate(ctx, id, func(cp *models.Complaint) error {
		from = cp.Status
		if !models.CanTransition(cp.Status, to) {
			return models.TransitionError(cp.Status, to)
		}
		if to == models.StatusAssigned {
			if err := c.routeForAssignment(cp); err != nil {
				return err
			}
		}
		return c.applyTransition(cp, to, actor, notes)
	})
	if err != nil {
		return nil, err
	}

	c.recordTransition(from, to)
	c.emitFor(updated, notes)
	c.logger.Infow("Complaint transitioned",
		"complaint_id", id,
		"from", from,
		"to", to,
		"actor", actor,
	)
	return updated, nil
}

// routeForAssignment routes a reviewed complaint on its classification
func (c *Controller) routeForAssignment(cp *models.Complaint) error {
	if cp.Classification == nil {
		return models.ValidationError("department", "complaint has no classification, reassign it to a department instead")
	}
	decision, err := Route(cp.Classification.Category, cp.EffectivePriority(), cp.Classification.Alternatives, c.registry.Current())
	if err != nil {
		return models.ValidationError("department", "no mapping for "+string(cp.Classification.Category)+", reassign it to a department instead")
	}
	cp.Routing = &decision
	cp.AssignedDepartment = decision.PrimaryDepartment
	return nil
}

// OverridePriority replaces the effective priority. The computed value is kept.
// An override that crosses the escalation threshold notifies secondary departments.
func (c *Controller) OverridePriority(ctx context.Context, id string, req *models.PriorityOverrideRequest, actor string) (*models.Complaint, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, models.ValidationError("justification", "required")
	}

	release, err := c.locker.Acquire(ctx, id, c.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	var newlyEscalated bool
	updated, err := c.mutate(ctx, id, func(cp *models.Complaint) error {
		if cp.Status == models.StatusClosed {
			return models.ValidationError("status", "closed complaints cannot be changed")
		}
		newlyEscalated = false
		cp.PriorityOverride = &models.PriorityOverride{
			Value:         req.Value,
			Justification: strings.TrimSpace(req.Justification),
			Actor:         actor,
			At:            c.clock(),
			Original:      cp.Priority,
		}
		if cp.Routing == nil || cp.Classification == nil || cp.Routing.PrimaryDepartment != cp.AssignedDepartment {
			return nil
		}
		if cp.Status != models.StatusAssigned && cp.Status != models.StatusInProgress {
			return nil
		}
		decision, err := Route(cp.Classification.Category, req.Value, cp.Classification.Alternatives, c.registry.Current())
		if err != nil || decision.PrimaryDepartment != cp.AssignedDepartment {
			return nil
		}
		newlyEscalated = decision.Escalated && !cp.Routing.Escalated
		cp.Routing = &decision
		return nil
	})
	if err != nil {
		return nil, err
	}

	if newlyEscalated {
		c.emitter.Emit(models.Event{
			Type:        models.EventComplaintRouted,
			ComplaintID: updated.ID,
			Departments: updated.Routing.NotifiedDepartments,
			Routing:     cloneRouting(updated.Routing),
			Notes:       "escalated by priority override",
		})
	}
	c.logger.Infow("Priority overridden",
		"complaint_id", id,
		"value", req.Value,
		"original", updated.Priority,
		"actor", actor,
	)
	return updated, nil
}

// ReassignDepartment moves a complaint to another department. From
// NEEDS_REVIEW it also assigns; from ASSIGNED or IN_PROGRESS the status stays
// and a history entry records the move.
func (c *Controller) ReassignDepartment(ctx context.Context, id, department, actor, notes string) (*models.Complaint, error) {
	department = strings.TrimSpace(department)
	snap := c.registry.Current()
	if department == "" || !snap.KnownDepartment(department) {
		return nil, models.ValidationError("department", fmt.Sprintf("unknown department %q", department))
	}

	release, err := c.locker.Acquire(ctx, id, c.settings.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	var from models.Status
	updated, err := c.mutate(ctx, id, func(cp *models.Complaint) error {
		from = cp.Status
		to := cp.Status
		switch cp.Status {
		case models.StatusNeedsReview:
			to = models.StatusAssigned
		case models.StatusAssigned, models.StatusInProgress:
		default:
			return models.TransitionError(cp.Status, models.StatusAssigned)
		}

		entryNotes := fmt.Sprintf("reassigned from %s to %s", cp.AssignedDepartment, department)
		if notes != "" {
			entryNotes += ": " + notes
		}
		cp.AssignedDepartment = department
		cp.Routing = &models.RoutingDecision{
			PrimaryDepartment:    department,
			SecondaryDepartments: []string{},
			NotifiedDepartments:  []string{department},
			ConfigVersion:        snap.Version,
		}
		if to == cp.Status {
			cp.StatusHistory = c.audit.Append(cp.StatusHistory, models.StatusHistoryEntry{
				Status:    cp.Status,
				Timestamp: c.clock(),
				Actor:     actor,
				Notes:     entryNotes,
			})
			return nil
		}
		return c.applyTransition(cp, to, actor, entryNotes)
	})
	if err != nil {
		return nil, err
	}

	if from != updated.Status {
		c.recordTransition(from, updated.Status)
	}
	c.emitter.Emit(models.Event{
		Type:        models.EventComplaintRouted,
		ComplaintID: updated.ID,
		Departments: []string{department},
		Routing:     cloneRouting(updated.Routing),
		Notes:       "reassigned by " + actor,
	})
	c.logger.Infow("Complaint reassigned",
		"complaint_id", id,
		"department", department,
		"actor", actor,
	)
	return updated, nil
}

// GetComplaint returns the full record
func (c *Controller) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	return c.store.GetComplaint(ctx, id)
}

// GetStatus resolves ref as a complaint id or a tracking number
func (c *Controller) GetStatus(ctx context.Context, ref string) (*models.ComplaintStatusView, error) {
	var (
		complaint *models.Complaint
		err       error
	)
	if strings.HasPrefix(strings.ToUpper(ref), "CMP-") {
		complaint, err = c.store.GetByTrackingNumber(ctx, strings.ToUpper(ref))
	} else {
		complaint, err = c.store.GetComplaint(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	view := complaint.StatusView()
	return &view, nil
}

// ListForDepartment returns a department's complaints, highest priority first
func (c *Controller) ListForDepartment(ctx context.Context, department string, f models.ComplaintFilter) ([]*models.Complaint, error) {
	if !c.registry.Current().KnownDepartment(department) {
		return nil, models.ValidationError("department", fmt.Sprintf("unknown department %q", department))
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, models.ValidationError("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Category != "" && !f.Category.Valid() {
		return nil, models.ValidationError("category", fmt.Sprintf("unknown category %q", f.Category))
	}
	return c.store.ListByDepartment(ctx, department, f)
}

// GetHotspots lists hotspots matching f
func (c *Controller) GetHotspots(ctx context.Context, f models.HotspotFilter) ([]*models.Hotspot, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, models.ValidationError("category", fmt.Sprintf("unknown category %q", f.Category))
	}
	return c.store.ListHotspots(ctx, f)
}

// GetHotspot returns one hotspot by id
func (c *Controller) GetHotspot(ctx context.Context, id string) (*models.Hotspot, error) {
	return c.store.GetHotspot(ctx, id)
}

// ComplaintsInCell lists complaints of one category whose geohash starts with cell
func (c *Controller) ComplaintsInCell(ctx context.Context, cell string, category models.Category) ([]*models.Complaint, error) {
	cell = strings.ToLower(cell)
	if cell == "" || len(cell) > geo.StoragePrecision || strings.Trim(cell, geohashAlphabet) != "" {
		return nil, models.ValidationError("geohash", fmt.Sprintf("invalid geohash prefix %q", cell))
	}
	if !category.Valid() {
		return nil, models.ValidationError("category", fmt.Sprintf("unknown category %q", category))
	}
	return c.store.ListByGeoPrefix(ctx, cell, category)
}

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// History returns the audit trail with its chain verification
func (c *Controller) History(ctx context.Context, id string) (*models.HistoryVerification, error) {
	complaint, err := c.store.GetComplaint(ctx, id)
	if err != nil {
		return nil, err
	}
	broken := c.audit.Verify(complaint.StatusHistory)
	if broken >= 0 {
		c.logger.Errorw("Audit chain broken", "complaint_id", id, "index", broken)
	}
	return &models.HistoryVerification{
		ComplaintID: complaint.ID,
		Entries:     complaint.StatusHistory,
		Valid:       broken < 0,
		BrokenAt:    broken,
		Head:        c.audit.Head(complaint.StatusHistory),
	}, nil
}

// DeadLetters lists collaborator calls awaiting manual intervention
func (c *Controller) DeadLetters(ctx context.Context, limit int) ([]*models.DeadLetter, error) {
	return c.store.ListDeadLetters(ctx, limit)
}

// Departments returns the active mapping table
func (c *Controller) Departments() *config.Snapshot {
	return c.registry.Current()
}

// mutate loads the complaint, applies fn and writes it back. Version
// conflicts reload and reapply; fn errors abort with nothing written.
func (c *Controller) mutate(ctx context.Context, id string, fn func(*models.Complaint) error) (*models.Complaint, error) {
	for attempt := 0; ; attempt++ {
		var complaint *models.Complaint
		err := resilience.Retry(ctx, c.settings.PersistAttempts, c.settings.PersistBackoff, func() error {
			var err error
			complaint, err = c.store.GetComplaint(ctx, id)
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := fn(complaint); err != nil {
			return nil, err
		}
		err = resilience.Retry(ctx, c.settings.PersistAttempts, c.settings.PersistBackoff, func() error {
			return c.store.UpdateComplaint(ctx, complaint)
		})
		if errors.Is(err, models.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return complaint, nil
	}
}

// applyTransition appends the sealed history entry and sets the status
// timestamps. It is the only place status changes.
func (c *Controller) applyTransition(cp *models.Complaint, to models.Status, actor, notes string) error {
	if !models.CanTransition(cp.Status, to) {
		return models.TransitionError(cp.Status, to)
	}
	now := c.clock()
	cp.StatusHistory = c.audit.Append(cp.StatusHistory, models.StatusHistoryEntry{
		Status:    to,
		Timestamp: now,
		Actor:     actor,
		Notes:     notes,
	})
	cp.Status = to

	switch to {
	case models.StatusAssigned:
		cp.AssignedAt = &now
	case models.StatusResolved:
		cp.ResolvedAt = &now
	case models.StatusInProgress:
		// reopened
		cp.ResolvedAt = nil
	}
	return nil
}

// emitFor emits the side effect bound to the complaint's current status
func (c *Controller) emitFor(cp *models.Complaint, notes string) {
	evt := models.Event{ComplaintID: cp.ID, Notes: notes}
	switch cp.Status {
	case models.StatusAssigned:
		evt.Type = models.EventComplaintRouted
		evt.Routing = cloneRouting(cp.Routing)
		if cp.Routing != nil {
			evt.Departments = append([]string{}, cp.Routing.NotifiedDepartments...)
		}
	case models.StatusResolved:
		evt.Type = models.EventFeedbackRequested
		evt.Departments = []string{cp.AssignedDepartment}
	case models.StatusNeedsReview:
		evt.Type = models.EventNeedsReview
		evt.Departments = []string{cp.AssignedDepartment}
	default:
		return
	}
	c.emitter.Emit(evt)
}

func (c *Controller) recordTransition(from, to models.Status) {
	if c.observer != nil {
		c.observer.Transition(string(from), string(to))
	}
}

func (c *Controller) estimatedDays(cp *models.Complaint) int {
	if cp.Status != models.StatusAssigned || cp.Classification == nil {
		return 0
	}
	if m, ok := c.registry.Current().Lookup(cp.Classification.Category); ok {
		return m.AverageResolutionDays
	}
	return 0
}

func cloneRouting(r *models.RoutingDecision) *models.RoutingDecision {
	if r == nil {
		return nil
	}
	out := r.Clone()
	return &out
}

func transcriptText(t *collaborators.Transcription) string {
	if t == nil {
		return ""
	}
	return strings.TrimSpace(t.Text)
}

func imageHints(images []collaborators.ImageAnalysis) []string {
	var hints []string
	for _, img := range images {
		for _, obj := range img.DetectedObjects {
			hints = appendUnique(hints, obj.Label)
		}
		hints = appendUnique(hints, img.SceneLabels...)
		if t := strings.TrimSpace(img.ExtractedText); t != "" {
			hints = appendUnique(hints, "text: "+t)
		}
	}
	return hints
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return models.ValidationError(fe.Field(), "failed "+fe.Tag()+" check")
	}
	return fmt.Errorf("%w: %v", models.ErrValidation, err)
}
