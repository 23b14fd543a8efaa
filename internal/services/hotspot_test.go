package services

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/config"
	"github.com/aawaaz/civic-pipeline/internal/events"
	"github.com/aawaaz/civic-pipeline/internal/geo"
	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/aawaaz/civic-pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var hotspotNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type runCounter struct {
	runs   int
	errs   int
	active int
}

func (r *runCounter) HotspotRun(err error, active int) {
	r.runs++
	if err != nil {
		r.errs++
	}
	r.active = active
}

func newDetector(t *testing.T) (*HotspotDetector, *store.Memory, *events.Recorder, *runCounter) {
	t.Helper()
	s := store.NewMemory()
	rec := &events.Recorder{}
	d, obs := newDetectorWith(t, s, events.Sync{Publisher: rec})
	return d, s, rec, obs
}

func newDetectorWith(t *testing.T, s *store.Memory, emitter events.Emitter) (*HotspotDetector, *runCounter) {
	t.Helper()
	reg, err := config.LoadRegistry("")
	require.NoError(t, err)
	obs := &runCounter{}
	return NewHotspotDetector(s, s, reg, emitter, obs, DefaultHotspotSettings(), zap.NewNop().Sugar()), obs
}

// seedPotholeCluster lays six potholes within 400m of a centre over the last 20 days
func seedPotholeCluster(t *testing.T, s *store.Memory) []string {
	center := geo.NewPoint(12.9716, 77.5946)
	offsets := []struct{ n, e float64 }{{0, 0}, {300, 0}, {0, 300}, {-250, 100}, {150, -350}, {-200, -200}}
	daysAgo := []int{1, 4, 8, 12, 16, 20}

	var ids []string
	for i, o := range offsets {
		id := fmt.Sprintf("pothole-%d", i)
		at := hotspotNow.Add(-time.Duration(daysAgo[i]) * 24 * time.Hour)
		seedClassified(t, s, id, models.CategoryPothole, geo.Offset(center, o.n, o.e), at)
		ids = append(ids, id)
	}
	return ids
}

func TestHotspotActivation(t *testing.T) {
	d, s, rec, obs := newDetector(t)
	ctx := context.Background()
	ids := seedPotholeCluster(t, s)
	seedClassified(t, s, "garbage-0", models.CategoryGarbage, geo.NewPoint(12.9716, 77.5946), hotspotNow.Add(-time.Hour))

	run, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	assert.Equal(t, 7, run.Considered)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Active)
	assert.Equal(t, 1, obs.active)

	hotspots, err := s.ListHotspots(ctx, models.HotspotFilter{})
	require.NoError(t, err)
	require.Len(t, hotspots, 1)
	h := hotspots[0]
	assert.Equal(t, models.CategoryPothole, h.Category)
	assert.Equal(t, models.HotspotActive, h.Status)
	assert.Equal(t, 6, h.ComplaintCount)
	assert.Equal(t, models.TrendIncreasing, h.Trend)
	assert.ElementsMatch(t, ids, h.MemberIDs)
	require.NotNil(t, h.NotifiedAt)

	for _, id := range ids {
		c, err := s.GetComplaint(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, h.ID, c.HotspotID)
	}

	activated := rec.OfType(models.EventHotspotActivated)
	require.Len(t, activated, 1)
	assert.Equal(t, []string{"PUBLIC_WORKS", "TRAFFIC_MANAGEMENT"}, activated[0].Departments)
	assert.Equal(t, h.ID, activated[0].HotspotID)

	assert.Equal(t, 6, d.DensityAt(models.CategoryPothole, h.Center))
	assert.Equal(t, 0, d.DensityAt(models.CategoryStreetlight, h.Center))
}

func TestHotspotRerunIsIdempotent(t *testing.T) {
	d, s, rec, _ := newDetector(t)
	ctx := context.Background()
	seedPotholeCluster(t, s)

	_, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	first, err := s.ListHotspots(ctx, models.HotspotFilter{})
	require.NoError(t, err)

	run, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Created)
	assert.Equal(t, 1, run.Updated)

	second, err := s.ListHotspots(ctx, models.HotspotFilter{})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].MemberIDs, second[0].MemberIDs)
	assert.Len(t, rec.OfType(models.EventHotspotActivated), 1, "no re-notification")
}

func TestHotspotResolvesBelowThreshold(t *testing.T) {
	d, s, _, _ := newDetector(t)
	ctx := context.Background()
	ids := seedPotholeCluster(t, s)

	_, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)

	// 25 days later only the two newest complaints are inside the window
	run, err := d.Run(ctx, hotspotNow.Add(25*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, run.Resolved)
	assert.Equal(t, 0, run.Active)

	hotspots, err := s.ListHotspots(ctx, models.HotspotFilter{Status: models.HotspotResolved})
	require.NoError(t, err)
	require.Len(t, hotspots, 1)
	h := hotspots[0]
	assert.Equal(t, 2, h.ComplaintCount)
	assert.Equal(t, models.TrendDecreasing, h.Trend)
	assert.Empty(t, h.MemberIDs)
	require.NotNil(t, h.ResolvedAt)

	for _, id := range ids {
		c, err := s.GetComplaint(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, c.HotspotID)
	}
}

func TestHotspotBelowThresholdNeverActivates(t *testing.T) {
	d, s, rec, _ := newDetector(t)
	center := geo.NewPoint(12.9716, 77.5946)
	for i := 0; i < 4; i++ {
		seedClassified(t, s, fmt.Sprintf("noise-%d", i), models.CategoryNoise, geo.Offset(center, float64(i*50), 0), hotspotNow.Add(-time.Hour))
	}
	// far away: a separate cluster
	seedClassified(t, s, "noise-far", models.CategoryNoise, geo.Offset(center, 5000, 0), hotspotNow.Add(-time.Hour))

	run, err := d.Run(context.Background(), hotspotNow)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Created)
	assert.Empty(t, rec.Events())
}

func TestNewHotspotActivatesDespiteBusierPastWindow(t *testing.T) {
	d, s, rec, _ := newDetector(t)
	ctx := context.Background()
	seedPotholeCluster(t, s)
	center := geo.NewPoint(12.9716, 77.5946)
	for i := 0; i < 8; i++ {
		at := hotspotNow.Add(-time.Duration(35+i*3) * 24 * time.Hour)
		seedClassified(t, s, fmt.Sprintf("old-pothole-%d", i), models.CategoryPothole, geo.Offset(center, float64(i*40), 0), at)
	}

	run, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Active)

	require.Len(t, run.Hotspots, 1)
	h := run.Hotspots[0]
	assert.Equal(t, 6, h.ComplaintCount)
	assert.Equal(t, 8, h.PreviousCount)
	assert.Equal(t, models.TrendDecreasing, h.Trend)
	assert.Equal(t, models.HotspotActive, h.Status)
	assert.Len(t, rec.OfType(models.EventHotspotActivated), 1)
}

func TestShrinkingHotspotStepsDownToMonitoring(t *testing.T) {
	d, s, rec, _ := newDetector(t)
	ctx := context.Background()
	seedPotholeCluster(t, s)

	first, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	require.Len(t, first.Hotspots, 1)

	// five fresh reports after the first run; the original six fall into the previous window
	center := geo.NewPoint(12.9716, 77.5946)
	for i := 0; i < 5; i++ {
		at := hotspotNow.Add(time.Duration(i+1) * 24 * time.Hour)
		seedClassified(t, s, fmt.Sprintf("new-pothole-%d", i), models.CategoryPothole, geo.Offset(center, float64(i*60), 50), at)
	}

	run, err := d.Run(ctx, hotspotNow.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, run.Created)
	assert.Equal(t, 1, run.Updated)
	assert.Equal(t, 0, run.Active)

	require.Len(t, run.Hotspots, 1)
	h := run.Hotspots[0]
	assert.Equal(t, first.Hotspots[0].ID, h.ID)
	assert.Equal(t, 5, h.ComplaintCount)
	assert.Equal(t, 6, h.PreviousCount)
	assert.Equal(t, models.HotspotMonitoring, h.Status)
	assert.Len(t, rec.OfType(models.EventHotspotActivated), 1)
}

func TestRefusedActivationIsRetriedNextRun(t *testing.T) {
	s := store.NewMemory()
	rec := &events.Recorder{}
	notifier := events.NewNotifier(rec, nil, 1, zap.NewNop().Sugar())
	notifier.DeadLetterTo(s)
	d, _ := newDetectorWith(t, s, notifier)
	ctx := context.Background()

	seedPotholeCluster(t, s)
	center := geo.NewPoint(12.9716, 77.5946)
	for i := 0; i < 5; i++ {
		seedClassified(t, s, fmt.Sprintf("garbage-%d", i), models.CategoryGarbage, geo.Offset(center, 0, float64(i*50)), hotspotNow.Add(-time.Hour))
	}

	// dispatcher not running: the queue holds one event, the second is refused
	run, err := d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	require.Equal(t, 2, run.Created)

	notified := map[models.Category]bool{}
	hotspots, err := s.ListHotspots(ctx, models.HotspotFilter{})
	require.NoError(t, err)
	require.Len(t, hotspots, 2)
	for _, h := range hotspots {
		notified[h.Category] = h.NotifiedAt != nil
	}
	assert.True(t, notified[models.CategoryPothole])
	assert.False(t, notified[models.CategoryGarbage])

	letters, err := s.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "event:hotspot.activated", letters[0].Collaborator)

	runCtx, cancel := context.WithCancel(ctx)
	defer notifier.Close(time.Second)
	defer cancel()
	go notifier.Start(runCtx)
	require.Eventually(t, func() bool {
		return len(rec.OfType(models.EventHotspotActivated)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	run, err = d.Run(ctx, hotspotNow)
	require.NoError(t, err)
	assert.Equal(t, 0, run.Created)

	require.Eventually(t, func() bool {
		return len(rec.OfType(models.EventHotspotActivated)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	seen := map[string]bool{}
	for _, e := range rec.OfType(models.EventHotspotActivated) {
		seen[e.HotspotID] = true
	}
	assert.Len(t, seen, 2, "each hotspot notified once")

	hotspots, err = s.ListHotspots(ctx, models.HotspotFilter{Category: models.CategoryGarbage})
	require.NoError(t, err)
	require.Len(t, hotspots, 1)
	assert.NotNil(t, hotspots[0].NotifiedAt)
}

func TestClusteringIgnoresInputOrder(t *testing.T) {
	d := &HotspotDetector{settings: DefaultHotspotSettings()}
	rng := rand.New(rand.NewSource(7))
	centers := []models.GeoPoint{
		geo.NewPoint(12.9716, 77.5946),
		geo.NewPoint(12.9816, 77.6046),
		geo.NewPoint(12.9300, 77.6200),
	}

	var complaints []*models.Complaint
	for i := 0; i < 30; i++ {
		c := centers[i%len(centers)]
		complaints = append(complaints, &models.Complaint{
			ID:             fmt.Sprintf("c-%02d", i),
			Location:       geo.Offset(c, rng.Float64()*1200-600, rng.Float64()*1200-600),
			Classification: &models.ClassificationResult{Category: models.CategoryPothole},
			SubmittedAt:    hotspotNow.Add(-time.Duration(rng.Intn(600)) * time.Hour),
		})
	}

	type shape struct {
		center  models.GeoPoint
		members []string
	}
	describe := func(clusters []*cluster) []shape {
		out := make([]shape, len(clusters))
		for i, cl := range clusters {
			out[i] = shape{center: cl.center(), members: memberIDs(cl.members)}
		}
		return out
	}

	want := describe(d.clusterCategory(complaints))
	require.NotEmpty(t, want)
	for i := 0; i < 20; i++ {
		shuffled := append([]*models.Complaint(nil), complaints...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, describe(d.clusterCategory(shuffled)), "permutation %d", i)
	}
}

func TestHotspotTrend(t *testing.T) {
	d := &HotspotDetector{settings: DefaultHotspotSettings()}
	assert.Equal(t, models.TrendIncreasing, d.trend(8, 6))
	assert.Equal(t, models.TrendStable, d.trend(7, 6))
	assert.Equal(t, models.TrendStable, d.trend(6, 6))
	assert.Equal(t, models.TrendDecreasing, d.trend(5, 6))
}

func TestHotspotConcurrentRunFailsFast(t *testing.T) {
	d, _, _, _ := newDetector(t)
	d.running.Lock()
	defer d.running.Unlock()

	_, err := d.Run(context.Background(), hotspotNow)
	assert.ErrorIs(t, err, models.ErrAlreadyProcessing)
}

func TestHotspotWorkerStopsOnCancel(t *testing.T) {
	d, s, _, obs := newDetector(t)
	seedPotholeCluster(t, s)

	w := NewHotspotWorker(d, "@every 1h", zap.NewNop().Sugar())
	w.clock = func() time.Time { return hotspotNow }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		hs, _ := s.ListHotspots(context.Background(), models.HotspotFilter{})
		return len(hs) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 1, obs.runs)
}

func TestHotspotWorkerRejectsBadSchedule(t *testing.T) {
	d, _, _, _ := newDetector(t)
	w := NewHotspotWorker(d, "not a schedule", zap.NewNop().Sugar())
	assert.Error(t, w.Start(context.Background()))
}
