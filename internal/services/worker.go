package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// HotspotWorker runs hotspot detection on a cron schedule, off the
// submission path
type HotspotWorker struct {
	detector *HotspotDetector
	schedule string
	timeout  time.Duration
	clock    func() time.Time
	logger   *zap.SugaredLogger
}

// NewHotspotWorker creates a new background hotspot worker
func NewHotspotWorker(detector *HotspotDetector, schedule string, logger *zap.SugaredLogger) *HotspotWorker {
	return &HotspotWorker{
		detector: detector,
		schedule: schedule,
		timeout:  5 * time.Minute,
		clock:    time.Now,
		logger:   logger,
	}
}

// Start runs one detection immediately, then on every tick of the schedule
// until ctx is cancelled. It blocks.
func (w *HotspotWorker) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(w.schedule, func() { w.detect(ctx) }); err != nil {
		return fmt.Errorf("invalid hotspot schedule %q: %w", w.schedule, err)
	}

	// Initial run
	w.detect(ctx)

	c.Start()
	w.logger.Infow("Hotspot worker started", "schedule", w.schedule)

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	w.logger.Info("Hotspot worker stopped")
	return nil
}

func (w *HotspotWorker) detect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	run, err := w.detector.Run(ctx, w.clock())
	switch {
	case errors.Is(err, models.ErrAlreadyProcessing):
		w.logger.Debug("Hotspot detection already running, skipping tick")
	case err != nil:
		w.logger.Errorw("Hotspot detection failed", "error", err)
	default:
		w.logger.Debugw("Hotspot tick complete", "active", run.Active)
	}
}
