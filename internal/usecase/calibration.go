package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// Feedback is the host's verdict on one emitted decision.
type Feedback struct {
	TargetID  string            // agent or skill id the decision named
	SignalKey domain.SignalKind // signal the verdict reflects on
	Accepted  bool              // user took the suggestion
}

// Calibrator maintains bounded per-signal score adjustments learned
// from feedback. Deltas decay on a schedule so stale feedback loses
// influence instead of biasing classification forever.
type Calibrator struct {
	cfg    config.CalibrationConfig
	store  domain.CalibrationStore
	cron   *cron.Cron
	logger *slog.Logger
}

// NewCalibrator creates a calibrator. Zero-valued config fields fall
// back to defaults.
func NewCalibrator(cfg config.CalibrationConfig, store domain.CalibrationStore, logger *slog.Logger) *Calibrator {
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = 15
	}
	if cfg.FeedbackInc <= 0 {
		cfg.FeedbackInc = 2
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.9
	}
	if cfg.DecaySpec == "" {
		cfg.DecaySpec = "@hourly"
	}
	return &Calibrator{cfg: cfg, store: store, cron: cron.New(), logger: logger}
}

// Adjustments returns the current adjustment set for the classifier.
// A store failure yields no adjustments, never an error: classification
// must proceed uncalibrated rather than not at all.
func (c *Calibrator) Adjustments() []domain.CalibrationAdjustment {
	adjustments, err := c.store.All()
	if err != nil {
		c.logger.Warn("calibration unavailable, classifying without adjustments", "error", err)
		return nil
	}
	return adjustments
}

// Record applies one feedback verdict. Accepted feedback nudges the
// delta up, rejected down, clamped to [-MaxDelta, MaxDelta].
func (c *Calibrator) Record(fb Feedback) error {
	if fb.TargetID == "" || fb.SignalKey == "" {
		return domain.NewDomainError("Calibrator.Record", domain.ErrInvalidInput, "feedback missing target or signal")
	}

	adj, err := c.store.Get(string(fb.SignalKey), fb.TargetID)
	if err != nil {
		return domain.WrapOp("Calibrator.Record", err)
	}
	if adj == nil {
		adj = &domain.CalibrationAdjustment{
			SignalKey: string(fb.SignalKey),
			TargetID:  fb.TargetID,
		}
	}

	inc := c.cfg.FeedbackInc
	if !fb.Accepted {
		inc = -inc
	}
	adj.Delta = clampDelta(adj.Delta+inc, c.cfg.MaxDelta)
	adj.SampleCount++
	adj.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	if err := c.store.Put(*adj); err != nil {
		return domain.WrapOp("Calibrator.Record", err)
	}
	c.logger.Debug("calibration updated",
		"target_id", fb.TargetID, "signal", fb.SignalKey, "delta", adj.Delta, "samples", adj.SampleCount)
	return nil
}

// Decay multiplies every delta by the decay factor, rounding toward
// zero. Entries that reach zero are kept; their sample history still
// matters for future feedback.
func (c *Calibrator) Decay() {
	adjustments, err := c.store.All()
	if err != nil {
		c.logger.Warn("calibration decay skipped", "error", err)
		return
	}
	decayed := 0
	for _, adj := range adjustments {
		next := int(float64(adj.Delta) * c.cfg.DecayFactor)
		if next == adj.Delta {
			continue
		}
		adj.Delta = next
		adj.LastUpdated = time.Now().UTC().Format(time.RFC3339)
		if err := c.store.Put(adj); err != nil {
			c.logger.Warn("calibration decay write failed", "key", adj.CalibrationKey(), "error", err)
			continue
		}
		decayed++
	}
	if decayed > 0 {
		c.logger.Info("calibration decayed", "entries", decayed, "factor", c.cfg.DecayFactor)
	}
}

// StartDecay schedules the decay job. Stop cancels it.
func (c *Calibrator) StartDecay() error {
	if _, err := c.cron.AddFunc(c.cfg.DecaySpec, c.Decay); err != nil {
		return fmt.Errorf("schedule calibration decay: %w", err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the decay schedule and waits for a running job to finish.
func (c *Calibrator) Stop() {
	<-c.cron.Stop().Done()
}

func clampDelta(delta, bound int) int {
	if delta > bound {
		return bound
	}
	if delta < -bound {
		return -bound
	}
	return delta
}
