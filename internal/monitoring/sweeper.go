package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/store"
)

// Sweeper periodically purges rows past the retention horizon.
type Sweeper struct {
	store    store.Store
	cfg      config.RetentionConfig
	cooldown time.Duration
	metrics  *Metrics
	now      func() time.Time
}

// NewSweeper creates a retention sweeper. Dedupe rows older than the alert
// cooldown can no longer suppress anything and are purged too.
func NewSweeper(s store.Store, cfg config.RetentionConfig, alertCooldown time.Duration, metrics *Metrics) *Sweeper {
	return &Sweeper{
		store:    s,
		cfg:      cfg,
		cooldown: alertCooldown,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Cutoffs returns the sweep bounds at now. A zero horizon keeps history
// forever but still clears expired challenges and stale dedupe rows.
func (s *Sweeper) Cutoffs(now time.Time) store.SweepCutoffs {
	now = now.UTC()
	c := store.SweepCutoffs{
		Now:    now,
		Dedupe: now.Add(-s.cooldown),
	}
	if s.cfg.HorizonDays > 0 {
		c.Horizon = now.AddDate(0, 0, -s.cfg.HorizonDays)
	}
	return c
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (store.SweepResult, error) {
	res, err := s.store.Sweep(ctx, s.Cutoffs(s.now()))
	if err != nil {
		return res, eris.Wrap(err, "monitoring: sweep")
	}
	s.metrics.Swept("submissions", res.Submissions)
	s.metrics.Swept("visitors", res.Aggregates)
	s.metrics.Swept("challenges", res.Challenges)
	s.metrics.Swept("alert_dedupe", res.Dedupe)
	s.metrics.Swept("alerts", res.Alerts)
	return res, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalMins) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	log := zap.L().With(zap.String("component", "monitoring.sweeper"))
	log.Info("starting retention sweeper",
		zap.Duration("interval", interval),
		zap.Int("horizon_days", s.cfg.HorizonDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				log.Error("monitoring: sweep failed", zap.Error(err))
				continue
			}
			log.Info("monitoring: sweep complete",
				zap.Int64("submissions", res.Submissions),
				zap.Int64("visitors", res.Aggregates),
				zap.Int64("challenges", res.Challenges),
				zap.Int64("dedupe", res.Dedupe),
				zap.Int64("alerts", res.Alerts),
			)
		}
	}
}
