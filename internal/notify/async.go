package notify

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/resilience"
)

// ErrQueueFull is returned by Async.Send when the message was dropped.
var ErrQueueFull = eris.New("notify: queue full")

// Recorder receives delivery outcomes. *monitoring.Metrics satisfies it.
type Recorder interface {
	NotifyResult(err error)
	NotifyDropped()
}

// Async delivers messages on a background worker. Send never blocks: when
// the queue is full the message is dropped and logged.
type Async struct {
	next    Notifier
	queue   chan string
	limiter *rate.Limiter
	timeout time.Duration
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	rec     Recorder
	log     *zap.Logger
}

// NewAsync wraps next. Call Run to start delivering.
func NewAsync(next Notifier, cfg config.NotifyConfig, rec Recorder) *Async {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}

	log := zap.L().With(zap.String("component", "notify.async"), zap.String("notifier", next.Name()))
	retry, breaker := resilience.FromNotifyConfig(cfg)
	retry.OnRetry = resilience.RetryLogger("notify.async", next.Name())
	breaker.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("notify: circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Async{
		next:    next,
		queue:   make(chan string, size),
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breaker),
		rec:     rec,
		log:     log,
	}
}

// Name implements Notifier.
func (a *Async) Name() string { return "async:" + a.next.Name() }

// Send queues text for delivery. It returns ErrQueueFull when the message
// was dropped; delivery errors are only logged.
func (a *Async) Send(_ context.Context, text string) error {
	select {
	case a.queue <- text:
		return nil
	default:
		a.log.Warn("notify: queue full, dropping message", zap.Int("capacity", cap(a.queue)))
		if a.rec != nil {
			a.rec.NotifyDropped()
		}
		return ErrQueueFull
	}
}

// Pending returns the number of queued messages.
func (a *Async) Pending() int { return len(a.queue) }

// Run delivers queued messages until ctx is cancelled. Messages still queued
// at shutdown are discarded.
func (a *Async) Run(ctx context.Context) {
	a.log.Info("notify: worker started", zap.Int("queue_size", cap(a.queue)))
	for {
		select {
		case <-ctx.Done():
			if n := len(a.queue); n > 0 {
				a.log.Warn("notify: worker stopped with pending messages", zap.Int("pending", n))
			} else {
				a.log.Info("notify: worker stopped")
			}
			return
		case text := <-a.queue:
			if err := a.deliver(ctx, text); err != nil && ctx.Err() == nil {
				a.log.Error("notify: delivery failed", zap.Error(err))
			}
		}
	}
}

func (a *Async) deliver(ctx context.Context, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "notify: rate limit wait")
	}
	err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.breaker.Execute(ctx, func(ctx context.Context) error {
			sctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			return a.next.Send(sctx, text)
		})
	})
	if a.rec != nil {
		a.rec.NotifyResult(err)
	}
	return err
}
