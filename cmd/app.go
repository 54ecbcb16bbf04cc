package main

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/captcha"
	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/monitoring"
	"github.com/sells-group/formguard/internal/pipeline"
	"github.com/sells-group/formguard/internal/resilience"
	"github.com/sells-group/formguard/internal/risk"
	"github.com/sells-group/formguard/internal/store"
)

// appEnv holds the components shared by serve and the admin commands.
type appEnv struct {
	Store    store.Store
	Blocks   *block.Registry
	Scorer   *risk.Scorer
	Captcha  *captcha.Manager
	Metrics  *monitoring.Metrics
	Pipeline *pipeline.Pipeline
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// connectRetry covers a database that is still starting up.
var connectRetry = resilience.RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
	Multiplier:     2,
	JitterFraction: 0.2,
	ShouldRetry: func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	},
	OnRetry: resilience.RetryLogger("store", "connect"),
}

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "formguard.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = resilience.DoVal(ctx, connectRetry, func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: c.Store.MaxConns,
				MinConns: c.Store.MinConns,
			})
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initApp validates c for mode and opens the store. The pipeline is built
// separately since serve attaches alerting that needs the store first.
func initApp(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	secret, err := captcha.NewSecret(c.Captcha.Secret)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "captcha secret")
	}

	return &appEnv{
		Store:   st,
		Blocks:  block.NewRegistry(st),
		Scorer:  risk.NewScorer(c.Risk),
		Captcha: captcha.NewManager(secret, st, time.Duration(c.Captcha.TTLSecs)*time.Second),
	}, nil
}

// buildPipeline wires the submission pipeline. alerts may be nil.
func (e *appEnv) buildPipeline(c *config.Config, metrics *monitoring.Metrics, alerts pipeline.Dispatcher) *pipeline.Pipeline {
	e.Metrics = metrics
	opts := pipeline.Options{Window: risk.Window(c.Risk), Alerts: alerts}
	if metrics != nil {
		opts.Metrics = metrics
	}
	e.Pipeline = pipeline.New(e.Store, e.Blocks, e.Scorer, e.Captcha, opts)
	return e.Pipeline
}
