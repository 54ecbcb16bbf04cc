package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/formguard/internal/admin"
	"github.com/sells-group/formguard/internal/alert"
	"github.com/sells-group/formguard/internal/api"
	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/monitoring"
	"github.com/sells-group/formguard/internal/notify"
)

var servePort int

// serveStack is everything serve runs besides the listener.
type serveStack struct {
	env      *appEnv
	handler  http.Handler
	notifier *notify.Async
	sweeper  *monitoring.Sweeper
	bot      *admin.DiscordBot // nil when not configured
	redis    *redis.Client     // nil unless alert.backend is redis
}

func (s *serveStack) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	s.env.Close()
}

// buildServeStack wires the pipeline, alerting, HTTP routes, sweeper and
// optional Discord bot from c.
func buildServeStack(ctx context.Context, c *config.Config) (*serveStack, error) {
	env, err := initApp(ctx, c, "serve")
	if err != nil {
		return nil, err
	}
	stack := &serveStack{env: env}

	metrics := monitoring.NewMetrics()
	cooldown := time.Duration(c.Alert.CooldownSecs) * time.Second

	base, err := notify.FromConfig(c.Notify)
	if err != nil {
		stack.Close()
		return nil, eris.Wrap(err, "init notifier")
	}
	stack.notifier = notify.NewAsync(base, c.Notify, metrics)

	var dedupe alert.Dedupe
	switch c.Alert.Backend {
	case "redis":
		client, err := alert.ConnectRedis(ctx, c.Alert.RedisURL)
		if err != nil {
			stack.Close()
			return nil, eris.Wrap(err, "connect redis")
		}
		stack.redis = client
		dedupe = alert.NewRedisDedupe(client, cooldown)
	default:
		dedupe = alert.NewStoreDedupe(env.Store, cooldown)
	}

	dispatcher := alert.NewDispatcher(dedupe, env.Store, stack.notifier, alert.Options{
		SignalAlerts: c.Alert.SignalAlerts,
		Recorder:     metrics,
	})
	p := env.buildPipeline(c, metrics, dispatcher)

	srv := api.NewServer(c.Server, c.Admin.Key, api.Deps{
		Pipeline: p,
		Blocks:   env.Blocks,
		Alerts:   env.Store,
		Metrics:  metrics,
		Health:   env.Store,
	})
	stack.handler = srv.Router()
	stack.sweeper = monitoring.NewSweeper(env.Store, c.Retention, cooldown, metrics)

	if c.Discord.BotToken != "" {
		exec := admin.NewExecutor(env.Blocks, p, env.Store, c.Admin.DiscordUserIDs)
		bot, err := admin.NewDiscordBot(c.Discord.BotToken, c.Discord.CommandChannelID, exec)
		if err != nil {
			stack.Close()
			return nil, err
		}
		stack.bot = bot
	}
	if c.Admin.Key == "" {
		zap.L().Warn("admin.key not set, admin HTTP routes are disabled")
	}
	return stack, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP risk API and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		stack, err := buildServeStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           stack.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			stack.notifier.Run(gctx)
			return nil
		})
		g.Go(func() error {
			stack.sweeper.Run(gctx)
			return nil
		})
		if stack.bot != nil {
			g.Go(func() error { return stack.bot.Run(gctx) })
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
