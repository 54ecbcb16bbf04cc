// Package api exposes the risk engine over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formguard/internal/block"
	"github.com/sells-group/formguard/internal/config"
	"github.com/sells-group/formguard/internal/model"
	"github.com/sells-group/formguard/internal/monitoring"
	"github.com/sells-group/formguard/internal/pipeline"
)

// AdminKeyHeader carries the administrator key.
const AdminKeyHeader = "X-Admin-Key"

// ErrUnauthorized is reported when the admin key is missing or wrong.
var ErrUnauthorized = eris.New("api: unauthorized")

const maxBodyBytes = 64 << 10

// AlertLister lists recent alert records. store.Store satisfies it.
type AlertLister interface {
	ListAlerts(ctx context.Context, sinceID int64, limit int) ([]model.AlertRecord, error)
}

// Pinger checks a dependency for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the handlers call.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Blocks   *block.Registry
	Alerts   AlertLister
	Metrics  *monitoring.Metrics
	Health   Pinger
}

// Server holds handler state.
type Server struct {
	deps     Deps
	cfg      config.ServerConfig
	adminKey string
	now      func() time.Time
}

// NewServer creates a Server. An empty adminKey disables the admin routes.
func NewServer(cfg config.ServerConfig, adminKey string, deps Deps) *Server {
	return &Server{deps: deps, cfg: cfg, adminKey: adminKey, now: time.Now}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(forwardedClientIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", AdminKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Get("/bridge", handleBridge)
	r.Post("/collect", s.handleCollect)
	r.Get("/risk", s.handleRisk)
	r.Get("/is_blocked", s.handleIsBlocked)
	r.Get("/captcha/new", s.handleCaptchaNew)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/block", s.handleAdminBlock)
		r.Post("/unblock", s.handleAdminUnblock)
		r.Get("/blocked", s.handleAdminBlocked)
		r.Get("/alerts", s.handleAdminAlerts)
	})
	return r
}

// requireAdmin answers 503 when no key is configured and 401 on mismatch.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			writeError(w, http.StatusServiceUnavailable, "admin key is not configured")
			return
		}
		got := r.Header.Get(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminKey)) != 1 {
			zap.L().Warn("api: admin auth failed", zap.String("remote", clientIP(r)))
			writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// forwardedClientIP rewrites RemoteAddr from proxy headers: the first
// X-Forwarded-For hop, then X-Real-IP. Values that are not IP addresses are
// skipped. True-Client-IP is never read.
func forwardedClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := forwardedIP(r.Header); ip != "" {
			r.RemoteAddr = ip
		}
		next.ServeHTTP(w, r)
	})
}

func forwardedIP(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(h.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return ""
}

// clientIP returns the remote host. With proxy headers trusted,
// forwardedClientIP has already replaced RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
