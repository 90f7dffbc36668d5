// Package routes exposes the hosted wallet contract over HTTP.
package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"peleon/core/accounts"
	"peleon/core/events"
	"peleon/core/runtime"
	"peleon/gateway/auth"
	"peleon/gateway/middleware"
)

const defaultQueryTimeout = 5 * time.Second

// Rate limit groups.
const (
	LimitCalls    = "calls"
	LimitOperator = "operator"
)

// Config wires the gateway handler. Runtime, Verifier and OperatorAuth are required.
type Config struct {
	Runtime       *runtime.Runtime
	Verifier      *auth.Verifier
	OperatorAuth  *middleware.OperatorAuth
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          *middleware.CORSConfig
	Events        *events.Fanout
	AccessKeys    *accounts.Keyring
	Metrics       http.Handler
	QueryTimeout  time.Duration
	Logger        *slog.Logger
}

type server struct {
	rt           *runtime.Runtime
	verifier     *auth.Verifier
	fanout       *events.Fanout
	keys         *accounts.Keyring
	queryTimeout time.Duration
	logger       *slog.Logger
}

// New builds the gateway handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("routes: runtime required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("routes: verifier required")
	}
	if cfg.OperatorAuth == nil {
		return nil, errors.New("routes: operator auth required")
	}
	s := &server{
		rt:           cfg.Runtime,
		verifier:     cfg.Verifier,
		fanout:       cfg.Events,
		keys:         cfg.AccessKeys,
		queryTimeout: cfg.QueryTimeout,
		logger:       cfg.Logger,
	}
	if s.queryTimeout <= 0 {
		s.queryTimeout = defaultQueryTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil, s.logger)
	}

	r := chi.NewRouter()
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/contract", s.getContract)
		v1.With(limiter.Middleware(LimitCalls)).Post("/calls/{method}", s.postCall)

		v1.Group(func(op chi.Router) {
			op.Use(limiter.Middleware(LimitOperator))
			op.Use(cfg.OperatorAuth.Middleware(middleware.ScopeOperator))
			op.Get("/accounts/{accountID}", s.getAccount)
			op.Get("/intents", s.listIntents)
			op.Get("/intents/{seq}", s.getIntent)
			if s.fanout != nil {
				op.Get("/events", s.streamEvents)
			}
			if s.keys != nil {
				op.Get("/access-keys/{accountID}", s.getAccessKeys)
				op.Put("/access-keys/{accountID}", s.putAccessKey)
				op.Delete("/access-keys/{accountID}/{credential}", s.deleteAccessKey)
			}
		})
	})

	return otelhttp.NewHandler(r, "peleon-gateway"), nil
}
