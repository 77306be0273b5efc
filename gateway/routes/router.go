package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tipledger/gateway/middleware"
)

type Config struct {
	RPC           http.Handler
	Stream        http.Handler
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New builds the HTTP surface of the daemon. Authentication runs before rate
// limiting so authenticated callers are limited by subject.
func New(cfg Config) (http.Handler, error) {
	if cfg.RPC == nil {
		return nil, errors.New("routes: rpc handler required")
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability

	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Get("/healthz", health.ServeHTTP)

	r.Group(func(sr chi.Router) {
		if obs != nil {
			sr.Use(obs.Middleware("rpc"))
		}
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware())
		}
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware())
		}
		sr.Handle("/rpc", cfg.RPC)
	})

	if cfg.Stream != nil {
		r.Group(func(sr chi.Router) {
			if obs != nil {
				sr.Use(obs.Middleware("ws"))
			}
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware())
			}
			sr.Get("/ws/tips", cfg.Stream.ServeHTTP)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
