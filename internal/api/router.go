// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/lockerfleet/fleet/internal/log"
)

// RouterConfig covers the ingress middleware stack's tunables.
type RouterConfig struct {
	EdgeRequestLimit int           // httprate requests per window, per remote IP
	EdgeWindow       time.Duration // default 1m
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.EdgeRequestLimit <= 0 {
		c.EdgeRequestLimit = 120
	}
	if c.EdgeWindow <= 0 {
		c.EdgeWindow = time.Minute
	}
	return c
}

// NewRouter builds the canonical chi router: recoverer, request ID,
// structured logging, then an httprate sliding-window limiter at the
// transport edge (caps raw request volume per IP) ahead of the
// domain-level ratelimit.Limiter applied per-handler where the
// semantic buckets (card/locker/device) are checked.
func NewRouter(cfg RouterConfig, s *Server) *chi.Mux {
	cfg = cfg.withDefaults()
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(log.Middleware())
	r.Use(httprate.Limit(cfg.EdgeRequestLimit, cfg.EdgeWindow, httprate.WithKeyFuncs(httprate.KeyByIP), httprate.WithLimitHandler(edgeLimitHandler)))

	s.Routes(r)
	return r
}

func edgeLimitHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
}
