// SPDX-License-Identifier: MIT

// Package api implements the Gateway HTTP Surface: kiosk-facing routes
// under no prefix and staff/admin routes under /admin. httprate provides
// transport-edge sliding-window limiting in front of the domain
// token-bucket limiter in internal/ratelimit, which enforces the
// semantic per-(kind,key) buckets.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lockerfleet/fleet/internal/commandqueue"
	"github.com/lockerfleet/fleet/internal/heartbeat"
	"github.com/lockerfleet/fleet/internal/lockerstore"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/ratelimit"
)

// Server wires the gateway's domain packages into chi routes.
type Server struct {
	heartbeat *heartbeat.Supervisor
	commands  *commandqueue.Queue
	lockers   *lockerstore.Store
	limiter   *ratelimit.Limiter
}

// NewServer constructs a Server.
func NewServer(hb *heartbeat.Supervisor, cq *commandqueue.Queue, ls *lockerstore.Store, rl *ratelimit.Limiter) *Server {
	return &Server{heartbeat: hb, commands: cq, lockers: ls, limiter: rl}
}

// Routes mounts kiosk-facing routes (no path prefix) and staff/admin
// routes under /admin.
func (s *Server) Routes(r chi.Router) {
	r.Post("/provisioning/register", s.handleRegister)
	r.Post("/heartbeat", s.handleHeartbeat)
	r.Get("/commands", s.handlePollCommands)
	r.Post("/commands/complete", s.handleCommandComplete)
	r.Post("/commands/clear-stale", s.handleClearStale)
	r.Get("/lockers", s.handleListLockers)

	r.Route("/admin", func(admin chi.Router) {
		admin.Post("/lockers/{id}/open", s.handleAdminOpenLocker)
		admin.Post("/lockers/bulk-open", s.handleAdminBulkOpen)
		admin.Get("/lockers/{id}/status", s.handleAdminLockerStatus)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

type registerRequest struct {
	KioskID    string `json:"kiosk_id"`
	Zone       string `json:"zone"`
	Version    string `json:"version"`
	HardwareID string `json:"hardware_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil || req.KioskID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kiosk_id required")
		return
	}
	polling, err := s.heartbeat.Register(r.Context(), heartbeat.Registration{
		KioskID: req.KioskID, Zone: req.Zone, Version: req.Version, HardwareID: req.HardwareID,
	})
	if err != nil {
		log.WithComponent("api").Error().Err(err).Str("kiosk_id", req.KioskID).Msg("register failed")
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "registration failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"polling_config": polling})
}

type heartbeatRequest struct {
	KioskID        string   `json:"kiosk_id"`
	Version        string   `json:"version"`
	ConfigHash     string   `json:"config_hash"`
	Status         string   `json:"status"`
	VoltageV       *float64 `json:"voltage,omitempty"`
	TemperatureC   *float64 `json:"temperature,omitempty"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	MemoryUsagePct *float64 `json:"memory_usage,omitempty"`
	DiskSpacePct   *float64 `json:"disk_space,omitempty"`
	LastError      string   `json:"last_error,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil || req.KioskID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kiosk_id required")
		return
	}
	if res := s.limiter.Check(ratelimit.KindDevice, req.KioskID, req.KioskID); !res.Allowed {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", res.Reason)
		return
	}
	polling, err := s.heartbeat.Upsert(r.Context(), heartbeat.Telemetry{
		KioskID: req.KioskID, Version: req.Version, ConfigHash: req.ConfigHash,
		Status: heartbeat.KioskOnline, VoltageV: req.VoltageV, TemperatureC: req.TemperatureC,
		UptimeSeconds: req.UptimeSeconds, MemoryUsagePct: req.MemoryUsagePct, DiskSpacePct: req.DiskSpacePct,
		LastError: req.LastError,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_REGISTERED", "kiosk not registered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"polling_config": polling})
}

func (s *Server) handlePollCommands(w http.ResponseWriter, r *http.Request) {
	kioskID := r.URL.Query().Get("kiosk_id")
	if kioskID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kiosk_id required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if res := s.limiter.Check(ratelimit.KindDevice, kioskID, kioskID); !res.Allowed {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", res.Reason)
		return
	}
	commands, err := s.commands.Poll(r.Context(), kioskID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "poll failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

type commandCompleteRequest struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleCommandComplete(w http.ResponseWriter, r *http.Request) {
	var req commandCompleteRequest
	if err := decodeJSON(r, &req); err != nil || req.CommandID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "command_id required")
		return
	}
	if err := s.commands.ReportResult(r.Context(), req.CommandID, req.Success, req.Error); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type clearStaleRequest struct {
	KioskID string `json:"kiosk_id"`
}

func (s *Server) handleClearStale(w http.ResponseWriter, r *http.Request) {
	var req clearStaleRequest
	if err := decodeJSON(r, &req); err != nil || req.KioskID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kiosk_id required")
		return
	}
	n, err := s.commands.ClearStale(r.Context(), req.KioskID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SYSTEM_ERROR", "clear-stale failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared_count": n})
}

func (s *Server) handleListLockers(w http.ResponseWriter, r *http.Request) {
	kioskID := r.URL.Query().Get("kiosk_id")
	if kioskID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "kiosk_id required")
		return
	}
	lockers, err := s.lockers.ListAvailable(r.Context(), kioskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOCKER_LIST_ERROR", "failed to list lockers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lockers": lockers})
}
