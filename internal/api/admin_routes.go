// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lockerfleet/fleet/internal/commandqueue"
	"github.com/lockerfleet/fleet/internal/ratelimit"
)

type adminOpenRequest struct {
	StaffUser string `json:"staff_user"`
	Reason    string `json:"reason"`
}

// handleAdminOpenLocker enqueues an open_locker command.
func (s *Server) handleAdminOpenLocker(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid locker id")
		return
	}
	var req adminOpenRequest
	if err := decodeJSON(r, &req); err != nil || req.StaffUser == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "staff_user required")
		return
	}

	kioskID := r.URL.Query().Get("kiosk_id")
	if res := s.limiter.Check(ratelimit.KindLocker, strconv.Itoa(id), kioskID); !res.Allowed {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", res.Reason)
		return
	}
	commandID, err := s.commands.Enqueue(r.Context(), kioskID, commandqueue.TypeOpenLocker,
		map[string]any{"locker_id": id, "staff_user": req.StaffUser, "reason": req.Reason}, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"command_id": commandID})
}

type adminBulkOpenRequest struct {
	LockerIDs  []int  `json:"locker_ids"`
	StaffUser  string `json:"staff_user"`
	Reason     string `json:"reason"`
	ExcludeVIP bool   `json:"exclude_vip"`
}

// handleAdminBulkOpen enqueues a bulk_open command. Bulk
// endpoints validate locker IDs and staff_user non-empty, returning 400
// otherwise.
func (s *Server) handleAdminBulkOpen(w http.ResponseWriter, r *http.Request) {
	var req adminBulkOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed body")
		return
	}
	if req.StaffUser == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "staff_user required")
		return
	}
	for _, id := range req.LockerIDs {
		if id < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "locker ids must be >= 1")
			return
		}
	}

	kioskID := r.URL.Query().Get("kiosk_id")
	for _, id := range req.LockerIDs {
		if res := s.limiter.Check(ratelimit.KindLocker, strconv.Itoa(id), kioskID); !res.Allowed {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", res.Reason)
			return
		}
	}
	commandID, err := s.commands.Enqueue(r.Context(), kioskID, commandqueue.TypeBulkOpen,
		map[string]any{"locker_ids": req.LockerIDs, "staff_user": req.StaffUser, "reason": req.Reason, "exclude_vip": req.ExcludeVIP}, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"command_id": commandID})
}

// handleAdminLockerStatus returns current locker state.
func (s *Server) handleAdminLockerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid locker id")
		return
	}
	kioskID := r.URL.Query().Get("kiosk_id")
	locker, err := s.lockers.GetLocker(r.Context(), kioskID, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "locker not found")
		return
	}
	writeJSON(w, http.StatusOK, locker)
}
