package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/store"
)

const defaultListLimit = 50

// handleAllocate implements POST /v1/allocate.
func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorStatus(w, requestIDFrom(r.Context()), http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	requestID := requestIDFrom(r.Context())
	trackID := trackIDFrom(r.Context())

	result, err := s.svc.Allocate(r.Context(), requestID, trackID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result.Sandbox)
}

// handleSandbox dispatches GET /v1/sandboxes/{id} and
// POST /v1/sandboxes/{id}/mark-for-deletion based on the path suffix.
func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	const prefix = "/v1/sandboxes/"
	rest := r.URL.Path[len(prefix):]

	const suffix = "/mark-for-deletion"
	if len(rest) > len(suffix) && rest[len(rest)-len(suffix):] == suffix {
		s.handleMarkForDeletion(w, r, rest[:len(rest)-len(suffix)])
		return
	}

	if r.Method != http.MethodGet {
		writeErrorStatus(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	s.handleGetSandbox(w, r, rest)
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request, sandboxID string) {
	requestID := requestIDFrom(r.Context())
	row, err := s.svc.Get(r.Context(), requestID, sandboxID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleMarkForDeletion(w http.ResponseWriter, r *http.Request, sandboxID string) {
	requestID := requestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		writeErrorStatus(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	trackID := trackIDFrom(r.Context())

	row, err := s.svc.MarkForDeletion(r.Context(), requestID, sandboxID, trackID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handleAdminSync implements POST /v1/admin/sync.
func (s *Server) handleAdminSync(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		writeErrorStatus(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	counts, err := s.svc.AdminSync(r.Context(), requestID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// adminListResponse is the paged-listing body for GET /v1/admin/sandboxes.
type adminListResponse struct {
	Sandboxes  []*sandbox.Sandbox `json:"sandboxes"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// handleAdminList implements GET /v1/admin/sandboxes?status=&cursor=&limit=.
func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeErrorStatus(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	q := r.URL.Query()
	status := sandbox.Status(q.Get("status"))
	cursor := store.Cursor(q.Get("cursor"))
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	rows, next, err := s.svc.AdminList(r.Context(), status, cursor, limit)
	if err != nil {
		writeError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, adminListResponse{Sandboxes: rows, NextCursor: string(next)})
}

// healthzResponse is the liveness body of GET /healthz.
type healthzResponse struct {
	Status string `json:"status"`
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthzResponse{Status: "ok"})
}
