package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/sandboxbroker/pkg/apierrors"
)

// errorBody is the structured JSON error body of §7:
// {error, message, request_id}.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// statusFor maps an abstract apierrors.Kind to its HTTP status per §7.
// VersionConflict never reaches this layer: the allocator retries it
// internally and never returns it to a caller.
func statusFor(kind apierrors.Kind) int {
	switch kind {
	case apierrors.KindNotFound:
		return http.StatusNotFound
	case apierrors.KindUnauthorized:
		return http.StatusUnauthorized
	case apierrors.KindForbidden:
		return http.StatusForbidden
	case apierrors.KindWrongState, apierrors.KindNoCapacity:
		return http.StatusConflict
	case apierrors.KindUpstream:
		return http.StatusBadGateway
	case apierrors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case apierrors.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	kind, ok := apierrors.KindOf(err)
	if !ok {
		writeErrorStatus(w, requestID, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeErrorStatus(w, requestID, statusFor(kind), string(kind), err.Error())
}

func writeErrorStatus(w http.ResponseWriter, requestID string, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Message: message, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
