package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/sandboxbroker/pkg/allocator"
	"github.com/cuemby/sandboxbroker/pkg/config"
	"github.com/cuemby/sandboxbroker/pkg/reconciler"
	"github.com/cuemby/sandboxbroker/pkg/sandbox"
	"github.com/cuemby/sandboxbroker/pkg/service"
	"github.com/cuemby/sandboxbroker/pkg/store/memstore"
	"github.com/cuemby/sandboxbroker/pkg/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopUpstream struct{}

func (noopUpstream) List(_ context.Context) ([]upstream.Account, error) { return nil, nil }

func testServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	m := memstore.New()
	alloc := allocator.New(m, allocator.Config{KCandidates: 15, LeaseFor: time.Hour})
	recon := reconciler.New(m, noopUpstream{}, time.Minute)
	svc := service.New(m, alloc, recon)

	cfg := config.Config{
		APIToken:           "user-token",
		AdminToken:         "admin-token",
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}
	return New(cfg, svc), m
}

func TestHealthzBypassesAuth(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAllocateRequiresBearerToken(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", nil)
	req.Header.Set("X-Track-ID", "T1")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAllocateRequiresTrackID(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAllocateSucceeds(t *testing.T) {
	srv, m := testServer(t)
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s1", Status: sandbox.StatusAvailable, Version: 1,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req.Header.Set("X-Track-ID", "T1")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var row sandbox.Sandbox
	require.NoError(t, json.NewDecoder(w.Body).Decode(&row))
	assert.Equal(t, "s1", row.SandboxID)
}

func TestAllocateNoCapacityReturns409(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req.Header.Set("X-Track-ID", "T1")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetSandboxNotFound(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/sandboxes/missing", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkForDeletionForbiddenForOtherTrack(t *testing.T) {
	srv, m := testServer(t)
	track := "T1"
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s1", Status: sandbox.StatusAllocated, AllocatedToTrack: &track, Version: 1,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/sandboxes/s1/mark-for-deletion", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req.Header.Set("X-Track-ID", "T2")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminSyncRequiresAdminToken(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/sync", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminListPaged(t *testing.T) {
	srv, m := testServer(t)
	require.NoError(t, m.PutIfAbsent(context.Background(), &sandbox.Sandbox{
		SandboxID: "s1", Status: sandbox.StatusAvailable, Version: 1,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/sandboxes?status=available&limit=10", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body adminListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Sandboxes, 1)
	assert.Equal(t, "s1", body.Sandboxes[0].SandboxID)
}
