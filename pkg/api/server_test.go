package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tagpin/pkg/config"
	"github.com/cuemby/tagpin/pkg/log"
	"github.com/cuemby/tagpin/pkg/lookup"
	"github.com/cuemby/tagpin/pkg/store"
	"github.com/cuemby/tagpin/pkg/types"
)

func TestMain(m *testing.M) {
	log.Setup("error", false, io.Discard)
	m.Run()
}

// stubResolver answers every reference with a fixed digest or error.
type stubResolver struct {
	digest types.Digest
	err    error
}

func (s *stubResolver) Resolve(ctx context.Context, ref types.Reference) (types.Digest, error) {
	return s.digest, s.err
}

// memStore is a minimal in-memory Store.
type memStore struct {
	mu   sync.Mutex
	pins map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{pins: make(map[string]map[string]string)}
}

func (s *memStore) Load(ctx context.Context, workflowID string) ([]store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []store.Entry
	for k, v := range s.pins[workflowID] {
		entries = append(entries, store.Entry{Key: k, Digest: v})
	}
	return entries, nil
}

func (s *memStore) Put(ctx context.Context, workflowID, key, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[workflowID] == nil {
		s.pins[workflowID] = make(map[string]string)
	}
	s.pins[workflowID][key] = digest
	return nil
}

func (s *memStore) HasWorkflow(ctx context.Context, workflowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pins[workflowID]) > 0, nil
}

func (s *memStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, workflowID)
	return nil
}

func (s *memStore) Close() error { return nil }

func newTestServer(t *testing.T, res *stubResolver) (*Server, *memStore) {
	t.Helper()
	st := newMemStore()
	registry := lookup.NewRegistry(res, st, 5*time.Second, config.Default().Backoff, nil)
	t.Cleanup(registry.Close)
	return NewServer(registry, "test"), st
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLookupEndpointSuccess(t *testing.T) {
	srv, st := newTestServer(t, &stubResolver{
		digest: types.Digest{Algorithm: "sha256", Value: "abc123", MediaType: "application/vnd.oci.image.index.v1+json", Size: 1234},
	})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/workflows/wf-1/lookups", LookupRequest{Image: "ubuntu:latest"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LookupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "docker.io/library/ubuntu:latest", resp.Image)
	assert.Equal(t, "docker.io/library/ubuntu", resp.Repository)
	assert.Equal(t, "latest", resp.Tag)
	assert.Equal(t, "sha256:abc123", resp.Digest)
	assert.Equal(t, int64(1234), resp.Size)

	// The pin is durable.
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, "sha256:abc123", st.pins["wf-1"]["docker.io/library/ubuntu:latest"])
}

func TestLookupEndpointRejectsBadReference(t *testing.T) {
	srv, _ := newTestServer(t, &stubResolver{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/workflows/wf-1/lookups", LookupRequest{Image: "NOT AN IMAGE"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/workflows/wf-1/lookups", LookupRequest{Image: "ubuntu@sha256:45b23dee08af5e43a7fea6c4cf9c25ccf269ee113168c19722f87876677c5cb2"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLookupEndpointBadBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubResolver{})

	req := httptest.NewRequest(http.MethodPost, "/v1/workflows/wf-1/lookups", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupEndpointTransientFailure(t *testing.T) {
	srv, _ := newTestServer(t, &stubResolver{err: errors.New("manifest unknown")})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/workflows/wf-1/lookups", LookupRequest{Image: "ubuntu:latest"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Terminal)
}

func TestPinsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubResolver{digest: types.Digest{Algorithm: "sha256", Value: "abc123"}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/workflows/wf-1/lookups", LookupRequest{Image: "ubuntu:latest"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/workflows/wf-1/pins", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Workflow string            `json:"workflow"`
		Pins     map[string]string `json:"pins"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "wf-1", resp.Workflow)
	assert.Equal(t, map[string]string{"docker.io/library/ubuntu:latest": "sha256:abc123"}, resp.Pins)
}

func TestDeleteWorkflowEndpoint(t *testing.T) {
	srv, st := newTestServer(t, &stubResolver{digest: types.Digest{Algorithm: "sha256", Value: "abc123"}})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/workflows/wf-1/lookups", LookupRequest{Image: "ubuntu:latest"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodDelete, "/v1/workflows/wf-1/", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	found, err := st.HasWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &stubResolver{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
