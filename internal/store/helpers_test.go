package store

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"areahood/internal/apiclient"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// backend is a scripted API server. Routes use ServeMux patterns relative
// to /api, e.g. "POST /posts/{id}/like".
type backend struct {
	mux  *http.ServeMux
	srv  *httptest.Server
	mu   sync.Mutex
	hits map[string]int
	last map[string]*http.Request
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		mux:  http.NewServeMux(),
		hits: map[string]int{},
		last: map[string]*http.Request{},
	}
	b.srv = httptest.NewServer(b.mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) handle(pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	b.mux.HandleFunc(method+" /api"+path, func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.hits[pattern]++
		b.last[pattern] = r.Clone(r.Context())
		b.mu.Unlock()
		h(w, r)
	})
}

func (b *backend) count(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[pattern]
}

func (b *backend) lastRequest(pattern string) *http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[pattern]
}

func (b *backend) client(t *testing.T, s apiclient.Session) *apiclient.Client {
	t.Helper()
	c, err := apiclient.New(apiclient.Options{BaseURL: b.srv.URL + "/api", Timeout: 5 * time.Second}, s)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, v)
	}
}

// gate blocks a handler until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-r.Context().Done():
			return
		}
		h(w, r)
	}
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the backend")
	}
}

func (g *gate) open() { close(g.release) }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func feedPage(posts ...map[string]any) map[string]any {
	return map[string]any{
		"data":       posts,
		"pagination": map[string]any{"page": 1, "limit": 20, "totalPages": 1},
	}
}

func rawPost(id string, liked bool, likes int) map[string]any {
	return map[string]any{
		"_id":            id,
		"content":        "post " + id,
		"user":           map[string]any{"_id": "u-" + id, "username": "neighbor"},
		"liked":          liked,
		"likes_count":    likes,
		"comments_count": 0,
		"created_at":     "2025-09-25T10:00:00Z",
	}
}
