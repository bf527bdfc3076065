package mockapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"areahood/internal/featureflags"
	"areahood/internal/seed"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

var epoch = time.Date(2025, 9, 26, 12, 0, 0, 0, time.UTC)

// fixture has one post the demo user has not liked, with three likes.
func fixture() *seed.Dataset {
	user := func(id, email, first, role string) seed.User {
		return seed.User{ID: id, Email: email, Password: seed.DefaultPassword, Username: first, FirstName: first, LastName: "Test", Role: role}
	}
	return &seed.Dataset{
		Users: []seed.User{
			user("1", seed.DemoEmail, "Demo", "resident"),
			user("2", seed.AdminEmail, "Area", "admin"),
			user("3", "bakery@areahood.local", "Bakery", "business"),
			user("4", "nina@areahood.local", "Nina", "resident"),
		},
		Groups: []seed.Group{
			{ID: "1", Name: "Elm Street Dog Walkers", Description: "Morning walks", Members: []string{"3"}},
		},
		Posts: []seed.Post{
			{
				ID: "65f1a2b3c4d5e6f7a8b9c0d1", AuthorID: "3", Content: "Fresh sourdough every Saturday",
				CreatedAt: epoch, LikedBy: []string{"2", "3", "4"},
				Comments: []seed.Comment{{ID: "c-1", AuthorID: "4", Content: "See you there", CreatedAt: epoch.Add(time.Minute)}},
			},
			{ID: "65f1a2b3c4d5e6f7a8b9c0d2", AuthorID: "1", Content: "Lost cat near Elm St", CreatedAt: epoch.Add(-time.Hour)},
			{ID: "65f1a2b3c4d5e6f7a8b9c0d3", AuthorID: "4", Content: "Yard sale on Sunday", CreatedAt: epoch.Add(-2 * time.Hour), GroupID: "1"},
		},
	}
}

const (
	bakeryPost = "65f1a2b3c4d5e6f7a8b9c0d1"
	demoPost   = "65f1a2b3c4d5e6f7a8b9c0d2"
)

func newTestServer(t *testing.T, faults string) *Server {
	t.Helper()
	s, err := New(Options{
		Secret:     testSecret,
		Faults:     featureflags.NewManager(faults),
		Dataset:    fixture(),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	return s
}

// call sends one request through app.Test and decodes the JSON answer.
func call(t *testing.T, s *Server, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func login(t *testing.T, s *Server, email string) string {
	t.Helper()
	status, body := call(t, s, http.MethodPost, "/api/auth/login", "", credentials{Email: email, Password: seed.DefaultPassword})
	require.Equal(t, http.StatusOK, status, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func object(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok, "expected object, got %T", v)
	return m
}

func list(t *testing.T, v any) []any {
	t.Helper()
	l, ok := v.([]any)
	require.True(t, ok, "expected array, got %T", v)
	return l
}
