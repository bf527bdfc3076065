package bootstrap

import (
	"context"
	"net"
	"testing"
	"time"

	"areahood/internal/config"
	"areahood/internal/featureflags"
	"areahood/internal/mockapi"
	"areahood/internal/models"
	"areahood/internal/seed"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig(base string) *config.Config {
	return &config.Config{
		APIBaseURL:     base,
		RequestTimeout: 5 * time.Second,
		SessionBackend: config.BackendMemory,
		SessionKey:     "areahood:test",
		PageSize:       10,
		LogLevel:       "error",
		Env:            "test",
		TracingSampler: 1,
	}
}

func startMock(t *testing.T) string {
	t.Helper()
	srv, err := mockapi.New(mockapi.Options{
		Secret:     "bootstrap-test",
		Faults:     featureflags.NewManager(""),
		Dataset:    seed.Generate(seed.Options{Users: 4, Posts: 5, Seed: 7}),
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App().Listener(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return "http://" + ln.Addr().String() + "/api"
}

func TestNew_WiresStoresToOneSession(t *testing.T) {
	base := startMock(t)
	ctx := context.Background()

	rt, err := New(ctx, testConfig(base))
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close(ctx)) }()

	require.NotNil(t, rt.Feed)
	assert.False(t, rt.Auth.Snapshot().Authenticated)

	require.NoError(t, rt.Auth.Login(ctx, seed.DemoEmail, seed.DefaultPassword))
	require.NoError(t, rt.Posts.LoadPosts(ctx, models.ListParams{}))
	assert.Len(t, rt.Posts.Snapshot().Posts, 5)

	me, err := rt.Users.LoadMe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", me.ID)

	require.NoError(t, rt.Auth.Logout(ctx))
	assert.Empty(t, rt.Posts.Snapshot().Posts, "logout clears cached entities")
	assert.Nil(t, rt.Users.Snapshot().Me)
}

func TestNew_RestoresPersistedSession(t *testing.T) {
	base := startMock(t)
	ctx := context.Background()
	cfg := testConfig(base)
	cfg.SessionBackend = config.BackendSQLite
	cfg.SessionDSN = t.TempDir() + "/session.db"

	first, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, first.Auth.Login(ctx, seed.AdminEmail, seed.DefaultPassword))
	require.NoError(t, first.Close(ctx))

	second, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = second.Close(ctx) }()
	sess := second.Auth.Snapshot()
	assert.True(t, sess.Authenticated)
	assert.Equal(t, models.RoleAdmin, sess.Role)

	stats, err := second.Users.LoadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats["users"])
}

func TestStartFeed_StopsOnClose(t *testing.T) {
	base := startMock(t)
	ctx := context.Background()

	rt, err := New(ctx, testConfig(base))
	require.NoError(t, err)
	require.NoError(t, rt.Auth.Login(ctx, seed.DemoEmail, seed.DefaultPassword))

	rt.StartFeed(ctx)
	rt.StartFeed(ctx)
	assert.NoError(t, rt.Close(ctx))
}

func TestNew_BadSessionBackend(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1/api")
	cfg.SessionBackend = "floppy"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
