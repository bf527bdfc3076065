package store

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"areahood/internal/models"
	"areahood/internal/optimistic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func likeFields(t *testing.T, s *PostStore, id string) (bool, int) {
	t.Helper()
	for _, p := range s.Snapshot().Posts {
		if p.ID == id {
			return p.Liked, p.LikesCount
		}
	}
	t.Fatalf("post %s not cached", id)
	return false, 0
}

func loadedPostStore(t *testing.T, b *backend) *PostStore {
	t.Helper()
	b.handle("GET /posts", respond(http.StatusOK, feedPage(rawPost("p1", false, 3), rawPost("p2", true, 1))))
	s := NewPostStore(b.client(t, nil), 20)
	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{}))
	return s
}

func TestLoadPosts_NormalizesAndPaginates(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)

	snap := s.Snapshot()
	require.Len(t, snap.Posts, 2)
	assert.Equal(t, "p1", snap.Posts[0].ID)
	assert.Equal(t, "neighbor", snap.Posts[0].Author.DisplayName)
	assert.NotNil(t, snap.Posts[0].Media)
	assert.False(t, snap.Page.HasMore)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)

	req := b.lastRequest("GET /posts")
	assert.Equal(t, "1", req.URL.Query().Get("page"))
	assert.Equal(t, "20", req.URL.Query().Get("limit"))
}

func TestLoadPosts_EmptySearchIsUnfiltered(t *testing.T) {
	b := newBackend(t)
	var queries []string
	var lastQuery atomic.Value
	lastQuery.Store("")
	b.handle("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		lastQuery.Store(r.URL.RawQuery)
		writeJSON(w, http.StatusOK, feedPage(rawPost("p1", false, 0)))
	})
	s := NewPostStore(b.client(t, nil), 10)

	for _, search := range []string{"", "   ", "\t"} {
		require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{Search: search}))
		queries = append(queries, lastQuery.Load().(string))
	}
	unfiltered := s.Snapshot().Posts

	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{}))
	assert.Equal(t, unfiltered, s.Snapshot().Posts)
	for _, q := range queries {
		assert.NotContains(t, q, "search")
	}

	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{Search: " cats "}))
	assert.Contains(t, lastQuery.Load().(string), "search=cats")
}

func TestLoadPosts_FailureKeepsContents(t *testing.T) {
	b := newBackend(t)
	var fail atomic.Bool
	b.handle("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, feedPage(rawPost("p1", false, 0)))
	})
	s := NewPostStore(b.client(t, nil), 10)
	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{}))

	fail.Store(true)
	err := s.LoadPosts(context.Background(), models.ListParams{})
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Len(t, snap.Posts, 1)
	assert.False(t, snap.Loading)
	assert.Equal(t, "database unavailable", snap.Error)

	s.ClearError()
	assert.Empty(t, s.Snapshot().Error)
}

func TestLoadPosts_CancellationChangesNothing(t *testing.T) {
	b := newBackend(t)
	g := newGate()
	b.handle("GET /posts", g.wrap(respond(http.StatusOK, feedPage(rawPost("late", false, 0)))))
	s := NewPostStore(b.client(t, nil), 10)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.LoadPosts(ctx, models.ListParams{}) }()
	g.waitEntered(t)
	assert.True(t, s.Snapshot().Loading)
	cancel()

	err := <-errc
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Empty(t, snap.Posts)
	assert.Empty(t, snap.Error)
	assert.False(t, snap.Loading)
}

func TestLoadPosts_CancelledLoadKeepsPreviousError(t *testing.T) {
	b := newBackend(t)
	b.handle("GET /posts", respond(http.StatusInternalServerError, map[string]any{"message": "boom"}))
	s := NewPostStore(b.client(t, nil), 10)
	require.Error(t, s.LoadPosts(context.Background(), models.ListParams{}))
	require.Equal(t, "boom", s.Snapshot().Error)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.LoadPosts(ctx, models.ListParams{}))

	snap := s.Snapshot()
	assert.Equal(t, "boom", snap.Error)
	assert.False(t, snap.Loading)
}

func TestLoadPosts_CancelledLoadDoesNotSupersedeOlderLoad(t *testing.T) {
	b := newBackend(t)
	g := newGate()
	b.handle("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") == "first" {
			g.wrap(respond(http.StatusOK, feedPage(rawPost("first", false, 0))))(w, r)
			return
		}
		writeJSON(w, http.StatusOK, feedPage(rawPost("second", false, 0)))
	})
	s := NewPostStore(b.client(t, nil), 10)

	errc := make(chan error, 1)
	go func() { errc <- s.LoadPosts(context.Background(), models.ListParams{Search: "first"}) }()
	g.waitEntered(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.LoadPosts(ctx, models.ListParams{Search: "second"}))

	g.open()
	require.NoError(t, <-errc)

	snap := s.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, "first", snap.Posts[0].ID)
	assert.Equal(t, "first", snap.Params.Search)
	assert.False(t, snap.Loading)
}

func TestLoadPosts_StaleResponseDiscarded(t *testing.T) {
	b := newBackend(t)
	g := newGate()
	b.handle("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") == "old" {
			g.wrap(respond(http.StatusOK, feedPage(rawPost("old", false, 0))))(w, r)
			return
		}
		writeJSON(w, http.StatusOK, feedPage(rawPost("new", false, 0)))
	})
	s := NewPostStore(b.client(t, nil), 10)

	errc := make(chan error, 1)
	go func() { errc <- s.LoadPosts(context.Background(), models.ListParams{Search: "old"}) }()
	g.waitEntered(t)

	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{Search: "new"}))
	g.open()
	require.NoError(t, <-errc)

	snap := s.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, "new", snap.Posts[0].ID)
	assert.Equal(t, "new", snap.Params.Search)
	assert.False(t, snap.Loading)
}

func TestLoadMore_AdditiveAndCursorOnlyOnSuccess(t *testing.T) {
	b := newBackend(t)
	var failPage2 atomic.Bool
	failPage2.Store(true)
	b.handle("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, http.StatusOK, map[string]any{
				"posts": []any{rawPost("a", false, 0), rawPost("b", false, 0)},
				"meta":  map[string]any{"current_page": 1, "per_page": 2, "total_pages": 2},
			})
		case "2":
			if failPage2.Load() {
				writeJSON(w, http.StatusBadGateway, map[string]any{})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"posts": []any{rawPost("b", false, 0), rawPost("c", false, 0)},
				"meta":  map[string]any{"current_page": 2, "per_page": 2, "total_pages": 2},
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})
	s := NewPostStore(b.client(t, nil), 2)
	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{}))
	require.True(t, s.Snapshot().Page.HasMore)

	err := s.LoadMore(context.Background())
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Page.Page, "cursor must not advance on failure")
	assert.True(t, snap.Page.HasMore)
	assert.Len(t, snap.Posts, 2)
	assert.Equal(t, "Failed to load more posts", snap.Error)
	assert.False(t, snap.LoadingMore)

	failPage2.Store(false)
	require.NoError(t, s.LoadMore(context.Background()))
	snap = s.Snapshot()
	ids := []string{}
	for _, p := range snap.Posts {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 2, snap.Page.Page)
	assert.False(t, snap.Page.HasMore)

	require.NoError(t, s.LoadMore(context.Background()), "no more pages is a no-op")
	assert.Equal(t, 3, b.count("GET /posts"))
}

func TestToggleLike_OptimisticThenConfirmed(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	g := newGate()
	b.handle("POST /posts/{id}/like", g.wrap(respond(http.StatusOK, map[string]any{"liked": true, "likes_count": 4})))

	var pushes atomic.Int32
	cancel := s.Subscribe(func(PostState) { pushes.Add(1) })
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.ToggleLike(context.Background(), "p1") }()
	g.waitEntered(t)

	liked, count := likeFields(t, s, "p1")
	assert.True(t, liked)
	assert.Equal(t, 4, count)
	assert.True(t, s.IsLikePending("p1"))
	assert.GreaterOrEqual(t, pushes.Load(), int32(1), "optimistic write must notify before the response")

	g.open()
	require.NoError(t, <-errc)
	liked, count = likeFields(t, s, "p1")
	assert.True(t, liked)
	assert.Equal(t, 4, count)
	assert.False(t, s.IsLikePending("p1"))
}

func TestToggleLike_ReconciliationOverridesOptimism(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	b.handle("POST /posts/{id}/like", respond(http.StatusOK, map[string]any{"data": map[string]any{"liked": false, "likes_count": 2}}))

	require.NoError(t, s.ToggleLike(context.Background(), "p1"))
	liked, count := likeFields(t, s, "p1")
	assert.False(t, liked)
	assert.Equal(t, 2, count)
}

func TestToggleLike_KeepsOptimisticWhenServerIsSilent(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	b.handle("DELETE /posts/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, s.ToggleLike(context.Background(), "p2"))
	liked, count := likeFields(t, s, "p2")
	assert.False(t, liked)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, b.count("DELETE /posts/{id}/like"))
}

func TestToggleLike_FailureRestoresSnapshot(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	g := newGate()
	b.handle("POST /posts/{id}/like", g.wrap(respond(http.StatusInternalServerError, map[string]any{"error": "Could not like post"})))

	errc := make(chan error, 1)
	go func() { errc <- s.ToggleLike(context.Background(), "p1") }()
	g.waitEntered(t)
	liked, count := likeFields(t, s, "p1")
	assert.Equal(t, []any{true, 4}, []any{liked, count})

	g.open()
	require.Error(t, <-errc)
	liked, count = likeFields(t, s, "p1")
	assert.False(t, liked)
	assert.Equal(t, 3, count)
	assert.Equal(t, "Could not like post", s.Snapshot().Error)
	assert.False(t, s.IsLikePending("p1"))
}

func TestToggleLike_ConcurrentToggleRejected(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	g := newGate()
	b.handle("POST /posts/{id}/like", g.wrap(respond(http.StatusOK, map[string]any{"liked": true, "likes_count": 4})))

	errc := make(chan error, 1)
	go func() { errc <- s.ToggleLike(context.Background(), "p1") }()
	g.waitEntered(t)

	err := s.ToggleLike(context.Background(), "p1")
	assert.ErrorIs(t, err, optimistic.ErrInFlight)
	liked, count := likeFields(t, s, "p1")
	assert.True(t, liked)
	assert.Equal(t, 4, count)
	assert.Empty(t, s.Snapshot().Error)

	g.open()
	require.NoError(t, <-errc)
	assert.Equal(t, 1, b.count("POST /posts/{id}/like"))
}

func TestToggleLike_ReloadDoesNotClobberPendingToggle(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	g := newGate()
	b.handle("POST /posts/{id}/like", g.wrap(respond(http.StatusOK, map[string]any{})))

	errc := make(chan error, 1)
	go func() { errc <- s.ToggleLike(context.Background(), "p1") }()
	g.waitEntered(t)

	require.NoError(t, s.LoadPosts(context.Background(), models.ListParams{}))
	liked, count := likeFields(t, s, "p1")
	assert.True(t, liked)
	assert.Equal(t, 4, count)

	assert.False(t, s.ApplyRemoteLikes("p1", 99, nil), "remote counters wait for the local toggle")

	g.open()
	require.NoError(t, <-errc)
	assert.True(t, s.ApplyRemoteLikes("p1", 7, nil))
	_, count = likeFields(t, s, "p1")
	assert.Equal(t, 7, count)
}

func TestToggleLike_DeletedWhileInFlight(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	g := newGate()
	b.handle("POST /posts/{id}/like", g.wrap(respond(http.StatusInternalServerError, map[string]any{})))

	errc := make(chan error, 1)
	go func() { errc <- s.ToggleLike(context.Background(), "p1") }()
	g.waitEntered(t)
	s.RemoveRemote("p1")
	g.open()
	<-errc

	for _, p := range s.Snapshot().Posts {
		assert.NotEqual(t, "p1", p.ID)
	}
	assert.Empty(t, s.Snapshot().Error, "a superseded response records nothing")
}

func TestToggleLike_UnknownPost(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	err := s.ToggleLike(context.Background(), "missing")
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestAddComment_PlaceholderReplacedInPlace(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	b.handle("GET /posts/{id}/comments", respond(http.StatusOK, map[string]any{
		"comments": []any{map[string]any{"_id": "c0", "text": "first!", "createdAt": "2025-09-25T10:00:00Z"}},
	}))
	g := newGate()
	b.handle("POST /posts/{id}/comments", g.wrap(respond(http.StatusCreated, map[string]any{
		"comment": map[string]any{"id": "c1", "content": "Welcome!", "post_id": "p1", "created_at": "2025-09-26T10:00:00Z"},
	})))

	_, err := s.LoadComments(context.Background(), "p1")
	require.NoError(t, err)

	type result struct {
		c   models.Comment
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := s.AddComment(context.Background(), "p1", "  Welcome!  ")
		done <- result{c, err}
	}()
	g.waitEntered(t)

	thread := s.Snapshot().Comments["p1"]
	require.Len(t, thread, 2)
	assert.True(t, strings.HasPrefix(thread[0].ID, PlaceholderPrefix))
	assert.True(t, thread[0].Pending)
	assert.Equal(t, "Welcome!", thread[0].Content)
	assert.Equal(t, "c0", thread[1].ID)

	g.open()
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "c1", res.c.ID)

	snap := s.Snapshot()
	thread = snap.Comments["p1"]
	require.Len(t, thread, 2)
	assert.Equal(t, "c1", thread[0].ID)
	assert.False(t, thread[0].Pending)
	assert.Equal(t, "c0", thread[1].ID)
	assert.Equal(t, 1, snap.Posts[0].CommentsCount)
}

func TestAddComment_FailureRemovesPlaceholder(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	b.handle("POST /posts/{id}/comments", respond(http.StatusInternalServerError, map[string]any{"message": "Comment failed"}))

	_, err := s.AddComment(context.Background(), "p1", "hi")
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Empty(t, snap.Comments["p1"])
	assert.Equal(t, "Comment failed", snap.Error)
	assert.Equal(t, 0, snap.Posts[0].CommentsCount)
}

func TestValidationFailsBeforeNetwork(t *testing.T) {
	b := newBackend(t)
	b.handle("POST /posts", respond(http.StatusCreated, map[string]any{}))
	b.handle("POST /posts/{id}/comments", respond(http.StatusCreated, map[string]any{}))
	s := NewPostStore(b.client(t, nil), 10)

	_, err := s.CreatePost(context.Background(), PostInput{Content: "   "})
	assert.True(t, models.IsValidation(err))
	_, err = s.AddComment(context.Background(), "p1", "")
	assert.True(t, models.IsValidation(err))

	assert.Zero(t, b.count("POST /posts"))
	assert.Zero(t, b.count("POST /posts/{id}/comments"))
	assert.NotEmpty(t, s.Snapshot().Error)
}

func TestCreateUpdateDeletePost(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	b.handle("POST /posts", respond(http.StatusCreated, map[string]any{"data": map[string]any{"post": map[string]any{"_id": "p9", "content": "Yard sale Saturday"}}}))
	b.handle("PUT /posts/{id}", respond(http.StatusOK, map[string]any{"id": "p9", "content": "Yard sale Sunday"}))
	b.handle("DELETE /posts/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	b.handle("GET /posts/{id}/comments", respond(http.StatusOK, []any{map[string]any{"id": "c1", "content": "see you"}}))

	created, err := s.CreatePost(context.Background(), PostInput{Content: "Yard sale Saturday"})
	require.NoError(t, err)
	assert.Equal(t, "p9", created.ID)
	assert.Equal(t, "p9", s.Snapshot().Posts[0].ID)

	updated, err := s.UpdatePost(context.Background(), "p9", PostInput{Content: "Yard sale Sunday"})
	require.NoError(t, err)
	assert.Equal(t, "Yard sale Sunday", updated.Content)
	assert.Equal(t, "Yard sale Sunday", s.Snapshot().Posts[0].Content)
	assert.Len(t, s.Snapshot().Posts, 3)

	_, err = s.LoadComments(context.Background(), "p9")
	require.NoError(t, err)
	require.Len(t, s.Snapshot().Comments["p9"], 1)

	require.NoError(t, s.DeletePost(context.Background(), "p9"))
	snap := s.Snapshot()
	assert.Len(t, snap.Posts, 2)
	_, cached := snap.Comments["p9"]
	assert.False(t, cached, "deleting a post evicts its comments")
}

func TestLoadPost_AndDeleteComment(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	b.handle("GET /posts/{id}", respond(http.StatusOK, map[string]any{"post": rawPost("p1", false, 5)}))
	b.handle("GET /posts/{id}/comments", respond(http.StatusOK, map[string]any{"data": []any{
		map[string]any{"id": "c1", "content": "a"},
		map[string]any{"id": "c2", "content": "b"},
	}}))
	b.handle("DELETE /posts/{postID}/comments/{commentID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	p, err := s.LoadPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.LikesCount)
	snap := s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, 5, snap.Posts[0].LikesCount, "feed copy refreshed")

	_, err = s.LoadComments(context.Background(), "p1")
	require.NoError(t, err)
	require.NoError(t, s.DeleteComment(context.Background(), "p1", "c1"))
	thread := s.Snapshot().Comments["p1"]
	require.Len(t, thread, 1)
	assert.Equal(t, "c2", thread[0].ID)

	err = s.DeleteComment(context.Background(), "p1", PlaceholderPrefix+"x")
	assert.Error(t, err)
}

func TestLoadPost_NotFoundDropsCachedCopy(t *testing.T) {
	b := newBackend(t)
	b.handle("GET /posts/{id}", respond(http.StatusNotFound, map[string]any{"message": "Post not found"}))
	s := loadedPostStore(t, b)

	_, err := s.LoadPost(context.Background(), "p1")
	require.Error(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, "p2", snap.Posts[0].ID)
	assert.Equal(t, "Post not found", snap.Error)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	snap := s.Snapshot()
	snap.Posts[0].LikesCount = 1000
	snap.Comments["zzz"] = nil
	assert.Equal(t, 3, s.Snapshot().Posts[0].LikesCount)
	_, ok := s.Snapshot().Comments["zzz"]
	assert.False(t, ok)
}

func TestSubscribeCancel(t *testing.T) {
	b := newBackend(t)
	s := loadedPostStore(t, b)
	var n atomic.Int32
	cancel := s.Subscribe(func(PostState) { n.Add(1) })
	s.ClearError()
	cancel()
	s.ClearError()
	assert.Equal(t, int32(1), n.Load())
}

func TestFailureIgnoresCancellation(t *testing.T) {
	_, ok := failure(context.Canceled)
	assert.False(t, ok)
	msg, ok := failure(errors.New("boom"))
	assert.True(t, ok)
	assert.Equal(t, "boom", msg)
}
