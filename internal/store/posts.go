package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"areahood/internal/apiclient"
	"areahood/internal/models"
	"areahood/internal/normalize"
	"areahood/internal/observability"
	"areahood/internal/optimistic"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks comment ids that were generated locally.
const PlaceholderPrefix = "tmp-"

// PostState is a copy of the post store contents.
type PostState struct {
	Posts []models.Post
	// Current is the post last loaded by LoadPost.
	Current     *models.Post
	Comments    map[string][]models.Comment
	Page        models.PageInfo
	Params      models.ListParams
	Loading     bool
	LoadingMore bool
	Error       string
}

// PostInput is the editable part of a post.
type PostInput struct {
	Content string   `json:"content"`
	Media   []string `json:"media,omitempty"`
	GroupID string   `json:"group_id,omitempty"`
}

// PostStore caches the feed, single posts and their comments.
type PostStore struct {
	api      API
	log      *observability.StoreLogger
	pageSize int

	mu    sync.Mutex
	state PostState
	list  pager
	loads int
	likes *optimistic.Tracker
	subs  subscribers[PostState]
}

// NewPostStore creates an empty post store. pageSize <= 0 uses DefaultPageSize.
func NewPostStore(api API, pageSize int) *PostStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PostStore{
		api:      api,
		log:      observability.NewStoreLogger("posts"),
		pageSize: pageSize,
		state:    PostState{Posts: []models.Post{}, Comments: map[string][]models.Comment{}},
		likes:    optimistic.NewTracker(),
	}
}

func postID(p models.Post) string         { return p.ID }
func commentIDOf(c models.Comment) string { return c.ID }

// Snapshot returns a deep copy of the current state.
func (s *PostStore) Snapshot() PostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *PostStore) copyLocked() PostState {
	out := s.state
	out.Posts = make([]models.Post, len(s.state.Posts))
	for i, p := range s.state.Posts {
		out.Posts[i] = p.Clone()
	}
	if s.state.Current != nil {
		c := s.state.Current.Clone()
		out.Current = &c
	}
	out.Comments = make(map[string][]models.Comment, len(s.state.Comments))
	for id, list := range s.state.Comments {
		cp := make([]models.Comment, len(list))
		for i, c := range list {
			cp[i] = c.Clone()
		}
		out.Comments[id] = cp
	}
	return out
}

// Subscribe registers fn to receive a copy after every change.
func (s *PostStore) Subscribe(fn func(PostState)) (cancel func()) {
	return s.subs.add(fn)
}

// ClearError resets the recorded error.
func (s *PostStore) ClearError() {
	s.update(func() { s.state.Error = "" })
}

// update applies fn under the lock and notifies subscribers afterwards.
func (s *PostStore) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.copyLocked()
	s.mu.Unlock()
	s.subs.notify(snap)
}

func (s *PostStore) recordLocked(err error) {
	if msg, ok := failure(err); ok {
		s.state.Error = msg
	}
}

func (s *PostStore) fail(err error) error {
	s.update(func() { s.recordLocked(err) })
	return err
}

func (s *PostStore) startLoadLocked() loadMark {
	m := loadMark{err: s.state.Error, epoch: s.list.epoch}
	s.loads++
	s.state.Loading = true
	s.state.Error = ""
	return m
}

// endLoadLocked reports whether the load was cancelled, in which case the
// error it cleared is restored.
func (s *PostStore) endLoadLocked(m loadMark, err error) bool {
	s.loads--
	s.state.Loading = s.loads > 0
	if !canceled(err) {
		return false
	}
	if m.epoch == s.list.epoch && s.state.Error == "" {
		s.state.Error = m.err
	}
	return true
}

// recordStaleLocked keeps authorization failures visible after the session
// teardown they caused reset the store.
func (s *PostStore) recordStaleLocked(err error) {
	if apiclient.IsUnauthorized(err) {
		s.recordLocked(err)
	}
}

// keepPendingLocked carries the optimistic like fields over to a freshly
// fetched copy of a post whose toggle is still in flight.
func (s *PostStore) keepPendingLocked(p models.Post) models.Post {
	if !s.likes.Pending(p.ID) {
		return p
	}
	if i := indexOf(s.state.Posts, p.ID, postID); i >= 0 {
		p.Liked, p.LikesCount = s.state.Posts[i].Liked, s.state.Posts[i].LikesCount
	} else if s.state.Current != nil && s.state.Current.ID == p.ID {
		p.Liked, p.LikesCount = s.state.Current.Liked, s.state.Current.LikesCount
	}
	return p
}

// eachCopyLocked applies fn to every cached copy of post id.
func (s *PostStore) eachCopyLocked(id string, fn func(p *models.Post)) bool {
	found := false
	if i := indexOf(s.state.Posts, id, postID); i >= 0 {
		fn(&s.state.Posts[i])
		found = true
	}
	if s.state.Current != nil && s.state.Current.ID == id {
		fn(s.state.Current)
		found = true
	}
	return found
}

// LoadPosts replaces the feed with the requested page.
func (s *PostStore) LoadPosts(ctx context.Context, params models.ListParams) (err error) {
	ctx, done := action(ctx, s.log, "posts", "load_posts")
	defer func() { done(err) }()

	params = normalizeParams(params, s.pageSize)
	var version uint64
	var mark loadMark
	s.update(func() {
		version = s.list.begin()
		mark = s.startLoadLocked()
	})

	posts, info, err := fetchPage(ctx, s.api, "posts", params, "Failed to load posts", normalize.Post, "posts")

	s.update(func() {
		if s.endLoadLocked(mark, err) {
			s.list.withdraw(version)
			return
		}
		if !s.list.finish(version) {
			s.log.LogDiscarded(ctx, "load_posts", "")
			s.recordStaleLocked(err)
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		for i := range posts {
			posts[i] = s.keepPendingLocked(posts[i])
		}
		s.state.Posts = posts
		s.state.Page = info
		s.state.Params = params
	})
	return err
}

// LoadMore appends the next page. It does nothing when the server reported
// no further pages or a load-more is already running. The cursor only moves
// when the page arrives.
func (s *PostStore) LoadMore(ctx context.Context) (err error) {
	s.mu.Lock()
	version, ok := s.list.beginMore(s.state.Page)
	params := s.state.Params
	params.Page = s.state.Page.Page + 1
	if ok {
		s.state.LoadingMore = true
	}
	snap := s.copyLocked()
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.subs.notify(snap)

	ctx, done := action(ctx, s.log, "posts", "load_more")
	defer func() { done(err) }()

	posts, info, err := fetchPage(ctx, s.api, "posts", normalizeParams(params, s.pageSize), "Failed to load more posts", normalize.Post, "posts")

	s.update(func() {
		if s.list.endMore(version) {
			s.state.LoadingMore = false
		}
		if !s.list.freshMore(version) {
			s.log.LogDiscarded(ctx, "load_more", "")
			s.recordStaleLocked(err)
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		for i := range posts {
			posts[i] = s.keepPendingLocked(posts[i])
		}
		s.state.Posts = appendNew(s.state.Posts, posts, postID)
		s.state.Page = info
		s.state.Params.Page = info.Page
	})
	return err
}

// LoadPost fetches one post into Current and refreshes its feed copy. A
// post the server no longer has is dropped from the cache.
func (s *PostStore) LoadPost(ctx context.Context, id string) (post models.Post, err error) {
	if err := validate("Post id", id); err != nil {
		return models.Post{}, s.fail(err)
	}
	ctx, done := action(ctx, s.log, "posts", "load_post")
	defer func() { done(err) }()

	var mark loadMark
	s.update(func() { mark = s.startLoadLocked() })
	body, err := s.api.Get(ctx, "posts/"+escape(id), nil, "Failed to load post")

	s.update(func() {
		if s.endLoadLocked(mark, err) {
			return
		}
		if apiclient.IsNotFound(err) {
			s.evictLocked(id)
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		post = s.keepPendingLocked(normalize.Post(normalize.Item(body, "post")))
		if post.ID == "" {
			post.ID = id
		}
		cp := post.Clone()
		s.state.Current = &cp
		if i := indexOf(s.state.Posts, post.ID, postID); i >= 0 {
			s.state.Posts[i] = post.Clone()
		}
	})
	return post, err
}

func validatePost(in PostInput) error {
	if strings.TrimSpace(in.Content) == "" && len(in.Media) == 0 {
		return models.NewValidationError("Post content is required")
	}
	return nil
}

// CreatePost submits a new post and prepends the server's record.
func (s *PostStore) CreatePost(ctx context.Context, in PostInput) (post models.Post, err error) {
	in.Content = strings.TrimSpace(in.Content)
	if err := validatePost(in); err != nil {
		return models.Post{}, s.fail(err)
	}
	ctx, done := action(ctx, s.log, "posts", "create_post")
	defer func() { done(err) }()

	body, err := s.api.Post(ctx, "posts", in, "Failed to create post")
	if err != nil {
		return models.Post{}, s.fail(err)
	}
	post = normalize.Post(normalize.Item(body, "post"))
	s.update(func() {
		s.state.Error = ""
		s.state.Posts = prepend(s.state.Posts, post.Clone())
	})
	return post, nil
}

// UpdatePost saves an edit and replaces every cached copy.
func (s *PostStore) UpdatePost(ctx context.Context, id string, in PostInput) (post models.Post, err error) {
	in.Content = strings.TrimSpace(in.Content)
	if err := validate("Post id", id); err != nil {
		return models.Post{}, s.fail(err)
	}
	if err := validatePost(in); err != nil {
		return models.Post{}, s.fail(err)
	}
	ctx, done := action(ctx, s.log, "posts", "update_post")
	defer func() { done(err) }()

	body, err := s.api.Put(ctx, "posts/"+escape(id), in, "Failed to update post")
	if err != nil {
		return models.Post{}, s.fail(err)
	}
	s.update(func() {
		s.state.Error = ""
		post = s.keepPendingLocked(normalize.Post(normalize.Item(body, "post")))
		if post.ID == "" {
			post.ID = id
		}
		s.eachCopyLocked(id, func(p *models.Post) { *p = post.Clone() })
	})
	return post, nil
}

// DeletePost removes a post and evicts its comments.
func (s *PostStore) DeletePost(ctx context.Context, id string) (err error) {
	if err := validate("Post id", id); err != nil {
		return s.fail(err)
	}
	ctx, done := action(ctx, s.log, "posts", "delete_post")
	defer func() { done(err) }()

	if _, err := s.api.Delete(ctx, "posts/"+escape(id), "Failed to delete post"); err != nil {
		return s.fail(err)
	}
	s.update(func() {
		s.state.Error = ""
		s.evictLocked(id)
	})
	return nil
}

func (s *PostStore) evictLocked(id string) {
	s.state.Posts = removeByID(s.state.Posts, id, postID)
	delete(s.state.Comments, id)
	if s.state.Current != nil && s.state.Current.ID == id {
		s.state.Current = nil
	}
	s.likes.Invalidate(id)
}

// IsLikePending reports whether a like toggle on id is in flight.
func (s *PostStore) IsLikePending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes.Pending(id)
}

// ToggleLike flips the viewer's like on a cached post immediately, then
// reconciles with the server's answer or restores the previous state.
// A second toggle while the first is unsettled fails with optimistic.ErrInFlight.
func (s *PostStore) ToggleLike(ctx context.Context, id string) (err error) {
	s.mu.Lock()
	var prev optimistic.State
	found := s.eachCopyLocked(id, func(p *models.Post) {
		prev = optimistic.State{On: p.Liked, Count: p.LikesCount}
	})
	if !found {
		s.mu.Unlock()
		return s.fail(models.NewNotFoundError("post", id))
	}
	tk, err := s.likes.Begin(id, prev)
	if err != nil {
		s.mu.Unlock()
		observability.RecordOutcome("like", observability.OutcomeRejected)
		return err
	}
	s.state.Error = ""
	s.applyLikeLocked(id, tk.Next)
	snap := s.copyLocked()
	s.mu.Unlock()
	s.subs.notify(snap)

	ctx, done := action(ctx, s.log, "posts", "toggle_like")
	defer func() { done(err) }()

	var body any
	path := "posts/" + escape(id) + "/like"
	if tk.Next.On {
		body, err = s.api.Post(ctx, path, nil, "Failed to like post")
	} else {
		body, err = s.api.Delete(ctx, path, "Failed to unlike post")
	}

	s.update(func() {
		if !s.likes.Finish(tk) {
			observability.RecordOutcome("like", observability.OutcomeDiscarded)
			s.log.LogDiscarded(ctx, "toggle_like", id)
			return
		}
		if err != nil {
			s.applyLikeLocked(id, tk.Prev)
			s.recordLocked(err)
			observability.RecordOutcome("like", observability.OutcomeRolledBack)
			s.log.LogRollback(ctx, "toggle_like", id, err)
			return
		}
		liked, count := normalize.LikeResult(normalize.Item(body, "post"))
		final := optimistic.Reconcile(tk.Next, liked, count)
		s.applyLikeLocked(id, final)
		if final == tk.Next {
			observability.RecordOutcome("like", observability.OutcomeConfirmed)
		} else {
			observability.RecordOutcome("like", observability.OutcomeReconciled)
		}
	})
	return err
}

func (s *PostStore) applyLikeLocked(id string, st optimistic.State) {
	s.eachCopyLocked(id, func(p *models.Post) {
		p.Liked, p.LikesCount = st.On, st.Count
	})
}

// ApplyRemoteLikes applies a like counter pushed by the server. It is
// ignored while a local toggle on the post is in flight; liked may be nil
// when the event does not concern the viewer.
func (s *PostStore) ApplyRemoteLikes(id string, count int, liked *bool) bool {
	applied := false
	s.update(func() {
		if s.likes.Pending(id) {
			return
		}
		applied = s.eachCopyLocked(id, func(p *models.Post) {
			p.LikesCount = max(count, 0)
			if liked != nil {
				p.Liked = *liked
			}
		})
	})
	return applied
}

// RemoveRemote evicts a post deleted elsewhere.
func (s *PostStore) RemoveRemote(id string) {
	s.update(func() { s.evictLocked(id) })
}

// LoadComments fetches the comments of a post. Placeholders still waiting
// for the server are kept at the front.
func (s *PostStore) LoadComments(ctx context.Context, postID string) (comments []models.Comment, err error) {
	if err := validate("Post id", postID); err != nil {
		return nil, s.fail(err)
	}
	ctx, done := action(ctx, s.log, "posts", "load_comments")
	defer func() { done(err) }()

	body, err := s.api.Get(ctx, "posts/"+escape(postID)+"/comments", nil, "Failed to load comments")
	if err != nil {
		return nil, s.fail(err)
	}
	records, _ := normalize.List(body, models.ListParams{}, "comments")
	comments = make([]models.Comment, 0, len(records))
	for _, r := range records {
		comments = append(comments, normalize.Comment(r, postID))
	}

	s.update(func() {
		s.state.Error = ""
		var merged []models.Comment
		for _, c := range s.state.Comments[postID] {
			if c.Pending {
				merged = append(merged, c)
			}
		}
		s.state.Comments[postID] = append(merged, comments...)
	})
	return comments, nil
}

// AddComment shows a pending placeholder at the top of the thread at once,
// then swaps it in place for the server's record, or removes it on failure.
func (s *PostStore) AddComment(ctx context.Context, postID, content string) (comment models.Comment, err error) {
	content = strings.TrimSpace(content)
	if err := validate("Post id", postID); err != nil {
		return models.Comment{}, s.fail(err)
	}
	if content == "" {
		return models.Comment{}, s.fail(models.NewValidationError("Comment cannot be empty"))
	}

	now := time.Now().UTC()
	placeholder := models.Comment{
		ID:        PlaceholderPrefix + uuid.NewString(),
		PostID:    postID,
		Content:   content,
		Pending:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.update(func() {
		s.state.Error = ""
		s.state.Comments[postID] = prepend(s.state.Comments[postID], placeholder)
	})

	ctx, done := action(ctx, s.log, "posts", "add_comment")
	defer func() { done(err) }()

	body, err := s.api.Post(ctx, "posts/"+escape(postID)+"/comments", map[string]string{"content": content}, "Failed to add comment")

	s.update(func() {
		list := s.state.Comments[postID]
		i := indexOf(list, placeholder.ID, commentIDOf)
		if err != nil {
			if i >= 0 {
				s.state.Comments[postID] = removeByID(list, placeholder.ID, commentIDOf)
			}
			s.recordLocked(err)
			observability.RecordOutcome("comment", observability.OutcomeRolledBack)
			s.log.LogRollback(ctx, "add_comment", placeholder.ID, err)
			return
		}
		comment = normalize.Comment(normalize.Item(body, "comment"), postID)
		comment.Pending = false
		if comment.ID == "" {
			comment.ID = placeholder.ID[len(PlaceholderPrefix):]
		}
		if i < 0 {
			// the post was evicted while the request was in flight
			observability.RecordOutcome("comment", observability.OutcomeDiscarded)
			return
		}
		list[i] = comment.Clone()
		s.eachCopyLocked(postID, func(p *models.Post) { p.CommentsCount++ })
		observability.RecordOutcome("comment", observability.OutcomeConfirmed)
	})
	return comment, err
}

// DeleteComment removes a comment once the server confirms.
func (s *PostStore) DeleteComment(ctx context.Context, postID, commentID string) (err error) {
	if err := validate("Post id", postID); err != nil {
		return s.fail(err)
	}
	if err := validate("Comment id", commentID); err != nil {
		return s.fail(err)
	}
	if strings.HasPrefix(commentID, PlaceholderPrefix) {
		return s.fail(errors.New("comment is still being posted"))
	}
	ctx, done := action(ctx, s.log, "posts", "delete_comment")
	defer func() { done(err) }()

	if _, err := s.api.Delete(ctx, "posts/"+escape(postID)+"/comments/"+escape(commentID), "Failed to delete comment"); err != nil {
		return s.fail(err)
	}
	s.update(func() {
		s.state.Error = ""
		list := s.state.Comments[postID]
		if indexOf(list, commentID, commentIDOf) < 0 {
			return
		}
		s.state.Comments[postID] = removeByID(list, commentID, commentIDOf)
		s.eachCopyLocked(postID, func(p *models.Post) {
			if p.CommentsCount > 0 {
				p.CommentsCount--
			}
		})
	})
	return nil
}

// Reset drops every cached entity, e.g. after logout.
func (s *PostStore) Reset() {
	s.update(func() {
		s.list.reset()
		s.likes.Reset()
		s.state = PostState{
			Posts:    []models.Post{},
			Comments: map[string][]models.Comment{},
			Loading:  s.loads > 0,
		}
	})
}
