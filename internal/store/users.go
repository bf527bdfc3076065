package store

import (
	"context"
	"strings"
	"sync"

	"areahood/internal/apiclient"
	"areahood/internal/models"
	"areahood/internal/normalize"
	"areahood/internal/observability"
	"areahood/internal/optimistic"
)

// UserState is a copy of the user store contents.
type UserState struct {
	Users []models.Profile
	// Current is the profile last loaded by LoadUser.
	Current *models.Profile
	// Me is the signed-in user's own profile.
	Me          *models.Profile
	Stats       models.Stats
	Page        models.PageInfo
	Params      models.ListParams
	Loading     bool
	LoadingMore bool
	Error       string
}

// ProfileInput carries the profile fields to change; nil fields are left alone.
type ProfileInput struct {
	DisplayName *string `json:"display_name,omitempty"`
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Location    *string `json:"location,omitempty"`
}

func (in ProfileInput) validate() error {
	if in.DisplayName == nil && in.FirstName == nil && in.LastName == nil && in.AvatarURL == nil && in.Location == nil {
		return models.NewValidationError("Nothing to update")
	}
	if in.DisplayName != nil && strings.TrimSpace(*in.DisplayName) == "" {
		return models.NewValidationError("Display name cannot be empty")
	}
	return nil
}

// UserStore caches the user directory, profiles, the viewer's own profile
// and admin stats.
type UserStore struct {
	api      API
	log      *observability.StoreLogger
	pageSize int

	mu      sync.Mutex
	state   UserState
	list    pager
	loads   int
	follows *optimistic.Tracker
	subs    subscribers[UserState]
}

// NewUserStore creates an empty user store.
func NewUserStore(api API, pageSize int) *UserStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &UserStore{
		api:      api,
		log:      observability.NewStoreLogger("users"),
		pageSize: pageSize,
		state:    UserState{Users: []models.Profile{}, Stats: models.Stats{}},
		follows:  optimistic.NewTracker(),
	}
}

func profileID(p models.Profile) string { return p.ID }

func cloneProfile(p *models.Profile) *models.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Snapshot returns a deep copy of the current state.
func (s *UserStore) Snapshot() UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *UserStore) copyLocked() UserState {
	out := s.state
	out.Users = append([]models.Profile{}, s.state.Users...)
	out.Current = cloneProfile(s.state.Current)
	out.Me = cloneProfile(s.state.Me)
	out.Stats = make(models.Stats, len(s.state.Stats))
	for k, v := range s.state.Stats {
		out.Stats[k] = v
	}
	return out
}

// Subscribe registers fn to receive a copy after every change.
func (s *UserStore) Subscribe(fn func(UserState)) (cancel func()) {
	return s.subs.add(fn)
}

// ClearError resets the recorded error.
func (s *UserStore) ClearError() {
	s.update(func() { s.state.Error = "" })
}

func (s *UserStore) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.copyLocked()
	s.mu.Unlock()
	s.subs.notify(snap)
}

func (s *UserStore) recordLocked(err error) {
	if msg, ok := failure(err); ok {
		s.state.Error = msg
	}
}

func (s *UserStore) fail(err error) error {
	s.update(func() { s.recordLocked(err) })
	return err
}

func (s *UserStore) startLoadLocked() loadMark {
	m := loadMark{err: s.state.Error, epoch: s.list.epoch}
	s.loads++
	s.state.Loading = true
	s.state.Error = ""
	return m
}

func (s *UserStore) endLoadLocked(m loadMark, err error) bool {
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

func (s *UserStore) eachCopyLocked(id string, fn func(p *models.Profile)) bool {
	found := false
	if i := indexOf(s.state.Users, id, profileID); i >= 0 {
		fn(&s.state.Users[i])
		found = true
	}
	if s.state.Current != nil && s.state.Current.ID == id {
		fn(s.state.Current)
		found = true
	}
	if s.state.Me != nil && s.state.Me.ID == id {
		fn(s.state.Me)
		found = true
	}
	return found
}

func (s *UserStore) keepPendingLocked(p models.Profile) models.Profile {
	if !s.follows.Pending(p.ID) {
		return p
	}
	s.eachCopyLocked(p.ID, func(old *models.Profile) {
		p.Following, p.FollowersCount = old.Following, old.FollowersCount
	})
	return p
}

// LoadUsers replaces the directory with the requested page.
func (s *UserStore) LoadUsers(ctx context.Context, params models.ListParams) (err error) {
	ctx, done := action(ctx, s.log, "users", "load_users")
	defer func() { done(err) }()

	params = normalizeParams(params, s.pageSize)
	var version uint64
	var mark loadMark
	s.update(func() {
		version = s.list.begin()
		mark = s.startLoadLocked()
	})

	users, info, err := fetchPage(ctx, s.api, "users", params, "Failed to load users", normalize.Profile, "users")

	s.update(func() {
		if s.endLoadLocked(mark, err) {
			s.list.withdraw(version)
			return
		}
		if !s.list.finish(version) {
			s.log.LogDiscarded(ctx, "load_users", "")
			if apiclient.IsUnauthorized(err) {
				s.recordLocked(err)
			}
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		for i := range users {
			users[i] = s.keepPendingLocked(users[i])
		}
		s.state.Users = users
		s.state.Page = info
		s.state.Params = params
	})
	return err
}

// LoadMore appends the next page of users.
func (s *UserStore) LoadMore(ctx context.Context) (err error) {
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

	ctx, done := action(ctx, s.log, "users", "load_more")
	defer func() { done(err) }()

	users, info, err := fetchPage(ctx, s.api, "users", normalizeParams(params, s.pageSize), "Failed to load more users", normalize.Profile, "users")

	s.update(func() {
		if s.list.endMore(version) {
			s.state.LoadingMore = false
		}
		if !s.list.freshMore(version) {
			if apiclient.IsUnauthorized(err) {
				s.recordLocked(err)
			}
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		for i := range users {
			users[i] = s.keepPendingLocked(users[i])
		}
		s.state.Users = appendNew(s.state.Users, users, profileID)
		s.state.Page = info
		s.state.Params.Page = info.Page
	})
	return err
}

func (s *UserStore) loadOne(ctx context.Context, name, path, id, fallback string, install func(p models.Profile)) (profile models.Profile, err error) {
	ctx, done := action(ctx, s.log, "users", name)
	defer func() { done(err) }()

	var mark loadMark
	s.update(func() { mark = s.startLoadLocked() })
	body, err := s.api.Get(ctx, path, nil, fallback)
	s.update(func() {
		if s.endLoadLocked(mark, err) {
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		profile = normalize.Profile(normalize.Item(body, "user", "profile"))
		if profile.ID == "" {
			profile.ID = id
		}
		profile = s.keepPendingLocked(profile)
		install(profile)
		if i := indexOf(s.state.Users, profile.ID, profileID); i >= 0 && profile.ID != "" {
			s.state.Users[i] = profile
		}
	})
	return profile, err
}

// LoadUser fetches one profile into Current.
func (s *UserStore) LoadUser(ctx context.Context, id string) (models.Profile, error) {
	if err := validate("User id", id); err != nil {
		return models.Profile{}, s.fail(err)
	}
	return s.loadOne(ctx, "load_user", "users/"+escape(id), id, "Failed to load user", func(p models.Profile) {
		s.state.Current = &p
	})
}

// LoadMe fetches the signed-in user's profile.
func (s *UserStore) LoadMe(ctx context.Context) (models.Profile, error) {
	return s.loadOne(ctx, "load_me", "users/me", "", "Failed to load profile", func(p models.Profile) {
		s.state.Me = &p
	})
}

// UpdateProfile saves profile changes for id; an empty id means the
// signed-in user.
func (s *UserStore) UpdateProfile(ctx context.Context, id string, in ProfileInput) (profile models.Profile, err error) {
	if err := in.validate(); err != nil {
		return models.Profile{}, s.fail(err)
	}
	if id == "" {
		if me := s.Snapshot().Me; me != nil {
			id = me.ID
		}
	}
	path := "users/me"
	if id != "" {
		path = "users/" + escape(id)
	}
	ctx, done := action(ctx, s.log, "users", "update_profile")
	defer func() { done(err) }()

	body, err := s.api.Put(ctx, path, in, "Failed to update profile")
	if err != nil {
		return models.Profile{}, s.fail(err)
	}
	s.update(func() {
		s.state.Error = ""
		profile = s.keepPendingLocked(normalize.Profile(normalize.Item(body, "user", "profile")))
		if profile.ID == "" {
			profile.ID = id
		}
		if !s.eachCopyLocked(profile.ID, func(p *models.Profile) { *p = profile }) && id == "" {
			s.state.Me = cloneProfile(&profile)
		}
	})
	return profile, nil
}

// DeleteUser removes an account. Posts by that user are not touched.
func (s *UserStore) DeleteUser(ctx context.Context, id string) (err error) {
	if err := validate("User id", id); err != nil {
		return s.fail(err)
	}
	ctx, done := action(ctx, s.log, "users", "delete_user")
	defer func() { done(err) }()

	if _, err := s.api.Delete(ctx, "users/"+escape(id), "Failed to delete user"); err != nil {
		return s.fail(err)
	}
	s.update(func() {
		s.state.Error = ""
		s.state.Users = removeByID(s.state.Users, id, profileID)
		if s.state.Current != nil && s.state.Current.ID == id {
			s.state.Current = nil
		}
		s.follows.Invalidate(id)
	})
	return nil
}

// IsFollowPending reports whether a follow toggle on id is in flight.
func (s *UserStore) IsFollowPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.follows.Pending(id)
}

// ToggleFollow follows or unfollows a cached user optimistically.
func (s *UserStore) ToggleFollow(ctx context.Context, id string) (err error) {
	s.mu.Lock()
	var prev optimistic.State
	found := s.eachCopyLocked(id, func(p *models.Profile) {
		prev = optimistic.State{On: p.Following, Count: p.FollowersCount}
	})
	if !found {
		s.mu.Unlock()
		return s.fail(models.NewNotFoundError("user", id))
	}
	tk, err := s.follows.Begin(id, prev)
	if err != nil {
		s.mu.Unlock()
		observability.RecordOutcome("follow", observability.OutcomeRejected)
		return err
	}
	s.state.Error = ""
	s.applyFollowLocked(id, tk.Next)
	snap := s.copyLocked()
	s.mu.Unlock()
	s.subs.notify(snap)

	ctx, done := action(ctx, s.log, "users", "toggle_follow")
	defer func() { done(err) }()

	var body any
	path := "users/" + escape(id) + "/follow"
	if tk.Next.On {
		body, err = s.api.Post(ctx, path, nil, "Failed to follow user")
	} else {
		body, err = s.api.Delete(ctx, path, "Failed to unfollow user")
	}

	s.update(func() {
		if !s.follows.Finish(tk) {
			observability.RecordOutcome("follow", observability.OutcomeDiscarded)
			s.log.LogDiscarded(ctx, "toggle_follow", id)
			return
		}
		if err != nil {
			s.applyFollowLocked(id, tk.Prev)
			s.recordLocked(err)
			observability.RecordOutcome("follow", observability.OutcomeRolledBack)
			s.log.LogRollback(ctx, "toggle_follow", id, err)
			return
		}
		following, followers := normalize.FollowResult(normalize.Item(body, "user"))
		final := optimistic.Reconcile(tk.Next, following, followers)
		s.applyFollowLocked(id, final)
		if final == tk.Next {
			observability.RecordOutcome("follow", observability.OutcomeConfirmed)
		} else {
			observability.RecordOutcome("follow", observability.OutcomeReconciled)
		}
	})
	return err
}

func (s *UserStore) applyFollowLocked(id string, st optimistic.State) {
	s.eachCopyLocked(id, func(p *models.Profile) {
		p.Following, p.FollowersCount = st.On, st.Count
	})
}

// LoadStats fetches the admin dashboard counters.
func (s *UserStore) LoadStats(ctx context.Context) (stats models.Stats, err error) {
	ctx, done := action(ctx, s.log, "users", "load_stats")
	defer func() { done(err) }()

	var mark loadMark
	s.update(func() { mark = s.startLoadLocked() })
	body, err := s.api.Get(ctx, "admin/stats", nil, "Failed to load stats")
	s.update(func() {
		if s.endLoadLocked(mark, err) {
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		stats = models.Stats{}
		r := normalize.Item(body, "stats")
		for k, v := range r {
			if _, isList := v.([]any); isList {
				continue
			}
			if n, ok := normalize.Int(r, k); ok {
				stats[k] = int64(n)
			}
		}
		s.state.Stats = stats
	})
	return stats, err
}

// Reset drops every cached entity.
func (s *UserStore) Reset() {
	s.update(func() {
		s.list.reset()
		s.follows.Reset()
		s.state = UserState{Users: []models.Profile{}, Stats: models.Stats{}, Loading: s.loads > 0}
	})
}
