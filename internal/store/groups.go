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

// GroupState is a copy of the group store contents.
type GroupState struct {
	Groups      []models.Group
	Current     *models.Group
	Page        models.PageInfo
	Params      models.ListParams
	Loading     bool
	LoadingMore bool
	Error       string
}

// GroupInput describes a new group.
type GroupInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GroupStore caches neighborhood groups and the viewer's memberships.
type GroupStore struct {
	api      API
	log      *observability.StoreLogger
	pageSize int

	mu      sync.Mutex
	state   GroupState
	list    pager
	loads   int
	members *optimistic.Tracker
	subs    subscribers[GroupState]
}

// NewGroupStore creates an empty group store.
func NewGroupStore(api API, pageSize int) *GroupStore {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &GroupStore{
		api:      api,
		log:      observability.NewStoreLogger("groups"),
		pageSize: pageSize,
		state:    GroupState{Groups: []models.Group{}},
		members:  optimistic.NewTracker(),
	}
}

func groupID(g models.Group) string { return g.ID }

func (s *GroupStore) Snapshot() GroupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *GroupStore) copyLocked() GroupState {
	out := s.state
	out.Groups = append([]models.Group{}, s.state.Groups...)
	if s.state.Current != nil {
		g := *s.state.Current
		out.Current = &g
	}
	return out
}

func (s *GroupStore) Subscribe(fn func(GroupState)) (cancel func()) {
	return s.subs.add(fn)
}

func (s *GroupStore) ClearError() {
	s.update(func() { s.state.Error = "" })
}

func (s *GroupStore) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.copyLocked()
	s.mu.Unlock()
	s.subs.notify(snap)
}

func (s *GroupStore) recordLocked(err error) {
	if msg, ok := failure(err); ok {
		s.state.Error = msg
	}
}

func (s *GroupStore) fail(err error) error {
	s.update(func() { s.recordLocked(err) })
	return err
}

func (s *GroupStore) eachCopyLocked(id string, fn func(g *models.Group)) bool {
	found := false
	if i := indexOf(s.state.Groups, id, groupID); i >= 0 {
		fn(&s.state.Groups[i])
		found = true
	}
	if s.state.Current != nil && s.state.Current.ID == id {
		fn(s.state.Current)
		found = true
	}
	return found
}

func (s *GroupStore) keepPendingLocked(g models.Group) models.Group {
	if !s.members.Pending(g.ID) {
		return g
	}
	s.eachCopyLocked(g.ID, func(old *models.Group) {
		g.Joined, g.MemberCount = old.Joined, old.MemberCount
	})
	return g
}

// LoadGroups replaces the list with the requested page.
func (s *GroupStore) LoadGroups(ctx context.Context, params models.ListParams) (err error) {
	ctx, done := action(ctx, s.log, "groups", "load_groups")
	defer func() { done(err) }()

	params = normalizeParams(params, s.pageSize)
	var version uint64
	var mark loadMark
	s.update(func() {
		version = s.list.begin()
		mark = loadMark{err: s.state.Error, epoch: s.list.epoch}
		s.loads++
		s.state.Loading = true
		s.state.Error = ""
	})

	groups, info, err := fetchPage(ctx, s.api, "groups", params, "Failed to load groups", normalize.Group, "groups", "sanctums")

	s.update(func() {
		s.loads--
		s.state.Loading = s.loads > 0
		if canceled(err) {
			s.list.withdraw(version)
			if mark.epoch == s.list.epoch && s.state.Error == "" {
				s.state.Error = mark.err
			}
			return
		}
		if !s.list.finish(version) {
			if apiclient.IsUnauthorized(err) {
				s.recordLocked(err)
			}
			return
		}
		if err != nil {
			s.recordLocked(err)
			return
		}
		for i := range groups {
			groups[i] = s.keepPendingLocked(groups[i])
		}
		s.state.Groups = groups
		s.state.Page = info
		s.state.Params = params
	})
	return err
}

// LoadMore appends the next page of groups.
func (s *GroupStore) LoadMore(ctx context.Context) (err error) {
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

	ctx, done := action(ctx, s.log, "groups", "load_more")
	defer func() { done(err) }()

	groups, info, err := fetchPage(ctx, s.api, "groups", normalizeParams(params, s.pageSize), "Failed to load more groups", normalize.Group, "groups", "sanctums")

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
		for i := range groups {
			groups[i] = s.keepPendingLocked(groups[i])
		}
		s.state.Groups = appendNew(s.state.Groups, groups, groupID)
		s.state.Page = info
		s.state.Params.Page = info.Page
	})
	return err
}

// LoadGroup fetches one group into Current.
func (s *GroupStore) LoadGroup(ctx context.Context, id string) (group models.Group, err error) {
	if err := validate("Group id", id); err != nil {
		return models.Group{}, s.fail(err)
	}
	ctx, done := action(ctx, s.log, "groups", "load_group")
	defer func() { done(err) }()

	body, err := s.api.Get(ctx, "groups/"+escape(id), nil, "Failed to load group")
	if err != nil {
		return models.Group{}, s.fail(err)
	}
	s.update(func() {
		s.state.Error = ""
		group = normalize.Group(normalize.Item(body, "group", "sanctum"))
		if group.ID == "" {
			group.ID = id
		}
		group = s.keepPendingLocked(group)
		g := group
		s.state.Current = &g
		if i := indexOf(s.state.Groups, group.ID, groupID); i >= 0 {
			s.state.Groups[i] = group
		}
	})
	return group, nil
}

// CreateGroup creates a group and prepends it.
func (s *GroupStore) CreateGroup(ctx context.Context, in GroupInput) (group models.Group, err error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validate("Group name", in.Name); err != nil {
		return models.Group{}, s.fail(err)
	}
	ctx, done := action(ctx, s.log, "groups", "create_group")
	defer func() { done(err) }()

	body, err := s.api.Post(ctx, "groups", in, "Failed to create group")
	if err != nil {
		return models.Group{}, s.fail(err)
	}
	group = normalize.Group(normalize.Item(body, "group", "sanctum"))
	s.update(func() {
		s.state.Error = ""
		s.state.Groups = prepend(s.state.Groups, group)
	})
	return group, nil
}

// IsMembershipPending reports whether a join or leave on id is in flight.
func (s *GroupStore) IsMembershipPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members.Pending(id)
}

// ToggleMembership joins or leaves a cached group optimistically.
func (s *GroupStore) ToggleMembership(ctx context.Context, id string) (err error) {
	s.mu.Lock()
	var prev optimistic.State
	found := s.eachCopyLocked(id, func(g *models.Group) {
		prev = optimistic.State{On: g.Joined, Count: g.MemberCount}
	})
	if !found {
		s.mu.Unlock()
		return s.fail(models.NewNotFoundError("group", id))
	}
	tk, err := s.members.Begin(id, prev)
	if err != nil {
		s.mu.Unlock()
		observability.RecordOutcome("membership", observability.OutcomeRejected)
		return err
	}
	s.state.Error = ""
	s.applyLocked(id, tk.Next)
	snap := s.copyLocked()
	s.mu.Unlock()
	s.subs.notify(snap)

	ctx, done := action(ctx, s.log, "groups", "toggle_membership")
	defer func() { done(err) }()

	var body any
	path := "groups/" + escape(id) + "/members"
	if tk.Next.On {
		body, err = s.api.Post(ctx, path, nil, "Failed to join group")
	} else {
		body, err = s.api.Delete(ctx, path, "Failed to leave group")
	}

	s.update(func() {
		if !s.members.Finish(tk) {
			observability.RecordOutcome("membership", observability.OutcomeDiscarded)
			return
		}
		if err != nil {
			s.applyLocked(id, tk.Prev)
			s.recordLocked(err)
			observability.RecordOutcome("membership", observability.OutcomeRolledBack)
			s.log.LogRollback(ctx, "toggle_membership", id, err)
			return
		}
		joined, members := normalize.MembershipResult(normalize.Item(body, "group", "membership"))
		final := optimistic.Reconcile(tk.Next, joined, members)
		s.applyLocked(id, final)
		if final == tk.Next {
			observability.RecordOutcome("membership", observability.OutcomeConfirmed)
		} else {
			observability.RecordOutcome("membership", observability.OutcomeReconciled)
		}
	})
	return err
}

func (s *GroupStore) applyLocked(id string, st optimistic.State) {
	s.eachCopyLocked(id, func(g *models.Group) {
		g.Joined, g.MemberCount = st.On, st.Count
	})
}

// Reset drops every cached group.
func (s *GroupStore) Reset() {
	s.update(func() {
		s.list.reset()
		s.members.Reset()
		s.state = GroupState{Groups: []models.Group{}, Loading: s.loads > 0}
	})
}
