// Package store holds the resource stores. Each store owns one slice of
// client state, guards it with its own mutex and notifies subscribers with
// a deep copy after every change. Stores never write to each other; callers
// orchestrate cross-store effects.
package store

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"areahood/internal/apiclient"
	"areahood/internal/models"
	"areahood/internal/normalize"
	"areahood/internal/observability"
)

// DefaultPageSize is used when a list is loaded without a limit.
const DefaultPageSize = 20

// API is the subset of the HTTP client the stores use.
type API interface {
	Get(ctx context.Context, path string, query url.Values, fallback string) (any, error)
	Post(ctx context.Context, path string, body any, fallback string) (any, error)
	Put(ctx context.Context, path string, body any, fallback string) (any, error)
	Patch(ctx context.Context, path string, body any, fallback string) (any, error)
	Delete(ctx context.Context, path string, fallback string) (any, error)
}

var (
	_ API               = (*apiclient.Client)(nil)
	_ apiclient.Session = (*AuthStore)(nil)
)

// subscribers fans state copies out to listeners. Listeners run on the
// goroutine that changed the state, after the store lock is released.
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (s *subscribers[T]) add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers[T]) notify(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// failure returns the message a store records for err. Cancellation is not
// a failure and yields ok=false.
func failure(err error) (msg string, ok bool) {
	if err == nil || apiclient.IsCanceled(err) || errors.Is(err, context.Canceled) {
		return "", false
	}
	return err.Error(), true
}

// action opens a span for a store operation and returns a finisher that
// records the outcome.
func action(ctx context.Context, log *observability.StoreLogger, store, name string) (context.Context, func(error)) {
	span, ctx := observability.StartStoreSpan(ctx, store, name)
	return ctx, func(err error) {
		defer span.End()
		if _, failed := failure(err); failed {
			span.SetError(err)
			log.LogSpanFailure(ctx, name, span, err)
			return
		}
		log.LogAction(ctx, name, nil)
	}
}

// normalizeParams applies defaults. Blank search means no filter.
func normalizeParams(p models.ListParams, pageSize int) models.ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = pageSize
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

func listQuery(p models.ListParams) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("limit", strconv.Itoa(p.Limit))
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	return q
}

// fetchPage loads one page of path and normalizes every record with fn.
func fetchPage[T any](ctx context.Context, api API, path string, p models.ListParams, fallback string,
	fn func(normalize.Record) T, entityKeys ...string,
) ([]T, models.PageInfo, error) {
	body, err := api.Get(ctx, path, listQuery(p), fallback)
	if err != nil {
		return nil, models.PageInfo{}, err
	}
	records, info := normalize.List(body, p, entityKeys...)
	items := make([]T, 0, len(records))
	for _, r := range records {
		items = append(items, fn(r))
	}
	return items, info, nil
}

// pager tracks list request generations so that a response belonging to a
// superseded load is dropped. A cancelled reload is withdrawn and does not
// supersede the reloads issued before it.
type pager struct {
	issued  uint64
	live    []uint64 // reloads in flight, ascending
	settled uint64
	epoch   uint64

	loadingMore bool
	more        moreTicket
}

type moreTicket struct {
	settled, issued uint64
}

// begin starts a full reload and returns its generation.
func (p *pager) begin() uint64 {
	p.issued++
	p.live = append(p.live, p.issued)
	return p.issued
}

func (p *pager) drop(v uint64) bool {
	i := slices.Index(p.live, v)
	if i < 0 {
		return false
	}
	p.live = slices.Delete(p.live, i, i+1)
	return true
}

// withdraw forgets a cancelled reload.
func (p *pager) withdraw(v uint64) {
	p.drop(v)
}

// finish ends reload v and reports whether its outcome should be installed:
// no newer reload is in flight or has settled since.
func (p *pager) finish(v uint64) bool {
	if !p.drop(v) || v < p.settled {
		return false
	}
	if n := len(p.live); n > 0 && p.live[n-1] > v {
		return false
	}
	p.settled = v
	return true
}

// reset invalidates every request in flight.
func (p *pager) reset() {
	p.issued++
	p.settled = p.issued
	p.live = nil
	p.epoch++
	p.loadingMore = false
}

// beginMore reserves the single load-more slot.
func (p *pager) beginMore(info models.PageInfo) (moreTicket, bool) {
	if !info.HasMore || p.loadingMore {
		return moreTicket{}, false
	}
	p.loadingMore = true
	p.more = moreTicket{settled: p.settled, issued: p.issued}
	return p.more, true
}

// endMore releases the load-more slot held by t.
func (p *pager) endMore(t moreTicket) bool {
	if p.more != t || !p.loadingMore {
		return false
	}
	p.loadingMore = false
	return true
}

// freshMore reports whether the page t was fetched for is still installed
// and no reload issued after it is in flight.
func (p *pager) freshMore(t moreTicket) bool {
	if p.settled != t.settled {
		return false
	}
	n := len(p.live)
	return n == 0 || p.live[n-1] <= t.issued
}

// loadMark remembers the state a load replaced when it started so that a
// cancelled load can put it back.
type loadMark struct {
	err   string
	epoch uint64
}

// canceled reports whether err means the caller gave up on the request.
func canceled(err error) bool {
	_, failed := failure(err)
	return err != nil && !failed
}

func prepend[T any](items []T, v T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, v)
	return append(out, items...)
}

func indexOf[T any](items []T, id string, idOf func(T) string) int {
	for i := range items {
		if idOf(items[i]) == id {
			return i
		}
	}
	return -1
}

func removeByID[T any](items []T, id string, idOf func(T) string) []T {
	out := items[:0:0]
	for _, it := range items {
		if idOf(it) != id {
			out = append(out, it)
		}
	}
	return out
}

// appendNew appends the items whose id is not already present.
func appendNew[T any](items, more []T, idOf func(T) string) []T {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[idOf(it)] = true
	}
	for _, it := range more {
		id := idOf(it)
		if id != "" && seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, it)
	}
	return items
}

func escape(id string) string {
	return url.PathEscape(id)
}

func validate(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return models.NewValidationError(field + " is required")
	}
	return nil
}
