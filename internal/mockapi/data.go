package mockapi

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"areahood/internal/seed"

	"golang.org/x/crypto/bcrypt"
)

type user struct {
	ID          string
	Email       string
	Hash        []byte
	Username    string
	DisplayName string
	FirstName   string
	LastName    string
	Avatar      string
	Location    string
	Role        string
	Verified    bool
	Followers   map[string]bool
}

func (u *user) name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

type post struct {
	ID        string
	AuthorID  string
	Content   string
	Media     []string
	GroupID   string
	CreatedAt time.Time
	UpdatedAt time.Time
	LikedBy   map[string]bool
	Comments  []*comment
}

type group struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Members     map[string]bool
}

// db is the mock API's in-memory state. All access goes through mu.
type db struct {
	mu       sync.RWMutex
	cost     int
	users    map[string]*user
	byEmail  map[string]*user
	posts    map[string]*post
	groups   map[string]*group
	nextUser int
	nextGrp  int
	revoked  map[string]bool
	codes    map[string]string // email -> verification code
	resets   map[string]string // reset token -> user id
}

func newDB(ds *seed.Dataset, cost int) (*db, error) {
	d := &db{
		cost:    cost,
		users:   map[string]*user{},
		byEmail: map[string]*user{},
		posts:   map[string]*post{},
		groups:  map[string]*group{},
		revoked: map[string]bool{},
		codes:   map[string]string{},
		resets:  map[string]string{},
	}
	if ds == nil {
		return d, nil
	}

	for _, su := range ds.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", su.Email, err)
		}
		u := &user{
			ID:        su.ID,
			Email:     strings.ToLower(su.Email),
			Hash:      hash,
			Username:  su.Username,
			FirstName: su.FirstName,
			LastName:  su.LastName,
			Avatar:    su.Avatar,
			Location:  su.Location,
			Role:      cmp.Or(su.Role, "resident"),
			Verified:  true,
			Followers: set(su.Followers),
		}
		d.users[u.ID] = u
		d.byEmail[u.Email] = u
		if n, err := strconv.Atoi(u.ID); err == nil {
			d.nextUser = max(d.nextUser, n)
		}
	}
	for _, sg := range ds.Groups {
		d.groups[sg.ID] = &group{ID: sg.ID, Name: sg.Name, Slug: sg.Slug, Description: sg.Description, Members: set(sg.Members)}
		if n, err := strconv.Atoi(sg.ID); err == nil {
			d.nextGrp = max(d.nextGrp, n)
		}
	}
	for _, sp := range ds.Posts {
		p := &post{
			ID:        sp.ID,
			AuthorID:  sp.AuthorID,
			Content:   sp.Content,
			Media:     slices.Clone(sp.Media),
			GroupID:   sp.GroupID,
			CreatedAt: sp.CreatedAt,
			LikedBy:   set(sp.LikedBy),
		}
		for _, sc := range sp.Comments {
			p.Comments = append(p.Comments, &comment{ID: sc.ID, PostID: p.ID, AuthorID: sc.AuthorID, Content: sc.Content, CreatedAt: sc.CreatedAt})
		}
		d.posts[p.ID] = p
	}
	return d, nil
}

func set(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// page slices items for a 1-based page and reports the total page count.
func page[T any](items []T, p, limit int) ([]T, int) {
	total := (len(items) + limit - 1) / limit
	start := (p - 1) * limit
	if start >= len(items) {
		return []T{}, total
	}
	return items[start:min(start+limit, len(items))], total
}

// feed returns posts newest first, filtered by a case-insensitive search.
// Caller holds mu.
func (d *db) feed(search string) []*post {
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]*post, 0, len(d.posts))
	for _, p := range d.posts {
		if search != "" && !strings.Contains(strings.ToLower(p.Content), search) {
			if a := d.users[p.AuthorID]; a == nil || !strings.Contains(strings.ToLower(a.name()+" "+a.Username), search) {
				continue
			}
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *post) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// people returns users ordered by id. Caller holds mu.
func (d *db) people(search string) []*user {
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]*user, 0, len(d.users))
	for _, u := range d.users {
		if search != "" && !strings.Contains(strings.ToLower(u.name()+" "+u.Username+" "+u.Email), search) {
			continue
		}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b *user) int { return compareIDs(a.ID, b.ID) })
	return out
}

// allGroups returns groups ordered by id. Caller holds mu.
func (d *db) allGroups() []*group {
	out := make([]*group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b *group) int { return compareIDs(a.ID, b.ID) })
	return out
}

func compareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

// deleteUser removes a user and every trace of them. Caller holds mu.
func (d *db) deleteUser(id string) {
	u := d.users[id]
	if u == nil {
		return
	}
	delete(d.users, id)
	delete(d.byEmail, u.Email)
	for _, other := range d.users {
		delete(other.Followers, id)
	}
	for _, g := range d.groups {
		delete(g.Members, id)
	}
	for pid, p := range d.posts {
		if p.AuthorID == id {
			delete(d.posts, pid)
			continue
		}
		delete(p.LikedBy, id)
		p.Comments = slices.DeleteFunc(p.Comments, func(c *comment) bool { return c.AuthorID == id })
	}
}

func (d *db) stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := map[string]int{"users": len(d.users), "posts": len(d.posts), "groups": len(d.groups)}
	for _, p := range d.posts {
		out["comments"] += len(p.Comments)
		out["likes"] += len(p.LikedBy)
	}
	return out
}
