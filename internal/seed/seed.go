// Package seed provides fixture data for the mock API: generated demo
// neighborhoods and YAML fixture files. Intended for development and
// testing only.
package seed

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPassword is the password of every generated account.
const DefaultPassword = "password123"

// Well-known accounts present in every generated dataset.
const (
	DemoEmail  = "demo@areahood.local"
	AdminEmail = "admin@areahood.local"
)

// User is a fixture account. Password is plaintext; the mock API hashes it on load.
type User struct {
	ID        string   `yaml:"id"`
	Email     string   `yaml:"email"`
	Password  string   `yaml:"password"`
	Username  string   `yaml:"username"`
	FirstName string   `yaml:"first_name"`
	LastName  string   `yaml:"last_name"`
	Avatar    string   `yaml:"avatar,omitempty"`
	Location  string   `yaml:"location,omitempty"`
	Role      string   `yaml:"role,omitempty"`
	Followers []string `yaml:"followers,omitempty"`
}

// Comment is a fixture comment.
type Comment struct {
	ID        string    `yaml:"id"`
	AuthorID  string    `yaml:"author"`
	Content   string    `yaml:"content"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Post is a fixture post.
type Post struct {
	ID        string    `yaml:"id"`
	AuthorID  string    `yaml:"author"`
	Content   string    `yaml:"content"`
	Media     []string  `yaml:"media,omitempty"`
	GroupID   string    `yaml:"group,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	LikedBy   []string  `yaml:"liked_by,omitempty"`
	Comments  []Comment `yaml:"comments,omitempty"`
}

// Group is a fixture neighborhood group.
type Group struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Slug        string   `yaml:"slug,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Members     []string `yaml:"members,omitempty"`
}

// Dataset is everything the mock API serves.
type Dataset struct {
	Users  []User  `yaml:"users"`
	Posts  []Post  `yaml:"posts"`
	Groups []Group `yaml:"groups"`
}

// LoadFile reads and validates a YAML fixture file.
func LoadFile(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(raw, &ds); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("fixtures %s: %w", path, err)
	}
	return &ds, nil
}

// Validate checks ids are unique and every reference points at a known record.
func (d *Dataset) Validate() error {
	var errs []error
	users := make(map[string]bool, len(d.Users))
	emails := make(map[string]bool, len(d.Users))
	for _, u := range d.Users {
		switch {
		case u.ID == "":
			errs = append(errs, fmt.Errorf("user %q has no id", u.Email))
		case users[u.ID]:
			errs = append(errs, fmt.Errorf("duplicate user id %q", u.ID))
		}
		if u.Email == "" || emails[u.Email] {
			errs = append(errs, fmt.Errorf("user %q needs a unique email", u.ID))
		}
		users[u.ID] = true
		emails[u.Email] = true
	}
	refs := func(kind, owner string, ids []string) {
		for _, id := range ids {
			if !users[id] {
				errs = append(errs, fmt.Errorf("%s %q references unknown user %q", kind, owner, id))
			}
		}
	}
	for _, u := range d.Users {
		refs("user", u.ID, u.Followers)
	}

	groups := make(map[string]bool, len(d.Groups))
	for _, g := range d.Groups {
		if g.ID == "" || groups[g.ID] {
			errs = append(errs, fmt.Errorf("group %q needs a unique id", g.Name))
		}
		groups[g.ID] = true
		refs("group", g.ID, g.Members)
	}

	posts := make(map[string]bool, len(d.Posts))
	for _, p := range d.Posts {
		if p.ID == "" || posts[p.ID] {
			errs = append(errs, fmt.Errorf("post %q needs a unique id", p.ID))
		}
		posts[p.ID] = true
		refs("post", p.ID, append([]string{p.AuthorID}, p.LikedBy...))
		if p.GroupID != "" && !groups[p.GroupID] {
			errs = append(errs, fmt.Errorf("post %q references unknown group %q", p.ID, p.GroupID))
		}
		for _, c := range p.Comments {
			refs("comment", c.ID, []string{c.AuthorID})
		}
	}
	return errors.Join(errs...)
}

// User returns the account with the given email.
func (d *Dataset) User(email string) (User, bool) {
	for _, u := range d.Users {
		if u.Email == email {
			return u, true
		}
	}
	return User{}, false
}
