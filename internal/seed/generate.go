package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Options controls generated dataset size.
type Options struct {
	Users       int
	Posts       int
	Groups      int
	MaxComments int
	// MaxDays bounds how far back post timestamps go.
	MaxDays int
	// Seed makes generation reproducible; 0 picks a random seed.
	Seed int64
	Now  time.Time
}

func (o Options) withDefaults() Options {
	if o.Users <= 0 {
		o.Users = 12
	}
	if o.Posts < 0 {
		o.Posts = 0
	}
	if o.Groups <= 0 {
		o.Groups = 4
	}
	if o.MaxComments < 0 {
		o.MaxComments = 0
	}
	if o.MaxDays <= 0 {
		o.MaxDays = 30
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	return o
}

// Generate builds a demo neighborhood. The demo resident and admin
// accounts are always users 1 and 2.
func Generate(opts Options) *Dataset {
	opts = opts.withDefaults()
	f := gofakeit.New(opts.Seed)
	ds := &Dataset{}

	ds.Users = append(ds.Users,
		User{ID: "1", Email: DemoEmail, Password: DefaultPassword, Username: "demo", FirstName: "Demo", LastName: "Resident", Role: "resident"},
		User{ID: "2", Email: AdminEmail, Password: DefaultPassword, Username: "admin", FirstName: "Area", LastName: "Admin", Role: "admin"},
	)
	for i := len(ds.Users); i < max(opts.Users, 2); i++ {
		first, last := f.FirstName(), f.LastName()
		ds.Users = append(ds.Users, User{
			ID:        strconv.Itoa(i + 1),
			Email:     fmt.Sprintf("%s.%s%d@%s", strings.ToLower(first), strings.ToLower(last), i, f.DomainName()),
			Password:  DefaultPassword,
			Username:  f.Username() + strconv.Itoa(f.Number(100, 999)),
			FirstName: first,
			LastName:  last,
			Avatar:    "https://i.pravatar.cc/150?u=" + f.UUID(),
			Location:  f.Street(),
			Role:      pick(f, "resident", "resident", "resident", "business", "moderator"),
		})
	}
	for i := range ds.Users {
		ds.Users[i].Followers = sample(f, ds.Users, ds.Users[i].ID, 3)
	}

	for i := range opts.Groups {
		name := f.City() + " " + pick(f, "Dog Walkers", "Gardeners", "Parents", "Book Club", "Watch", "Runners")
		ds.Groups = append(ds.Groups, Group{
			ID:          strconv.Itoa(i + 1),
			Name:        name,
			Slug:        slug(name),
			Description: f.Sentence(10),
			Members:     sample(f, ds.Users, "", 5),
		})
	}

	for range opts.Posts {
		author := ds.Users[f.Number(0, len(ds.Users)-1)]
		created := opts.Now.Add(-time.Duration(f.Number(0, opts.MaxDays*24*60)) * time.Minute)
		p := Post{
			ID:        objectID(f),
			AuthorID:  author.ID,
			Content:   f.Paragraph(1, f.Number(1, 3), 12, "\n"),
			CreatedAt: created,
			LikedBy:   sample(f, ds.Users, "", 4),
		}
		if f.Number(0, 2) == 0 {
			p.Media = []string{"https://picsum.photos/seed/" + f.UUID() + "/800/800"}
		}
		if len(ds.Groups) > 0 && f.Number(0, 3) == 0 {
			p.GroupID = ds.Groups[f.Number(0, len(ds.Groups)-1)].ID
		}
		for range f.Number(0, opts.MaxComments) {
			p.Comments = append(p.Comments, Comment{
				ID:        f.UUID(),
				AuthorID:  ds.Users[f.Number(0, len(ds.Users)-1)].ID,
				Content:   f.Sentence(8),
				CreatedAt: created.Add(time.Duration(f.Number(1, 600)) * time.Minute),
			})
		}
		ds.Posts = append(ds.Posts, p)
	}
	return ds
}

// objectID returns a 24 hex digit id like the ones document stores hand out.
func objectID(f *gofakeit.Faker) string {
	return strings.ReplaceAll(f.UUID(), "-", "")[:24]
}

func pick(f *gofakeit.Faker, options ...string) string {
	return options[f.Number(0, len(options)-1)]
}

// sample returns up to n distinct user ids, never including skip.
func sample(f *gofakeit.Faker, users []User, skip string, n int) []string {
	seen := map[string]bool{skip: true}
	var out []string
	for range f.Number(0, n) {
		id := users[f.Number(0, len(users)-1)].ID
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func slug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
