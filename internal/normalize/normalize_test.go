package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"areahood/internal/models"

	"github.com/google/go-cmp/cmp"
)

func decode(t *testing.T, raw string) Record {
	t.Helper()
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatal(err)
	}
	return r
}

// roundTrip re-encodes a canonical value the way it would be cached or echoed back.
func roundTrip(t *testing.T, v any) Record {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return decode(t, string(b))
}

func toTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func TestPost(t *testing.T) {
	updated := toTime("2025-09-26T08:00:00Z")
	cases := []struct {
		name     string
		raw      string
		expected models.Post
	}{
		{
			"mongo style record",
			`{"_id":"65f1","user":{"_id":"u1","username":"maria","avatar":"https://cdn/a.png"},
			  "text":"Lost cat on Elm St","images":["https://cdn/1.jpg",{"src":"https://cdn/2.jpg"}],
			  "likes":["u2","u3"],"is_liked":true,"comments":[{},{},{}],
			  "createdAt":"2025-09-25T22:27:56.617343Z","updatedAt":"2025-09-26T08:00:00Z"}`,
			models.Post{
				ID:            "65f1",
				Author:        models.Author{ID: "u1", DisplayName: "maria", AvatarURL: "https://cdn/a.png"},
				Content:       "Lost cat on Elm St",
				Media:         []models.Media{{URL: "https://cdn/1.jpg"}, {URL: "https://cdn/2.jpg"}},
				LikesCount:    2,
				Liked:         true,
				CommentsCount: 3,
				CreatedAt:     toTime("2025-09-25T22:27:56.617343Z"),
				UpdatedAt:     &updated,
			},
		},
		{
			"sql style record with numeric id",
			`{"id":42,"author":{"id":7,"first_name":"Ana","last_name":"Lee"},"content":"Yard sale",
			  "likes_count":3,"liked":false,"comments_count":1,"created_at":"2025-09-25T10:00:00Z"}`,
			models.Post{
				ID:            "42",
				Author:        models.Author{ID: "7", DisplayName: "Ana Lee"},
				Content:       "Yard sale",
				Media:         []models.Media{},
				LikesCount:    3,
				CommentsCount: 1,
				CreatedAt:     toTime("2025-09-25T10:00:00Z"),
			},
		},
		{
			"missing author and media",
			`{"content":"hello"}`,
			models.Post{
				Author:  models.Author{DisplayName: models.UnknownAuthorName},
				Content: "hello",
				Media:   []models.Media{},
			},
		},
		{
			"id preferred over _id",
			`{"id":"a","_id":"b","content":"x","image_url":"https://cdn/x.png"}`,
			models.Post{
				ID:      "a",
				Author:  models.Author{DisplayName: models.UnknownAuthorName},
				Content: "x",
				Media:   []models.Media{{URL: "https://cdn/x.png"}},
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Post(decode(t, c.raw))
			if diff := cmp.Diff(c.expected, got); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestPost_Idempotent(t *testing.T) {
	raws := []string{
		`{"_id":"1","text":"a","user":{"name":"Bo"},"likes":4,"liked":"true","createdAt":1727300000}`,
		`{"id":"2","content":"b","media":[null,{"url":"https://x"}],"updated_at":"2025-09-25T22:27:56+02:00"}`,
		`{}`,
	}
	for _, raw := range raws {
		once := Post(decode(t, raw))
		twice := Post(roundTrip(t, once))
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("normalizing %s twice changed it:\n%s", raw, diff)
		}
	}
}

func TestComment(t *testing.T) {
	r := decode(t, `{"_id":"c1","text":"nice","createdAt":"2025-09-25T10:00:00Z"}`)
	got := Comment(r, "p1")
	expected := models.Comment{
		ID:        "c1",
		PostID:    "p1",
		Content:   "nice",
		CreatedAt: toTime("2025-09-25T10:00:00Z"),
		UpdatedAt: toTime("2025-09-25T10:00:00Z"),
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Error(diff)
	}

	twice := Comment(roundTrip(t, got), "other")
	if diff := cmp.Diff(got, twice); diff != "" {
		t.Error(diff)
	}
}

func TestProfileAndGroup_Idempotent(t *testing.T) {
	p := Profile(decode(t, `{"_id":"u1","email":"a@b.c","firstName":"Ann","is_admin":true,"followers":["x"],"isFollowing":true}`))
	if p.DisplayName != "Ann" || p.Role != models.RoleAdmin || p.FollowersCount != 1 || !p.Following {
		t.Errorf("unexpected profile: %#v", p)
	}
	if diff := cmp.Diff(p, Profile(roundTrip(t, p))); diff != "" {
		t.Error(diff)
	}

	g := Group(decode(t, `{"id":9,"title":"Dog walkers","membersCount":"12","isMember":1}`))
	if g.ID != "9" || g.Name != "Dog walkers" || g.MemberCount != 12 || !g.Joined {
		t.Errorf("unexpected group: %#v", g)
	}
	if diff := cmp.Diff(g, Group(roundTrip(t, g))); diff != "" {
		t.Error(diff)
	}
}

func TestList(t *testing.T) {
	cases := []struct {
		name      string
		raw       string
		requested models.ListParams
		n         int
		expected  models.PageInfo
	}{
		{
			"data with pagination",
			`{"data":[{"id":1},{"id":2}],"pagination":{"page":2,"limit":2,"totalPages":3}}`,
			models.ListParams{Page: 2, Limit: 2},
			2,
			models.PageInfo{Page: 2, Limit: 2, TotalPages: 3, HasMore: true},
		},
		{
			"entity key with meta",
			`{"posts":[{"_id":"a"}],"meta":{"current_page":3,"per_page":10,"has_more":false}}`,
			models.ListParams{Page: 3, Limit: 10},
			1,
			models.PageInfo{Page: 3, Limit: 10},
		},
		{
			"nested data object",
			`{"data":{"posts":[{"id":1},{"id":2}],"page_info":{"hasNext":true}}}`,
			models.ListParams{Page: 1, Limit: 20},
			2,
			models.PageInfo{Page: 1, Limit: 20, HasMore: true},
		},
		{
			"bare array falls back to page size",
			`[{"id":1},{"id":2}]`,
			models.ListParams{Page: 1, Limit: 2},
			2,
			models.PageInfo{Page: 1, Limit: 2, HasMore: true},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var body any
			if err := json.Unmarshal([]byte(c.raw), &body); err != nil {
				t.Fatal(err)
			}
			items, info := List(body, c.requested, "posts")
			if len(items) != c.n {
				t.Errorf("expected %d items, got %d", c.n, len(items))
			}
			if diff := cmp.Diff(c.expected, info); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestItem(t *testing.T) {
	var body any
	_ = json.Unmarshal([]byte(`{"data":{"post":{"_id":"p1"}}}`), &body)
	if id := ID(Item(body, "post")); id != "p1" {
		t.Errorf("expected p1, got %q", id)
	}

	_ = json.Unmarshal([]byte(`{"liked":true,"likes_count":4}`), &body)
	r := Item(body, "post")
	if liked, ok := Bool(r, "liked"); !ok || !liked {
		t.Error("expected bare body to be returned")
	}

	if len(Item("not an object")) != 0 {
		t.Error("expected empty record for non-object body")
	}
}

func TestLikeResult(t *testing.T) {
	liked, count := LikeResult(decode(t, `{"liked":false,"likes_count":2}`))
	if liked == nil || *liked || count == nil || *count != 2 {
		t.Errorf("unexpected result %v %v", liked, count)
	}

	liked, count = LikeResult(decode(t, `{"message":"ok"}`))
	if liked != nil || count != nil {
		t.Error("absent fields must stay nil")
	}

	following, followers := FollowResult(decode(t, `{"isFollowing":true,"followers":["a","b","c"]}`))
	if following == nil || !*following || followers == nil || *followers != 3 {
		t.Errorf("unexpected follow result %v %v", following, followers)
	}
}

func TestToken(t *testing.T) {
	if got := Token(decode(t, `{"access_token":"abc"}`)); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
	if got := Token(decode(t, `{"data":{"token":"xyz","user":{}}}`)); got != "xyz" {
		t.Errorf("expected xyz, got %q", got)
	}
	if got := Token(decode(t, `{}`)); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}
}
