package mockapi

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Records mix field conventions: `_id` and camelCase timestamps on posts,
// snake_case on users and comments, camelCase on groups.

// numericID emits ids that look like integers as JSON numbers.
func numericID(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}

func (d *db) renderAuthor(id string) fiber.Map {
	u := d.users[id]
	if u == nil {
		return fiber.Map{"_id": id}
	}
	return fiber.Map{
		"_id":        u.ID,
		"username":   u.Username,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"avatar":     u.Avatar,
	}
}

func (d *db) renderPost(p *post, viewer string) fiber.Map {
	m := fiber.Map{
		"_id":            p.ID,
		"user":           d.renderAuthor(p.AuthorID),
		"content":        p.Content,
		"images":         append([]string{}, p.Media...),
		"likes_count":    len(p.LikedBy),
		"is_liked":       viewer != "" && p.LikedBy[viewer],
		"comments_count": len(p.Comments),
		"createdAt":      p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.GroupID != "" {
		m["group_id"] = numericID(p.GroupID)
	}
	if !p.UpdatedAt.IsZero() {
		m["updatedAt"] = p.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func (d *db) renderComment(c *comment) fiber.Map {
	author := d.renderAuthor(c.AuthorID)
	return fiber.Map{
		"id":         c.ID,
		"post_id":    c.PostID,
		"author":     author,
		"text":       c.Content,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (d *db) renderUser(u *user, viewer string) fiber.Map {
	m := fiber.Map{
		"id":              numericID(u.ID),
		"email":           u.Email,
		"username":        u.Username,
		"first_name":      u.FirstName,
		"last_name":       u.LastName,
		"avatar_url":      u.Avatar,
		"location":        u.Location,
		"account_type":    u.Role,
		"followers_count": len(u.Followers),
		"is_following":    viewer != "" && u.Followers[viewer],
	}
	if u.DisplayName != "" {
		m["display_name"] = u.DisplayName
	}
	if u.Role == "admin" {
		m["is_admin"] = true
	}
	return m
}

func renderGroup(g *group, viewer string) fiber.Map {
	return fiber.Map{
		"id":           numericID(g.ID),
		"title":        g.Name,
		"slug":         g.Slug,
		"about":        g.Description,
		"membersCount": len(g.Members),
		"isMember":     viewer != "" && g.Members[viewer],
	}
}
