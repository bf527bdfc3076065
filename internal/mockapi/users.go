package mockapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type profileRequest struct {
	DisplayName *string `json:"display_name"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	AvatarURL   *string `json:"avatar_url"`
	Location    *string `json:"location"`
}

// GetUsers lists accounts: {"users": [...], "meta": {...}}
func (s *Server) GetUsers(c *fiber.Ctx) error {
	p, limit := s.pagination(c)
	me := viewer(c)

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	items, totalPages := page(s.db.people(c.Query("search")), p, limit)
	out := make([]fiber.Map, 0, len(items))
	for _, u := range items {
		out = append(out, s.db.renderUser(u, me))
	}
	return c.JSON(fiber.Map{
		"users": out,
		"meta":  fiber.Map{"current_page": p, "per_page": limit, "total_pages": totalPages},
	})
}

func (s *Server) GetMe(c *fiber.Ctx) error {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	u := s.db.users[viewer(c)]
	if u == nil {
		return notFound(c, "User", viewer(c))
	}
	return c.JSON(fiber.Map{"user": s.db.renderUser(u, u.ID)})
}

func (s *Server) GetUser(c *fiber.Ctx) error {
	id := c.Params("id")
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	u := s.db.users[id]
	if u == nil {
		return notFound(c, "User", id)
	}
	return c.JSON(fiber.Map{"user": s.db.renderUser(u, viewer(c))})
}

func (s *Server) UpdateMe(c *fiber.Ctx) error {
	return s.updateProfile(c, viewer(c))
}

func (s *Server) UpdateUser(c *fiber.Ctx) error {
	id := c.Params("id")
	if id != viewer(c) && !isAdmin(c) {
		return forbidden(c, "You can only edit your own profile")
	}
	return s.updateProfile(c, id)
}

func (s *Server) updateProfile(c *fiber.Ctx, id string) error {
	var req profileRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.DisplayName != nil && strings.TrimSpace(*req.DisplayName) == "" {
		return badRequest(c, "Display name cannot be empty")
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u := s.db.users[id]
	if u == nil {
		return notFound(c, "User", id)
	}
	assign := func(dst, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	assign(&u.DisplayName, req.DisplayName)
	assign(&u.FirstName, req.FirstName)
	assign(&u.LastName, req.LastName)
	assign(&u.Avatar, req.AvatarURL)
	assign(&u.Location, req.Location)
	return c.JSON(fiber.Map{"data": s.db.renderUser(u, viewer(c))})
}

func (s *Server) DeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.users[id] == nil {
		return notFound(c, "User", id)
	}
	s.db.deleteUser(id)
	return c.JSON(fiber.Map{"message": "User deleted"})
}

func (s *Server) Follow(c *fiber.Ctx) error { return s.setFollow(c, true) }
func (s *Server) Unfollow(c *fiber.Ctx) error { return s.setFollow(c, false) }

// setFollow answers {"isFollowing": ..., "followers_count": ...}.
func (s *Server) setFollow(c *fiber.Ctx, follow bool) error {
	id, me := c.Params("id"), viewer(c)
	if id == me {
		return badRequest(c, "You cannot follow yourself")
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u := s.db.users[id]
	if u == nil {
		return notFound(c, "User", id)
	}
	if follow {
		u.Followers[me] = true
	} else {
		delete(u.Followers, me)
	}
	return c.JSON(fiber.Map{"isFollowing": follow, "followers_count": len(u.Followers)})
}

// GetStats returns {"stats": {"users": n, ...}}.
func (s *Server) GetStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"stats": s.db.stats()})
}
