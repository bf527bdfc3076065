package mockapi

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetGroups lists groups: {"items": [...], "pagination": {...}}
func (s *Server) GetGroups(c *fiber.Ctx) error {
	p, limit := s.pagination(c)
	me := viewer(c)
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var matched []*group
	for _, g := range s.db.allGroups() {
		if search == "" || strings.Contains(strings.ToLower(g.Name+" "+g.Description), search) {
			matched = append(matched, g)
		}
	}
	items, totalPages := page(matched, p, limit)
	out := make([]fiber.Map, 0, len(items))
	for _, g := range items {
		out = append(out, renderGroup(g, me))
	}
	return c.JSON(fiber.Map{
		"items":      out,
		"pagination": fiber.Map{"page": p, "limit": limit, "has_more": p < totalPages},
	})
}

// GetGroup returns {"group": {...}}.
func (s *Server) GetGroup(c *fiber.Ctx) error {
	id := c.Params("id")
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	g := s.db.groups[id]
	if g == nil {
		return notFound(c, "Group", id)
	}
	return c.JSON(fiber.Map{"group": renderGroup(g, viewer(c))})
}

// CreateGroup makes the caller the first member.
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return badRequest(c, "Name is required")
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.nextGrp++
	g := &group{
		ID:          strconv.Itoa(s.db.nextGrp),
		Name:        name,
		Slug:        strings.Join(strings.Fields(strings.ToLower(name)), "-"),
		Description: strings.TrimSpace(req.Description),
		Members:     map[string]bool{viewer(c): true},
	}
	s.db.groups[g.ID] = g
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": renderGroup(g, viewer(c))})
}

func (s *Server) JoinGroup(c *fiber.Ctx) error { return s.setMembership(c, true) }
func (s *Server) LeaveGroup(c *fiber.Ctx) error { return s.setMembership(c, false) }

// setMembership answers {"is_member": ..., "members_count": ...}.
func (s *Server) setMembership(c *fiber.Ctx, join bool) error {
	id, me := c.Params("id"), viewer(c)
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	g := s.db.groups[id]
	if g == nil {
		return notFound(c, "Group", id)
	}
	if join {
		g.Members[me] = true
	} else {
		delete(g.Members, me)
	}
	return c.JSON(fiber.Map{"is_member": join, "members_count": len(g.Members)})
}
