package mockapi

import (
	"slices"
	"strings"
	"time"

	"areahood/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type postRequest struct {
	Content string   `json:"content"`
	Media   []string `json:"media"`
	GroupID string   `json:"group_id"`
}

// GetPosts lists the feed: {"data": [...], "pagination": {...}}
func (s *Server) GetPosts(c *fiber.Ctx) error {
	p, limit := s.pagination(c)
	me := viewer(c)

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	all := s.db.feed(c.Query("search"))
	items, totalPages := page(all, p, limit)
	out := make([]fiber.Map, 0, len(items))
	for _, item := range items {
		out = append(out, s.db.renderPost(item, me))
	}
	return c.JSON(fiber.Map{
		"data": out,
		"pagination": fiber.Map{
			"page":       p,
			"limit":      limit,
			"total":      len(all),
			"totalPages": totalPages,
		},
	})
}

// GetPost returns {"post": {...}}.
func (s *Server) GetPost(c *fiber.Ctx) error {
	id := c.Params("id")
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	p := s.db.posts[id]
	if p == nil {
		return notFound(c, "Post", id)
	}
	return c.JSON(fiber.Map{"post": s.db.renderPost(p, viewer(c))})
}

func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req postRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest(c, "Content is required")
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if req.GroupID != "" && s.db.groups[req.GroupID] == nil {
		return notFound(c, "Group", req.GroupID)
	}
	p := &post{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		AuthorID:  viewer(c),
		Content:   strings.TrimSpace(req.Content),
		Media:     req.Media,
		GroupID:   req.GroupID,
		CreatedAt: s.now().UTC(),
		LikedBy:   map[string]bool{},
	}
	s.db.posts[p.ID] = p
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": s.db.renderPost(p, viewer(c))})
}

// editablePost loads a post the caller may change. Caller holds mu.
func (s *Server) editablePost(c *fiber.Ctx) (*post, error) {
	id := c.Params("id")
	p := s.db.posts[id]
	if p == nil {
		return nil, notFound(c, "Post", id)
	}
	if p.AuthorID != viewer(c) && !isAdmin(c) {
		return nil, forbidden(c, "You can only change your own posts")
	}
	return p, nil
}

func (s *Server) UpdatePost(c *fiber.Ctx) error {
	var req postRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest(c, "Content is required")
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, err := s.editablePost(c)
	if p == nil {
		return err
	}
	p.Content = strings.TrimSpace(req.Content)
	if req.Media != nil {
		p.Media = req.Media
	}
	p.UpdatedAt = s.now().UTC()
	return c.JSON(fiber.Map{"data": s.db.renderPost(p, viewer(c))})
}

func (s *Server) DeletePost(c *fiber.Ctx) error {
	s.db.mu.Lock()
	p, err := s.editablePost(c)
	if p == nil {
		s.db.mu.Unlock()
		return err
	}
	delete(s.db.posts, p.ID)
	s.db.mu.Unlock()

	s.feed.broadcast(realtime.EventPostDeleted, fiber.Map{"post_id": p.ID})
	return c.JSON(fiber.Map{"message": "Post deleted"})
}

func (s *Server) LikePost(c *fiber.Ctx) error { return s.setLike(c, true) }
func (s *Server) UnlikePost(c *fiber.Ctx) error { return s.setLike(c, false) }

// setLike is idempotent and answers {"liked": ..., "likes_count": ...}.
func (s *Server) setLike(c *fiber.Ctx, liked bool) error {
	id, me := c.Params("id"), viewer(c)

	s.db.mu.Lock()
	p := s.db.posts[id]
	if p == nil {
		s.db.mu.Unlock()
		return notFound(c, "Post", id)
	}
	if liked {
		p.LikedBy[me] = true
	} else {
		delete(p.LikedBy, me)
	}
	count := len(p.LikedBy)
	s.db.mu.Unlock()

	s.feed.broadcast(realtime.EventPostLiked, fiber.Map{"post_id": id, "likes_count": count, "user_id": me})
	return c.JSON(fiber.Map{"liked": liked, "likes_count": count})
}

// GetComments returns newest first: {"comments": [...], "meta": {...}}
func (s *Server) GetComments(c *fiber.Ctx) error {
	id := c.Params("id")
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	p := s.db.posts[id]
	if p == nil {
		return notFound(c, "Post", id)
	}
	ordered := slices.Clone(p.Comments)
	slices.SortStableFunc(ordered, func(a, b *comment) int { return b.CreatedAt.Compare(a.CreatedAt) })
	out := make([]fiber.Map, 0, len(ordered))
	for _, cm := range ordered {
		out = append(out, s.db.renderComment(cm))
	}
	return c.JSON(fiber.Map{
		"comments": out,
		"meta":     fiber.Map{"current_page": 1, "per_page": len(out), "has_more": false},
	})
}

func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return badRequest(c, "Comment cannot be empty")
	}

	id := c.Params("id")
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p := s.db.posts[id]
	if p == nil {
		return notFound(c, "Post", id)
	}
	cm := &comment{
		ID:        uuid.NewString(),
		PostID:    id,
		AuthorID:  viewer(c),
		Content:   strings.TrimSpace(req.Content),
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	p.Comments = append(p.Comments, cm)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": s.db.renderComment(cm)})
}

func (s *Server) DeleteComment(c *fiber.Ctx) error {
	id, commentID := c.Params("id"), c.Params("commentId")
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p := s.db.posts[id]
	if p == nil {
		return notFound(c, "Post", id)
	}
	i := slices.IndexFunc(p.Comments, func(cm *comment) bool { return cm.ID == commentID })
	if i < 0 {
		return notFound(c, "Comment", commentID)
	}
	if p.Comments[i].AuthorID != viewer(c) && !isAdmin(c) {
		return forbidden(c, "You can only delete your own comments")
	}
	p.Comments = slices.Delete(p.Comments, i, i+1)
	return c.JSON(fiber.Map{"message": "Comment deleted"})
}
