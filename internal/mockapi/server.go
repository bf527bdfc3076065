// Package mockapi serves the AreaHood REST conventions from memory. It backs
// tests and local development of the client stores.
package mockapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"areahood/internal/featureflags"
	"areahood/internal/models"
	"areahood/internal/observability"
	"areahood/internal/seed"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultTokenTTL = 7 * 24 * time.Hour
)

// Options configures a mock API server.
type Options struct {
	// Secret signs HS256 session tokens. Required.
	Secret string
	// Faults selects routes that fail with 500, e.g. "like=fail,comment=50%".
	Faults *featureflags.Manager
	// Latency is added to every API request.
	Latency  time.Duration
	Dataset  *seed.Dataset
	PageSize int
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	TokenTTL   time.Duration
	// Registry receives the HTTP metrics. A private registry is used when nil.
	Registry *prometheus.Registry
}

// Server is a running mock backend.
type Server struct {
	opts Options
	app  *fiber.App
	db   *db
	feed *feedHub
	prom *fiberprometheus.FiberPrometheus
	seq  atomic.Uint64
	now  func() time.Time
}

// New builds the fiber app and loads the dataset.
func New(opts Options) (*Server, error) {
	if opts.Secret == "" {
		return nil, errors.New("mockapi: secret is required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.Faults == nil {
		opts.Faults = featureflags.NewManager("")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	data, err := newDB(opts.Dataset, opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts: opts,
		db:   data,
		feed: newFeedHub(),
		prom: fiberprometheus.NewWithRegistry(opts.Registry, "areahood-mockapi", "areahood", "mockapi", nil),
		now:  time.Now,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "areahood-mockapi",
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// App returns the fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	observability.GlobalLogger.Info("mock api listening",
		slog.String("addr", addr),
		slog.Any("faults", s.opts.Faults.Raw()),
		slog.Duration("latency", s.opts.Latency))
	return s.app.Listen(addr)
}

// Shutdown tells feed clients the server is going away and stops the app.
func (s *Server) Shutdown(ctx context.Context) error {
	s.feed.shutdown()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(requestLogger())
	s.app.Use(s.prom.Middleware)

	if s.opts.Latency > 0 {
		s.app.Use("/api", func(c *fiber.Ctx) error {
			time.Sleep(s.opts.Latency)
			return c.Next()
		})
	}
}

func (s *Server) setupRoutes() {
	s.prom.RegisterAt(s.app, "/metrics")
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/login", s.fault("login"), s.Login)
	auth.Post("/signup", s.fault("signup"), s.Signup)
	auth.Post("/verify", s.fault("verify"), s.Verify)
	auth.Post("/logout", s.optionalUser, s.Logout)
	auth.Post("/forgot-password", s.fault("forgot_password"), s.ForgotPassword)
	auth.Post("/reset-password", s.fault("reset_password"), s.ResetPassword)

	posts := api.Group("/posts", s.optionalUser)
	posts.Get("/", s.fault("posts"), s.GetPosts)
	posts.Post("/", s.requireUser, s.fault("post"), s.CreatePost)
	posts.Get("/:id/comments", s.fault("comments"), s.GetComments)
	posts.Post("/:id/comments", s.requireUser, s.fault("comment"), s.CreateComment)
	posts.Delete("/:id/comments/:commentId", s.requireUser, s.fault("comment"), s.DeleteComment)
	posts.Post("/:id/like", s.requireUser, s.fault("like"), s.LikePost)
	posts.Delete("/:id/like", s.requireUser, s.fault("like"), s.UnlikePost)
	posts.Get("/:id", s.fault("post"), s.GetPost)
	posts.Put("/:id", s.requireUser, s.fault("post"), s.UpdatePost)
	posts.Delete("/:id", s.requireUser, s.fault("post"), s.DeletePost)

	users := api.Group("/users", s.requireUser)
	users.Get("/", s.fault("users"), s.GetUsers)
	users.Get("/me", s.fault("users"), s.GetMe)
	users.Put("/me", s.fault("profile"), s.UpdateMe)
	users.Post("/:id/follow", s.fault("follow"), s.Follow)
	users.Delete("/:id/follow", s.fault("follow"), s.Unfollow)
	users.Get("/:id", s.fault("users"), s.GetUser)
	users.Put("/:id", s.fault("profile"), s.UpdateUser)
	users.Delete("/:id", s.requireAdmin, s.DeleteUser)

	groups := api.Group("/groups", s.optionalUser)
	groups.Get("/", s.fault("groups"), s.GetGroups)
	groups.Post("/", s.requireUser, s.fault("groups"), s.CreateGroup)
	groups.Post("/:id/members", s.requireUser, s.fault("membership"), s.JoinGroup)
	groups.Delete("/:id/members", s.requireUser, s.fault("membership"), s.LeaveGroup)
	groups.Get("/:id", s.fault("groups"), s.GetGroup)

	api.Get("/admin/stats", s.requireUser, s.requireAdmin, s.fault("stats"), s.GetStats)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/feed", s.requireUser, websocket.New(s.feedHandler))
}

var errInjected = &models.AppError{Code: models.CodeInternal, Message: "Injected failure"}

// fault fails the request when the named flag fires. Each request is its
// own rollout subject so percentages apply per call.
func (s *Server) fault(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.opts.Faults.Enabled(name, strconv.FormatUint(s.seq.Add(1), 10)) {
			return respond(c, fiber.StatusInternalServerError, errInjected)
		}
		return c.Next()
	}
}

// respond writes an ErrorResponse. AppError codes are passed through.
func respond(c *fiber.Ctx, status int, err error) error {
	resp := models.ErrorResponse{Error: err.Error()}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		resp = models.ErrorResponse{Error: appErr.Message, Code: appErr.Code}
	}
	return c.Status(status).JSON(resp)
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	return c.Status(status).JSON(models.ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respond(c, fiber.StatusBadRequest, models.NewValidationError(msg))
}

func notFound(c *fiber.Ctx, resource, id string) error {
	return respond(c, fiber.StatusNotFound, models.NewNotFoundError(resource, id))
}

func forbidden(c *fiber.Ctx, msg string) error {
	return respond(c, fiber.StatusForbidden, &models.AppError{Code: models.CodeUnauthorized, Message: msg})
}

// pagination reads page and limit query parameters.
func (s *Server) pagination(c *fiber.Ctx) (int, int) {
	p := max(c.QueryInt("page", 1), 1)
	limit := c.QueryInt("limit", s.opts.PageSize)
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	return p, min(limit, maxPageSize)
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Duration("latency", time.Since(start)),
		}
		if rid, ok := c.Locals("requestid").(string); ok {
			fields = append(fields, slog.String("request_id", rid))
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.GlobalLogger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.GlobalLogger.DebugContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}

func bindJSON(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
