package mockapi

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"areahood/internal/models"
	"areahood/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer   = "areahood-mockapi"
	tokenAudience = "areahood-client"
	minPassword   = 8
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	AccountType string `json:"account_type"`
}

// issueToken signs a session token carrying the user id and role.
func (s *Server) issueToken(u *user, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": u.Role,
		"iss":  tokenIssuer,
		"aud":  tokenAudience,
		"exp":  now.Add(s.opts.TokenTTL).Unix(),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"jti":  uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.opts.Secret))
}

// parseToken validates a session token and returns its claims.
func (s *Server) parseToken(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(s.opts.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if jti, _ := claims["jti"].(string); jti != "" {
		s.db.mu.RLock()
		revoked := s.db.revoked[jti]
		s.db.mu.RUnlock()
		if revoked {
			return nil, errors.New("token has been revoked")
		}
	}
	return claims, nil
}

func bearer(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return c.Query("token")
}

// authenticate resolves the caller. A missing token is not an error.
func (s *Server) authenticate(c *fiber.Ctx) (*user, jwt.MapClaims, error) {
	raw := bearer(c)
	if raw == "" {
		return nil, nil, nil
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return nil, nil, err
	}
	sub, _ := claims["sub"].(string)
	s.db.mu.RLock()
	u := s.db.users[sub]
	s.db.mu.RUnlock()
	if u == nil {
		return nil, nil, errors.New("account no longer exists")
	}
	return u, claims, nil
}

func (s *Server) optionalUser(c *fiber.Ctx) error {
	u, claims, err := s.authenticate(c)
	if err != nil {
		return respond(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Invalid or expired token"))
	}
	if u != nil {
		c.Locals("userID", u.ID)
		c.Locals("role", u.Role)
		c.Locals("claims", claims)
	}
	return c.Next()
}

func (s *Server) requireUser(c *fiber.Ctx) error {
	if viewer(c) != "" {
		return c.Next()
	}
	u, claims, err := s.authenticate(c)
	if err != nil {
		return respond(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Invalid or expired token"))
	}
	if u == nil {
		return respond(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Authorization required"))
	}
	c.Locals("userID", u.ID)
	c.Locals("role", u.Role)
	c.Locals("claims", claims)
	return c.Next()
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if role, _ := c.Locals("role").(string); role != "admin" {
		return forbidden(c, "Admin access required")
	}
	return c.Next()
}

func viewer(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}

func isAdmin(c *fiber.Ctx) bool {
	role, _ := c.Locals("role").(string)
	return models.DeriveRole(role).IsAdmin()
}

// Login exchanges credentials for a session: {"token": ..., "user": {...}}
func (s *Server) Login(c *fiber.Ctx) error {
	var req credentials
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	s.db.mu.RLock()
	u := s.db.byEmail[email]
	s.db.mu.RUnlock()

	if u == nil || bcrypt.CompareHashAndPassword(u.Hash, []byte(req.Password)) != nil {
		return respond(c, fiber.StatusUnauthorized, models.NewUnauthorizedError("Invalid email or password"))
	}
	if !u.Verified {
		return forbidden(c, "Email address not verified")
	}

	token, err := s.issueToken(u, s.now())
	if err != nil {
		return respond(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	s.db.mu.RLock()
	rendered := s.db.renderUser(u, u.ID)
	s.db.mu.RUnlock()
	return c.JSON(fiber.Map{"token": token, "user": rendered})
}

// Signup creates an unverified account and issues a verification code.
func (s *Server) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return badRequest(c, "A valid email is required")
	}
	if len(req.Password) < minPassword {
		return badRequest(c, fmt.Sprintf("Password must be at least %d characters", minPassword))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return respond(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	s.db.mu.Lock()
	if s.db.byEmail[email] != nil {
		s.db.mu.Unlock()
		return respond(c, fiber.StatusConflict, models.NewConflictError("An account with this email already exists"))
	}
	s.db.nextUser++
	role := strings.ToLower(strings.TrimSpace(req.AccountType))
	if role != "business" {
		role = "resident"
	}
	u := &user{
		ID:        strconv.Itoa(s.db.nextUser),
		Email:     email,
		Hash:      hash,
		Username:  strings.SplitN(email, "@", 2)[0],
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
		Followers: map[string]bool{},
	}
	s.db.users[u.ID] = u
	s.db.byEmail[email] = u
	code := fmt.Sprintf("%06d", rand.IntN(1_000_000))
	s.db.codes[email] = code
	s.db.mu.Unlock()

	observability.GlobalLogger.Info("verification code issued", slog.String("email", email), slog.String("code", code))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Verification code sent",
		"email":   email,
	})
}

// Verify confirms a signup code and starts the session:
// {"data": {"token": ..., "user": {...}}}
func (s *Server) Verify(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	s.db.mu.Lock()
	u := s.db.byEmail[email]
	want, ok := s.db.codes[email]
	if u == nil || !ok || want != strings.TrimSpace(req.Code) {
		s.db.mu.Unlock()
		return badRequest(c, "Invalid verification code")
	}
	delete(s.db.codes, email)
	u.Verified = true
	rendered := s.db.renderUser(u, u.ID)
	s.db.mu.Unlock()

	token, err := s.issueToken(u, s.now())
	if err != nil {
		return respond(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"token": token, "user": rendered}})
}

// Logout revokes the caller's token when one is presented.
func (s *Server) Logout(c *fiber.Ctx) error {
	if claims, ok := c.Locals("claims").(jwt.MapClaims); ok {
		if jti, _ := claims["jti"].(string); jti != "" {
			s.db.mu.Lock()
			s.db.revoked[jti] = true
			s.db.mu.Unlock()
		}
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// ForgotPassword issues a reset token. The answer is the same whether or
// not the account exists.
func (s *Server) ForgotPassword(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return badRequest(c, "Email is required")
	}

	s.db.mu.Lock()
	if u := s.db.byEmail[email]; u != nil {
		token := uuid.NewString()
		s.db.resets[token] = u.ID
		observability.GlobalLogger.Info("password reset issued", slog.String("email", email), slog.String("token", token))
	}
	s.db.mu.Unlock()
	return c.JSON(fiber.Map{"message": "If the account exists, a reset link was sent"})
}

// ResetPassword sets a new password from a reset token.
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	if len(req.Password) < minPassword {
		return badRequest(c, fmt.Sprintf("Password must be at least %d characters", minPassword))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.opts.BcryptCost)
	if err != nil {
		return respond(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	id, ok := s.db.resets[req.Token]
	u := s.db.users[id]
	if !ok || u == nil {
		return badRequest(c, "Invalid or expired reset token")
	}
	delete(s.db.resets, req.Token)
	u.Hash = hash
	return c.JSON(fiber.Map{"message": "Password updated"})
}

// VerificationCode returns the pending signup code for email.
func (s *Server) VerificationCode(email string) (string, bool) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	code, ok := s.db.codes[strings.ToLower(email)]
	return code, ok
}

// ResetToken returns a pending password reset token for email.
func (s *Server) ResetToken(email string) (string, bool) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	u := s.db.byEmail[strings.ToLower(email)]
	if u == nil {
		return "", false
	}
	for token, id := range s.db.resets {
		if id == u.ID {
			return token, true
		}
	}
	return "", false
}
