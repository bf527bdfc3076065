package store

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"areahood/internal/models"
	"areahood/internal/normalize"
	"areahood/internal/observability"
	"areahood/internal/session"
)

// SignupInput is the registration form.
type SignupInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	ReferralCode string `json:"referral_code,omitempty"`
	AccountType  string `json:"account_type,omitempty"`
}

// AuthStore owns the session. It is the token source for the HTTP client
// and the target of forced teardowns.
type AuthStore struct {
	api     API
	persist session.Store
	log     *observability.StoreLogger
	now     func() time.Time

	mu    sync.Mutex
	state models.Session
	// clearPending is set when a teardown could not erase the persisted
	// snapshot; Restore then refuses it.
	clearPending bool
	subs         subscribers[models.Session]
}

// NewAuthStore creates a signed-out store. persist may be nil for a
// session that does not survive restarts. The API is attached with SetAPI
// because the client itself depends on the store for its token.
func NewAuthStore(persist session.Store) *AuthStore {
	if persist == nil {
		persist = session.NewMemoryStore()
	}
	return &AuthStore{
		api:     detachedAPI{},
		persist: persist,
		log:     observability.NewStoreLogger("auth"),
		now:     time.Now,
		state:   models.Session{Role: models.RoleGuest},
	}
}

// SetAPI attaches the HTTP client.
func (s *AuthStore) SetAPI(api API) {
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()
}

func (s *AuthStore) client() API {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

// Snapshot returns a copy of the session state.
func (s *AuthStore) Snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive the session after every change.
func (s *AuthStore) Subscribe(fn func(models.Session)) (cancel func()) {
	return s.subs.add(fn)
}

// Token returns the current bearer token, read fresh on every call.
func (s *AuthStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// ClearError resets the recorded error.
func (s *AuthStore) ClearError() {
	s.update(func() { s.state.Error = "" })
}

func (s *AuthStore) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.state
	s.mu.Unlock()
	s.subs.notify(snap)
}

func (s *AuthStore) fail(err error) error {
	s.update(func() {
		s.state.Loading = false
		if msg, ok := failure(err); ok {
			s.state.Error = msg
		}
	})
	return err
}

func (s *AuthStore) begin() {
	s.update(func() {
		s.state.Loading = true
		s.state.Error = ""
	})
}

// Login exchanges credentials for a session.
func (s *AuthStore) Login(ctx context.Context, email, password string) (err error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return s.fail(models.NewValidationError("Email and password are required"))
	}
	ctx, done := action(ctx, s.log, "auth", "login")
	defer func() { done(err) }()

	s.begin()
	body, err := s.client().Post(ctx, "auth/login", map[string]string{"email": email, "password": password}, "Login failed")
	if err != nil {
		return s.fail(err)
	}
	return s.establish(ctx, body, "Login failed")
}

// Signup registers an account. The session starts after VerifyEmail.
func (s *AuthStore) Signup(ctx context.Context, in SignupInput) (err error) {
	in.Email = strings.TrimSpace(in.Email)
	if in.Email == "" || in.Password == "" {
		return s.fail(models.NewValidationError("Email and password are required"))
	}
	if len(in.Password) < 8 {
		return s.fail(models.NewValidationError("Password must be at least 8 characters"))
	}
	ctx, done := action(ctx, s.log, "auth", "signup")
	defer func() { done(err) }()

	s.begin()
	if _, err := s.client().Post(ctx, "auth/signup", in, "Signup failed"); err != nil {
		return s.fail(err)
	}
	s.update(func() {
		s.state.Loading = false
		s.state.PendingVerification = in.Email
	})
	return nil
}

// VerifyEmail confirms a signup and starts the session. An empty email
// uses the address from the last signup.
func (s *AuthStore) VerifyEmail(ctx context.Context, email, code string) (err error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = s.Snapshot().PendingVerification
	}
	if email == "" || strings.TrimSpace(code) == "" {
		return s.fail(models.NewValidationError("Email and verification code are required"))
	}
	ctx, done := action(ctx, s.log, "auth", "verify")
	defer func() { done(err) }()

	s.begin()
	body, err := s.client().Post(ctx, "auth/verify", map[string]string{"email": email, "code": strings.TrimSpace(code)}, "Verification failed")
	if err != nil {
		return s.fail(err)
	}
	return s.establish(ctx, body, "Verification failed")
}

// establish installs the session carried by an auth response and persists
// its allow-listed snapshot.
func (s *AuthStore) establish(ctx context.Context, body any, fallback string) error {
	r := normalize.Item(body, "session")
	token := normalize.Token(r)
	if token == "" {
		return s.fail(models.NewUnauthorizedError(fallback + ": no token in response"))
	}
	// An authenticated session is never a guest; the first non-guest signal wins.
	role := models.RoleGuest
	if user, ok := normalize.Object(r, "user", "profile", "account"); ok {
		role = normalize.RoleOf(user)
	}
	if role == models.RoleGuest {
		role = models.DeriveRole(normalize.String(r, "role", "account_type"))
	}
	if derived, ok := roleFromToken(token); ok && role == models.RoleGuest {
		role = derived
	}
	if role == models.RoleGuest {
		role = models.RoleResident
	}

	s.update(func() {
		s.state = models.Session{Token: token, Authenticated: true, Role: role}
		s.clearPending = false
		snap := session.Snapshot{Token: token, Authenticated: true, Role: role}
		if err := s.persist.Save(ctx, snap); err != nil {
			s.log.LogFailure(ctx, "persist", err)
		}
	})
	return nil
}

// Logout tells the server and ends the session locally whatever it answers.
func (s *AuthStore) Logout(ctx context.Context) (err error) {
	ctx, done := action(ctx, s.log, "auth", "logout")
	defer func() { done(err) }()

	if s.Token() != "" {
		if _, err := s.client().Post(ctx, "auth/logout", nil, "Logout failed"); err != nil {
			s.log.LogFailure(ctx, "logout", err)
		}
	}
	s.Teardown(ctx)
	return nil
}

// Teardown clears the session in memory and in persistence. It is called
// by the HTTP client on 401/403 and must not call back into it.
func (s *AuthStore) Teardown(ctx context.Context) {
	s.update(func() {
		s.state = models.Session{Role: models.RoleGuest}
		if err := s.persist.Clear(ctx); err != nil {
			s.log.LogFailure(ctx, "clear", err)
			if err := s.persist.Save(ctx, session.Snapshot{Role: models.RoleGuest}); err != nil {
				s.log.LogFailure(ctx, "overwrite", err)
				s.clearPending = true
			}
		}
	})
}

// Restore reloads the persisted session. The role is re-derived from the
// token's own claims when it carries them; expired tokens are discarded.
func (s *AuthStore) Restore(ctx context.Context) error {
	s.mu.Lock()
	pending := s.clearPending
	s.mu.Unlock()
	if pending {
		if err := s.persist.Clear(ctx); err == nil {
			s.mu.Lock()
			s.clearPending = false
			s.mu.Unlock()
		}
		return nil
	}

	snap, ok, err := s.persist.Load(ctx)
	if err != nil {
		s.log.LogFailure(ctx, "restore", err)
		if clearErr := s.persist.Clear(ctx); clearErr != nil {
			s.log.LogFailure(ctx, "clear", clearErr)
		}
		return err
	}
	if !ok || snap.Token == "" {
		return nil
	}
	if tokenExpired(snap.Token, s.now()) {
		s.Teardown(ctx)
		return nil
	}

	role := snap.Role
	if derived, ok := roleFromToken(snap.Token); ok {
		role = derived
	}
	s.update(func() {
		s.state = models.Session{Token: snap.Token, Authenticated: true, Role: role}
	})
	return nil
}

// RequestPasswordReset asks the server to mail a reset link.
func (s *AuthStore) RequestPasswordReset(ctx context.Context, email string) (err error) {
	if err := validate("Email", email); err != nil {
		return s.fail(err)
	}
	ctx, done := action(ctx, s.log, "auth", "forgot_password")
	defer func() { done(err) }()

	s.begin()
	if _, err := s.client().Post(ctx, "auth/forgot-password", map[string]string{"email": strings.TrimSpace(email)}, "Could not send reset email"); err != nil {
		return s.fail(err)
	}
	s.update(func() { s.state.Loading = false })
	return nil
}

// ResetPassword sets a new password using the emailed reset token.
func (s *AuthStore) ResetPassword(ctx context.Context, token, password string) (err error) {
	if err := validate("Reset token", token); err != nil {
		return s.fail(err)
	}
	if len(password) < 8 {
		return s.fail(models.NewValidationError("Password must be at least 8 characters"))
	}
	ctx, done := action(ctx, s.log, "auth", "reset_password")
	defer func() { done(err) }()

	s.begin()
	if _, err := s.client().Post(ctx, "auth/reset-password", map[string]string{"token": token, "password": password}, "Password reset failed"); err != nil {
		return s.fail(err)
	}
	s.update(func() { s.state.Loading = false })
	return nil
}

var errDetached = errors.New("auth store has no API client")

// detachedAPI stands in until SetAPI is called.
type detachedAPI struct{}

func (detachedAPI) Get(context.Context, string, url.Values, string) (any, error) {
	return nil, errDetached
}

func (detachedAPI) Post(context.Context, string, any, string) (any, error) {
	return nil, errDetached
}

func (detachedAPI) Put(context.Context, string, any, string) (any, error) {
	return nil, errDetached
}

func (detachedAPI) Patch(context.Context, string, any, string) (any, error) {
	return nil, errDetached
}

func (detachedAPI) Delete(context.Context, string, string) (any, error) {
	return nil, errDetached
}
