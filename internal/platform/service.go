package platform

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lnm/internal/logging"

	"github.com/google/uuid"
)

// Authentication errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user disabled")
	ErrSessionExpired     = errors.New("session expired")
)

// DefaultSessionTTL is 120 days.
const DefaultSessionTTL = 120 * 24 * time.Hour

// Service implements registration, login and session checks.
type Service struct {
	store  *Store
	hasher *PasswordHasher
	ttl    time.Duration
	now    func() time.Time
	// hash verified for unknown users so that timing does not reveal accounts
	dummyHash string
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithSessionTTL sets the lifetime of new sessions.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a service over store.
func NewService(store *Store, hasher *PasswordHasher, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		store:  store,
		hasher: hasher,
		ttl:    DefaultSessionTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

// Store exposes the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username       string   `json:"username"`
	Email          string   `json:"email"`
	Password       string   `json:"password"`
	ProfilePicture *string  `json:"profile_picture"`
	Roles          []string `json:"-"`
	Disabled       bool     `json:"-"`
}

// Register validates input, hashes the password and stores the user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	u := NewUser()
	u.Username = strings.TrimSpace(in.Username)
	u.Email = strings.ToLower(strings.TrimSpace(in.Email))
	u.ProfilePicture = in.ProfilePicture
	u.AddRoles(in.Roles)
	u.IsEnabled = !in.Disabled

	var errs ValidationErrors
	if err := u.Validate(); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}
	if in.Password == "" {
		errs = append(errs, Violation{Field: "password", Message: "violation.password.blank"})
	}
	for _, check := range []struct{ column, value, msg string }{
		{"username", u.Username, "violation.username.not_unique"},
		{"email", u.Email, "violation.email.not_unique"},
	} {
		if check.value == "" {
			continue
		}
		taken, err := s.store.Taken(ctx, check.column, check.value)
		if err != nil {
			return nil, err
		}
		if taken {
			errs = append(errs, Violation{Field: check.column, Message: check.msg})
		}
	}
	if len(errs) > 0 {
		logging.PlatformDebug("registration of %q rejected: %v", u.Username, errs)
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditUserRejected,
			Category:  string(logging.CategoryPlatform),
			Subject:   u.Username,
			Error:     errs.Error(),
		})
		return nil, errs
	}

	slug, err := s.uniqueSlug(ctx, u.Username)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	u.ID = uuid.NewString()
	u.Slug = slug
	u.Password = hash
	u.CreatedAt = now
	u.UpdatedAt = now

	if err := s.store.CreateUser(ctx, u); err != nil {
		var uv *UniqueViolationError
		if errors.As(err, &uv) {
			return nil, ValidationErrors{{Field: uv.Field, Message: "violation." + uv.Field + ".not_unique"}}
		}
		return nil, err
	}

	logging.Platform("user %s created (%s)", u.Username, u.ID)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditUserCreated,
		Category:  string(logging.CategoryPlatform),
		Subject:   u.Username,
		Success:   true,
		Fields:    map[string]interface{}{"id": u.ID, "roles": u.Roles},
	})
	return u, nil
}

// uniqueSlug derives a slug from name, suffixing -1, -2, ... on collision.
func (s *Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := Slugify(name)
	candidate := base
	for i := 1; ; i++ {
		taken, err := s.store.Taken(ctx, "slug", candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix := "-" + strconv.Itoa(i)
		trimmed := base
		if len(trimmed)+len(suffix) > slugMaxLength {
			trimmed = strings.TrimRight(trimmed[:slugMaxLength-len(suffix)], "-")
		}
		candidate = trimmed + suffix
	}
}

// LoginResult is a successful login.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// Login checks credentials and opens a session. identifier is an e-mail
// address or a username.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	var (
		u   *User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = s.store.UserByEmail(ctx, identifier)
	} else {
		u, err = s.store.UserByUsername(ctx, identifier)
	}
	if errors.Is(err, ErrUserNotFound) {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(password, u.Password)
	if err != nil {
		logging.AuthWarn("stored hash of %s unreadable: %v", u.ID, err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !u.IsEnabled {
		return nil, ErrUserDisabled
	}

	now := s.now()
	if s.hasher.NeedsRehash(u.Password) {
		if hash, err := s.hasher.Hash(password); err == nil {
			if err := s.store.UpdatePassword(ctx, u.ID, hash, now); err != nil {
				logging.AuthWarn("rehash of %s failed: %v", u.ID, err)
			} else {
				u.Password = hash
				logging.Auth("rehashed password of %s", u.ID)
			}
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		TokenHash: HashToken(token),
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	logging.Auth("session opened for %s until %s", u.ID, sess.ExpiresAt.Format(time.RFC3339))
	return &LoginResult{User: u, Token: token, ExpiresAt: sess.ExpiresAt}, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	hash := HashToken(token)
	sess, err := s.store.SessionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		if err := s.store.DeleteSession(ctx, hash); err != nil && !errors.Is(err, ErrSessionNotFound) {
			logging.AuthWarn("drop expired session: %v", err)
		}
		return nil, ErrSessionExpired
	}
	u, err := s.store.UserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("session user: %w", err)
	}
	if !u.IsEnabled {
		return nil, ErrUserDisabled
	}
	return u, nil
}

// Logout closes the session identified by token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrSessionNotFound
	}
	return s.store.DeleteSession(ctx, HashToken(token))
}

// PurgeExpired deletes every expired session.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Auth("purged %d expired sessions", n)
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditSessionPurge,
			Category:  string(logging.CategoryAuth),
			Success:   true,
			Fields:    map[string]interface{}{"count": n},
		})
	}
	return n, nil
}
