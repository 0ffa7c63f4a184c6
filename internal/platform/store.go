package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"lnm/internal/logging"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store errors.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)

// UniqueViolationError reports which unique column rejected an insert.
type UniqueViolationError struct {
	Field string
	Err   error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("%s already taken: %v", e.Field, e.Err)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id VARCHAR(36) PRIMARY KEY,
	username VARCHAR(31) NOT NULL UNIQUE,
	email VARCHAR(255) NOT NULL UNIQUE,
	profile_picture VARCHAR(511),
	password VARCHAR(511) NOT NULL,
	roles TEXT NOT NULL,
	slug VARCHAR(63) NOT NULL UNIQUE,
	is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token_hash VARCHAR(64) PRIMARY KEY,
	user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users(LOWER(email));

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// Store persists users and sessions through sqlx. PostgreSQL is used for
// postgres:// DSNs, SQLite for anything else (a file path or ":memory:").
type Store struct {
	db     *sqlx.DB
	driver string
}

// ConnectOptions controls start-up retries while the database comes up.
type ConnectOptions struct {
	Retries int
	Backoff time.Duration
}

// DriverFor picks the database/sql driver for dsn.
func DriverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

// OpenStore connects to dsn, retrying while the server is unavailable.
func OpenStore(ctx context.Context, dsn string, opts ConnectOptions) (*Store, error) {
	driver := DriverFor(dsn)
	source := dsn
	if driver == "sqlite" {
		source = sqliteDSN(dsn)
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}

	var (
		db  *sqlx.DB
		err error
	)
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		db, err = sqlx.ConnectContext(ctx, driver, source)
		if err == nil {
			break
		}
		logging.StoreWarn("platform: waiting for database (%d/%d): %v", attempt, opts.Retries, err)
		if attempt == opts.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.Backoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if driver == "sqlite" {
		// SQLite serializes writers; a single connection also keeps
		// ":memory:" databases shared.
		db.SetMaxOpenConns(1)
	}

	logging.Store("platform: connected (%s)", driver)
	return &Store{db: db, driver: driver}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type userRow struct {
	ID             string         `db:"id"`
	Username       string         `db:"username"`
	Email          string         `db:"email"`
	ProfilePicture sql.NullString `db:"profile_picture"`
	Password       string         `db:"password"`
	Roles          string         `db:"roles"`
	Slug           string         `db:"slug"`
	IsEnabled      bool           `db:"is_enabled"`
	CreatedAt      int64          `db:"created_at"`
	UpdatedAt      int64          `db:"updated_at"`
}

func (r *userRow) user() (*User, error) {
	u := &User{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		Password:  r.Password,
		Slug:      r.Slug,
		IsEnabled: r.IsEnabled,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
	if r.ProfilePicture.Valid {
		pic := r.ProfilePicture.String
		u.ProfilePicture = &pic
	}
	if err := json.Unmarshal([]byte(r.Roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("decode roles of %s: %w", r.ID, err)
	}
	return u, nil
}

func rowFor(u *User) (*userRow, error) {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return nil, err
	}
	r := &userRow{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Password:  u.Password,
		Roles:     string(roles),
		Slug:      u.Slug,
		IsEnabled: u.IsEnabled,
		CreatedAt: u.CreatedAt.UnixMilli(),
		UpdatedAt: u.UpdatedAt.UnixMilli(),
	}
	if u.ProfilePicture != nil {
		r.ProfilePicture = sql.NullString{String: *u.ProfilePicture, Valid: true}
	}
	return r, nil
}

// CreateUser inserts u.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	row, err := rowFor(u)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, username, email, profile_picture, password, roles, slug, is_enabled, created_at, updated_at)
		VALUES (:id, :username, :email, :profile_picture, :password, :roles, :slug, :is_enabled, :created_at, :updated_at)`, row)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return &UniqueViolationError{Field: field, Err: err}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored hash.
func (s *Store) UpdatePassword(ctx context.Context, userID, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE users SET password = ?, updated_at = ? WHERE id = ?`),
		hash, at.UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Store) userWhere(ctx context.Context, where string, arg any) (*User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM users WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return row.user()
}

// UserByID loads a user by primary key.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	return s.userWhere(ctx, `id = ?`, id)
}

// UserByEmail loads a user by e-mail, case-insensitively.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.userWhere(ctx, `LOWER(email) = LOWER(?)`, email)
}

// UserByUsername loads a user by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.userWhere(ctx, `username = ?`, username)
}

// Taken reports whether a unique user column already holds value. E-mails
// compare case-insensitively.
func (s *Store) Taken(ctx context.Context, column, value string) (bool, error) {
	switch column {
	case "username", "email", "slug":
	default:
		return false, fmt.Errorf("column %q is not unique", column)
	}
	where := column + ` = ?`
	if column == "email" {
		where = `LOWER(email) = LOWER(?)`
	}
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE `+where), value)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", column, err)
	}
	return n > 0, nil
}

// CountUsers returns the number of accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

type sessionRow struct {
	TokenHash string `db:"token_hash"`
	UserID    string `db:"user_id"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

// CreateSession stores sess.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		VALUES (:token_hash, :user_id, :created_at, :expires_at)`, sessionRow{
		TokenHash: sess.TokenHash,
		UserID:    sess.UserID,
		CreatedAt: sess.CreatedAt.UnixMilli(),
		ExpiresAt: sess.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionByHash loads a session by token hash.
func (s *Store) SessionByHash(ctx context.Context, hash string) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT * FROM sessions WHERE token_hash = ?`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &Session{
		TokenHash: row.TokenHash,
		UserID:    row.UserID,
		CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(row.ExpiresAt).UTC(),
	}, nil
}

// DeleteSession removes a session; ErrSessionNotFound when absent.
func (s *Store) DeleteSession(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE token_hash = ?`), hash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpiredSessions removes sessions expired at now and returns how many.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// uniqueViolation extracts the offending column from driver errors.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return "", false
		}
		return columnFrom(pqErr.Constraint + " " + pqErr.Detail), true
	}
	// modernc: "constraint failed: UNIQUE constraint failed: users.email (2067)"
	msg := err.Error()
	if i := strings.Index(msg, "UNIQUE constraint failed: "); i >= 0 {
		return columnFrom(msg[i:]), true
	}
	return "", false
}

func columnFrom(s string) string {
	for _, col := range []string{"username", "email", "slug"} {
		if strings.Contains(s, col) {
			return col
		}
	}
	return "id"
}
