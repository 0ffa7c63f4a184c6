package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u := register(t, svc, "Jérôme", "jerome@example.com", "hunter22")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "jerome", u.Slug)
	assert.Equal(t, []string{RoleUser}, u.Roles)
	assert.True(t, u.IsEnabled)
	assert.NotEqual(t, "hunter22", u.Password)

	stored, err := svc.Store().UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, stored.Email)
	assert.Equal(t, u.Roles, stored.Roles)
	assert.Nil(t, stored.ProfilePicture)
}

func TestRegisterUniqueness(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	register(t, svc, "Zoé", "zoe@example.com", "pw")

	_, err := svc.Register(ctx, RegisterInput{Username: "Zoé", Email: "zoe@example.com", Password: "pw"})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("violation.username.not_unique"))
	assert.True(t, verrs.Has("violation.email.not_unique"))

	// same slug, different username
	other := register(t, svc, "Zoë", "zoe2@example.com", "pw")
	assert.Equal(t, "zoe-1", other.Slug)
	third := register(t, svc, "ZOE", "zoe3@example.com", "pw")
	assert.Equal(t, "zoe-2", third.Slug)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register(context.Background(), RegisterInput{Username: "", Email: "bad", Password: ""})

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("violation.name.blank"))
	assert.True(t, verrs.Has("violation.email.wrong_format"))
	assert.True(t, verrs.Has("violation.password.blank"))

	n, err := svc.Store().CountUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoginAndAuthenticate(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now), WithSessionTTL(time.Hour))
	ctx := context.Background()
	u := register(t, svc, "Alice", "Alice@Example.com", "s3cret")

	res, err := svc.Login(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Equal(t, clock.Now().Add(time.Hour), res.ExpiresAt)

	byName, err := svc.Login(ctx, "Alice", "s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, res.Token, byName.Token)

	got, err := svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "forged")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	clock.Advance(time.Hour)
	_, err = svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = svc.Store().SessionByHash(ctx, HashToken(res.Token))
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired sessions are dropped on use")
}

func TestLoginFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	register(t, svc, "Bob", "bob@example.com", "right")

	_, err := svc.Login(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "right")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Register(ctx, RegisterInput{Username: "Carol", Email: "carol@example.com", Password: "pw", Disabled: true})
	require.NoError(t, err)
	_, err = svc.Login(ctx, "Carol", "pw")
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestLoginRehashesWeakPasswords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	weak, err := NewService(store, NewPasswordHasher(32, 1, 1))
	require.NoError(t, err)
	u := register(t, weak, "Dana", "dana@example.com", "pw")

	strong, err := NewService(store, fastHasher())
	require.NoError(t, err)
	_, err = strong.Login(ctx, "Dana", "pw")
	require.NoError(t, err)

	stored, err := store.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, fastHasher().NeedsRehash(stored.Password))
}

func TestLogoutAndPurge(t *testing.T) {
	clock := newFakeClock()
	svc := newTestService(t, WithClock(clock.Now), WithSessionTTL(time.Minute))
	ctx := context.Background()
	register(t, svc, "Emile", "emile@example.com", "pw")

	first, err := svc.Login(ctx, "Emile", "pw")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, first.Token))
	assert.ErrorIs(t, svc.Logout(ctx, first.Token), ErrSessionNotFound)
	_, err = svc.Authenticate(ctx, first.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "Emile", "pw")
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)
	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestDriverFor(t *testing.T) {
	assert.Equal(t, "postgres", DriverFor("postgres://lnm:lnm@db:5432/lnm?sslmode=disable"))
	assert.Equal(t, "postgres", DriverFor("postgresql://db/lnm"))
	assert.Equal(t, "sqlite", DriverFor("data/platform.db"))
	assert.Equal(t, "sqlite", DriverFor(":memory:"))
}

func TestOpenStoreGivesUpAfterRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := OpenStore(ctx, "postgres://lnm@127.0.0.1:1/lnm?sslmode=disable&connect_timeout=1",
		ConnectOptions{Retries: 2, Backoff: 10 * time.Millisecond})
	assert.Error(t, err)
}

func TestUniqueViolationFromSQLite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	u := NewUser()
	u.ID, u.Username, u.Email, u.Slug, u.Password = "1", "a", "a@example.com", "a", "x"
	u.CreatedAt, u.UpdatedAt = now, now
	require.NoError(t, store.CreateUser(ctx, u))

	u.ID, u.Username, u.Slug = "2", "b", "b"
	err := store.CreateUser(ctx, u)
	var uv *UniqueViolationError
	require.True(t, errors.As(err, &uv), "got %v", err)
	assert.Equal(t, "email", uv.Field)
}

func TestRegisterEmailIsCaseInsensitive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice := register(t, svc, "Alice", " Zoe@Example.com ", "alicepw")
	assert.Equal(t, "zoe@example.com", alice.Email)

	_, err := svc.Register(ctx, RegisterInput{Username: "Bob", Email: "zoe@example.com", Password: "bobpw"})
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "got %v", err)
	assert.True(t, verrs.Has("violation.email.not_unique"))

	taken, err := svc.Store().Taken(ctx, "email", "ZOE@EXAMPLE.COM")
	require.NoError(t, err)
	assert.True(t, taken)

	for _, identifier := range []string{"zoe@example.com", "Zoe@Example.com", "ZOE@EXAMPLE.COM"} {
		res, err := svc.Login(ctx, identifier, "alicepw")
		require.NoError(t, err, identifier)
		assert.Equal(t, alice.ID, res.User.ID)
	}
	_, err = svc.Login(ctx, "zoe@example.com", "bobpw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEmailIndexIgnoresCase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	u := NewUser()
	u.ID, u.Username, u.Email, u.Slug, u.Password = "1", "a", "a@example.com", "a", "x"
	u.CreatedAt, u.UpdatedAt = now, now
	require.NoError(t, store.CreateUser(ctx, u))

	u.ID, u.Username, u.Email, u.Slug = "2", "b", "A@Example.COM", "b"
	err := store.CreateUser(ctx, u)
	var uv *UniqueViolationError
	require.True(t, errors.As(err, &uv), "got %v", err)
	assert.Equal(t, "email", uv.Field)
}
