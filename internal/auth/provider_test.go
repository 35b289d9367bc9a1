package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/repo"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))
	return &Provider{
		DB:         db,
		Secret:     []byte("test-secret-0123456789"),
		TTL:        time.Hour,
		OwnerEmail: "boss@pegasus.dev",
		BcryptCost: bcrypt.MinCost,
	}
}

func TestSignUp_CreatesProfileAndToken(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	s, err := p.SignUp(ctx, "Ana@Example.com", "secret1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, "ana@example.com", s.User.Email)
	assert.Equal(t, domain.RoleUser, s.User.Role)
	require.NotNil(t, s.User.Name)
	assert.Equal(t, "ana", *s.User.Name)

	actor, err := p.Verify(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.UID, actor.UserID)
	assert.Equal(t, domain.RoleUser, actor.Role)
}

func TestSignUp_Errors(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "not-an-email", "secret1", "")
	assert.Equal(t, CodeInvalidEmail, CodeOf(err))

	_, err = p.SignUp(ctx, "a@b.io", "12345", "")
	assert.Equal(t, CodeWeakPassword, CodeOf(err))

	_, err = p.SignUp(ctx, "a@b.io", "123456", "")
	require.NoError(t, err)
	_, err = p.SignUp(ctx, "A@B.io", "123456", "")
	assert.Equal(t, CodeEmailInUse, CodeOf(err))
	assert.Contains(t, err.Error(), "already registered")
}

func TestSignUp_OwnerEmailGetsOwnerRole(t *testing.T) {
	p := newProvider(t)
	s, err := p.SignUp(context.Background(), "BOSS@pegasus.dev", "secret1", "The Boss")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, s.User.Role)
}

func TestSignIn_PasswordAndEscalation(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	// created before OWNER_EMAIL pointed at it
	p.OwnerEmail = ""
	_, err := p.SignUp(ctx, "boss@pegasus.dev", "secret1", "")
	require.NoError(t, err)
	p.OwnerEmail = "boss@pegasus.dev"

	_, err = p.SignIn(ctx, "boss@pegasus.dev", "wrong!!")
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))
	_, err = p.SignIn(ctx, "ghost@pegasus.dev", "secret1")
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))

	s, err := p.SignIn(ctx, "boss@pegasus.dev", "secret1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, s.User.Role)

	u, err := repo.GetUser(ctx, p.DB, s.User.UID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, u.Role)
}

func TestVerify_RoleIsReadFresh(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	s, err := p.SignUp(ctx, "vip@x.io", "secret1", "")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateUserRole(ctx, p.DB, s.User.UID, domain.RoleVIP))
	actor, err := p.Verify(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleVIP, actor.Role)
}

func TestSignOut_RevokesToken(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	s, err := p.SignUp(ctx, "a@x.io", "secret1", "")
	require.NoError(t, err)

	require.NoError(t, p.SignOut(ctx, s.Token))
	_, err = p.Verify(ctx, s.Token)
	assert.Equal(t, CodeTokenRevoked, CodeOf(err))

	// a fresh sign-in still works
	s2, err := p.SignIn(ctx, "a@x.io", "secret1")
	require.NoError(t, err)
	_, err = p.Verify(ctx, s2.Token)
	assert.NoError(t, err)
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	s, err := p.SignUp(ctx, "a@x.io", "secret1", "")
	require.NoError(t, err)

	_, err = p.Verify(ctx, "garbage")
	assert.Equal(t, CodeInvalidToken, CodeOf(err))

	// expired
	p.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = p.Verify(ctx, s.Token)
	assert.Equal(t, CodeInvalidToken, CodeOf(err))
	p.Now = nil

	// wrong secret
	other := newProvider(t)
	other.Secret = []byte("another-secret-9876543")
	_, err = other.Verify(ctx, s.Token)
	assert.Equal(t, CodeInvalidToken, CodeOf(err))

	// alg none
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: s.User.UID, ID: "x", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = p.Verify(ctx, none)
	assert.Equal(t, CodeInvalidToken, CodeOf(err))
}

func TestVerify_DeletedUser(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	s, err := p.SignUp(ctx, "a@x.io", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, repo.DeleteUserCascade(ctx, p.DB, s.User.UID))

	_, err = p.Verify(ctx, s.Token)
	assert.Equal(t, CodeUserNotFound, CodeOf(err))
}

func TestUpdateName(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()
	s, err := p.SignUp(ctx, "a@x.io", "secret1", "")
	require.NoError(t, err)

	u, err := p.UpdateName(ctx, s.User.UID, "  Ana Lima ")
	require.NoError(t, err)
	require.NotNil(t, u.Name)
	assert.Equal(t, "Ana Lima", *u.Name)
	assert.Equal(t, domain.RoleUser, u.Role)
}

func TestSubscribe_ReceivesEventsUntilUnsubscribed(t *testing.T) {
	p := newProvider(t)
	ctx := context.Background()

	var got []Event
	unsubscribe := p.Subscribe(func(ev Event) { got = append(got, ev) })

	s, err := p.SignUp(ctx, "a@x.io", "secret1", "")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, s.Token))

	require.Len(t, got, 2)
	assert.Equal(t, EventSignedIn, got[0].Kind)
	require.NotNil(t, got[0].User)
	assert.Equal(t, EventSignedOut, got[1].Kind)
	assert.Nil(t, got[1].User)

	unsubscribe()
	unsubscribe()
	_, err = p.SignIn(ctx, "a@x.io", "secret1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
