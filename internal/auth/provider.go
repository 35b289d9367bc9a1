// Package auth is the identity provider: email/password accounts with bcrypt
// hashes, HS256 session tokens, token revocation on sign-out and a small
// auth-state subscription mechanism. Profiles are created on first sign-in
// and the configured owner email is escalated to the owner role.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/repo"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// Claims is the payload of a session token.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Session is returned by sign-up and sign-in.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      domain.User `json:"user"`
}

// EventKind distinguishes auth-state changes.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
)

// Event is delivered to subscribers on every auth-state change. User is nil
// for EventSignedOut.
type Event struct {
	Kind EventKind
	UID  string
	User *domain.User
}

// Provider implements sign-up, sign-in, sign-out and token verification.
type Provider struct {
	DB         *gorm.DB
	Secret     []byte
	TTL        time.Duration
	OwnerEmail string

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Now defaults to time.Now; tests override it.
	Now func() time.Time

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Provider) cost() int {
	if p.BcryptCost > 0 {
		return p.BcryptCost
	}
	return bcrypt.DefaultCost
}

// SignUp creates an account and its profile, then signs the user in.
func (p *Provider) SignUp(ctx context.Context, email, password, name string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len([]rune(password)) < MinPasswordLen {
		return nil, newError(CodeWeakPassword, nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost())
	if err != nil {
		return nil, newError(CodeInternal, err)
	}

	now := p.now()
	u := &domain.User{
		UID:       uuid.NewString(),
		Email:     email,
		Role:      p.initialRole(email),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if name = strings.TrimSpace(name); name == "" {
		name = u.DisplayName()
	}
	u.Name = &name

	if err := repo.CreateUserWithCredential(ctx, p.DB, u, string(hash)); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, newError(CodeEmailInUse, err)
		}
		return nil, newError(CodeInternal, err)
	}
	zerolog.Ctx(ctx).Info().Str("uid", u.UID).Str("role", string(u.Role)).Msg("account created")

	return p.issue(ctx, u)
}

// SignIn checks the password and resolves the profile, escalating the
// configured owner email when needed.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	u, err := repo.GetUserByEmail(ctx, p.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError(CodeInvalidCredential, nil)
	}
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	cred, err := repo.GetCredential(ctx, p.DB, u.UID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newError(CodeInvalidCredential, nil)
		}
		return nil, newError(CodeInternal, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return nil, newError(CodeInvalidCredential, nil)
	}

	if p.isOwnerEmail(u.Email) && u.Role != domain.RoleOwner {
		if err := repo.UpdateUserRole(ctx, p.DB, u.UID, domain.RoleOwner); err != nil {
			// keep the session usable; the role is re-read on every request
			zerolog.Ctx(ctx).Error().Err(err).Str("uid", u.UID).Msg("owner escalation failed")
		} else {
			u.Role = domain.RoleOwner
			zerolog.Ctx(ctx).Info().Str("uid", u.UID).Msg("owner role assigned")
		}
	}

	return p.issue(ctx, u)
}

// SignOut revokes the token so it can no longer be verified.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.parse(token)
	if err != nil {
		return err
	}
	if err := repo.RevokeToken(ctx, p.DB, claims.ID, claims.Subject, claims.ExpiresAt.Time); err != nil {
		return newError(CodeInternal, err)
	}
	p.publish(Event{Kind: EventSignedOut, UID: claims.Subject})
	return nil
}

// Verify validates token and returns the caller with the role currently
// stored in the profile.
func (p *Provider) Verify(ctx context.Context, token string) (*domain.Actor, error) {
	claims, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := repo.IsTokenRevoked(ctx, p.DB, claims.ID)
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	if revoked {
		return nil, newError(CodeTokenRevoked, nil)
	}
	u, err := repo.GetUser(ctx, p.DB, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError(CodeUserNotFound, err)
	}
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	role := u.Role
	if !role.Valid() {
		role = domain.RoleUser
	}
	return &domain.Actor{UserID: u.UID, Email: u.Email, Role: role}, nil
}

// Profile loads the stored profile of uid.
func (p *Provider) Profile(ctx context.Context, uid string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, p.DB, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError(CodeUserNotFound, err)
	}
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	return u, nil
}

// UpdateName changes the caller's own display name. An empty name clears it.
func (p *Provider) UpdateName(ctx context.Context, uid, name string) (*domain.User, error) {
	var ptr *string
	if name = strings.TrimSpace(name); name != "" {
		ptr = &name
	}
	if err := repo.UpdateUserName(ctx, p.DB, uid, ptr); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newError(CodeUserNotFound, err)
		}
		return nil, newError(CodeInternal, err)
	}
	return p.Profile(ctx, uid)
}

// Subscribe registers fn for auth-state changes and returns a function that
// removes it.
func (p *Provider) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	if p.subs == nil {
		p.subs = make(map[int]func(Event))
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) publish(ev Event) {
	p.mu.RLock()
	fns := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Provider) issue(ctx context.Context, u *domain.User) (*Session, error) {
	now := p.now()
	exp := now.Add(p.TTL)
	claims := Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.Secret)
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	user := *u
	p.publish(Event{Kind: EventSignedIn, UID: u.UID, User: &user})
	zerolog.Ctx(ctx).Debug().Str("uid", u.UID).Time("exp", exp).Msg("session issued")
	return &Session{Token: signed, ExpiresAt: exp, User: *u}, nil
}

func (p *Provider) parse(token string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (any, error) { return p.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid || claims.Subject == "" || claims.ID == "" {
		return nil, newError(CodeInvalidToken, err)
	}
	return claims, nil
}

func (p *Provider) isOwnerEmail(email string) bool {
	return p.OwnerEmail != "" && strings.EqualFold(email, p.OwnerEmail)
}

func (p *Provider) initialRole(email string) domain.Role {
	if p.isOwnerEmail(email) {
		return domain.RoleOwner
	}
	return domain.RoleUser
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || !strings.Contains(addr.Address, ".") {
		return "", newError(CodeInvalidEmail, err)
	}
	return strings.ToLower(addr.Address), nil
}
