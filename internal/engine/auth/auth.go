package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/repo"
	"github.com/Chloe7243/Errandhub/internal/session"
	"github.com/Chloe7243/Errandhub/internal/validate"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDuplicateEmail     = errors.New("an account with this email already exists")
	ErrSessionRevoked     = errors.New("session has been signed out")
	ErrSessionExpired     = errors.New("session has expired")
	ErrInvalidToken       = errors.New("invalid token")
)

// ForbiddenError indicates the actor may not touch the resource.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// RoleRequiredError is returned when an operation needs a role and none is selected yet.
type RoleRequiredError struct {
	Want session.Role
}

func (e RoleRequiredError) Error() string {
	return fmt.Sprintf("select the %s role first", e.Want)
}

// WrongRoleError is returned when the session holds the other role.
type WrongRoleError struct {
	Want, Have session.Role
}

func (e WrongRoleError) Error() string {
	return fmt.Sprintf("only a %s can do this; signed in as %s", e.Want, e.Have)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	SessionID string
	Role      session.Role
}

// RequireRole checks that p acts as want.
func (p Principal) RequireRole(want session.Role) error {
	return session.MatchRole(p.Role,
		func() error { return RoleRequiredError{Want: want} },
		func() error { return p.sameRole(want) },
		func() error { return p.sameRole(want) },
	)
}

func (p Principal) sameRole(want session.Role) error {
	if p.Role != want {
		return WrongRoleError{Want: want, Have: p.Role}
	}
	return nil
}

// Service signs users up and in, and tracks their sessions.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Secret string
	Issuer string
	TTL    time.Duration
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
	Now  func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type SignupRequest = validate.SignupForm

func (s Service) Signup(ctx context.Context, req SignupRequest) (domain.User, error) {
	if err := validate.Signup(req); err != nil {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost())
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        normalizeEmail(req.Email),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC().Format(time.RFC3339),
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertUser(ctx, tx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.User{}, ErrDuplicateEmail
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.UserSignedUp, "user", u.ID, u.ID, events.EventPayload{"email": u.Email}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

type LoginResult struct {
	User    domain.User    `json:"user"`
	Token   string         `json:"token"`
	Session domain.Session `json:"session"`
}

type jwtClaims struct {
	jwt.RegisteredClaims
}

// Login checks the password and opens a session with no role selected.
func (s Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if err := validate.Login(validate.LoginForm{Email: email, Password: password}); err != nil {
		return LoginResult{}, err
	}
	if strings.TrimSpace(s.Secret) == "" {
		return LoginResult{}, errors.New("jwt secret not configured")
	}
	u, err := s.Repo.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repo.ErrNotFound) {
		// Unknown emails pay the same bcrypt cost as a wrong password.
		_ = bcrypt.CompareHashAndPassword(dummyHash(s.cost()), []byte(password))
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	now := s.now().UTC()
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	sess := domain.Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(ttl).Format(time.RFC3339),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   u.ID,
		ID:        sess.ID,
		Issuer:    s.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}).SignedString([]byte(s.Secret))
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return LoginResult{}, err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertSession(ctx, tx, sess); err != nil {
		return LoginResult{}, fmt.Errorf("insert session: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.SessionStarted, "session", sess.ID, u.ID, nil); err != nil {
		return LoginResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: u, Token: token, Session: sess}, nil
}

// Logout revokes the session, which also drops its role.
func (s Service) Logout(ctx context.Context, sessionID, actorID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.RevokeSession(ctx, tx, sessionID, s.now().UTC().Format(time.RFC3339)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionRevoked
		}
		return err
	}
	if err := s.Events.Append(ctx, tx, events.SessionEnded, "session", sessionID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SelectRole fixes the role for the rest of the session.
func (s Service) SelectRole(ctx context.Context, sessionID string, next session.Role) (domain.Session, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()
	sess, err := s.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.RevokedAt != nil {
		return domain.Session{}, ErrSessionRevoked
	}
	current, err := session.ParseRole(sess.Role)
	if err != nil {
		return domain.Session{}, err
	}
	chosen, err := current.Select(next)
	if err != nil {
		return domain.Session{}, err
	}
	ok, err := s.Repo.SetSessionRole(ctx, tx, sessionID, chosen.String())
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, session.ErrRoleAlreadySelected
	}
	sess.Role = chosen.String()
	if err := s.Events.Append(ctx, tx, events.RoleSelected, "session", sessionID, sess.UserID, events.EventPayload{"role": sess.Role}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Authenticate verifies a bearer token and loads its live session.
func (s Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrSessionExpired
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.ID == "" {
		return Principal{}, ErrInvalidToken
	}
	sess, err := s.Repo.GetSession(ctx, claims.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if sess.RevokedAt != nil {
		return Principal{}, ErrSessionRevoked
	}
	if sess.UserID != claims.Subject {
		return Principal{}, ErrInvalidToken
	}
	role, err := session.ParseRole(sess.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: sess.UserID, SessionID: sess.ID, Role: role}, nil
}

// Me returns the signed-in user and session.
func (s Service) Me(ctx context.Context, p Principal) (domain.User, domain.Session, error) {
	u, err := s.Repo.GetUser(ctx, p.UserID)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	sess, err := s.Repo.GetSession(ctx, p.SessionID)
	if err != nil {
		return domain.User{}, domain.Session{}, err
	}
	return u, sess, nil
}

func (s Service) cost() int {
	if s.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return s.Cost
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	dummyMu     sync.Mutex
	dummyHashes = map[int][]byte{}
)

// dummyHash is a hash of a random password at the given cost, built once per cost.
func dummyHash(cost int) []byte {
	dummyMu.Lock()
	defer dummyMu.Unlock()
	if h, ok := dummyHashes[cost]; ok {
		return h
	}
	h, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	dummyHashes[cost] = h
	return h
}
