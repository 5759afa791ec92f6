package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lromero/splitbill/internal/backend"
)

var errInvalidCredentials = errors.New("invalid email or password")

// sessionState implements the session store on the user_credentials table,
// issuing HS256 access tokens.
type sessionState struct {
	db       *sql.DB
	secret   []byte
	duration time.Duration

	mu        sync.Mutex
	current   *backend.Session
	listeners map[int]func(backend.AuthEvent, *backend.Session)
	nextID    int
}

func newSessionState(db *sql.DB, secret []byte, duration time.Duration) *sessionState {
	return &sessionState{
		db:        db,
		secret:    secret,
		duration:  duration,
		listeners: map[int]func(backend.AuthEvent, *backend.Session){},
	}
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SignUp registers a new identity and signs it in.
func (b *Backend) SignUp(ctx context.Context, email, password string) (*backend.Session, error) {
	s := b.sessions

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userID := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO user_credentials (user_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		userID, email, string(hash), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sign up: %w", backend.ErrConflict)
		}
		return nil, &backend.StoreError{Op: "signup", Table: "user_credentials", Err: err}
	}

	return s.issue(userID, email, backend.SignedIn)
}

// SignIn authenticates an existing identity.
func (b *Backend) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	s := b.sessions

	var userID, hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, password_hash FROM user_credentials WHERE email = ?", email,
	).Scan(&userID, &hash)
	if err == sql.ErrNoRows {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, &backend.StoreError{Op: "signin", Table: "user_credentials", Err: err}
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, errInvalidCredentials
	}

	return s.issue(userID, email, backend.SignedIn)
}

// SignOut drops the current session and notifies listeners.
func (b *Backend) SignOut(ctx context.Context) error {
	s := b.sessions
	s.mu.Lock()
	s.current = nil
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(backend.SignedOut, nil)
	}
	return nil
}

// Session returns the current session, or nil when signed out.
func (b *Backend) Session() *backend.Session {
	s := b.sessions
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers a session-transition callback.
func (b *Backend) OnChange(fn func(event backend.AuthEvent, s *backend.Session)) func() {
	s := b.sessions
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *sessionState) issue(userID, email string, event backend.AuthEvent) (*backend.Session, error) {
	now := time.Now()
	expires := now.Add(s.duration)
	claims := &tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	session := &backend.Session{
		UserID:       userID,
		Email:        email,
		AccessToken:  token,
		RefreshToken: uuid.New().String(),
		ExpiresAt:    expires,
	}

	s.mu.Lock()
	s.current = session
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
	return session, nil
}

// snapshot copies the listener set; callers invoke outside the lock.
func (s *sessionState) snapshot() []func(backend.AuthEvent, *backend.Session) {
	fns := make([]func(backend.AuthEvent, *backend.Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
