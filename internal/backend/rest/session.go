package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lromero/splitbill/internal/backend"
)

// refreshMargin is how long before expiry the access token is renewed.
const refreshMargin = 30 * time.Second

// authState tracks the current session, its listeners and the background
// refresh timer.
type authState struct {
	client *Client

	mu        sync.Mutex
	session   *backend.Session
	listeners map[int]func(backend.AuthEvent, *backend.Session)
	nextID    int
	timer     *time.Timer
}

func newAuthState(c *Client) *authState {
	return &authState{
		client:    c,
		listeners: map[int]func(backend.AuthEvent, *backend.Session){},
	}
}

// tokenResponse is the payload of the signup and token endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignUp registers a new identity.
func (c *Client) SignUp(ctx context.Context, email, password string) (*backend.Session, error) {
	return c.auth.authenticate(ctx, c.baseURL+"/auth/v1/signup", email, password)
}

// SignIn authenticates with the password grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (*backend.Session, error) {
	return c.auth.authenticate(ctx, c.baseURL+"/auth/v1/token?grant_type=password", email, password)
}

// SignOut revokes the session server-side and clears it locally. Listeners
// are notified even when revocation fails; the local session is gone either
// way.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, c.baseURL+"/auth/v1/logout", nil, nil, nil, "signout", "auth")

	a := c.auth
	a.mu.Lock()
	a.session = nil
	a.stopTimerLocked()
	fns := a.snapshotLocked()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(backend.SignedOut, nil)
	}
	return err
}

// Session returns the current session, or nil when signed out.
func (c *Client) Session() *backend.Session {
	c.auth.mu.Lock()
	defer c.auth.mu.Unlock()
	return c.auth.session
}

// OnChange registers a session-transition callback.
func (c *Client) OnChange(fn func(event backend.AuthEvent, s *backend.Session)) func() {
	a := c.auth
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *authState) authenticate(ctx context.Context, url, email, password string) (*backend.Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, &backend.StoreError{Op: "auth", Table: "auth", Err: err}
	}

	var tr tokenResponse
	if err := a.client.do(ctx, http.MethodPost, url, nil, body, &tr, "auth", "auth"); err != nil {
		return nil, err
	}
	return a.adopt(tr, backend.SignedIn), nil
}

// adopt installs a session from a token payload, schedules its refresh and
// notifies listeners.
func (a *authState) adopt(tr tokenResponse, event backend.AuthEvent) *backend.Session {
	session := &backend.Session{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if tr.ExpiresIn == 0 || session.UserID == "" {
		fillFromToken(session)
	}

	a.mu.Lock()
	a.session = session
	a.scheduleRefreshLocked(session)
	fns := a.snapshotLocked()
	a.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
	return session
}

// fillFromToken recovers the user ID and expiry from the access token's
// claims when the payload leaves them out. The signature is not checked; the
// token is trusted because the server just issued it.
func fillFromToken(s *backend.Session) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil {
		return
	}
	if s.UserID == "" {
		s.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
}

func (a *authState) scheduleRefreshLocked(s *backend.Session) {
	a.stopTimerLocked()
	if s.RefreshToken == "" {
		return
	}
	wait := time.Until(s.ExpiresAt) - refreshMargin
	if wait < time.Second {
		wait = time.Second
	}
	a.timer = time.AfterFunc(wait, a.refresh)
}

// refresh exchanges the refresh token for a new session. Failures drop the
// session and notify listeners of the sign-out, mirroring the hosted SDK.
func (a *authState) refresh() {
	a.mu.Lock()
	current := a.session
	a.mu.Unlock()
	if current == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"refresh_token": current.RefreshToken})
	var tr tokenResponse
	err := a.client.do(ctx, http.MethodPost,
		a.client.baseURL+"/auth/v1/token?grant_type=refresh_token",
		nil, body, &tr, "refresh", "auth")
	if err != nil {
		a.mu.Lock()
		a.session = nil
		a.stopTimerLocked()
		fns := a.snapshotLocked()
		a.mu.Unlock()
		for _, fn := range fns {
			fn(backend.SignedOut, nil)
		}
		return
	}
	a.adopt(tr, backend.TokenRefreshed)
}

func (a *authState) stopRefresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
}

func (a *authState) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *authState) snapshotLocked() []func(backend.AuthEvent, *backend.Session) {
	fns := make([]func(backend.AuthEvent, *backend.Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	return fns
}
