package comfortcloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// safetyMargin is subtracted from the server-declared token lifetime so
	// we never present a token that dies mid-request.
	safetyMargin = 60 * time.Second

	// refreshWindow is how close to expiry a session may get before Token
	// refreshes it proactively instead of waiting for a 401.
	refreshWindow = 60 * time.Second
)

// AccountCredentials is the login identity used when no session exists yet.
type AccountCredentials struct {
	LoginID  string
	Password string
}

func (c AccountCredentials) configured() bool {
	return c.LoginID != "" && c.Password != ""
}

// apiCaller is the slice of the request pipeline the session manager needs:
// unauthenticated calls for login and token refresh.
type apiCaller interface {
	DoJSON(ctx context.Context, req Request, out any) error
}

// SessionManager owns the account session: lazy load from the store, login,
// proactive refresh before expiry, and forced refresh after a 401.
// Concurrent refresh demands collapse into a single upstream exchange; a
// refresh token is single use, so a duplicate exchange would invalidate the
// session we just obtained.
type SessionManager struct {
	api    apiCaller
	store  SessionStore
	logger *slog.Logger

	mu      sync.RWMutex
	creds   AccountCredentials
	session *Session
	loaded  bool

	flight singleflight.Group
}

func NewSessionManager(api apiCaller, store SessionStore, creds AccountCredentials, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		api:    api,
		store:  store,
		creds:  creds,
		logger: logger.With("component", "session"),
	}
}

// Token returns an access token that is good for at least refreshWindow,
// logging in or refreshing as needed.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	sess := m.current(ctx)
	if sess == nil {
		creds := m.credentials()
		if !creds.configured() {
			return "", ErrAuthRequired
		}
		fresh, err := m.Login(ctx, creds.LoginID, creds.Password)
		if err != nil {
			return "", err
		}
		return fresh.AccessToken, nil
	}
	if sess.Remaining() > refreshWindow {
		return sess.AccessToken, nil
	}
	fresh, err := m.refreshShared(ctx, sess)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// ForceRefresh exchanges the refresh token immediately, bypassing the expiry
// check. usedToken is the access token the failing request carried; when the
// cached session already holds a different one the rotation happened
// concurrently and the cached token is returned without an upstream call.
// An empty usedToken always refreshes.
func (m *SessionManager) ForceRefresh(ctx context.Context, usedToken string) (string, error) {
	sess := m.current(ctx)
	if sess == nil {
		creds := m.credentials()
		if !creds.configured() {
			return "", ErrAuthRequired
		}
		fresh, err := m.Login(ctx, creds.LoginID, creds.Password)
		if err != nil {
			return "", err
		}
		return fresh.AccessToken, nil
	}
	if usedToken != "" && sess.AccessToken != usedToken {
		return sess.AccessToken, nil
	}
	fresh, err := m.refreshShared(ctx, sess)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Login authenticates with the given account, persists the session, and
// remembers the credentials for automatic recovery later. Concurrent logins
// share one upstream call.
func (m *SessionManager) Login(ctx context.Context, loginID, password string) (*Session, error) {
	v, err, _ := m.flight.Do("login", func() (any, error) {
		return m.doLogin(ctx, loginID, password)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Logout drops the session from memory and the store.
func (m *SessionManager) Logout(ctx context.Context) {
	m.clear(ctx)
	m.logger.Info("logged out")
}

// Current returns a copy of the cached session, or nil when logged out. It
// does not validate expiry.
func (m *SessionManager) Current(ctx context.Context) *Session {
	sess := m.current(ctx)
	if sess == nil {
		return nil
	}
	copied := *sess
	return &copied
}

// current returns the cached session, loading it from the store on first
// use. A broken store must not take the session flow down, so load failures
// are logged and treated as an absent session.
func (m *SessionManager) current(ctx context.Context) *Session {
	m.mu.RLock()
	if m.loaded {
		sess := m.session
		m.mu.RUnlock()
		return sess
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.session
	}
	sess, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("failed to load stored session, treating as absent", "error", err)
		sess = nil
	}
	m.session = sess
	m.loaded = true
	return sess
}

func (m *SessionManager) credentials() AccountCredentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

// refreshShared deduplicates concurrent refresh attempts: the first caller
// performs the exchange, everyone else waits for its outcome. stale is the
// session the caller decided was unusable; when the cached session has
// already moved past it, the newer session is returned as is.
func (m *SessionManager) refreshShared(ctx context.Context, stale *Session) (*Session, error) {
	v, err, _ := m.flight.Do("refresh", func() (any, error) {
		cur := m.current(ctx)
		if cur == nil {
			creds := m.credentials()
			if !creds.configured() {
				return nil, ErrAuthRequired
			}
			return m.doLogin(ctx, creds.LoginID, creds.Password)
		}
		if stale != nil && cur.AccessToken != stale.AccessToken {
			return cur, nil
		}
		return m.doRefresh(ctx, cur)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *SessionManager) doLogin(ctx context.Context, loginID, password string) (*Session, error) {
	var resp tokenResponse
	req := Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   loginRequest{ID: loginID, Password: password},
	}
	if err := m.api.DoJSON(ctx, req, &resp); err != nil {
		if status := statusOf(err); status >= 400 && status < 500 {
			return nil, fmt.Errorf("%w: login rejected with status %d: %w", ErrAuthFailed, status, err)
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	sess := m.newSession(resp)
	m.persist(ctx, sess)

	m.mu.Lock()
	m.creds = AccountCredentials{LoginID: loginID, Password: password}
	m.mu.Unlock()

	m.logger.Info("logged in", "expires_at", sess.ExpiresAt)
	return sess, nil
}

func (m *SessionManager) doRefresh(ctx context.Context, cur *Session) (*Session, error) {
	if cur.RefreshToken == "" {
		m.clear(ctx)
		return nil, fmt.Errorf("%w: session has no refresh token", ErrAuthFailed)
	}

	var resp tokenResponse
	req := Request{
		Method: http.MethodPost,
		Path:   "/auth/token",
		Body:   refreshRequest{RefreshToken: cur.RefreshToken},
	}
	if err := m.api.DoJSON(ctx, req, &resp); err != nil {
		if status := statusOf(err); status >= 400 && status < 500 {
			// The refresh token itself is no good anymore. Clear the session
			// so the next attempt falls back to a credential login.
			m.clear(ctx)
			return nil, fmt.Errorf("%w: token refresh rejected with status %d: %w", ErrAuthFailed, status, err)
		}
		// Transient failure: keep the session so a later attempt can retry
		// with the same refresh token.
		return nil, fmt.Errorf("token refresh: %w", err)
	}

	sess := m.newSession(resp)
	if sess.ClientID == "" {
		sess.ClientID = cur.ClientID
	}
	m.persist(ctx, sess)
	m.logger.Info("session refreshed", "expires_at", sess.ExpiresAt)
	return sess, nil
}

// newSession converts a token response into a session with the safety margin
// already applied. A lifetime at or below the margin yields an immediately
// expiring session rather than a negative one.
func (m *SessionManager) newSession(resp tokenResponse) *Session {
	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	expiresAt := time.Now()
	if lifetime > safetyMargin {
		expiresAt = expiresAt.Add(lifetime - safetyMargin)
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		ClientID:     resp.ClientID,
	}
}

// persist writes the session through to the store before it becomes visible
// to other callers. A store failure is logged, not returned; the fresh
// session is still good for this process lifetime.
func (m *SessionManager) persist(ctx context.Context, sess *Session) {
	if err := m.store.Save(ctx, sess); err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
	m.mu.Lock()
	m.session = sess
	m.loaded = true
	m.mu.Unlock()
}

func (m *SessionManager) clear(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear stored session", "error", err)
	}
	m.mu.Lock()
	m.session = nil
	m.loaded = true
	m.mu.Unlock()
}
