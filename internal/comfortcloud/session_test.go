package comfortcloud

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI stands in for the request pipeline. The handler sees every call
// the session manager makes and fills out through JSON round-tripping.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []Request
	handler func(req Request) (any, error)
}

func (f *fakeAPI) DoJSON(ctx context.Context, req Request, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	resp, err := f.handler(req)
	if err != nil {
		return err
	}
	if out == nil || resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) call(i int) Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// fakeStore is an in-memory session store with scriptable failures.
type fakeStore struct {
	mu       sync.Mutex
	session  *Session
	loadErr  error
	saveErr  error
	clearErr error
	saves    int
	clears   int
}

func (s *fakeStore) Load(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.session, nil
}

func (s *fakeStore) Save(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.session = session
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	if s.clearErr != nil {
		return s.clearErr
	}
	s.session = nil
	return nil
}

func (s *fakeStore) counts() (saves, clears int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.clears
}

func validSession() *Session {
	return &Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		ClientID:     "client-1",
	}
}

func expiringSession() *Session {
	return &Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(30 * time.Second),
		ClientID:     "client-1",
	}
}

func TestSessionManager_Token_NoSessionNoCredentials(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		t.Fatalf("unexpected API call: %s %s", req.Method, req.Path)
		return nil, nil
	}}
	manager := NewSessionManager(api, &fakeStore{}, AccountCredentials{}, nil)

	_, err := manager.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestSessionManager_Token_LogsInWhenEmpty(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "/auth/login", req.Path)
		assert.False(t, req.RequiresAuth)
		body, ok := req.Body.(loginRequest)
		require.True(t, ok)
		assert.Equal(t, "user@example.com", body.ID)
		assert.Equal(t, "hunter2", body.Password)
		return tokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
			ClientID:     "client-1",
		}, nil
	}}
	store := &fakeStore{}
	manager := NewSessionManager(api, store,
		AccountCredentials{LoginID: "user@example.com", Password: "hunter2"}, nil)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	saves, _ := store.counts()
	assert.Equal(t, 1, saves)
	require.NotNil(t, store.session)
	// Lifetime minus the safety margin.
	assert.WithinDuration(t, time.Now().Add(3540*time.Second), store.session.ExpiresAt, 2*time.Second)
}

func TestSessionManager_Token_UsesStoredSession(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		t.Fatalf("unexpected API call: %s %s", req.Method, req.Path)
		return nil, nil
	}}
	store := &fakeStore{session: validSession()}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, 0, api.callCount())
}

func TestSessionManager_Token_RefreshesNearExpiry(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		assert.Equal(t, "POST", req.Method)
		assert.Equal(t, "/auth/token", req.Path)
		assert.False(t, req.RequiresAuth)
		body, ok := req.Body.(refreshRequest)
		require.True(t, ok)
		assert.Equal(t, "refresh-1", body.RefreshToken)
		return tokenResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    3600,
		}, nil
	}}
	store := &fakeStore{session: expiringSession()}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, api.callCount())

	// The refresh response omitted the client ID; the old one survives.
	require.NotNil(t, store.session)
	assert.Equal(t, "client-1", store.session.ClientID)
	assert.Equal(t, "refresh-2", store.session.RefreshToken)
}

func TestSessionManager_Token_ConcurrentRefreshesShareOneCall(t *testing.T) {
	var refreshes atomic.Int32
	api := &fakeAPI{handler: func(req Request) (any, error) {
		require.Equal(t, "/auth/token", req.Path)
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return tokenResponse{
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresIn:    3600,
		}, nil
	}}
	store := &fakeStore{session: expiringSession()}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := manager.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "access-2", token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), refreshes.Load(), "concurrent refreshes must collapse into one exchange")
}

func TestSessionManager_ForceRefresh_SkipsWhenTokenAlreadyRotated(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		t.Fatalf("unexpected API call: %s %s", req.Method, req.Path)
		return nil, nil
	}}
	store := &fakeStore{session: validSession()}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	// The failing request used a token that is no longer current, so the
	// rotation already happened elsewhere.
	token, err := manager.ForceRefresh(context.Background(), "access-0")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, 0, api.callCount())
}

func TestSessionManager_ForceRefresh_RefreshesCurrentToken(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		require.Equal(t, "/auth/token", req.Path)
		return tokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600}, nil
	}}
	store := &fakeStore{session: validSession()}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	token, err := manager.ForceRefresh(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, api.callCount())

	// An empty used token always refreshes.
	token, err = manager.ForceRefresh(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 2, api.callCount())
}

func TestSessionManager_Refresh_RejectionClearsSession(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		switch req.Path {
		case "/auth/token":
			return nil, &APIError{Status: 401, Message: "Token expires", Method: "POST", Path: req.Path}
		case "/auth/login":
			return tokenResponse{AccessToken: "access-3", RefreshToken: "refresh-3", ExpiresIn: 3600}, nil
		default:
			t.Fatalf("unexpected API call: %s %s", req.Method, req.Path)
			return nil, nil
		}
	}}
	store := &fakeStore{session: expiringSession()}
	manager := NewSessionManager(api, store,
		AccountCredentials{LoginID: "user@example.com", Password: "hunter2"}, nil)

	_, err := manager.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, clears := store.counts()
	assert.Equal(t, 1, clears)
	assert.Nil(t, manager.Current(context.Background()))

	// The next demand falls back to a credential login.
	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-3", token)
	assert.Equal(t, "/auth/login", api.call(api.callCount()-1).Path)
}

func TestSessionManager_Refresh_TransientFailureKeepsSession(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		return nil, errors.New("connection reset")
	}}
	store := &fakeStore{session: expiringSession()}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	_, err := manager.Token(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthFailed)

	_, clears := store.counts()
	assert.Equal(t, 0, clears)
	require.NotNil(t, manager.Current(context.Background()))
	assert.Equal(t, "refresh-1", manager.Current(context.Background()).RefreshToken)
}

func TestSessionManager_StoreFailuresNeverBreakTheFlow(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		require.Equal(t, "/auth/login", req.Path)
		return tokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}, nil
	}}
	store := &fakeStore{
		loadErr: errors.New("disk gone"),
		saveErr: errors.New("disk still gone"),
	}
	manager := NewSessionManager(api, store,
		AccountCredentials{LoginID: "user@example.com", Password: "hunter2"}, nil)

	token, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	// The in-memory session works even though nothing could be persisted.
	token, err = manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, 1, api.callCount())
}

func TestSessionManager_ShortLifetimeNeverGoesNegative(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		return tokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 30}, nil
	}}
	manager := NewSessionManager(api, &fakeStore{},
		AccountCredentials{LoginID: "user@example.com", Password: "hunter2"}, nil)

	sess, err := manager.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), sess.ExpiresAt, 2*time.Second)
	assert.False(t, sess.ExpiresAt.After(time.Now().Add(time.Second)),
		"a lifetime below the margin must expire immediately, not later")
}

func TestSessionManager_Login_RejectionDoesNotStoreAnything(t *testing.T) {
	api := &fakeAPI{handler: func(req Request) (any, error) {
		return nil, &APIError{Status: 401, Message: "Incorrect password", Method: "POST", Path: req.Path}
	}}
	store := &fakeStore{}
	manager := NewSessionManager(api, store, AccountCredentials{}, nil)

	_, err := manager.Login(context.Background(), "user@example.com", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailed)

	saves, _ := store.counts()
	assert.Equal(t, 0, saves)
}

func TestSessionManager_Logout(t *testing.T) {
	store := &fakeStore{session: validSession()}
	manager := NewSessionManager(&fakeAPI{}, store, AccountCredentials{}, nil)

	require.NotNil(t, manager.Current(context.Background()))
	manager.Logout(context.Background())

	assert.Nil(t, manager.Current(context.Background()))
	assert.Nil(t, store.session)
	_, err := manager.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}
