package comfortcloud

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastRetry keeps the exponential backoff short enough for tests.
func fastRetry() RetryConfig {
	return RetryConfig{BackoffBase: 5 * time.Millisecond, BackoffCap: 40 * time.Millisecond}
}

func newTestPipeline(baseURL string, tokens tokenSource, conf RetryConfig) *Pipeline {
	gate := NewGate(GateConfig{MaxConcurrent: 2, MinInterval: time.Millisecond})
	p := newPipeline(baseURL, "", 0, gate, conf, discardLogger())
	p.tokens = tokens
	return p
}

// staticTokens is a scriptable token source.
type staticTokens struct {
	mu         sync.Mutex
	token      string
	tokenErr   error
	refreshErr error
	refreshes  int
	lastUsed   string
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return s.token, nil
}

func (s *staticTokens) ForceRefresh(ctx context.Context, usedToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.lastUsed = usedToken
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	s.token += "+"
	return s.token, nil
}

func (s *staticTokens) stats() (refreshes int, lastUsed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes, s.lastUsed
}

func TestPipeline_Do_SendsProtocolHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/device/group", r.URL.Path)
		assert.Equal(t, "page=1", r.URL.RawQuery)

		assert.Equal(t, "G-RAC", r.Header.Get("User-Agent"))
		assert.Equal(t, "1", r.Header.Get("X-APP-TYPE"))
		assert.Equal(t, DefaultAppVersion, r.Header.Get("X-APP-VERSION"))
		assert.Empty(t, r.Header.Get("X-User-Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p := newTestPipeline(server.URL, nil, fastRetry())
	raw, err := p.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/device/group",
		Query:  url.Values{"page": {"1"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestPipeline_Do_AttachesAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("X-User-Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := newTestPipeline(server.URL, &staticTokens{token: "tok-1"}, fastRetry())
	_, err := p.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	})
	require.NoError(t, err)
}

func TestPipeline_Do_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"message":"maintenance"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p := newTestPipeline(server.URL, nil, fastRetry())
	begin := time.Now()
	raw, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/thing"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, int32(3), hits.Load())
	// Two backoff waits happened: base and 2x base.
	assert.GreaterOrEqual(t, time.Since(begin), 10*time.Millisecond)
}

func TestPipeline_Do_UpstreamUnavailableAfterBudget(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"Too many requests","code":4000}`))
	}))
	defer server.Close()

	p := newTestPipeline(server.URL, nil, fastRetry())
	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/thing"})

	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(5), hits.Load(), "initial attempt plus four retries")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "Too many requests", apiErr.Message)
	assert.Equal(t, 4000, apiErr.Code)
}

func TestPipeline_Do_BackoffIsCapped(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []time.Time
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"bad gateway"}`))
	}))
	defer server.Close()

	conf := RetryConfig{BackoffBase: 30 * time.Millisecond, BackoffCap: 40 * time.Millisecond}
	p := newTestPipeline(server.URL, nil, conf)
	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/thing"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 5)
	// Uncapped doubling would put 240ms before the last attempt; the cap
	// keeps every wait at 40ms.
	last := hits[4].Sub(hits[3])
	assert.GreaterOrEqual(t, last, 35*time.Millisecond)
	assert.Less(t, last, 150*time.Millisecond)
}

func TestPipeline_Do_RefreshesOnceOn401(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-User-Authorization") == "tok-old" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Token expires","code":4100}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tokens := &staticTokens{token: "tok-old"}
	// A large base would show up in the elapsed time if the 401 retry
	// waited; it must not.
	conf := RetryConfig{BackoffBase: 300 * time.Millisecond, BackoffCap: time.Second}
	p := newTestPipeline(server.URL, tokens, conf)

	begin := time.Now()
	_, err := p.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	})
	require.NoError(t, err)

	refreshes, lastUsed := tokens.stats()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, "tok-old", lastUsed, "refresh must name the token the failing request carried")
	assert.Equal(t, int32(2), hits.Load())
	assert.Less(t, time.Since(begin), 200*time.Millisecond, "401 retry must not back off")
}

func TestPipeline_Do_AuthFailedAfterRepeated401(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Token expires"}`))
	}))
	defer server.Close()

	tokens := &staticTokens{token: "tok-1"}
	conf := RetryConfig{BackoffBase: 300 * time.Millisecond, BackoffCap: time.Second}
	p := newTestPipeline(server.URL, tokens, conf)

	begin := time.Now()
	_, err := p.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	})
	assert.ErrorIs(t, err, ErrAuthFailed)

	refreshes, _ := tokens.stats()
	assert.Equal(t, 2, refreshes)
	assert.Equal(t, int32(3), hits.Load())
	assert.Less(t, time.Since(begin), 200*time.Millisecond)
}

func TestPipeline_Do_AuthAndUpstreamRetriesShareOneBudget(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Token expires"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"maintenance"}`))
	}))
	defer server.Close()

	tokens := &staticTokens{token: "tok-1"}
	p := newTestPipeline(server.URL, tokens, fastRetry())
	_, err := p.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	})

	// The attempt spent on 401 recovery counts against the upstream retry
	// budget, so only four 503 responses fit before giving up.
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(5), hits.Load())
	refreshes, _ := tokens.stats()
	assert.Equal(t, 1, refreshes)
}

func TestPipeline_Do_ClientErrorsAreTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "bad request", status: http.StatusBadRequest},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"no","code":1}`))
			}))
			defer server.Close()

			p := newTestPipeline(server.URL, nil, fastRetry())
			_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/thing"})

			assert.ErrorIs(t, err, ErrRequestFailed)
			assert.Equal(t, int32(1), hits.Load(), "client errors must not be retried")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "no", apiErr.Message)
		})
	}
}

func TestPipeline_Do_NetworkErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	conf := RetryConfig{BackoffBase: 300 * time.Millisecond, BackoffCap: time.Second}
	p := newTestPipeline(server.URL, nil, conf)

	begin := time.Now()
	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/thing"})

	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Less(t, time.Since(begin), 200*time.Millisecond, "connection failures must not be retried")
}

func TestPipeline_Do_TimeoutGetsBackoffRetries(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	gate := NewGate(GateConfig{MaxConcurrent: 2, MinInterval: time.Millisecond})
	conf := RetryConfig{BackoffBase: 2 * time.Millisecond, BackoffCap: 10 * time.Millisecond}
	p := newPipeline(server.URL, "", 25*time.Millisecond, gate, conf, discardLogger())

	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/thing"})

	assert.ErrorIs(t, err, ErrUpstreamUnavailable,
		"a transport timeout is retried like an overloaded upstream")
	assert.Equal(t, int32(5), hits.Load())
}

func TestPipeline_Do_QueueFullIsImmediate(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	gate := NewGate(GateConfig{MaxConcurrent: 1, MinInterval: time.Millisecond, MaxQueue: 1})
	p := newPipeline(server.URL, "", 0, gate, fastRetry(), discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/slow"})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool {
		waiting, inflight := gate.Stats()
		return waiting == 1 && inflight == 1
	}, time.Second, 5*time.Millisecond)

	begin := time.Now()
	_, err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/fast"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	close(release)
	wg.Wait()
}

func TestPipeline_Do_RefreshFailureAborts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Token expires"}`))
	}))
	defer server.Close()

	tokens := &staticTokens{token: "tok-1", refreshErr: ErrAuthFailed}
	p := newTestPipeline(server.URL, tokens, fastRetry())
	_, err := p.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	})

	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, int32(1), hits.Load(), "no point retrying when the refresh failed")
}

func TestPipeline_Do_TokenErrorAbortsBeforeSending(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	tokens := &staticTokens{tokenErr: ErrAuthRequired}
	p := newTestPipeline(server.URL, tokens, fastRetry())
	_, err := p.Do(context.Background(), Request{
		Method:       http.MethodGet,
		Path:         "/device/group",
		RequiresAuth: true,
	})

	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, int32(0), hits.Load())
}

// The full loop: a stale session on the wire, one refresh through the
// unauthenticated path, write-through to the store, and a retried request
// with the fresh token.
func TestPipeline_SessionRotationOnWire(t *testing.T) {
	var deviceCalls, refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		assert.Equal(t, "POST", r.Method)
		assert.Empty(t, r.Header.Get("X-User-Authorization"),
			"the refresh call must go through the unauthenticated path")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"refreshToken":"refresh-1"}`, string(body))
		w.Write([]byte(`{"accessToken":"fresh","refreshToken":"refresh-2","expiresIn":3600,"clientId":"client-1"}`))
	})
	mux.HandleFunc("/device/group", func(w http.ResponseWriter, r *http.Request) {
		deviceCalls.Add(1)
		if r.Header.Get("X-User-Authorization") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Token expires"}`))
			return
		}
		w.Write([]byte(`{"groupCount":0,"groupList":[]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := &fakeStore{session: &Session{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	gate := NewGate(GateConfig{MaxConcurrent: 2, MinInterval: time.Millisecond})
	p := newPipeline(server.URL, "", 0, gate, fastRetry(), discardLogger())
	manager := NewSessionManager(p, store, AccountCredentials{}, discardLogger())
	p.tokens = manager

	// Several concurrent requests all hit the stale token; exactly one
	// refresh exchange may reach the upstream.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Do(context.Background(), Request{
				Method:       http.MethodGet,
				Path:         "/device/group",
				RequiresAuth: true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), refreshCalls.Load())
	require.NotNil(t, store.session)
	assert.Equal(t, "fresh", store.session.AccessToken)
	assert.Equal(t, "refresh-2", store.session.RefreshToken)
}
