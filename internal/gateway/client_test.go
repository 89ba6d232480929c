package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds struct {
	mu      sync.Mutex
	token   string
	next    string
	fail    error
	delay   time.Duration
	calls   atomic.Int32
	logouts []error
}

func (f *fakeCreds) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeCreds) Refresh(context.Context) (string, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.token = f.next
	return f.token, nil
}

func (f *fakeCreds) ForceLogout(_ context.Context, token string, cause error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != "" && token != f.token {
		return false
	}
	f.token = ""
	f.logouts = append(f.logouts, cause)
	return true
}

func (f *fakeCreds) loggedOut() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logouts)
}

func newTestClient(t *testing.T, srv *httptest.Server, creds Credentials) (*Client, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	c := NewClient(srv.URL+"/api", Options{Timeout: 2 * time.Second, Metrics: m})
	c.Bind(creds)
	return c, m
}

func TestDo_AttachesBearerToken(t *testing.T) {
	t.Parallel()

	var gotAuth, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		assert.Equal(t, "/api/menu", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &fakeCreds{token: "tok-1"})

	var out []map[string]int
	require.NoError(t, c.Get(context.Background(), "/menu", &out))
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, 1, out[0]["id"])
}

func TestDo_AnonymousHasNoAuthorizationHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@b.c", body["email"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &fakeCreds{})
	require.NoError(t, c.Post(context.Background(), "/auth/resend-otp", map[string]string{"email": "a@b.c"}, nil))
}

func TestDo_RefreshesAndRetriesOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "stale", next: "fresh"}
	c, m := newTestClient(t, srv, creds)

	var out struct{ Status string }
	err := c.Get(context.Background(), "/orders/my", &out)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), creds.calls.Load())
	assert.Equal(t, 0, creds.loggedOut())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("200")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Requests.WithLabelValues("401")))
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	t.Parallel()

	var stale sync.WaitGroup
	stale.Add(2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer fresh" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		stale.Done()
		stale.Wait()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "stale", next: "fresh", delay: 50 * time.Millisecond}
	c, _ := newTestClient(t, srv, creds)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Get(context.Background(), "/orders/my", nil)
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int32(1), creds.calls.Load())
	assert.Equal(t, "fresh", creds.AccessToken())
}

func TestDo_RefreshFailureEndsSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "stale", fail: errors.New("refresh rejected")}
	c, m := newTestClient(t, srv, creds)

	err := c.Get(context.Background(), "/orders/my", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, 1, creds.loggedOut())
	assert.Empty(t, creds.AccessToken())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("failure")))
}

func TestDo_SecondUnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "stale", next: "fresh"}
	c, m := newTestClient(t, srv, creds)

	err := c.Get(context.Background(), "/orders/my", nil)

	require.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), creds.calls.Load())
	assert.Equal(t, 1, creds.loggedOut())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionEnds))
}

func TestDo_SkipRefreshReturnsUnauthorizedAsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid email or password"}`))
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "tok"}
	c, _ := newTestClient(t, srv, creds)

	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/login", SkipRefresh: true})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid email or password", apiErr.Message)
	assert.Equal(t, int32(0), creds.calls.Load())
	assert.Equal(t, 0, creds.loggedOut())
}

func TestDo_NonAuthErrorsPassThroughWithoutRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`"Item out of stock"`))
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "tok"}
	c, _ := newTestClient(t, srv, creds)

	err := c.Post(context.Background(), "/orders", map[string]any{"items": []any{}}, nil)

	assert.Equal(t, http.StatusConflict, StatusOf(err))
	assert.Equal(t, "Item out of stock", MessageOf(err, "failed"))
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, creds.loggedOut())
}

func TestDo_UnreachableEndsSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	creds := &fakeCreds{token: "tok"}
	c := NewClient(url, Options{Timeout: time.Second})
	c.Bind(creds)

	err := c.Get(context.Background(), "/menu", nil)

	assert.ErrorIs(t, err, ErrSessionEnded)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 1, creds.loggedOut())
}

func TestDo_SessionControlCallUnreachableKeepsSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	creds := &fakeCreds{token: "tok"}
	m := NewMetrics(prometheus.NewRegistry())
	c := NewClient(url, Options{Timeout: time.Second, Metrics: m})
	c.Bind(creds)

	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/logout", SkipRefresh: true})

	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, 0, creds.loggedOut())
	assert.Equal(t, "tok", creds.AccessToken())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionEnds))
}

func TestDo_StaleRefreshLeavesNewerSessionAlone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &fakeCreds{token: "old", fail: fmt.Errorf("%w: %w", ErrSessionEnded, ErrStaleSession)}
	c, m := newTestClient(t, srv, creds)

	err := c.Get(context.Background(), "/orders/my", nil)

	require.ErrorIs(t, err, ErrSessionEnded)
	assert.ErrorIs(t, err, ErrStaleSession)
	assert.Equal(t, 0, creds.loggedOut())
	assert.Equal(t, "old", creds.AccessToken())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionEnds))
}

func TestDo_RejectionWithOldTokenKeepsReplacedSession(t *testing.T) {
	t.Parallel()

	creds := &fakeCreds{token: "old", next: "fresh"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer fresh" {
			creds.mu.Lock()
			creds.token = "other"
			creds.mu.Unlock()
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c, m := newTestClient(t, srv, creds)

	err := c.Get(context.Background(), "/orders/my", nil)

	require.ErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, 0, creds.loggedOut())
	assert.Equal(t, "other", creds.AccessToken())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionEnds))
}

func TestDo_UnreachableWithoutSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	creds := &fakeCreds{}
	c := NewClient(url, Options{Timeout: time.Second})
	c.Bind(creds)

	err := c.Get(context.Background(), "/menu", nil)

	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrSessionEnded)
	assert.Equal(t, 0, creds.loggedOut())
}

func TestDo_CancelledContextDoesNotEndSession(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	creds := &fakeCreds{token: "tok"}
	c, _ := newTestClient(t, srv, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Get(ctx, "/menu", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, creds.loggedOut())
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: "Bad Request"},
		{name: "message field", body: `{"message":"bad otp"}`, want: "bad otp"},
		{name: "error field", body: `{"error":"nope"}`, want: "nope"},
		{name: "problem title", body: `{"title":"One or more validation errors occurred."}`, want: "One or more validation errors occurred."},
		{name: "json string", body: `"Email already registered"`, want: "Email already registered"},
		{name: "plain text", body: "plain failure\n", want: "plain failure"},
		{name: "unknown object", body: `{"x":1}`, want: "Bad Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage(http.StatusBadRequest, []byte(tt.body)))
		})
	}
}
