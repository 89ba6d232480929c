package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Skotchmaster/foodie/pkg/logging"
)

const maxResponseBytes = 4 << 20

// Credentials is the session side of the gateway: the current bearer
// token, how to renew it, and how to drop it.
//
// ForceLogout ends the session only while it still carries token, so a
// failure seen with an old token never clears a newer sign-in. It reports
// whether a session was cleared.
type Credentials interface {
	AccessToken() string
	Refresh(ctx context.Context) (string, error)
	ForceLogout(ctx context.Context, token string, cause error) bool
}

type Request struct {
	Method string
	Path   string
	Body   any
	Out    any

	// SkipRefresh marks session-control calls (login, refresh, logout). A 401
	// means rejected credentials rather than an expired token, and a
	// transport failure goes back to the caller without ending the session.
	SkipRefresh bool
}

type Options struct {
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Metrics   *Metrics
	Transport http.RoundTripper
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	refreshes  singleflight.Group
	limiter    *rate.Limiter
	metrics    *Metrics
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		metrics: opts.Metrics,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// Bind attaches the session credentials. It must be called once, before the
// first request.
func (c *Client) Bind(creds Credentials) {
	c.creds = creds
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Out: out})
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Out: out})
}

// Do sends r with the current bearer token. A 401 on a session-bearing
// request triggers one shared token refresh and a single retry; any other
// HTTP failure comes back as *APIError.
func (c *Client) Do(ctx context.Context, r Request) error {
	l := logging.For(ctx, "gateway", "method", r.Method, "path", r.Path)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	if r.Body != nil {
		var err error
		if payload, err = json.Marshal(r.Body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	token := c.accessToken()
	rep, err := c.send(ctx, r, payload, token)
	if err != nil {
		return c.unreachable(ctx, l, r, token, err)
	}

	if rep.status == http.StatusUnauthorized && !r.SkipRefresh && token != "" {
		l.Info("access_token_rejected")
		rep, err = c.retryWithFreshToken(ctx, l, r, payload, token)
		if err != nil {
			return err
		}
		if rep.status == http.StatusUnauthorized {
			l.Warn("retry_rejected", "status", rep.status)
			c.endSession(ctx, rep.token, newAPIError(rep.status, rep.body))
			return fmt.Errorf("%w: request rejected after token refresh", ErrSessionEnded)
		}
	}

	c.metrics.response(rep.status)
	if rep.status >= http.StatusBadRequest {
		return newAPIError(rep.status, rep.body)
	}
	if r.Out != nil && len(bytes.TrimSpace(rep.body)) > 0 {
		if err := json.Unmarshal(rep.body, r.Out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) retryWithFreshToken(ctx context.Context, l *slog.Logger, r Request, payload []byte, stale string) (reply, error) {
	fresh := c.accessToken()
	if fresh == "" || fresh == stale {
		var err error
		fresh, err = c.refresh(ctx, stale)
		if err != nil {
			l.Warn("refresh_failed", "error", err)
			return reply{}, err
		}
	}

	rep, err := c.send(ctx, r, payload, fresh)
	if err != nil {
		return reply{}, c.unreachable(ctx, l, r, fresh, err)
	}
	rep.token = fresh
	return rep, nil
}

// refresh runs at most one Credentials.Refresh at a time; callers arriving
// while one is in flight share its result. stale is the token that was
// rejected.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	if c.creds == nil {
		return "", fmt.Errorf("%w: no credentials bound", ErrSessionEnded)
	}

	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		token, err := c.creds.Refresh(context.WithoutCancel(ctx))
		c.metrics.refresh(err)
		if err != nil && !errors.Is(err, ErrStaleSession) {
			c.metrics.sessionEnded()
			c.creds.ForceLogout(context.WithoutCancel(ctx), stale, err)
		}
		return token, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrSessionEnded) {
				return "", res.Err
			}
			return "", fmt.Errorf("%w: %w", ErrSessionEnded, res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) unreachable(ctx context.Context, l *slog.Logger, r Request, token string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	l.Error("backend_unreachable", "error", err)
	if token == "" || r.SkipRefresh {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	c.endSession(ctx, token, err)
	return fmt.Errorf("%w: %w: %v", ErrSessionEnded, ErrUnreachable, err)
}

func (c *Client) endSession(ctx context.Context, token string, cause error) {
	if c.creds == nil {
		return
	}
	if c.creds.ForceLogout(context.WithoutCancel(ctx), token, cause) {
		c.metrics.sessionEnded()
	}
}

func (c *Client) accessToken() string {
	if c.creds == nil {
		return ""
	}
	return c.creds.AccessToken()
}

type reply struct {
	status int
	body   []byte
	token  string
}

// send performs one HTTP exchange. A returned error means no usable
// response arrived.
func (c *Client) send(ctx context.Context, r Request, payload []byte, token string) (reply, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+"/"+strings.TrimLeft(r.Path, "/"), body)
	if err != nil {
		return reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return reply{}, fmt.Errorf("read response: %w", err)
	}
	return reply{status: resp.StatusCode, body: data}, nil
}
