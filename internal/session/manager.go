package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Skotchmaster/foodie/internal/events"
	"github.com/Skotchmaster/foodie/internal/gateway"
	"github.com/Skotchmaster/foodie/internal/models"
	"github.com/Skotchmaster/foodie/internal/store"
	"github.com/Skotchmaster/foodie/pkg/logging"
	"github.com/Skotchmaster/foodie/pkg/tokens"
)

var (
	ErrValidation = errors.New("validation")
	ErrNoSession  = errors.New("no active session")
)

const defaultLoginMessage = "Invalid email or password"

// API is the slice of the gateway the manager needs.
type API interface {
	Do(ctx context.Context, r gateway.Request) error
}

// LoginHook runs after a session has been persisted and before Login
// reports success.
type LoginHook func(ctx context.Context, s models.Session) error

// EndHook runs once when an active session is cleared. cause is nil for a
// voluntary logout.
type EndHook func(ctx context.Context, s models.Session, cause error)

type Options struct {
	// ServerLogout notifies POST /auth/logout before clearing locally.
	ServerLogout bool
	Events       events.Publisher
}

type Manager struct {
	store        store.Store
	api          API
	serverLogout bool
	events       events.Publisher

	loginMu sync.Mutex

	mu      sync.Mutex
	current *models.Session
	onLogin []LoginHook
	onEnd   []EndHook

	ready     chan struct{}
	readyOnce sync.Once
}

func NewManager(st store.Store, api API, opts Options) *Manager {
	pub := opts.Events
	if pub == nil {
		pub = events.Nop{}
	}
	return &Manager{
		store:        st,
		api:          api,
		serverLogout: opts.ServerLogout,
		events:       pub,
		ready:        make(chan struct{}),
	}
}

type LoginResult struct {
	Success bool        `json:"success"`
	Role    models.Role `json:"role,omitempty"`
	Status  int         `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
	Err     error       `json:"-"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
	IsAdmin      bool   `json:"is_admin"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (m *Manager) OnLogin(h LoginHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogin = append(m.onLogin, h)
}

func (m *Manager) OnSessionEnd(h EndHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = append(m.onEnd, h)
}

// Ready is closed once Restore has finished, whatever its outcome.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

func (m *Manager) Restored() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Restore loads a persisted session. A missing or malformed record leaves
// the process anonymous; a malformed one is removed.
func (m *Manager) Restore(ctx context.Context) error {
	defer m.readyOnce.Do(func() { close(m.ready) })
	l := logging.For(ctx, "session.restore")

	sess, found, err := store.Load[models.Session](ctx, m.store, store.KeySession)
	if err != nil {
		l.Warn("restore_failed", "error", err)
		if delErr := m.store.Delete(ctx, store.KeySession); delErr != nil {
			l.Error("restore_cleanup_failed", "error", delErr)
		}
		return err
	}
	if !found {
		l.Info("restore_anonymous")
		return nil
	}
	if !sess.Valid() {
		l.Warn("restore_discarded", "reason", "incomplete session record")
		return m.store.Delete(ctx, store.KeySession)
	}

	m.mu.Lock()
	m.current = &sess
	m.mu.Unlock()
	l.Info("restore_session", "role", sess.Role)
	return nil
}

// Current returns a copy of the active session, nil when anonymous.
func (m *Manager) Current() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// HasRole is the capability check for a single role.
func (m *Manager) HasRole(role models.Role) bool {
	return models.Allowed(m.Current(), []string{string(role)})
}

func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.AccessToken
}

// Login authenticates, persists the session, runs the login hooks, and only
// then reports success. It never returns an error; failures are values.
func (m *Manager) Login(ctx context.Context, email, password string) LoginResult {
	ctx = context.WithoutCancel(ctx)
	email = strings.TrimSpace(email)
	l := logging.For(ctx, "session.login", "email", email)

	if err := validateCredentials(email, password); err != nil {
		l.Warn("login_rejected", "reason", err)
		return LoginResult{Message: strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "), Err: err}
	}

	m.loginMu.Lock()
	defer m.loginMu.Unlock()

	var resp loginResponse
	err := m.api.Do(ctx, gateway.Request{
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Body:        loginRequest{Email: email, Password: password},
		Out:         &resp,
		SkipRefresh: true,
	})
	if err == nil && resp.AccessToken == "" {
		err = errors.New("login response carried no access token")
	}
	if err != nil {
		l.Warn("login_failed", "status", gateway.StatusOf(err), "error", err)
		return loginFailure(err)
	}

	sess := newSession(email, resp)

	m.mu.Lock()
	if err := store.Save(ctx, m.store, store.KeySession, sess); err != nil {
		m.mu.Unlock()
		l.Error("login_persist_failed", "error", err)
		return LoginResult{Message: "Could not save session", Err: err}
	}
	m.current = &sess
	hooks := slices.Clone(m.onLogin)
	m.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx, sess); err != nil {
			l.Error("login_hook_failed", "error", err)
		}
	}

	m.publish(ctx, "login", sess.Email, map[string]any{"role": sess.Role})
	l.Info("login_successful", "role", sess.Role)
	return LoginResult{Success: true, Role: sess.Role}
}

// Logout always ends with a cleared local session, whatever the server says.
func (m *Manager) Logout(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if sess := m.Current(); sess != nil {
		m.logout(ctx, sess, nil)
		return
	}
	m.clear(ctx, "", nil)
}

// logout ends sess. It reports false, and leaves everything untouched, when
// sess is no longer the current session.
func (m *Manager) logout(ctx context.Context, sess *models.Session, cause error) bool {
	l := logging.For(ctx, "session.logout")

	if m.AccessToken() != sess.AccessToken {
		l.Info("logout_skipped", "reason", "session no longer current")
		return false
	}

	if m.serverLogout {
		var body any
		if sess.RefreshToken != "" {
			body = refreshRequest{RefreshToken: sess.RefreshToken}
		}
		if err := m.api.Do(ctx, gateway.Request{
			Method:      http.MethodPost,
			Path:        "/auth/logout",
			Body:        body,
			SkipRefresh: true,
		}); err != nil {
			l.Warn("logout_notify_failed", "error", err)
		}
	}

	return m.clear(ctx, sess.AccessToken, cause)
}

// Refresh exchanges the refresh credential for a new access token. Any
// failure logs the session out, unless that session was already replaced or
// ended while the refresh was in flight; then gateway.ErrStaleSession is
// returned and nothing is cleared.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	ctx = context.WithoutCancel(ctx)
	l := logging.For(ctx, "session.refresh")

	sess := m.Current()
	if sess == nil {
		return "", ErrNoSession
	}

	var body any
	if sess.RefreshToken != "" {
		body = refreshRequest{RefreshToken: sess.RefreshToken}
	}
	var resp refreshResponse
	err := m.api.Do(ctx, gateway.Request{
		Method:      http.MethodPost,
		Path:        "/auth/refresh-token",
		Body:        body,
		Out:         &resp,
		SkipRefresh: true,
	})
	if err == nil && resp.AccessToken == "" {
		err = errors.New("refresh response carried no access token")
	}
	if err != nil {
		l.Warn("refresh_failed", "status", gateway.StatusOf(err), "error", err)
		if !m.logout(ctx, sess, err) {
			return "", fmt.Errorf("%w: %w", gateway.ErrSessionEnded, gateway.ErrStaleSession)
		}
		return "", fmt.Errorf("%w: %w", gateway.ErrSessionEnded, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.AccessToken != sess.AccessToken {
		l.Info("refresh_discarded", "reason", "session changed during refresh")
		return "", fmt.Errorf("%w: %w", gateway.ErrSessionEnded, gateway.ErrStaleSession)
	}
	updated := *m.current
	updated.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		updated.RefreshToken = resp.RefreshToken
	}
	updated.ExpiresAt = time.Time{}
	if claims, err := tokens.AccessClaimsFromToken(resp.AccessToken); err == nil {
		updated.ExpiresAt = claims.ExpiresAt
	}
	if err := store.Save(ctx, m.store, store.KeySession, updated); err != nil {
		l.Error("refresh_persist_failed", "error", err)
	}
	m.current = &updated

	l.Info("refresh_successful")
	return updated.AccessToken, nil
}

// ForceLogout clears the session locally without contacting the server. A
// non-empty token limits it to the session carrying that access token.
func (m *Manager) ForceLogout(ctx context.Context, token string, cause error) bool {
	if !m.clear(ctx, token, cause) {
		return false
	}
	logging.For(ctx, "session").Warn("session_forced_logout", "cause", errString(cause))
	return true
}

// clear drops the current session when token is empty or still matches it,
// and reports whether a session was dropped.
func (m *Manager) clear(ctx context.Context, token string, cause error) bool {
	l := logging.For(ctx, "session.clear")

	m.mu.Lock()
	if token != "" && (m.current == nil || m.current.AccessToken != token) {
		m.mu.Unlock()
		return false
	}
	prev := m.current
	m.current = nil
	if err := m.store.Delete(ctx, store.KeySession); err != nil {
		l.Error("session_delete_failed", "error", err)
	}
	hooks := slices.Clone(m.onEnd)
	m.mu.Unlock()

	if prev == nil {
		return false
	}
	for _, h := range hooks {
		h(ctx, *prev, cause)
	}

	kind := "logout"
	if cause != nil {
		kind = "session_ended"
	}
	m.publish(ctx, kind, prev.Email, map[string]any{"cause": errString(cause)})
	l.Info(kind)
	return true
}

func (m *Manager) publish(ctx context.Context, kind, email string, data map[string]any) {
	if err := m.events.Publish(ctx, events.TopicSession, email, events.Event{
		Type:  kind,
		Email: email,
		At:    time.Now().UTC(),
		Data:  data,
	}); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", kind, "error", err)
	}
}

func newSession(email string, resp loginResponse) models.Session {
	sess := models.Session{
		Email:        email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}

	roleName := resp.Role
	if claims, err := tokens.AccessClaimsFromToken(resp.AccessToken); err == nil {
		sess.ExpiresAt = claims.ExpiresAt
		if roleName == "" {
			roleName = claims.Role
		}
	}
	if roleName == "" && resp.IsAdmin {
		roleName = string(models.RoleAdmin)
	}
	sess.Role, _ = models.ParseRole(roleName)
	return sess
}

func loginFailure(err error) LoginResult {
	res := LoginResult{
		Status:  gateway.StatusOf(err),
		Message: gateway.MessageOf(err, defaultLoginMessage),
		Err:     err,
	}
	if res.Message == http.StatusText(res.Status) {
		res.Message = defaultLoginMessage
	}
	if errors.Is(err, gateway.ErrUnreachable) {
		res.Message = "Server unreachable, please try again later"
	}
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
