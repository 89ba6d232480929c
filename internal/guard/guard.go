package guard

import (
	"context"
	"net/url"

	"github.com/Skotchmaster/foodie/internal/models"
)

type State int

const (
	Loading State = iota
	Unauthorized
	Authorized
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthorized:
		return "unauthorized"
	case Authorized:
		return "authorized"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Decide is the guard's transition function. It has no side effects.
func Decide(restored bool, s *models.Session, r Route) State {
	if r.Public {
		return Authorized
	}
	if !restored {
		return Loading
	}
	if models.Allowed(s, r.Roles) {
		return Authorized
	}
	return Unauthorized
}

// Decision is the outcome of one navigation attempt. Path is where the
// caller ends up rendering; Redirect is set when that differs from the
// requested destination.
type Decision struct {
	State    State  `json:"state"`
	Path     string `json:"path"`
	Redirect string `json:"redirect,omitempty"`
}

type Sessions interface {
	Current() *models.Session
	Restored() bool
	Ready() <-chan struct{}
}

type Guard struct {
	table    *Table
	sessions Sessions
}

func New(table *Table, sessions Sessions) *Guard {
	return &Guard{table: table, sessions: sessions}
}

// Check decides without blocking; it returns Loading until the session has
// been restored.
func (g *Guard) Check(dest string) Decision {
	return g.decide(g.sessions.Restored(), g.sessions.Current(), dest)
}

// Await waits for the session restore and then decides.
func (g *Guard) Await(ctx context.Context, dest string) (Decision, error) {
	select {
	case <-g.sessions.Ready():
	case <-ctx.Done():
		return Decision{State: Loading, Path: normalize(dest)}, ctx.Err()
	}
	return g.decide(true, g.sessions.Current(), dest), nil
}

func (g *Guard) decide(restored bool, s *models.Session, dest string) Decision {
	p := normalize(dest)
	r, ok := g.table.Lookup(p)
	if !ok {
		return Decision{State: Authorized, Path: HomePath, Redirect: HomePath}
	}

	switch st := Decide(restored, s, r); st {
	case Unauthorized:
		return Decision{State: st, Path: LoginPath, Redirect: LoginRedirect(p)}
	default:
		return Decision{State: st, Path: p}
	}
}

// LoginRedirect is the login destination carrying the requested path so a
// successful login can resume there.
func LoginRedirect(dest string) string {
	return LoginPath + "?" + url.Values{"next": {normalize(dest)}}.Encode()
}

// Landing is where a freshly signed-in user goes: next when it is a known
// destination the session may reach, otherwise the role's home page.
func (g *Guard) Landing(s *models.Session, next string) string {
	if next != "" {
		if r, ok := g.table.Lookup(next); ok && r.Path != LoginPath && Decide(true, s, r) == Authorized {
			return r.Path
		}
	}
	if s == nil {
		return HomePath
	}
	role, _ := models.ParseRole(string(s.Role))
	switch role {
	case models.RoleAdmin:
		return "/dashboard"
	case models.RoleUser:
		return "/menu"
	}
	return HomePath
}

type Link struct {
	Label string `json:"label"`
	Path  string `json:"path"`
}

var navigation = []Link{
	{Label: "Home", Path: HomePath},
	{Label: "About Us", Path: "/aboutus"},
	{Label: "Menu", Path: "/menu"},
	{Label: "Cart", Path: "/cart"},
	{Label: "My Orders", Path: "/my-orders"},
	{Label: "Dashboard", Path: "/dashboard"},
	{Label: "Manage Menu", Path: "/manage-menu"},
	{Label: "Orders", Path: "/admin-orders"},
}

var anonymousOnly = []Link{
	{Label: "Login", Path: LoginPath},
	{Label: "Register", Path: "/register"},
}

// Links lists the navigation entries the session may follow, using the same
// check as Decide.
func (g *Guard) Links(s *models.Session) []Link {
	out := make([]Link, 0, len(navigation)+len(anonymousOnly))
	for _, l := range navigation {
		r, ok := g.table.Lookup(l.Path)
		if !ok || Decide(true, s, r) != Authorized {
			continue
		}
		out = append(out, l)
	}
	if s == nil {
		out = append(out, anonymousOnly...)
	}
	return out
}
