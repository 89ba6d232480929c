package guard

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Skotchmaster/foodie/internal/models"
)

const (
	HomePath  = "/"
	LoginPath = "/login"
)

// Route is one navigable destination. A public route needs no session; a
// protected route with no roles admits any signed-in user.
type Route struct {
	Path   string   `yaml:"path"`
	Public bool     `yaml:"public"`
	Roles  []string `yaml:"roles"`
}

type Table struct {
	routes map[string]Route
}

func DefaultTable(menuPublic bool) *Table {
	user := []string{string(models.RoleUser)}
	admin := []string{string(models.RoleAdmin)}

	t := &Table{routes: make(map[string]Route)}
	for _, p := range []string{HomePath, "/aboutus", LoginPath, "/register", "/verify-email", "/forgot-password"} {
		t.Set(Route{Path: p, Public: true})
	}
	for _, p := range []string{"/cart", "/payment", "/my-orders"} {
		t.Set(Route{Path: p, Roles: user})
	}
	for _, p := range []string{"/dashboard", "/manage-menu", "/admin-orders"} {
		t.Set(Route{Path: p, Roles: admin})
	}
	if menuPublic {
		t.Set(Route{Path: "/menu", Public: true})
	} else {
		t.Set(Route{Path: "/menu", Roles: user})
	}
	return t
}

type routesFile struct {
	Routes []Route `yaml:"routes"`
}

// LoadTable starts from the default table and applies the entries of a YAML
// file on top of it. An empty file name yields the defaults.
func LoadTable(file string, menuPublic bool) (*Table, error) {
	t := DefaultTable(menuPublic)
	if file == "" {
		return t, nil
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var rf routesFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	for i, r := range rf.Routes {
		if strings.TrimSpace(r.Path) == "" {
			return nil, fmt.Errorf("routes file: entry %d has no path", i)
		}
		for _, role := range r.Roles {
			if _, ok := models.ParseRole(role); !ok {
				return nil, fmt.Errorf("routes file: %s: unknown role %q", r.Path, role)
			}
		}
		t.Set(r)
	}
	return t, nil
}

func (t *Table) Set(r Route) {
	r.Path = normalize(r.Path)
	t.routes[r.Path] = r
}

func (t *Table) Lookup(p string) (Route, bool) {
	r, ok := t.routes[normalize(p)]
	return r, ok
}

// normalize strips any query or fragment and cleans the path.
func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	if p == "" {
		return HomePath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
