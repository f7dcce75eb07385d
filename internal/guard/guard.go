// Package guard redirects navigation when the authentication state flips.
package guard

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/state"
)

// Router is the navigation surface the guard drives.
type Router interface {
	Current() string
	Navigate(path string)
}

// Routes names the paths the guard cares about. Protected entries match the path itself and anything below it.
type Routes struct {
	Home      string
	Login     string
	Register  string
	Dashboard string
	Reports   string
	Profile   string
	Settings  string
	Protected []string
}

// DefaultRoutes returns the application's route table.
func DefaultRoutes() Routes {
	r := Routes{
		Home:      "/",
		Login:     "/auth/login",
		Register:  "/auth/register",
		Dashboard: "/dashboard",
		Reports:   "/reports",
		Profile:   "/profile",
		Settings:  "/settings",
	}
	r.Protected = []string{r.Dashboard, r.Reports, r.Profile, r.Settings}
	return r
}

// ProfileOf returns the profile route of a user, or the own profile route for "".
func (r Routes) ProfileOf(userID string) string {
	if userID == "" {
		return r.Profile
	}
	return r.Profile + "/" + userID
}

// RequiresAuth reports whether path is protected.
func (r Routes) RequiresAuth(path string) bool {
	for _, p := range r.Protected {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (r Routes) isAuthPage(path string) bool { return path == r.Login || path == r.Register }

// Guard watches the store's authenticated slot and redirects only when the value actually changes.
type Guard struct {
	store  *state.Store
	router Router
	routes Routes
	log    *zap.Logger

	mu    sync.Mutex
	last  bool
	unsub func()
}

// New returns a stopped guard.
func New(store *state.Store, router Router, routes Routes, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{store: store, router: router, routes: routes, log: log}
}

// Start records the current authentication state and begins watching for transitions.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsub != nil {
		return
	}
	g.last = g.store.Authenticated().Get()
	g.unsub = g.store.Authenticated().Subscribe(g.onChange)
}

// Stop ends watching.
func (g *Guard) Stop() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (g *Guard) onChange(authed bool) {
	g.mu.Lock()
	if authed == g.last {
		g.mu.Unlock()
		return
	}
	g.last = authed
	g.mu.Unlock()

	cur := g.router.Current()
	switch {
	case authed && g.routes.isAuthPage(cur):
		g.redirect(cur, g.routes.Dashboard)
	case !authed && g.routes.RequiresAuth(cur):
		g.redirect(cur, g.routes.Login)
	}
}

func (g *Guard) redirect(from, to string) {
	g.log.Debug("redirect", zap.String("from", from), zap.String("to", to))
	g.router.Navigate(to)
}

// Check is the per-navigation test: it returns where to go instead of path, or path itself when allowed.
func (g *Guard) Check(path string) string {
	if !g.store.Authenticated().Get() && g.routes.RequiresAuth(path) {
		return g.routes.Login
	}
	return path
}

// MemoryRouter is a Router that only records where it is.
type MemoryRouter struct {
	mu      sync.Mutex
	current string
	history []string
}

// NewMemoryRouter starts at path.
func NewMemoryRouter(path string) *MemoryRouter {
	return &MemoryRouter{current: path}
}

func (r *MemoryRouter) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *MemoryRouter) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = path
	r.history = append(r.history, path)
}

// History lists every Navigate target in order.
func (r *MemoryRouter) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}
