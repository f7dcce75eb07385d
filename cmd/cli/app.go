package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/fitsync/internal/docstore"
	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/forms"
	"github.com/and161185/fitsync/internal/guard"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/notify"
	"github.com/and161185/fitsync/internal/session"
	"github.com/and161185/fitsync/internal/state"
)

// provider is a session provider that can bring back a persisted session.
type provider interface {
	session.Provider
	Restore(ctx context.Context) (*model.Identity, error)
}

// app is one CLI invocation: a running session manager bound to a store.
type app struct {
	mgr   *session.Manager
	store *state.Store
	log   *zap.Logger
	out   io.Writer
	notes io.Writer

	closers []func()
}

// newApp starts a session manager over p and backend, restores any persisted session and waits until
// its hydration has settled.
func newApp(ctx context.Context, p provider, backend docstore.Backend, log *zap.Logger, live bool, out io.Writer) (*app, error) {
	store := state.New()
	a := &app{store: store, log: log, out: out, notes: os.Stderr}
	sink := notify.Func(func(kind notify.Kind, title, description string) {
		if description != "" {
			title += ": " + description
		}
		fmt.Fprintf(a.notes, "[%s] %s\n", kind, title)
	})
	a.mgr = session.New(session.Deps{
		Store:    store,
		Docs:     docstore.New(backend, store, log),
		Provider: p,
		Notifier: notify.NewLog(log, sink),
		Log:      log,
	}, session.Options{Live: live})
	if err := a.mgr.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := p.Restore(ctx); err != nil {
		a.mgr.Close()
		return nil, err
	}
	if err := a.mgr.Sync(ctx); err != nil {
		a.mgr.Close()
		return nil, err
	}
	return a, nil
}

// Close stops the manager and releases the connection.
func (a *app) Close() {
	a.mgr.Close()
	for _, c := range a.closers {
		c()
	}
}

var commands = map[string]func(a *app, ctx context.Context, args []string) error{
	"register":       (*app).register,
	"login":          (*app).login,
	"logout":         (*app).logout,
	"status":         (*app).status,
	"profile":        (*app).profile,
	"profile-update": (*app).profileUpdate,
	"complete":       (*app).complete,
	"units":          (*app).units,
	"language":       (*app).language,
	"email":          (*app).email,
	"bmi":            (*app).bmi,
	"watch":          (*app).watch,
}

// run dispatches one subcommand.
func (a *app) run(ctx context.Context, cmd string, args []string) error {
	fn, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	return fn(a, ctx, args)
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var f forms.Register
	fs.StringVar(&f.Email, "email", "", "email")
	fs.StringVar(&f.Password, "password", "", "password")
	fs.StringVar(&f.FirstName, "first", "", "first name")
	fs.StringVar(&f.LastName, "last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.mgr.Register(ctx, f); err != nil {
		return err
	}
	printJSON(a.out, a.store.Profile().Get())
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	var f forms.Login
	fs.StringVar(&f.Email, "email", "", "email")
	fs.StringVar(&f.Password, "password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.mgr.Login(ctx, f); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	if err := a.mgr.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

type statusView struct {
	Phase           string   `json:"phase"`
	Authenticated   bool     `json:"authenticated"`
	Subject         string   `json:"subject,omitempty"`
	Email           string   `json:"email,omitempty"`
	ProfileComplete bool     `json:"profileComplete"`
	Missing         []string `json:"missing,omitempty"`
	Route           string   `json:"route,omitempty"`
	Redirect        string   `json:"redirect,omitempty"`
}

// status reports the session and, with -route, where navigation to that route would land.
func (a *app) status(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	route := fs.String("route", "", "route to check against the guard")
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap := a.store.Snapshot()
	v := statusView{
		Phase:           snap.Phase.String(),
		Authenticated:   snap.Authenticated(),
		ProfileComplete: a.mgr.IsProfileComplete(),
	}
	if snap.Authenticated() {
		v.Subject = snap.Session.SubjectID
		v.Email = snap.Session.Email
		v.Missing = a.mgr.MissingFields()
	}
	if *route != "" {
		g := guard.New(a.store, guard.NewMemoryRouter(*route), guard.DefaultRoutes(), a.log)
		v.Route = *route
		if to := g.Check(*route); to != *route {
			v.Redirect = to
		}
	}
	printJSON(a.out, v)
	return nil
}

func (a *app) currentProfile() (*model.Profile, error) {
	p := a.store.Profile().Get()
	if p == nil {
		return nil, errs.ErrUnauthenticated
	}
	return p, nil
}

func (a *app) profile(_ context.Context, _ []string) error {
	p, err := a.currentProfile()
	if err != nil {
		return err
	}
	printJSON(a.out, p)
	return nil
}

func (a *app) profileUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile-update", flag.ContinueOnError)
	patch, err := parsePatch(fs, args)
	if err != nil {
		return err
	}
	if err := a.mgr.UpdateProfile(ctx, patch); err != nil {
		return err
	}
	printJSON(a.out, a.store.Profile().Get())
	return nil
}

func (a *app) complete(_ context.Context, _ []string) error {
	if _, err := a.currentProfile(); err != nil {
		return err
	}
	printJSON(a.out, map[string]any{
		"complete": a.mgr.IsProfileComplete(),
		"missing":  a.mgr.MissingFields(),
	})
	return nil
}

func (a *app) units(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("units", flag.ContinueOnError)
	var u model.Units
	fs.StringVar(&u.Height, "height", "", "height unit (cm, ft-in)")
	fs.StringVar(&u.Weight, "weight", "", "weight unit (kg, lb)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.mgr.UpdateUnits(ctx, u); err != nil {
		return err
	}
	printJSON(a.out, a.store.Settings().Get())
	return nil
}

func (a *app) language(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("language", flag.ContinueOnError)
	lang := fs.String("lang", "", "language code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.mgr.UpdateLanguagePreference(ctx, *lang); err != nil {
		return err
	}
	printJSON(a.out, a.store.Settings().Get())
	return nil
}

func (a *app) email(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("email", flag.ContinueOnError)
	newEmail := fs.String("new", "", "new email")
	password := fs.String("password", "", "current password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.mgr.ChangeEmail(ctx, *newEmail, *password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "verification sent to", *newEmail)
	return nil
}

// bmi computes the body mass index from flags, falling back to the profile's measurements.
func (a *app) bmi(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("bmi", flag.ContinueOnError)
	weight := fs.Float64("weight", 0, "weight, kg")
	height := fs.Float64("height", 0, "height, cm")
	sex := fs.String("sex", "", "sex (male, female, other)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if p := a.store.Profile().Get(); p != nil {
		if *weight == 0 {
			*weight = p.Weight
		}
		if *height == 0 {
			*height = p.Height
		}
		if *sex == "" {
			*sex = p.Sex
		}
	}
	switch {
	case *weight <= 0:
		return errs.Validation("weight", "is required")
	case *height <= 0:
		return errs.Validation("height", "is required")
	}
	printJSON(a.out, map[string]float64{"bmi": forms.BMI(*weight, *height, *sex)})
	return nil
}

// watch prints the profile and every change to it until ctx ends. A sign-out while watching ends it
// with ErrUnauthenticated once the guard has moved off the protected profile route.
func (a *app) watch(ctx context.Context, _ []string) error {
	routes := guard.DefaultRoutes()
	router := newWatchRouter(routes.ProfileOf(""))
	g := guard.New(a.store, router, routes, a.log)
	g.Start()
	defer g.Stop()
	if a.store.Subject() == "" {
		return errs.ErrUnauthenticated
	}

	var mu sync.Mutex
	show := func(p *model.Profile) {
		if p == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		printJSON(a.out, p)
	}
	unsub := a.store.Profile().Subscribe(show)
	defer unsub()
	show(a.store.Profile().Get())

	select {
	case <-ctx.Done():
		return nil
	case to := <-router.moved:
		fmt.Fprintf(a.notes, "signed out, redirected to %s\n", to)
		return errs.ErrUnauthenticated
	}
}

// watchRouter is a MemoryRouter that reports guard redirects.
type watchRouter struct {
	*guard.MemoryRouter
	moved chan string
}

func newWatchRouter(path string) *watchRouter {
	return &watchRouter{MemoryRouter: guard.NewMemoryRouter(path), moved: make(chan string, 1)}
}

func (r *watchRouter) Navigate(path string) {
	r.MemoryRouter.Navigate(path)
	select {
	case r.moved <- path:
	default:
	}
}
