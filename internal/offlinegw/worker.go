package offlinegw

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// State is a worker's position in its lifecycle.
type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled // waiting to activate
	StateActive
	StateSuperseded // replaced by a newer worker, or failed to install
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// InstallError reports the precache entry that aborted an install.
type InstallError struct {
	Path   string
	Status int
	Err    error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precache %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("precache %s: unexpected status %d", e.Path, e.Status)
}

func (e *InstallError) Unwrap() error { return e.Err }

type WorkerOptions struct {
	Release     Release
	StaticFiles []string
	SkipWaiting bool
}

// Worker is one release of the gateway: its caches, its router and its place
// in the lifecycle.
type Worker struct {
	id          string
	release     Release
	staticFiles []string
	skipWaiting bool

	store  Store
	router Router
	strat  *strategies

	mu          sync.Mutex
	state       State
	installedAt time.Time
	activatedAt time.Time
}

func NewWorker(store Store, net Network, opts WorkerOptions) *Worker {
	files := append([]string(nil), opts.StaticFiles...)
	return &Worker{
		id:          uuid.NewString(),
		release:     opts.Release,
		staticFiles: files,
		skipWaiting: opts.SkipWaiting,
		store:       store,
		router:      NewRouter(files),
		strat: &strategies{
			store:   store,
			net:     net,
			release: opts.Release,
			netLog:  newRateLimitedLogger(time.Minute),
		},
	}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Release() Release { return w.release }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
	switch s {
	case StateInstalled:
		w.installedAt = time.Now()
	case StateActive:
		w.activatedAt = time.Now()
	}
}

// HandleFetch routes one intercepted request through the matching strategy.
func (w *Worker) HandleFetch(ctx context.Context, req Request) (Result, error) {
	return w.router.dispatch(ctx, w.strat, req)
}

// install fetches every static file and writes them to the static cache only
// when all of them succeeded.
func (w *Worker) install(ctx context.Context) error {
	name := w.release.StaticCache()
	if err := w.store.Open(ctx, name); err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	fetched := make([]Response, len(w.staticFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range w.staticFiles {
		g.Go(func() error {
			resp, err := w.strat.net.Fetch(gctx, Request{Method: "GET", URI: p})
			if err != nil {
				return &InstallError{Path: p, Err: err}
			}
			if !resp.OK() {
				return &InstallError{Path: p, Status: resp.Status}
			}
			fetched[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, p := range w.staticFiles {
		if err := w.store.Put(ctx, name, p, storedCopy(fetched[i])); err != nil {
			return &InstallError{Path: p, Err: err}
		}
	}
	return nil
}

// cleanup deletes caches left by other releases of the same prefix. Failures
// are logged and skipped.
func (w *Worker) cleanup(ctx context.Context) []string {
	names, err := w.store.Names(ctx)
	if err != nil {
		logrus.WithError(err).Error("[LIFECYCLE] enumerate caches failed")
		return nil
	}
	var deleted []string
	for _, name := range names {
		if !w.release.Owns(name) || w.release.Current(name) {
			continue
		}
		if _, err := w.store.DeleteCache(ctx, name); err != nil {
			logrus.WithError(err).Errorf("[LIFECYCLE] delete stale cache %s failed", name)
			continue
		}
		logrus.Infof("[LIFECYCLE] deleted stale cache %s", name)
		deleted = append(deleted, name)
	}
	return deleted
}
