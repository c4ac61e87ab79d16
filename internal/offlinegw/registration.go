package offlinegw

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrNotWaiting = errors.New("no worker is waiting to activate")

type clientRecord struct {
	controller *Worker
	lastSeen   time.Time
}

// Registration owns the workers of one gateway and the clients they control.
// Lifecycle transitions are serialised; fetches only take the short state
// lock.
type Registration struct {
	transition sync.Mutex

	mu         sync.Mutex
	installing *Worker
	waiting    *Worker
	active     *Worker
	clients    map[string]*clientRecord
}

func NewRegistration() *Registration {
	return &Registration{clients: map[string]*clientRecord{}}
}

// Register installs w. A failed install leaves the current active worker in
// place. A successful one waits, unless w skips waiting or nothing is active.
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()
	w.setState(StateInstalling)
	logrus.Infof("[LIFECYCLE] installing %s (worker %s)", w.release.CacheName(), w.id)

	if err := w.install(ctx); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.mu.Unlock()
		w.setState(StateSuperseded)
		logrus.WithError(err).Errorf("[LIFECYCLE] install of %s failed", w.release.CacheName())
		return fmt.Errorf("install %s: %w", w.release.CacheName(), err)
	}

	r.mu.Lock()
	r.installing = nil
	prev := r.waiting
	r.waiting = w
	hasActive := r.active != nil
	r.mu.Unlock()
	if prev != nil {
		prev.setState(StateSuperseded)
	}
	w.setState(StateInstalled)
	logrus.Infof("[LIFECYCLE] installed %s", w.release.CacheName())

	if w.skipWaiting || !hasActive {
		r.activateLocked(ctx, w)
	}
	return nil
}

// SkipWaiting activates the waiting worker immediately.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	w := r.waiting
	r.mu.Unlock()
	if w == nil {
		return ErrNotWaiting
	}
	r.activateLocked(ctx, w)
	return nil
}

// activateLocked must run under r.transition. Stale cache cleanup is best
// effort; claiming clients always happens.
func (r *Registration) activateLocked(ctx context.Context, w *Worker) {
	deleted := w.cleanup(ctx)

	r.mu.Lock()
	old := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	claimed := r.claimLocked(w)
	r.mu.Unlock()

	if old != nil && old != w {
		old.setState(StateSuperseded)
	}
	w.setState(StateActive)
	logrus.Infof("[LIFECYCLE] activated %s, deleted %d stale caches, claimed %d clients",
		w.release.CacheName(), len(deleted), claimed)
}

func (r *Registration) claimLocked(w *Worker) int {
	for _, c := range r.clients {
		c.controller = w
	}
	return len(r.clients)
}

// Controller returns the worker serving clientID, assigning the active worker
// to clients seen for the first time. It returns nil when nothing is active.
func (r *Registration) Controller(clientID string) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if clientID == "" {
		return r.active
	}
	c, ok := r.clients[clientID]
	if ok && c.controller != nil {
		c.lastSeen = now
		return c.controller
	}
	if r.active == nil {
		return nil
	}
	r.clients[clientID] = &clientRecord{controller: r.active, lastSeen: now}
	return r.active
}

// PruneClients forgets clients not seen since cutoff. Once the active worker
// controls no client, a waiting worker is activated.
func (r *Registration) PruneClients(ctx context.Context, cutoff time.Time) int {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	n := 0
	controlled := 0
	for id, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, id)
			n++
			continue
		}
		if c.controller == r.active {
			controlled++
		}
	}
	w := r.waiting
	r.mu.Unlock()

	if w != nil && controlled == 0 {
		logrus.Infof("[LIFECYCLE] no clients left on the active worker, activating %s", w.release.CacheName())
		r.activateLocked(ctx, w)
	}
	return n
}

func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

func (r *Registration) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
