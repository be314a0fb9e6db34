// Package manager implements the worker manager (spec.md §4.10,
// component C10): a registry of at-most-one worker per stream, with
// idempotent start/stop serialized by a per-stream lock. Grounded on
// the teacher's internal/relay/daemon_registry.go registry-with-lock
// pattern, generalized from tracking heartbeating daemons to owning
// each stream's full worker lifecycle.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/kobaltstream/dubrelay/internal/domain"
	"github.com/kobaltstream/dubrelay/internal/worker"
	"golang.org/x/sync/errgroup"
)

// WorkerFactory constructs a worker for the given config; overridable in
// tests to inject a fake.
type WorkerFactory func(domain.WorkerConfig) Worker

// Worker is the subset of *worker.Worker the manager depends on.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() domain.WorkerState
	Metrics() worker.Metrics
}

// Manager owns the registry of running workers (spec.md §3: "C10
// exclusively owns the set of workers; workers never reference each
// other").
type Manager struct {
	factory WorkerFactory

	mu      sync.RWMutex
	workers map[string]Worker

	locks   sync.Map // stream_id -> *sync.Mutex, per-stream serialization
}

// New creates an empty manager using the real worker.New factory.
func New() *Manager {
	return &Manager{
		factory: func(cfg domain.WorkerConfig) Worker { return worker.New(cfg) },
		workers: make(map[string]Worker),
	}
}

// NewWithFactory creates a manager using a custom worker factory (test seam).
func NewWithFactory(factory WorkerFactory) *Manager {
	return &Manager{factory: factory, workers: make(map[string]Worker)}
}

func (m *Manager) streamLock(streamID string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(streamID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// StartWorker is idempotent: if a worker for streamID already exists, it
// returns nil without constructing a second one (spec.md §4.10).
func (m *Manager) StartWorker(ctx context.Context, cfg domain.WorkerConfig) error {
	lock := m.streamLock(cfg.StreamID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	_, exists := m.workers[cfg.StreamID]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	w := m.factory(cfg)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("manager: start worker %s: %w", cfg.StreamID, err)
	}

	m.mu.Lock()
	m.workers[cfg.StreamID] = w
	m.mu.Unlock()
	return nil
}

// StopWorker is idempotent: stopping an unknown stream id is a no-op.
// The registry entry is removed before the worker is stopped, so it is
// gone whether or not Stop succeeds. A Stop error is returned to the
// caller; StopWorker itself does not log it.
func (m *Manager) StopWorker(ctx context.Context, streamID string) error {
	lock := m.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	w, exists := m.workers[streamID]
	delete(m.workers, streamID)
	m.mu.Unlock()

	if !exists {
		return nil
	}
	return w.Stop(ctx)
}

// GetWorker looks up a worker by stream id.
func (m *Manager) GetWorker(streamID string) (Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[streamID]
	return w, ok
}

// CleanupAll stops every registered worker concurrently, waiting for all
// to finish (spec.md §4.10: "concurrent stop of all workers; waits for
// all to finish; logs per-worker failures").
func (m *Manager) CleanupAll(ctx context.Context) map[string]error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var mu sync.Mutex
	failures := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.StopWorker(gctx, id); err != nil {
				mu.Lock()
				failures[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// Stats aggregates per-worker metrics for observability (SPEC_FULL §7).
type Stats struct {
	TotalWorkers int
	ByState      map[domain.WorkerState]int
}

// ManagerStats returns an aggregate snapshot across all registered workers.
func (m *Manager) ManagerStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalWorkers: len(m.workers), ByState: make(map[domain.WorkerState]int)}
	for _, w := range m.workers {
		stats.ByState[w.State()]++
	}
	return stats
}
