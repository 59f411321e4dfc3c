// Package locks provides leased, self-expiring claims on resources so
// that several worker processes never work on the same dataset at once.
package locks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultTTL is how long an unrefreshed lease stays valid.
const DefaultTTL = 60 * time.Second

// Locker is implemented by every lease backend.
type Locker interface {
	// Acquire returns true when the caller now holds id, false when
	// another live lease exists.
	Acquire(ctx context.Context, id string) (bool, error)
	// Release drops the lease on id if this process owns it.
	Release(ctx context.Context, id string) error
	// Start launches the heartbeat keeping this process's leases alive.
	Start() error
	// Stop ends the heartbeat. Leases then expire after their TTL.
	Stop()
	Owner() string
}

// Backend persists leases. It is implemented by the document store.
type Backend interface {
	AcquireLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error)
	TouchLocks(ctx context.Context, owner string) (int64, error)
	ReleaseLock(ctx context.Context, id, owner string) error
}

// Manager leases resources through a Backend, refreshing every lease it
// holds at half the TTL.
type Manager struct {
	backend Backend
	owner   string
	ttl     time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Locker = (*Manager)(nil)

// NewManager returns a Manager with a fresh process identity.
func NewManager(backend Backend, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	owner := uuid.New().String()
	return &Manager{
		backend: backend,
		owner:   owner,
		ttl:     ttl,
		logger:  logger.With("component", "locks", "owner", owner),
	}
}

// Owner returns the identity written into every lease of this process.
func (m *Manager) Owner() string { return m.owner }

// TTL returns the lease duration.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire tries to lease id.
func (m *Manager) Acquire(ctx context.Context, id string) (bool, error) {
	ok, err := m.backend.AcquireLock(ctx, id, m.owner, m.ttl)
	if err != nil {
		return false, errors.Wrapf(err, "acquiring %s", id)
	}
	return ok, nil
}

// Release drops the lease on id. Releasing a lease not held is a no-op.
func (m *Manager) Release(ctx context.Context, id string) error {
	return errors.Wrapf(m.backend.ReleaseLock(ctx, id, m.owner), "releasing %s", id)
}

// Start launches the heartbeat goroutine. Calling Start twice is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.heartbeat(ctx, m.done)
	return nil
}

func (m *Manager) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.backend.TouchLocks(ctx, m.owner)
			if err != nil {
				m.logger.Warn("failed to refresh leases", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Debug("leases refreshed", "count", n)
			}
		}
	}
}

// Stop stops the heartbeat and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// DatasetKey returns the lock id guarding a dataset. It is shared by all stages.
func DatasetKey(datasetID string) string {
	return "dataset:" + datasetID
}
