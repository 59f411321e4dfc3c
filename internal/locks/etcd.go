package locks

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdManager leases resources as etcd keys attached to a single lease
// owned by this process. Expiry is handled by etcd itself.
type EtcdManager struct {
	cli    *clientv3.Client
	prefix string
	owner  string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	stopped bool
}

var _ Locker = (*EtcdManager)(nil)

// NewEtcdManager returns a Locker storing leases under prefix.
func NewEtcdManager(cli *clientv3.Client, prefix string, ttl time.Duration, logger *slog.Logger) *EtcdManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	owner := uuid.New().String()
	return &EtcdManager{
		cli:    cli,
		prefix: prefix,
		owner:  owner,
		ttl:    ttl,
		logger: logger.With("component", "locks", "backend", "etcd", "owner", owner),
	}
}

// Owner returns the identity written into every lease of this process.
func (m *EtcdManager) Owner() string { return m.owner }

func (m *EtcdManager) key(id string) string {
	return path.Join(m.prefix, id)
}

// Start grants the process lease and keeps it alive. If the keep-alive
// channel closes, a new lease is granted.
func (m *EtcdManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	_, err := m.grantLocked()
	return err
}

func (m *EtcdManager) grantLocked() (clientv3.LeaseID, error) {
	if m.leaseID != 0 && m.cancel != nil {
		return m.leaseID, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	seconds := int64(m.ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	resp, err := m.cli.Grant(ctx, seconds)
	if err != nil {
		cancel()
		return 0, errors.Wrap(err, "creating a lease")
	}
	kaChan, err := m.cli.KeepAlive(ctx, resp.ID)
	if err != nil {
		cancel()
		return 0, errors.Wrapf(err, "keeping alive lease %x", resp.ID)
	}
	m.leaseID = resp.ID
	m.cancel = cancel
	go m.consumeLease(ctx, kaChan)
	return resp.ID, nil
}

func (m *EtcdManager) consumeLease(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for {
		select {
		case _, ok := <-ch:
			if ok {
				continue
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.stopped || ctx.Err() != nil {
				return
			}
			// The lease is gone with every key attached to it.
			m.logger.Warn("lease lost, granting a new one")
			m.cancel()
			m.leaseID, m.cancel = 0, nil
			if _, err := m.grantLocked(); err != nil {
				m.logger.Error("lease cannot be recreated", "error", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Acquire puts the key for id only if it does not exist yet.
func (m *EtcdManager) Acquire(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	lease, err := m.grantLocked()
	m.mu.Unlock()
	if err != nil {
		return false, err
	}
	key := m.key(id)
	resp, err := m.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, m.owner, clientv3.WithLease(lease))).
		Commit()
	if err != nil {
		return false, errors.Wrapf(err, "acquiring %s", id)
	}
	return resp.Succeeded, nil
}

// Release deletes the key for id if it still carries this process's identity.
func (m *EtcdManager) Release(ctx context.Context, id string) error {
	key := m.key(id)
	_, err := m.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(key), "=", m.owner)).
		Then(clientv3.OpDelete(key)).
		Commit()
	return errors.Wrapf(err, "releasing %s", id)
}

// Stop cancels the keep-alive and revokes the lease, dropping every key
// this process still holds.
func (m *EtcdManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.leaseID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := m.cli.Revoke(ctx, m.leaseID); err != nil {
		m.logger.Debug("revoking lease during shutdown", "error", err)
	}
	m.leaseID = 0
}
