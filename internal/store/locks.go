package store

import (
	"context"
	"database/sql"
	"time"

	"go-dataset-pipeline/internal/model"

	"github.com/pkg/errors"
)

// AcquireLock claims id for owner. A lock not refreshed for ttl is expired
// and may be taken over; expiry is evaluated inside the same statement so
// the primary key decides concurrent attempts.
func (s *DB) AcquireLock(ctx context.Context, id, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO locks (id, owner, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, updated_at = excluded.updated_at
		WHERE locks.updated_at < ?`,
		id, owner, millis(now), millis(now.Add(-ttl)))
	if err != nil {
		return false, errors.Wrapf(err, "acquiring lock %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reading affected rows")
	}
	return n == 1, nil
}

// TouchLocks refreshes every lock held by owner and returns how many there were.
func (s *DB) TouchLocks(ctx context.Context, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE locks SET updated_at = ? WHERE owner = ?`, millis(s.now()), owner)
	if err != nil {
		return 0, errors.Wrap(err, "refreshing locks")
	}
	return res.RowsAffected()
}

// ReleaseLock removes the lock on id if owner holds it.
func (s *DB) ReleaseLock(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE id = ? AND owner = ?`, id, owner)
	return errors.Wrapf(err, "releasing lock %s", id)
}

// GetLock reads the current holder of id, live or expired.
func (s *DB) GetLock(ctx context.Context, id string) (*model.Lock, error) {
	var l model.Lock
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT id, owner, updated_at FROM locks WHERE id = ?`, id).Scan(&l.ID, &l.Owner, &ms)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(model.ErrNotFound, "lock %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading lock %s", id)
	}
	l.UpdatedAt = fromMillis(ms)
	return &l, nil
}
