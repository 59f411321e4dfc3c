package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"go-dataset-pipeline/internal/model"

	"github.com/pkg/errors"
)

// PutRemoteService creates or replaces a remote service definition.
func (s *DB) PutRemoteService(ctx context.Context, svc *model.RemoteService) error {
	if svc.ID == "" {
		return errors.Wrap(model.ErrInvalidInput, "remote service id is required")
	}
	doc, err := json.Marshal(svc)
	if err != nil {
		return errors.Wrap(err, "encoding remote service")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO remote_services (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, svc.ID, doc)
	return errors.Wrapf(err, "saving remote service %s", svc.ID)
}

// GetRemoteService fetches a remote service by id.
func (s *DB) GetRemoteService(ctx context.Context, id string) (*model.RemoteService, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM remote_services WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(model.ErrNotFound, "remote service %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading remote service %s", id)
	}
	var svc model.RemoteService
	if err := json.Unmarshal(doc, &svc); err != nil {
		return nil, errors.Wrap(err, "decoding remote service")
	}
	return &svc, nil
}

// ListRemoteServices returns all registered remote services ordered by id.
func (s *DB) ListRemoteServices(ctx context.Context) ([]*model.RemoteService, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM remote_services ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing remote services")
	}
	defer rows.Close()

	var out []*model.RemoteService
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "scanning remote service")
		}
		var svc model.RemoteService
		if err := json.Unmarshal(doc, &svc); err != nil {
			return nil, errors.Wrap(err, "decoding remote service")
		}
		out = append(out, &svc)
	}
	return out, errors.Wrap(rows.Err(), "iterating remote services")
}
