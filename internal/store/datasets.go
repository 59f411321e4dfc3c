package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"go-dataset-pipeline/internal/model"

	"github.com/pkg/errors"
)

// Filter selects datasets by indexed columns. Zero values match everything.
type Filter struct {
	Statuses []model.Status
	Virtual  *bool
	Owner    *model.Owner
}

// Match reports whether d satisfies the filter, mirroring the SQL predicate.
func (f Filter) Match(d *model.Dataset) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if d.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Virtual != nil && d.IsVirtual != *f.Virtual {
		return false
	}
	if f.Owner != nil && (d.Owner.Type != f.Owner.Type || d.Owner.ID != f.Owner.ID) {
		return false
	}
	return true
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.Virtual != nil {
		clauses = append(clauses, "is_virtual = ?")
		args = append(args, boolInt(*f.Virtual))
	}
	if f.Owner != nil {
		clauses = append(clauses, "owner_type = ? AND owner_id = ?")
		args = append(args, string(f.Owner.Type), f.Owner.ID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListQuery pages through datasets
type ListQuery struct {
	Filter
	Skip  int
	Limit int
	Sort  string // column name, "-" prefix for descending
}

var sortColumns = map[string]string{
	"id":        "id",
	"title":     "title",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"status":    "status",
}

func (q ListQuery) orderBy() string {
	sort := q.Sort
	dir := "ASC"
	if strings.HasPrefix(sort, "-") {
		sort, dir = sort[1:], "DESC"
	}
	col, ok := sortColumns[sort]
	if !ok {
		col, dir = "created_at", "DESC"
	}
	return " ORDER BY " + col + " " + dir + ", id ASC"
}

// InsertDataset stores a new dataset. It fails with model.ErrConflict when
// the id is already taken.
func (s *DB) InsertDataset(ctx context.Context, d *model.Dataset) error {
	now := s.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	if d.Schema == nil {
		d.Schema = []model.Field{}
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encoding dataset")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO datasets
			(id, status, is_virtual, is_rest, owner_type, owner_id, title, created_at, updated_at, doc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, string(d.Status), boolInt(d.IsVirtual), boolInt(d.IsRest), string(d.Owner.Type), d.Owner.ID,
			d.Title, millis(d.CreatedAt), millis(d.UpdatedAt), doc)
		if isUniqueViolation(err) {
			return errors.Wrapf(model.ErrConflict, "dataset %s already exists", d.ID)
		}
		if err != nil {
			return errors.Wrap(err, "inserting dataset")
		}
		return replaceChildren(ctx, tx, d)
	})
}

// GetDataset fetches a dataset by id.
func (s *DB) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	return getDataset(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDataset(ctx context.Context, q queryer, id string) (*model.Dataset, error) {
	var doc []byte
	err := q.QueryRowContext(ctx, `SELECT doc FROM datasets WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(model.ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading dataset %s", id)
	}
	return decodeDataset(doc)
}

func decodeDataset(doc []byte) (*model.Dataset, error) {
	var d model.Dataset
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, errors.Wrap(err, "decoding dataset")
	}
	return &d, nil
}

// CountDatasets returns how many datasets match f.
func (s *DB) CountDatasets(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`+where, args...).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "counting datasets")
	}
	return total, nil
}

// ListDatasets returns one page of datasets and the total number matching.
func (s *DB) ListDatasets(ctx context.Context, q ListQuery) ([]*model.Dataset, int, error) {
	total, err := s.CountDatasets(ctx, q.Filter)
	if err != nil {
		return nil, 0, err
	}
	where, args := q.where()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT doc FROM datasets` + where + q.orderBy() + ` LIMIT ? OFFSET ?`
	results, err := s.queryDatasets(ctx, query, append(args, limit, q.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// SampleDatasets returns up to size datasets matching filter, in random order.
func (s *DB) SampleDatasets(ctx context.Context, f Filter, size int) ([]*model.Dataset, error) {
	where, args := f.where()
	return s.queryDatasets(ctx, `SELECT doc FROM datasets`+where+` ORDER BY RANDOM() LIMIT ?`, append(args, size)...)
}

func (s *DB) queryDatasets(ctx context.Context, query string, args ...any) ([]*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying datasets")
	}
	defer rows.Close()

	var out []*model.Dataset
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "scanning dataset")
		}
		d, err := decodeDataset(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "iterating datasets")
}

// PatchDataset applies p to the stored dataset in a single write
// transaction and returns the resulting document.
func (s *DB) PatchDataset(ctx context.Context, id string, p *model.Patch) (*model.Dataset, error) {
	var out *model.Dataset
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		d, err := getDataset(ctx, tx, id)
		if err != nil {
			return err
		}
		p.ApplyTo(d)
		if err := updateDataset(ctx, tx, d); err != nil {
			return err
		}
		if p.Virtual != nil {
			if err := replaceChildren(ctx, tx, d); err != nil {
				return err
			}
		}
		out = d
		return nil
	})
	return out, err
}

// SetStatus moves a dataset to status.
func (s *DB) SetStatus(ctx context.Context, id string, status model.Status) error {
	_, err := s.PatchDataset(ctx, id, model.StatusPatch(status))
	return err
}

func updateDataset(ctx context.Context, tx *sql.Tx, d *model.Dataset) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encoding dataset")
	}
	_, err = tx.ExecContext(ctx, `UPDATE datasets SET status = ?, is_virtual = ?, is_rest = ?, title = ?,
		updated_at = ?, doc = ? WHERE id = ?`,
		string(d.Status), boolInt(d.IsVirtual), boolInt(d.IsRest), d.Title, millis(d.UpdatedAt), doc, d.ID)
	return errors.Wrapf(err, "updating dataset %s", d.ID)
}

func replaceChildren(ctx context.Context, tx *sql.Tx, d *model.Dataset) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_children WHERE parent_id = ?`, d.ID); err != nil {
		return errors.Wrap(err, "clearing children")
	}
	if d.Virtual == nil {
		return nil
	}
	for i, child := range d.Virtual.Children {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dataset_children (parent_id, child_id, position) VALUES (?, ?, ?)`,
			d.ID, child, i)
		if err != nil {
			return errors.Wrapf(err, "linking child %s", child)
		}
	}
	return nil
}

// DeleteDataset removes a dataset, its children links and any lock on it.
func (s *DB) DeleteDataset(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
		if err != nil {
			return errors.Wrapf(err, "deleting dataset %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(model.ErrNotFound, "dataset %s", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_children WHERE parent_id = ?`, id); err != nil {
			return errors.Wrap(err, "deleting children links")
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM locks WHERE id = ?`, "dataset:"+id)
		return errors.Wrap(err, "deleting lock")
	})
}

// Descendant is a node reached while walking the children of a virtual dataset
type Descendant struct {
	ID      string
	Depth   int
	Deepest int            // deepest level the walk reached it at, grows with cycles
	Dataset *model.Dataset // nil when the child id does not exist
}

// Descendants walks the children graph of id breadth first, down to
// maxDepth levels. Each dataset is reported once, at its shallowest depth.
func (s *DB) Descendants(ctx context.Context, id string, maxDepth int) ([]Descendant, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id, depth) AS (
			SELECT child_id, 1 FROM dataset_children WHERE parent_id = ?
			UNION
			SELECT c.child_id, t.depth + 1 FROM dataset_children c JOIN tree t ON c.parent_id = t.id
			WHERE t.depth < ?
		)
		SELECT t.id, MIN(t.depth), MAX(t.depth), d.doc FROM tree t LEFT JOIN datasets d ON d.id = t.id
		GROUP BY t.id ORDER BY MIN(t.depth), t.id`, id, maxDepth)
	if err != nil {
		return nil, errors.Wrap(err, "walking descendants")
	}
	defer rows.Close()

	var out []Descendant
	for rows.Next() {
		var desc Descendant
		var doc []byte
		if err := rows.Scan(&desc.ID, &desc.Depth, &desc.Deepest, &doc); err != nil {
			return nil, errors.Wrap(err, "scanning descendant")
		}
		if doc != nil {
			if desc.Dataset, err = decodeDataset(doc); err != nil {
				return nil, err
			}
		}
		out = append(out, desc)
	}
	return out, errors.Wrap(rows.Err(), "iterating descendants")
}

// Parents returns the ids of the virtual datasets that list id as a child.
func (s *DB) Parents(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parent_id FROM dataset_children WHERE child_id = ? ORDER BY parent_id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "querying parents")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scanning parent")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterating parents")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
