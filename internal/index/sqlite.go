package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go-dataset-pipeline/internal/model"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var generationName = regexp.MustCompile(`^gen_[0-9a-f]{32}$`)

// ErrNoIndex is returned when a target dataset has no published alias.
var ErrNoIndex = errors.New("dataset is not indexed")

// SQLiteEngine implements Engine with one table per generation.
type SQLiteEngine struct {
	db *sql.DB
}

var _ Engine = (*SQLiteEngine)(nil)

// OpenSQLite opens the index database at path.
func OpenSQLite(path string) (*SQLiteEngine, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS aliases (
		dataset_id TEXT PRIMARY KEY,
		generation TEXT NOT NULL
	);`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating aliases table")
	}
	return &SQLiteEngine{db: db}, nil
}

// Close closes the index database.
func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

func checkGeneration(generation string) error {
	if !generationName.MatchString(generation) {
		return errors.Errorf("invalid generation name %q", generation)
	}
	return nil
}

func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// CreateGeneration creates an empty, unpublished generation.
func (e *SQLiteEngine) CreateGeneration(ctx context.Context, datasetID string) (string, error) {
	generation := "gen_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	_, err := e.db.ExecContext(ctx, `CREATE TABLE `+generation+` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc TEXT NOT NULL,
		min_lon REAL, min_lat REAL, max_lon REAL, max_lat REAL
	)`)
	if err != nil {
		return "", errors.Wrapf(err, "creating generation for %s", datasetID)
	}
	return generation, nil
}

// BulkIndex appends docs to generation in one transaction.
func (e *SQLiteEngine) BulkIndex(ctx context.Context, generation string, docs []Document) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning bulk")
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+generation+` (doc, min_lon, min_lat, max_lon, max_lat) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing bulk")
	}
	defer stmt.Close()
	for _, d := range docs {
		src, err := json.Marshal(d.Source)
		if err != nil {
			return errors.Wrap(err, "encoding document")
		}
		b := boundsArgs(d.Bounds)
		if _, err := stmt.ExecContext(ctx, src, b[0], b[1], b[2], b[3]); err != nil {
			return errors.Wrap(err, "indexing document")
		}
	}
	return errors.Wrap(tx.Commit(), "committing bulk")
}

func boundsArgs(b *model.BBox) [4]any {
	if b == nil {
		return [4]any{nil, nil, nil, nil}
	}
	return [4]any{b[0], b[1], b[2], b[3]}
}

// SwitchAlias publishes generation as the index of datasetID and drops
// the generation it replaces, in a single transaction.
func (e *SQLiteEngine) SwitchAlias(ctx context.Context, datasetID, generation string) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning alias switch")
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT generation FROM aliases WHERE dataset_id = ?`, datasetID).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "reading alias")
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO aliases (dataset_id, generation) VALUES (?, ?)
		ON CONFLICT(dataset_id) DO UPDATE SET generation = excluded.generation`, datasetID, generation)
	if err != nil {
		return errors.Wrap(err, "writing alias")
	}
	if previous != "" && previous != generation && checkGeneration(previous) == nil {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+previous); err != nil {
			return errors.Wrap(err, "dropping previous generation")
		}
	}
	return errors.Wrap(tx.Commit(), "committing alias switch")
}

// DeleteGeneration drops an unpublished generation.
func (e *SQLiteEngine) DeleteGeneration(ctx context.Context, generation string) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	_, err := e.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+generation)
	return errors.Wrap(err, "dropping generation")
}

// DeleteAlias unpublishes the index of datasetID and drops its generation.
func (e *SQLiteEngine) DeleteAlias(ctx context.Context, datasetID string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning alias deletion")
	}
	defer tx.Rollback()
	var generation string
	err = tx.QueryRowContext(ctx, `SELECT generation FROM aliases WHERE dataset_id = ?`, datasetID).Scan(&generation)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading alias")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM aliases WHERE dataset_id = ?`, datasetID); err != nil {
		return errors.Wrap(err, "deleting alias")
	}
	if checkGeneration(generation) == nil {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+generation); err != nil {
			return errors.Wrap(err, "dropping generation")
		}
	}
	return errors.Wrap(tx.Commit(), "committing alias deletion")
}

// resolve maps dataset ids to the generation tables behind their alias.
func (e *SQLiteEngine) resolve(ctx context.Context, targets []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, errors.New("no index target")
	}
	tables := make([]string, 0, len(targets))
	for _, t := range targets {
		var generation string
		err := e.db.QueryRowContext(ctx, `SELECT generation FROM aliases WHERE dataset_id = ?`, t).Scan(&generation)
		if err == sql.ErrNoRows {
			return nil, errors.Wrapf(ErrNoIndex, "dataset %s", t)
		}
		if err != nil {
			return nil, errors.Wrap(err, "resolving alias")
		}
		if err := checkGeneration(generation); err != nil {
			return nil, err
		}
		tables = append(tables, generation)
	}
	return tables, nil
}

// union returns a subquery selecting every row of tables.
func union(tables []string) string {
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = `SELECT doc, min_lon, min_lat, max_lon, max_lat FROM ` + t
	}
	return "(" + strings.Join(parts, " UNION ALL ") + ")"
}

// Count returns the number of rows indexed for targets.
func (e *SQLiteEngine) Count(ctx context.Context, targets []string) (int64, error) {
	tables, err := e.resolve(ctx, targets)
	if err != nil {
		return 0, err
	}
	var n int64
	err = e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+union(tables)).Scan(&n)
	return n, errors.Wrap(err, "counting")
}

// ValuesAgg returns the distinct value count of field and its size most
// frequent values.
func (e *SQLiteEngine) ValuesAgg(ctx context.Context, targets []string, field model.Field, size int) (*ValuesAgg, error) {
	tables, err := e.resolve(ctx, targets)
	if err != nil {
		return nil, err
	}
	values := `(SELECT json_extract(doc, ?) AS v FROM ` + union(tables) + `) WHERE v IS NOT NULL`
	path := jsonPath(field.Key)

	res := &ValuesAgg{Aggs: []Bucket{}}
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT v) FROM `+values, path).Scan(&res.TotalValues); err != nil {
		return nil, errors.Wrapf(err, "counting values of %s", field.Key)
	}
	rows, err := e.db.QueryContext(ctx, `SELECT v, COUNT(*) AS c FROM `+values+` GROUP BY v ORDER BY c DESC, v ASC LIMIT ?`, path, size)
	if err != nil {
		return nil, errors.Wrapf(err, "aggregating values of %s", field.Key)
	}
	defer rows.Close()
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Value, &b.Total); err != nil {
			return nil, errors.Wrap(err, "scanning bucket")
		}
		b.Value = typedValue(b.Value, field.Type)
		res.Aggs = append(res.Aggs, b)
	}
	return res, errors.Wrap(rows.Err(), "iterating buckets")
}

// typedValue converts a value read back from sqlite to the field type.
func typedValue(v any, typ string) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int64:
		switch typ {
		case model.TypeBoolean:
			return x != 0
		case model.TypeNumber:
			return float64(x)
		}
	}
	return v
}

// BBoxAgg returns the bounding box of all geolocated rows, nil if none.
func (e *SQLiteEngine) BBoxAgg(ctx context.Context, targets []string) (*model.BBox, error) {
	tables, err := e.resolve(ctx, targets)
	if err != nil {
		return nil, err
	}
	var minLon, minLat, maxLon, maxLat sql.NullFloat64
	err = e.db.QueryRowContext(ctx, `SELECT MIN(min_lon), MIN(min_lat), MAX(max_lon), MAX(max_lat) FROM `+
		union(tables)+` WHERE min_lon IS NOT NULL`).Scan(&minLon, &minLat, &maxLon, &maxLat)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating bounding box")
	}
	if !minLon.Valid {
		return nil, nil
	}
	return &model.BBox{minLon.Float64, minLat.Float64, maxLon.Float64, maxLat.Float64}, nil
}

// Search returns one page of rows of targets matching q.
func (e *SQLiteEngine) Search(ctx context.Context, targets []string, q Query) (*SearchResult, error) {
	tables, err := e.resolve(ctx, targets)
	if err != nil {
		return nil, err
	}
	var where []string
	var args []any
	if q.Q != "" {
		where = append(where, `doc LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscape(q.Q)+"%")
	}
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := q.Filters[k]
		if len(values) == 0 {
			continue
		}
		marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
		where = append(where, `CAST(json_extract(doc, ?) AS TEXT) IN (`+marks+`)`)
		args = append(args, jsonPath(k))
		for _, v := range values {
			args = append(args, v)
		}
	}
	if q.BBox != nil {
		where = append(where, `max_lon >= ? AND min_lon <= ? AND max_lat >= ? AND min_lat <= ?`)
		args = append(args, q.BBox[0], q.BBox[2], q.BBox[1], q.BBox[3])
	}
	from := ` FROM ` + union(tables)
	if len(where) > 0 {
		from += ` WHERE ` + strings.Join(where, " AND ")
	}

	res := &SearchResult{Hits: []map[string]any{}}
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from, args...).Scan(&res.Total); err != nil {
		return nil, errors.Wrap(err, "counting hits")
	}

	order := ""
	if q.Sort != "" {
		key, dir := q.Sort, "ASC"
		if strings.HasPrefix(key, "-") {
			key, dir = key[1:], "DESC"
		}
		order = ` ORDER BY json_extract(doc, ?) ` + dir
		args = append(args, jsonPath(key))
	}
	size := q.Size
	if size <= 0 {
		size = 12
	}
	rows, err := e.db.QueryContext(ctx, `SELECT doc`+from+order+` LIMIT ? OFFSET ?`, append(args, size, q.Skip)...)
	if err != nil {
		return nil, errors.Wrap(err, "searching")
	}
	defer rows.Close()
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "scanning hit")
		}
		var hit map[string]any
		if err := json.Unmarshal(doc, &hit); err != nil {
			return nil, errors.Wrap(err, "decoding hit")
		}
		res.Hits = append(res.Hits, project(hit, q.Select))
	}
	return res, errors.Wrap(rows.Err(), "iterating hits")
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func project(hit map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return hit
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := hit[f]; ok {
			out[f] = v
		}
	}
	return out
}

// ExtendCalculated rewrites every row published for datasetID through fn
// and stores the returned bounds, in one transaction.
func (e *SQLiteEngine) ExtendCalculated(ctx context.Context, datasetID string, fn CalculateFunc) error {
	tables, err := e.resolve(ctx, []string{datasetID})
	if err != nil {
		return err
	}
	table := tables[0]

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning calculated pass")
	}
	defer tx.Rollback()

	type row struct {
		id  int64
		doc []byte
	}
	var all []row
	rows, err := tx.QueryContext(ctx, `SELECT id, doc FROM `+table+` ORDER BY id`)
	if err != nil {
		return errors.Wrap(err, "reading rows")
	}
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.doc); err != nil {
			rows.Close()
			return errors.Wrap(err, "scanning row")
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating rows")
	}

	stmt, err := tx.PrepareContext(ctx, `UPDATE `+table+` SET doc = ?, min_lon = ?, min_lat = ?, max_lon = ?, max_lat = ? WHERE id = ?`)
	if err != nil {
		return errors.Wrap(err, "preparing update")
	}
	defer stmt.Close()
	for _, r := range all {
		var src map[string]any
		if err := json.Unmarshal(r.doc, &src); err != nil {
			return errors.Wrap(err, "decoding row")
		}
		bounds, err := fn(src)
		if err != nil {
			return err
		}
		doc, err := json.Marshal(src)
		if err != nil {
			return errors.Wrap(err, "encoding row")
		}
		b := boundsArgs(bounds)
		if _, err := stmt.ExecContext(ctx, doc, b[0], b[1], b[2], b[3], r.id); err != nil {
			return errors.Wrap(err, "updating row")
		}
	}
	return errors.Wrap(tx.Commit(), "committing calculated pass")
}
