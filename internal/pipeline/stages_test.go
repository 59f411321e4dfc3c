package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/index"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"
	"go-dataset-pipeline/internal/virtual"
	"go-dataset-pipeline/pkg/logger"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conceptName = "http://schema.org/name"

type env struct {
	db     *store.DB
	engine *index.SQLiteEngine
	layout datafile.Layout
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	engine, err := index.OpenSQLite(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return &env{db: db, engine: engine, layout: datafile.NewLayout(filepath.Join(dir, "data"))}
}

// load stores a raw file and inserts a loaded dataset for it.
func (e *env) load(t *testing.T, id, content string, exts ...model.Extension) *model.Dataset {
	t.Helper()
	d := &model.Dataset{
		ID:         id,
		Title:      id,
		Owner:      model.Owner{Type: model.OwnerUser, ID: "u1"},
		File:       &model.File{Name: id + ".csv"},
		Status:     model.StatusLoaded,
		Extensions: exts,
	}
	path, err := e.layout.Prepare(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, e.db.InsertDataset(context.Background(), d))
	return d
}

// step runs stage on the stored dataset and applies its patch.
func (e *env) step(t *testing.T, stage Stage, id string) *model.Dataset {
	t.Helper()
	ctx := context.Background()
	d, err := e.db.GetDataset(ctx, id)
	require.NoError(t, err)
	require.True(t, stage.Filter().Match(d), "dataset %s in status %s not eligible for %s", id, d.Status, stage.Name())
	p, err := stage.Process(ctx, d)
	require.NoError(t, err)
	d, err = e.db.PatchDataset(ctx, id, p)
	require.NoError(t, err)
	return d
}

func (e *env) stages() (analyze, schematize Stage, extend *ExtendStage, idx, finalize Stage) {
	l := logger.Discard()
	return &AnalyzeStage{Layout: e.layout, Logger: l},
		&SchematizeStage{Layout: e.layout, Logger: l},
		&ExtendStage{Services: e.db, Extender: upperExtender{layout: e.layout}, Logger: l},
		&IndexStage{Layout: e.layout, Engine: e.engine, Logger: l},
		&FinalizeStage{Engine: e.engine, Resolver: virtual.NewResolver(e.db), Logger: l}
}

// upperExtender upper-cases the name concept of every row.
type upperExtender struct {
	layout datafile.Layout
	fail   bool
}

func (u upperExtender) Extend(ctx context.Context, d *model.Dataset, svc *model.RemoteService, action *model.Action) error {
	return ExtendRows(ctx, u.layout, d, svc, action, 2, func(ctx context.Context, inputs []map[string]any) ([]map[string]any, error) {
		if u.fail {
			return nil, errors.New("remote is down")
		}
		out := make([]map[string]any, len(inputs))
		for i, in := range inputs {
			name, _ := in[conceptName].(string)
			out[i] = map[string]any{"upper": strings.ToUpper(name)}
		}
		return out, nil
	})
}

var upperService = &model.RemoteService{
	ID:     "svc",
	Title:  "Upper",
	Server: "http://localhost",
	Actions: []model.Action{{
		ID:     "up",
		Path:   "/up",
		Input:  []string{conceptName},
		Output: []model.Field{{Key: "upper", Type: model.TypeString, Title: "Upper name"}},
	}},
}

const cities = "name;lat;lon;kind\nparis;48.85;2.35;big\nlyon;45.76;4.83;big\nmarseille;43.3;5.37;port\n"

func TestStagesEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.db.PutRemoteService(ctx, upperService))
	e.load(t, "cities", cities,
		model.Extension{RemoteService: "svc", Action: "up", Active: true},
		model.Extension{RemoteService: "unknown", Action: "x", Active: true},
	)
	analyze, schematize, extend, idx, finalize := e.stages()

	d := e.step(t, analyze, "cities")
	assert.Equal(t, model.StatusAnalyzed, d.Status)
	assert.Equal(t, ";", d.File.Props.Delimiter)
	assert.Equal(t, datafile.EncodingUTF8, d.File.Encoding)
	assert.Equal(t, "text/csv", d.File.MimeType)
	require.Len(t, d.File.Schema, 4)
	assert.Equal(t, "kind", d.File.Schema[3].OriginalName)

	d = e.step(t, schematize, "cities")
	assert.Equal(t, model.StatusSchematized, d.Status)
	types := map[string]string{}
	for _, f := range d.Schema {
		types[f.Key] = f.Type
	}
	assert.Equal(t, map[string]string{"name": "string", "lat": "number", "lon": "number", "kind": "string"}, types)

	// concepts are set by users between stages
	schema := model.CloneSchema(d.Schema)
	for i := range schema {
		switch schema[i].Key {
		case "name":
			schema[i].RefersTo = conceptName
		case "lat":
			schema[i].RefersTo = model.ConceptLatitude
		case "lon":
			schema[i].RefersTo = model.ConceptLongitude
		}
	}
	_, err := e.db.PatchDataset(ctx, "cities", &model.Patch{Schema: schema})
	require.NoError(t, err)

	d = e.step(t, extend, "cities")
	assert.Equal(t, model.StatusExtended, d.Status)
	ext, ok := model.FieldByKey(d.Schema, "_ext_svc_up.upper")
	require.True(t, ok)
	assert.Equal(t, "svc/up", ext.Extension)
	assert.True(t, e.layout.HasFull(d))

	d = e.step(t, idx, "cities")
	assert.Equal(t, model.StatusIndexed, d.Status)
	assert.EqualValues(t, 3, d.Count)

	d = e.step(t, finalize, "cities")
	assert.Equal(t, model.StatusFinalized, d.Status)
	require.NotNil(t, d.FinalizedAt)
	require.NotNil(t, d.BBox)
	assert.Equal(t, model.BBox{2.35, 43.3, 5.37, 48.85}, *d.BBox)

	name, _ := model.FieldByKey(d.Schema, "name")
	assert.EqualValues(t, 3, name.Cardinality, "unique values")
	assert.Equal(t, []any{"lyon", "marseille", "paris"}, name.Enum)
	kind, _ := model.FieldByKey(d.Schema, "kind")
	assert.EqualValues(t, 2, kind.Cardinality)
	assert.Equal(t, []any{"big", "port"}, kind.Enum)
	_, ok = model.FieldByKey(d.Schema, model.KeyGeopoint)
	assert.True(t, ok)
	ext, _ = model.FieldByKey(d.Schema, "_ext_svc_up.upper")
	assert.Zero(t, ext.Cardinality, "internal fields are not aggregated")

	res, err := e.engine.Search(ctx, []string{"cities"}, index.Query{Filters: map[string][]string{"name": {"lyon"}}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "LYON", res.Hits[0]["_ext_svc_up.upper"])
	assert.Equal(t, "45.76,4.83", res.Hits[0][model.KeyGeopoint])
	assert.Equal(t, 45.76, res.Hits[0]["lat"])

	// a new file re-arms the pipeline and drops the extended rows
	_, err = e.db.PatchDataset(ctx, "cities", model.StatusPatch(model.StatusLoaded))
	require.NoError(t, err)
	d = e.step(t, analyze, "cities")
	assert.False(t, e.layout.HasFull(d))
	d = e.step(t, schematize, "cities")
	_, ok = model.FieldByKey(d.Schema, "_ext_svc_up.upper")
	assert.True(t, ok, "extension fields survive schematization")
}

func TestSchematizeEmptySampleIsFatal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.load(t, "empty", "a,b\n")
	analyze, schematize, _, _, _ := e.stages()
	e.step(t, analyze, "empty")

	d, err := e.db.GetDataset(ctx, "empty")
	require.NoError(t, err)
	_, err = schematize.Process(ctx, d)
	assert.ErrorIs(t, err, model.ErrEmptySample)
	assert.True(t, model.IsFatal(err))
}

func TestExtendServiceFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.db.PutRemoteService(ctx, upperService))
	e.load(t, "d1", "name\nann\n", model.Extension{RemoteService: "svc", Action: "up", Active: true})
	analyze, schematize, extend, _, _ := e.stages()
	extend.Extender = upperExtender{layout: e.layout, fail: true}
	e.step(t, analyze, "d1")
	e.step(t, schematize, "d1")

	d := e.step(t, extend, "d1")
	assert.Equal(t, model.StatusExtended, d.Status)
	assert.False(t, e.layout.HasFull(d))
	_, ok := model.FieldByKey(d.Schema, "_ext_svc_up.upper")
	assert.False(t, ok)
	entries, err := os.ReadDir(filepath.Dir(e.layout.Full(d)))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".full-"), "temporary file left behind")
	}
}

func TestIndexZeroRows(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.load(t, "d1", "a\n1\n")
	analyze, schematize, _, idx, _ := e.stages()
	e.step(t, analyze, "d1")
	e.step(t, schematize, "d1")
	_, err := e.db.PatchDataset(ctx, "d1", model.StatusPatch(model.StatusExtended))
	require.NoError(t, err)
	d := e.step(t, idx, "d1")
	assert.EqualValues(t, 1, d.Count)

	// the index stage also accepts schematized datasets
	require.NoError(t, os.WriteFile(e.layout.Original(d), []byte("a\n"), 0o644))
	d, err = e.db.PatchDataset(ctx, "d1", model.StatusPatch(model.StatusSchematized))
	require.NoError(t, err)
	p, err := idx.Process(ctx, d)
	require.NoError(t, err)
	assert.EqualValues(t, 0, *p.Count)
	n, err := e.engine.Count(ctx, []string{"d1"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// failingEngine fails bulk indexing and records dropped generations.
type failingEngine struct {
	index.Engine
	dropped []string
}

func (f *failingEngine) BulkIndex(ctx context.Context, generation string, docs []index.Document) error {
	return errors.New("engine unavailable")
}

func (f *failingEngine) DeleteGeneration(ctx context.Context, generation string) error {
	f.dropped = append(f.dropped, generation)
	return f.Engine.DeleteGeneration(ctx, generation)
}

func TestIndexFailureDropsGeneration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.load(t, "d1", "a\n1\n2\n")
	analyze, schematize, _, _, _ := e.stages()
	e.step(t, analyze, "d1")
	d := e.step(t, schematize, "d1")

	engine := &failingEngine{Engine: e.engine}
	stage := &IndexStage{Layout: e.layout, Engine: engine, Logger: logger.Discard()}
	_, err := stage.Process(ctx, d)
	require.Error(t, err)
	assert.True(t, model.IsFatal(err))
	assert.Len(t, engine.dropped, 1)
	_, err = e.engine.Count(ctx, []string{"d1"})
	assert.ErrorIs(t, err, index.ErrNoIndex, "alias untouched")
}

func TestFinalizeKeepsUpdatedStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.load(t, "d1", "a\nx\nx\n")
	analyze, schematize, _, idx, finalize := e.stages()
	e.step(t, analyze, "d1")
	e.step(t, schematize, "d1")
	_, err := e.db.PatchDataset(ctx, "d1", model.StatusPatch(model.StatusExtended))
	require.NoError(t, err)
	d := e.step(t, idx, "d1")

	p, err := finalize.Process(ctx, d)
	require.NoError(t, err)
	// data written while finalizing
	at := d.UpdatedAt.Add(time.Second)
	_, err = e.db.PatchDataset(ctx, "d1", &model.Patch{Status: model.StatusUpdated, UpdatedAt: &at, UpdatedBy: "api"})
	require.NoError(t, err)
	d, err = e.db.PatchDataset(ctx, "d1", p)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUpdated, d.Status)
	require.NotNil(t, d.FinalizedAt)
	a, _ := model.FieldByKey(d.Schema, "a")
	assert.EqualValues(t, 2, a.Cardinality, "constant field gets the row count")
	assert.Equal(t, []any{"x"}, a.Enum)
	assert.Nil(t, d.BBox)

	// the next pass finalizes it
	d = e.step(t, finalize, "d1")
	assert.Equal(t, model.StatusFinalized, d.Status)
}

func TestFinalizeRestHasNoEnum(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.load(t, "d1", "a\nx\ny\ny\n")
	analyze, schematize, _, idx, finalize := e.stages()
	e.step(t, analyze, "d1")
	e.step(t, schematize, "d1")
	_, err := e.db.PatchDataset(ctx, "d1", model.StatusPatch(model.StatusExtended))
	require.NoError(t, err)
	d := e.step(t, idx, "d1")
	d.IsRest = true

	p, err := finalize.Process(ctx, d)
	require.NoError(t, err)
	a, _ := model.FieldByKey(p.Schema, "a")
	assert.EqualValues(t, 2, a.Cardinality)
	assert.Nil(t, a.Enum)
}

func TestSchematizeMixedSampleIsString(t *testing.T) {
	e := newEnv(t)
	e.load(t, "mixed", "a\n1\n2\nx\n")
	analyze, schematize, _, _, _ := e.stages()
	e.step(t, analyze, "mixed")

	d := e.step(t, schematize, "mixed")
	a, ok := model.FieldByKey(d.Schema, "a")
	require.True(t, ok)
	assert.Equal(t, model.TypeString, a.Type)
}

func TestFinalizeEnumSize(t *testing.T) {
	tests := []struct {
		distinct int
		enum     bool
	}{
		{EnumSize, true},
		{EnumSize + 1, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.distinct), func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			var b strings.Builder
			b.WriteString("a\n")
			for i := 0; i < tt.distinct; i++ {
				// twice each so that no value is unique
				fmt.Fprintf(&b, "k%d\nk%d\n", i, i)
			}
			e.load(t, "d1", b.String())
			analyze, schematize, _, idx, finalize := e.stages()
			e.step(t, analyze, "d1")
			e.step(t, schematize, "d1")
			_, err := e.db.PatchDataset(ctx, "d1", model.StatusPatch(model.StatusExtended))
			require.NoError(t, err)
			e.step(t, idx, "d1")

			d := e.step(t, finalize, "d1")
			a, _ := model.FieldByKey(d.Schema, "a")
			assert.EqualValues(t, tt.distinct, a.Cardinality)
			if tt.enum {
				assert.Len(t, a.Enum, tt.distinct)
			} else {
				assert.Nil(t, a.Enum)
			}
		})
	}
}

func TestFinalizeVirtual(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	analyze, schematize, _, idx, finalize := e.stages()
	for _, id := range []string{"c1", "c2"} {
		e.load(t, id, "kind\nx\ny\n")
		e.step(t, analyze, id)
		e.step(t, schematize, id)
		_, err := e.db.PatchDataset(ctx, id, model.StatusPatch(model.StatusExtended))
		require.NoError(t, err)
		e.step(t, idx, id)
	}
	require.NoError(t, e.db.InsertDataset(ctx, &model.Dataset{
		ID:        "v",
		Status:    model.StatusIndexed,
		IsVirtual: true,
		Virtual:   &model.VirtualSpec{Children: []string{"c1", "c2"}},
		Schema:    []model.Field{{Key: "kind", Type: model.TypeString}},
	}))

	d := e.step(t, finalize, "v")
	assert.Equal(t, model.StatusFinalized, d.Status)
	assert.EqualValues(t, 4, d.Count)
	kind, _ := model.FieldByKey(d.Schema, "kind")
	assert.EqualValues(t, 2, kind.Cardinality)

	require.NoError(t, e.db.InsertDataset(ctx, &model.Dataset{
		ID: "empty", Status: model.StatusIndexed, IsVirtual: true, Virtual: &model.VirtualSpec{},
	}))
	d, err := e.db.GetDataset(ctx, "empty")
	require.NoError(t, err)
	_, err = finalize.Process(ctx, d)
	assert.ErrorIs(t, err, model.ErrNoPhysicalDescendants)
	assert.True(t, model.IsFatal(err))
}
