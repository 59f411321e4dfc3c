package virtual

import (
	"context"
	"path/filepath"
	"testing"

	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func physical(t *testing.T, db *store.DB, id string, schema ...model.Field) {
	t.Helper()
	require.NoError(t, db.InsertDataset(context.Background(), &model.Dataset{
		ID: id, Status: model.StatusFinalized, File: &model.File{Name: id + ".csv"}, Schema: schema,
	}))
}

func virtualDataset(t *testing.T, db *store.DB, id string, spec model.VirtualSpec, schema ...model.Field) {
	t.Helper()
	require.NoError(t, db.InsertDataset(context.Background(), &model.Dataset{
		ID: id, Status: model.StatusFinalized, IsVirtual: true, Virtual: &spec, Schema: schema,
	}))
}

func TestPrepareSchemaFillsFromChildren(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "c1",
		model.Field{Key: "name", Type: model.TypeString, Title: "Name", RefersTo: "http://schema.org/name"},
		model.Field{Key: "day", Type: model.TypeString, Format: model.FormatDate},
	)
	physical(t, db, "c2",
		model.Field{Key: "name", Type: model.TypeString, Description: "Full name"},
	)
	r := NewResolver(db)

	candidate := []model.Field{{Key: "name"}, {Key: "day", Title: "Day"}}
	spec := model.VirtualSpec{Children: []string{"c1", "c2"}}
	out, err := r.PrepareSchema(ctx, candidate, spec)
	require.NoError(t, err)
	assert.Equal(t, []model.Field{
		{Key: "name", Type: model.TypeString, Title: "Name", Description: "Full name", RefersTo: "http://schema.org/name"},
		{Key: "day", Type: model.TypeString, Format: model.FormatDate, Title: "Day"},
	}, out)
	assert.Equal(t, []model.Field{{Key: "name"}, {Key: "day", Title: "Day"}}, candidate, "input untouched")

	again, err := r.PrepareSchema(ctx, out, spec)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestPrepareSchemaErrors(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "c1", model.Field{Key: "n", Type: model.TypeInteger}, model.Field{Key: "d", Type: model.TypeString, Format: model.FormatDate})
	physical(t, db, "c2", model.Field{Key: "n", Type: model.TypeNumber}, model.Field{Key: "d", Type: model.TypeString})
	r := NewResolver(db)

	spec := model.VirtualSpec{Children: []string{"c1", "c2"}}
	_, err := r.PrepareSchema(ctx, []model.Field{{Key: "n"}}, spec)
	assert.ErrorIs(t, err, model.ErrTypeConflict)
	_, err = r.PrepareSchema(ctx, []model.Field{{Key: "d"}}, spec)
	assert.ErrorIs(t, err, model.ErrFormatConflict)
	_, err = r.PrepareSchema(ctx, []model.Field{{Key: "nope"}}, spec)
	assert.ErrorIs(t, err, model.ErrUnknownField)
	_, err = r.PrepareSchema(ctx, []model.Field{{Key: "n"}}, model.VirtualSpec{Children: []string{"missing"}})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPrepareSchemaBlacklist(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "grandchild", model.Field{Key: "secret", Type: model.TypeString}, model.Field{Key: "name", Type: model.TypeString})
	virtualDataset(t, db, "child", model.VirtualSpec{Children: []string{"grandchild"}}, model.Field{Key: "name", Type: model.TypeString})
	// another child exposes the same key openly
	physical(t, db, "other", model.Field{Key: "secret", Type: model.TypeString})
	r := NewResolver(db)

	spec := model.VirtualSpec{Children: []string{"child", "other"}}
	_, err := r.PrepareSchema(ctx, []model.Field{{Key: "secret"}}, spec)
	assert.ErrorIs(t, err, model.ErrBlacklistedField)

	out, err := r.PrepareSchema(ctx, []model.Field{{Key: "name"}}, spec)
	require.NoError(t, err)
	assert.Equal(t, model.TypeString, out[0].Type)
}

func TestPrepareSchemaMaxDepth(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	virtualDataset(t, db, "a", model.VirtualSpec{Children: []string{"b"}}, model.Field{Key: "x", Type: model.TypeString})
	virtualDataset(t, db, "b", model.VirtualSpec{Children: []string{"a"}}, model.Field{Key: "x", Type: model.TypeString})
	_, err := NewResolver(db).PrepareSchema(ctx, []model.Field{{Key: "x"}}, model.VirtualSpec{Children: []string{"a"}})
	assert.ErrorIs(t, err, model.ErrMaxDepth)
}

func TestResolveDescendants(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "p1")
	physical(t, db, "p2")
	virtualDataset(t, db, "v1", model.VirtualSpec{Children: []string{"p2"}})
	virtualDataset(t, db, "top", model.VirtualSpec{Children: []string{"p1", "v1", "ghost"}})
	r := NewResolver(db)

	top, err := db.GetDataset(ctx, "top")
	require.NoError(t, err)
	ids, err := r.ResolveDescendants(ctx, top)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
}

func TestResolveDescendantsErrors(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "p1")
	virtualDataset(t, db, "filtered", model.VirtualSpec{
		Children: []string{"p1"},
		Filters:  []model.Filter{{Field: "kind", Values: []string{"a"}}},
	})
	virtualDataset(t, db, "top", model.VirtualSpec{Children: []string{"filtered"}})
	virtualDataset(t, db, "empty", model.VirtualSpec{Children: []string{"ghost"}})
	r := NewResolver(db)

	top, err := db.GetDataset(ctx, "top")
	require.NoError(t, err)
	_, err = r.ResolveDescendants(ctx, top)
	assert.ErrorIs(t, err, model.ErrFilteredDescendant)

	// filters on the dataset itself are fine
	filtered, err := db.GetDataset(ctx, "filtered")
	require.NoError(t, err)
	ids, err := r.ResolveDescendants(ctx, filtered)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)

	empty, err := db.GetDataset(ctx, "empty")
	require.NoError(t, err)
	_, err = r.ResolveDescendants(ctx, empty)
	assert.ErrorIs(t, err, model.ErrNoPhysicalDescendants)
}

func TestResolveDescendantsDepth(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "leaf")
	child := "leaf"
	for i := 0; i < MaxDepth+1; i++ {
		id := "v" + string(rune('a'+i))
		virtualDataset(t, db, id, model.VirtualSpec{Children: []string{child}})
		child = id
	}
	root, err := db.GetDataset(ctx, child)
	require.NoError(t, err)
	_, err = NewResolver(db).ResolveDescendants(ctx, root)
	assert.ErrorIs(t, err, model.ErrMaxDepth)
}

func TestResolveDescendantsCycle(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	physical(t, db, "p1")
	virtualDataset(t, db, "a", model.VirtualSpec{Children: []string{"b"}})
	virtualDataset(t, db, "b", model.VirtualSpec{Children: []string{"a", "p1"}})

	a, err := db.GetDataset(ctx, "a")
	require.NoError(t, err)
	ids, err := NewResolver(db).ResolveDescendants(ctx, a)
	assert.ErrorIs(t, err, model.ErrMaxDepth)
	assert.Nil(t, ids)
}
