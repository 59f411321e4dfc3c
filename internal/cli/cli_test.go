package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/model"
	"go-dataset-pipeline/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	dir   string
	store string
}

func newEnv(t *testing.T) env {
	dir := t.TempDir()
	return env{dir: dir, store: filepath.Join(dir, "pipeline.db")}
}

// exec runs the root command with the storage flags of e appended.
func (e env) exec(t *testing.T, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	rc := NewRootCommand(strings.NewReader(""), &stdout, &stderr)
	rc.SetArgs(append(args,
		"--data_dir", filepath.Join(e.dir, "data"),
		"--store.path", e.store,
		"--store.index_path", filepath.Join(e.dir, "index.db"),
		"--log.output", "stderr",
		"--log.level", "error",
	))
	err := rc.Execute()
	return strings.TrimSpace(stdout.String()), err
}

func (e env) dataset(t *testing.T, id string) *model.Dataset {
	db, err := store.Open(e.store)
	require.NoError(t, err)
	defer db.Close()
	d, err := db.GetDataset(context.Background(), id)
	require.NoError(t, err)
	return d
}

func writeCSV(t *testing.T, name string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("name,population\nlyon,522000\nparis,2100000\n"), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	e := newEnv(t)
	src := writeCSV(t, "cities.csv")

	out, err := e.exec(t, "load", src, "--owner", "user:alice", "--id", "cities")
	require.NoError(t, err)
	assert.Equal(t, "cities", out)

	d := e.dataset(t, "cities")
	assert.Equal(t, model.StatusLoaded, d.Status)
	assert.Equal(t, "cities", d.Title)
	assert.Equal(t, model.Owner{Type: model.OwnerUser, ID: "alice"}, d.Owner)
	require.NotNil(t, d.File)
	assert.Equal(t, "cities.csv", d.File.Name)

	raw, err := os.ReadFile(datafile.NewLayout(filepath.Join(e.dir, "data")).Original(d))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "lyon,522000")

	_, err = e.exec(t, "load", src, "--owner", "user:alice", "--id", "cities")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestLoadReplace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.exec(t, "load", writeCSV(t, "cities.csv"), "--owner", "user:alice", "--id", "cities")
	require.NoError(t, err)

	next := filepath.Join(t.TempDir(), "cities-2024.csv")
	require.NoError(t, os.WriteFile(next, []byte("name,population\nnice,342000\n"), 0o644))

	_, err = e.exec(t, "load", next, "--replace", "--id", "cities")
	assert.ErrorIs(t, err, model.ErrConflict, "still loaded")

	db, err := store.Open(e.store)
	require.NoError(t, err)
	require.NoError(t, db.SetStatus(ctx, "cities", model.StatusFinalized))
	require.NoError(t, db.Close())

	out, err := e.exec(t, "load", next, "--replace", "--id", "cities")
	require.NoError(t, err)
	assert.Equal(t, "cities", out)

	d := e.dataset(t, "cities")
	assert.Equal(t, model.StatusLoaded, d.Status)
	assert.Equal(t, "cities-2024.csv", d.File.Name)
	assert.Equal(t, "cli", d.UpdatedBy)
	raw, err := os.ReadFile(datafile.NewLayout(filepath.Join(e.dir, "data")).Original(d))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "nice,342000")

	_, err = e.exec(t, "load", next, "--replace")
	assert.ErrorContains(t, err, "--id")
	_, err = e.exec(t, "load", next, "--replace", "--id", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLoadGeneratesID(t *testing.T) {
	e := newEnv(t)
	out, err := e.exec(t, "load", writeCSV(t, "towns.csv"), "--owner", "organization:acme", "--title", "Towns")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "Towns", e.dataset(t, out).Title)
}

func TestLoadErrors(t *testing.T) {
	e := newEnv(t)
	src := writeCSV(t, "cities.csv")

	_, err := e.exec(t, "load", src, "--owner", "alice")
	assert.ErrorContains(t, err, "invalid owner")

	_, err = e.exec(t, "load", src, "--owner", "team:alice")
	assert.ErrorContains(t, err, "invalid owner")

	_, err = e.exec(t, "load", filepath.Join(t.TempDir(), "missing.csv"), "--owner", "user:alice")
	assert.ErrorContains(t, err, "opening source file")

	_, err = e.exec(t, "load", src)
	assert.ErrorContains(t, err, "owner")
}

func TestVirtual(t *testing.T) {
	e := newEnv(t)
	_, err := e.exec(t, "load", writeCSV(t, "a.csv"), "--owner", "user:alice", "--id", "a")
	require.NoError(t, err)
	_, err = e.exec(t, "load", writeCSV(t, "b.csv"), "--owner", "user:alice", "--id", "b")
	require.NoError(t, err)

	out, err := e.exec(t, "virtual", "all", "--owner", "user:alice", "--child", "a", "--child", "b",
		"--filter", "name=lyon|paris")
	require.NoError(t, err)
	assert.Equal(t, "all", out)

	d := e.dataset(t, "all")
	assert.True(t, d.IsVirtual)
	assert.Equal(t, model.StatusIndexed, d.Status)
	require.NotNil(t, d.Virtual)
	assert.Equal(t, []string{"a", "b"}, d.Virtual.Children)
	assert.Equal(t, []model.Filter{{Field: "name", Values: []string{"lyon", "paris"}}}, d.Virtual.Filters)

	_, err = e.exec(t, "virtual", "broken", "--owner", "user:alice", "--child", "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.exec(t, "virtual", "bad", "--owner", "user:alice", "--child", "a", "--filter", "name")
	assert.ErrorContains(t, err, "invalid filter")
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	_, err := e.exec(t, "frobnicate")
	assert.Error(t, err)
}
