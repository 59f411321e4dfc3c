package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"name", "name"},
		{"  first name ", "first_name"},
		{"a.b$c", "a_b_c"},
		{"lat,lon", "lat_lon"},
		{"   ", "_"},
		{"préfecture", "préfecture"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeKey(tt.in), tt.in)
	}
}

func TestUniqueKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "a_2", "a_3"}, UniqueKeys([]string{"a", "a", "a"}))
	assert.Equal(t, []string{"a", "a_2", "a_3"}, UniqueKeys([]string{"a", "a_2", "a"}))
	assert.Equal(t, []string{"x_y", "x_y_2"}, UniqueKeys([]string{"x y", "x.y"}))
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		in   interface{}
		want float64
		ok   bool
	}{
		{1, 1, true},
		{int64(2), 2, true},
		{float32(1.5), 1.5, true},
		{" 3.25 ", 3.25, true},
		{uint8(7), 7, true},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := Numeric(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "%v", tt.in)
		}
	}
}

func TestParseLatLon(t *testing.T) {
	lat, lon, ok := ParseLatLon("45.76, 4.83")
	require.True(t, ok)
	assert.Equal(t, 45.76, lat)
	assert.Equal(t, 4.83, lon)

	for _, s := range []string{"", "45.76", "1,2,3", "91,0", "0,181", "a,b"} {
		_, _, ok := ParseLatLon(s)
		assert.False(t, ok, s)
	}
}

func TestDataDir(t *testing.T) {
	dd := NewDataDir(t.TempDir())

	dir, err := dd.CreateDatasetDir("user", "alice", "d1")
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, filepath.Join(dir, "raw", "f.csv"), dd.OriginalFilePath("user", "alice", "d1", "../../f.csv"))
	assert.Equal(t, filepath.Join(dir, "full.ndjson"), dd.FullFilePath("user", "alice", "d1"))
	assert.Equal(t, dd.DatasetDir("user", "alice", "d1"), dd.DatasetDir("user", "../alice", "d1"))

	full := dd.FullFilePath("user", "alice", "d1")
	assert.False(t, FileExists(full))
	require.NoError(t, os.WriteFile(full, []byte("{}\n"), 0o644))
	assert.True(t, FileExists(full))
	assert.False(t, FileExists(dir))
	size, err := GetFileSize(full)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	require.NoError(t, dd.RemoveDatasetDir("user", "alice", "d1"))
	assert.NoDirExists(t, dir)
}

func TestGetMimeType(t *testing.T) {
	assert.Equal(t, "text/csv", GetMimeType("a.CSV"))
	assert.Equal(t, "text/tab-separated-values", GetMimeType("a.tsv"))
	assert.Equal(t, "application/octet-stream", GetMimeType("a.bin"))
}
