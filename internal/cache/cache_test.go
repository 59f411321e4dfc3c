package cache

import (
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go-dataset-pipeline/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openCache(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "cache.boltdb"), maxBytes, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHash(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	k := Key{Type: "tile", DatasetID: "d1", FinalizedAt: &at, Query: url.Values{"xyz": {"1,2,3"}, "q": {"a"}}}

	same := Key{Type: "tile", DatasetID: "d1", FinalizedAt: &at, Query: url.Values{"q": {"a"}, "xyz": {"1,2,3"}}}
	assert.Equal(t, Hash(k), Hash(same))
	assert.Len(t, Hash(k), 32)

	later := at.Add(time.Second)
	for name, other := range map[string]Key{
		"type":        {Type: "geojson", DatasetID: "d1", FinalizedAt: &at, Query: k.Query},
		"dataset":     {Type: "tile", DatasetID: "d2", FinalizedAt: &at, Query: k.Query},
		"finalizedAt": {Type: "tile", DatasetID: "d1", FinalizedAt: &later, Query: k.Query},
		"query":       {Type: "tile", DatasetID: "d1", FinalizedAt: &at, Query: url.Values{"xyz": {"1,2,4"}, "q": {"a"}}},
	} {
		assert.NotEqual(t, Hash(k), Hash(other), name)
	}

	assert.Equal(t, Hash(Key{Type: "tile"}), Hash(Key{Type: "tile", Query: url.Values{}}))
}

func TestGetSet(t *testing.T) {
	c := openCache(t, 1000)
	k := Key{Type: "tile", DatasetID: "d1", Query: url.Values{"xyz": {"0,0,0"}}}

	_, hash, found, err := c.Get(k)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Hash(k), hash)

	require.NoError(t, <-c.Set(hash, []byte("tile bytes")))
	payload, _, found, err := c.Get(k)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("tile bytes"), payload)

	require.NoError(t, <-c.Set(hash, []byte("new")))
	payload, _, _, err = c.Get(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), payload)
	size, err := c.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 3, size)
}

func TestEvictsOldestFirst(t *testing.T) {
	c := openCache(t, 25)
	payload := []byte(strings.Repeat("x", 10))
	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, <-c.Set(h, payload))
	}

	exists := func(hash string) bool {
		var found bool
		require.NoError(t, c.db.View(func(tx *bolt.Tx) error {
			found = tx.Bucket(bucketEntries).Get([]byte(hash)) != nil
			return nil
		}))
		return found
	}
	assert.False(t, exists("a"))
	assert.True(t, exists("b"))
	assert.True(t, exists("c"))
	size, err := c.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 20, size)

	// rewriting b makes it the newest entry
	require.NoError(t, <-c.Set("b", payload))
	require.NoError(t, <-c.Set("d", payload))
	assert.False(t, exists("c"))
	assert.True(t, exists("b"))
	assert.True(t, exists("d"))
}

func TestSetTooLarge(t *testing.T) {
	c := openCache(t, 4)
	assert.ErrorIs(t, <-c.Set("h", []byte("too large")), ErrTooLarge)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.boltdb")
	c, err := Open(path, 100, logger.Discard())
	require.NoError(t, err)
	c.Set("h", []byte("kept"))
	require.NoError(t, c.Close())

	c, err = Open(path, 100, logger.Discard())
	require.NoError(t, err)
	defer c.Close()
	size, err := c.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 4, size)
}

func TestSetAfterClose(t *testing.T) {
	c := openCache(t, 1<<20)

	var wg sync.WaitGroup
	results := make(chan (<-chan error), 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- c.Set(strings.Repeat("a", i+1), []byte("tile"))
		}(i)
	}
	require.NoError(t, c.Close())
	wg.Wait()
	close(results)
	for done := range results {
		if err := <-done; err != nil {
			assert.ErrorIs(t, err, ErrClosed)
		}
	}

	assert.ErrorIs(t, <-c.Set("late", []byte("tile")), ErrClosed)
	assert.NoError(t, c.Close(), "closing twice")
}
