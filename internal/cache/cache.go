// Package cache stores rendered query results, vector tiles mostly, in a
// size-bounded bbolt file addressed by a hash of the query that produced
// them.
package cache

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go-dataset-pipeline/internal/metrics"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketOrder   = []byte("order")
	bucketMeta    = []byte("meta")

	keySize = []byte("size")
)

var (
	// ErrTooLarge is returned by Set for a payload that can never fit.
	ErrTooLarge = errors.New("cache: payload larger than the cache")
	// ErrClosed is returned by Set once Close was called.
	ErrClosed = errors.New("cache: closed")
)

// Key identifies a cached result. A dataset finalized again gets a new
// FinalizedAt, so its previous entries are never read again and age out.
type Key struct {
	Type        string
	DatasetID   string
	FinalizedAt *time.Time
	Query       url.Values
}

// Hash returns the hex blake3 digest of the canonical encoding of k.
// Query keys are sorted by the JSON encoder; the order of repeated values
// is kept.
func Hash(k Key) string {
	var finalizedAt string
	if k.FinalizedAt != nil {
		finalizedAt = k.FinalizedAt.UTC().Format(time.RFC3339Nano)
	}
	query := k.Query
	if query == nil {
		query = url.Values{}
	}
	canonical, _ := json.Marshal(struct {
		Type        string     `json:"type"`
		DatasetID   string     `json:"datasetId"`
		FinalizedAt string     `json:"finalizedAt"`
		Query       url.Values `json:"query"`
	}{k.Type, k.DatasetID, finalizedAt, query})

	hasher := blake3.New()
	_, _ = hasher.Write(canonical)
	var buf [16]byte
	_, _ = hasher.Digest().Read(buf[:])
	return hex.EncodeToString(buf[:])
}

// Cache is safe for concurrent use.
type Cache struct {
	db       *bolt.DB
	maxBytes int64
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	writes sync.WaitGroup
}

// Open opens or creates the cache file at path.
func Open(path string, maxBytes int64, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		return nil, errors.Errorf("invalid cache size %d", maxBytes)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open cache file %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketOrder, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return errors.Wrapf(err, "creating bucket %s", b)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, maxBytes: maxBytes, logger: logger.With("component", "cache")}, nil
}

// Close refuses new writes, waits for pending ones and closes the file.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.writes.Wait()
	return c.db.Close()
}

// Get looks k up. The hash is returned in every case so that a miss can be
// filled with Set without hashing again.
func (c *Cache) Get(k Key) (payload []byte, hash string, found bool, err error) {
	hash = Hash(k)
	err = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(hash))
		if v == nil {
			return nil
		}
		found = true
		payload = append([]byte(nil), v[8:]...)
		return nil
	})
	if err != nil {
		return nil, hash, false, errors.Wrap(err, "reading cache")
	}
	result := "miss"
	if found {
		result = "hit"
	}
	metrics.CounterCacheLookups.WithLabelValues(result).Inc()
	return payload, hash, found, nil
}

// Set stores payload under hash in the background. Failures are logged and
// counted; the returned channel receives the outcome and is buffered so
// that nobody has to read it.
func (c *Cache) Set(hash string, payload []byte) <-chan error {
	done := make(chan error, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done <- ErrClosed
		return done
	}
	c.writes.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.writes.Done()
		err := c.put(hash, payload)
		if err != nil {
			metrics.CounterCacheWriteErrors.Inc()
			c.logger.Error("failed to write cache entry", "hash", hash, "error", err)
		}
		done <- err
	}()
	return done
}

// put writes an entry and evicts the oldest ones until the total payload
// size fits again, all in one transaction.
func (c *Cache) put(hash string, payload []byte) error {
	if int64(len(payload)) > c.maxBytes {
		return ErrTooLarge
	}
	var evicted int
	err := c.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		order := tx.Bucket(bucketOrder)
		meta := tx.Bucket(bucketMeta)
		size := readSize(meta)

		if old := entries.Get([]byte(hash)); old != nil {
			if err := order.Delete(orderKey(old[:8], hash)); err != nil {
				return err
			}
			size -= int64(len(old) - 8)
		}

		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		var seqBytes [8]byte
		binary.BigEndian.PutUint64(seqBytes[:], seq)
		value := make([]byte, 0, 8+len(payload))
		value = append(append(value, seqBytes[:]...), payload...)
		if err := entries.Put([]byte(hash), value); err != nil {
			return err
		}
		if err := order.Put(orderKey(seqBytes[:], hash), nil); err != nil {
			return err
		}
		size += int64(len(payload))

		cur := order.Cursor()
		for k, _ := cur.First(); k != nil && size > c.maxBytes; k, _ = cur.First() {
			oldHash := k[8:]
			if old := entries.Get(oldHash); old != nil {
				size -= int64(len(old) - 8)
				if err := entries.Delete(oldHash); err != nil {
					return err
				}
			}
			if err := cur.Delete(); err != nil {
				return err
			}
			evicted++
		}
		return writeSize(meta, size)
	})
	if err != nil {
		return errors.Wrap(err, "writing cache entry")
	}
	if evicted > 0 {
		metrics.CounterCacheEvictions.Add(float64(evicted))
		c.logger.Debug("evicted cache entries", "count", evicted)
	}
	return nil
}

// Size returns the total payload size currently stored.
func (c *Cache) Size() (int64, error) {
	var size int64
	err := c.db.View(func(tx *bolt.Tx) error {
		size = readSize(tx.Bucket(bucketMeta))
		return nil
	})
	return size, err
}

func orderKey(seq []byte, hash string) []byte {
	k := make([]byte, 0, len(seq)+len(hash))
	return append(append(k, seq...), hash...)
}

func readSize(meta *bolt.Bucket) int64 {
	v := meta.Get(keySize)
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

func writeSize(meta *bolt.Bucket, size int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(size))
	return meta.Put(keySize, buf[:])
}
