// Package resultcache persists profiling result payloads in a best-effort,
// size-bounded key-value store. Payloads are compressed and split into
// chunks that fit under the store's per-item limit; a chunk written at
// exactly the chunk size signals that another chunk follows.
package resultcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
)

// SafetyMargin keeps chunks comfortably below the store's hard limit to
// avoid any chance of off-by-one errors at the boundary.
const SafetyMargin = 1024

var (
	// ErrNotFound covers missing keys, evicted entries and corrupt chunk
	// sequences alike: callers cannot and need not tell them apart.
	ErrNotFound = errors.New("result not found")

	// ErrValueTooLarge is returned by stores when a value exceeds the
	// per-item limit.
	ErrValueTooLarge = errors.New("value exceeds store limit")

	errEmptyKey = errors.New("empty cache key")
)

type (
	// Store is the backing key-value store. Retention is best effort:
	// entries may be silently evicted and Get must return ErrNotFound for
	// anything missing.
	Store interface {
		Get(ctx context.Context, key string) ([]byte, error)
		Set(ctx context.Context, key string, value []byte) error
		// MaxValueSize is the hard per-item payload bound.
		MaxValueSize() int
	}

	// Cache stores payloads of arbitrary size over a bounded Store.
	Cache struct {
		store     Store
		chunkSize int
	}
)

// New returns a cache chunking at the store's limit minus the safety
// margin.
func New(store Store) *Cache {
	chunkSize := store.MaxValueSize() - SafetyMargin
	if chunkSize < 1 {
		chunkSize = store.MaxValueSize()
	}
	return &Cache{store: store, chunkSize: chunkSize}
}

// Store compresses payload and writes it under key as consecutive chunks
// named key_0, key_1, ... A partial write leaves a truncated chunk
// sequence behind; a later Fetch treats it as not found, so the entry is
// lost rather than silently corrupted.
func (c *Cache) Store(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return errEmptyKey
	}
	compressed, err := compress(payload)
	if err != nil {
		return err
	}
	for i := 0; i*c.chunkSize < len(compressed) || i == 0; i++ {
		start := i * c.chunkSize
		end := start + c.chunkSize
		if end > len(compressed) {
			end = len(compressed)
		}
		if err := c.store.Set(ctx, chunkKey(key, i), compressed[start:end]); err != nil {
			return fmt.Errorf("writing chunk %d: %w", i, err)
		}
	}
	return nil
}

// Fetch reads chunk 0 and keeps reading as long as each chunk comes back
// full-length, then concatenates and decompresses. A missing first chunk,
// an empty key or undecompressable data all yield ErrNotFound.
func (c *Cache) Fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	var compressed []byte
	for i := 0; ; i++ {
		chunk, err := c.store.Get(ctx, chunkKey(key, i))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// A missing chunk terminates the read like a short one.
				break
			}
			return nil, err
		}
		compressed = append(compressed, chunk...)
		if len(chunk) < c.chunkSize {
			break
		}
	}
	if len(compressed) == 0 {
		return nil, ErrNotFound
	}
	payload, err := decompress(compressed)
	if err != nil {
		// Corrupt or partially evicted sequences must not crash readers.
		return nil, ErrNotFound
	}
	return payload, nil
}

// StoreJSON marshals v and stores it under key.
func (c *Cache) StoreJSON(ctx context.Context, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Store(ctx, key, payload)
}

// FetchJSON fetches key and unmarshals it into v.
func (c *Cache) FetchJSON(ctx context.Context, key string, v interface{}) error {
	payload, err := c.Fetch(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return ErrNotFound
	}
	return nil
}

func chunkKey(key string, index int) string {
	return fmt.Sprintf("%s_%d", key, index)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
