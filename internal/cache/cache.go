// Package cache implements a content-addressable artifact cache.
//
// Entries are keyed by (digest, logical name) and stored as two files under
// the cache directory: a JSON envelope recording the input-file stamps and a
// payload checksum, and the payload itself. The envelope is self-describing
// enough that any corruption resolves to a cache miss, never a crash: the
// cache is an optimization, not a correctness dependency.
//
// Concurrency: entries for distinct keys live in distinct files and never
// block each other. Writes go through a temp file and an atomic rename, so a
// caller's own store is immediately visible to its next lookup and readers
// never observe a half-written entry.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"variant-engine/pkg/logging"
)

// Entry is one cached artifact.
type Entry struct {
	Key         Key       `json:"key"`
	LogicalName string    `json:"logical_name"`
	Payload     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

type envelope struct {
	Key         Key       `json:"key"`
	LogicalName string    `json:"logical_name"`
	PayloadSize int64     `json:"payload_size"`
	PayloadSum  string    `json:"payload_xxh64"`
	CreatedAt   time.Time `json:"created_at"`
}

// Cache is a handle to one cache directory. Construct it once at process
// start and thread it explicitly into every component that needs it; there
// is no package-level state.
type Cache struct {
	dir string
	log *logging.Logger
}

// New opens (creating if needed) the cache directory.
func New(dir string, log *logging.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	if log == nil {
		log = logging.Default("cache")
	}
	return &Cache{dir: dir, log: log}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Store writes an entry for (key, logicalName), silently overwriting any
// existing entry with the same address (idempotent).
func (c *Cache) Store(key Key, logicalName string, payload []byte) error {
	env := envelope{
		Key:         key,
		LogicalName: logicalName,
		PayloadSize: int64(len(payload)),
		PayloadSum:  fmt.Sprintf("%016x", xxhash.Sum64(payload)),
		CreatedAt:   time.Now(),
	}
	envData, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}

	if err := atomicWrite(c.payloadPath(key, logicalName), payload); err != nil {
		return err
	}
	// Envelope last: a crash between the two writes leaves a payload without
	// an envelope, which lookups treat as a plain miss.
	return atomicWrite(c.envelopePath(key, logicalName), envData)
}

// Lookup returns the entry for (key, logicalName), or a miss when no entry
// exists, any recorded input file diverged on disk, or the stored entry is
// corrupt. Misses are logged at debug level, corruption at warn.
func (c *Cache) Lookup(key Key, logicalName string) (*Entry, bool) {
	env, ok := c.readEnvelope(key, logicalName)
	if !ok {
		return nil, false
	}

	payload, err := os.ReadFile(c.payloadPath(key, logicalName))
	if err != nil {
		c.log.Warn("cache payload unreadable, treating as miss",
			"logical_name", logicalName, "key", key.Digest, "error", err.Error())
		return nil, false
	}
	if int64(len(payload)) != env.PayloadSize ||
		fmt.Sprintf("%016x", xxhash.Sum64(payload)) != env.PayloadSum {
		c.log.Warn("cache payload corrupt, treating as miss",
			"logical_name", logicalName, "key", key.Digest)
		return nil, false
	}

	c.log.CacheLog("hit", logicalName, key.Digest)
	return &Entry{
		Key:         env.Key,
		LogicalName: env.LogicalName,
		Payload:     payload,
		CreatedAt:   env.CreatedAt,
	}, true
}

// Contains is the hash-only mode of Lookup: it answers the invalidation
// question without materializing the payload.
func (c *Cache) Contains(key Key, logicalName string) bool {
	_, ok := c.readEnvelope(key, logicalName)
	return ok
}

// readEnvelope loads and revalidates the envelope for (key, logicalName).
func (c *Cache) readEnvelope(key Key, logicalName string) (*envelope, bool) {
	data, err := os.ReadFile(c.envelopePath(key, logicalName))
	if err != nil {
		c.log.CacheLog("miss", logicalName, key.Digest)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("cache envelope corrupt, treating as miss",
			"logical_name", logicalName, "key", key.Digest, "error", err.Error())
		return nil, false
	}
	if env.Key.Digest != key.Digest || env.LogicalName != logicalName {
		c.log.Warn("cache envelope address mismatch, treating as miss",
			"logical_name", logicalName, "key", key.Digest)
		return nil, false
	}

	// Re-stat the recorded input files on every lookup, not only at write
	// time, so out-of-band mutation is detected.
	if !revalidate(env.Key.Files) {
		c.log.CacheLog("stale", logicalName, key.Digest)
		return nil, false
	}
	return &env, true
}

func (c *Cache) envelopePath(key Key, logicalName string) string {
	return filepath.Join(c.dir, key.Digest+"-"+sanitize(logicalName)+".json")
}

func (c *Cache) payloadPath(key Key, logicalName string) string {
	return filepath.Join(c.dir, key.Digest+"-"+sanitize(logicalName)+".payload")
}

// sanitize keeps logical names filesystem-safe.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
