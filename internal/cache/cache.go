// Package cache records the content hash of every file a fetch wrote, so that
// later fetches can tell untouched files from local edits.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache is a directory holding one file per key with the hex hash recorded by
// the last successful fetch
type Cache struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// State describes a local file relative to its cache record
type State struct {
	// Exists is true when the local file is present
	Exists bool
	// LocalHash is the hash of the local file, empty when it does not exist
	LocalHash string
	// Recorded is the hash stored in the cache, empty when there is no record
	Recorded string
}

// Modified reports whether the local file was edited since it was fetched.
// A file without a record counts as modified: nothing proves it came from us.
func (s State) Modified() bool {
	return s.Exists && s.LocalHash != s.Recorded
}

// New creates a cache rooted at dir. The directory is created on first write.
func New(dir string) *Cache {
	return &Cache{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Key derives the cache key from a destination path relative to the work-tree
// root, e.g. "vendor/lib/util.go" becomes "vendor_lib_util.go"
func Key(dest string) string {
	return strings.ReplaceAll(filepath.ToSlash(dest), "/", "_")
}

// Check hashes localFile and compares it with the record for key
func (c *Cache) Check(key, localFile string) (State, error) {
	var st State

	hash, err := HashFile(localFile)
	switch {
	case err == nil:
		st.Exists = true
		st.LocalHash = hash
	case os.IsNotExist(err):
	default:
		return st, err
	}

	recorded, err := c.Recorded(key)
	if err != nil {
		return st, err
	}
	st.Recorded = recorded
	return st, nil
}

// Recorded returns the hash stored for key, or "" when there is none
func (c *Cache) Recorded(key string) (string, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cache record %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Record stores hash for key
func (c *Cache) Record(key, hash string) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path(key), []byte(hash), 0644); err != nil {
		return fmt.Errorf("failed to write cache record %s: %w", key, err)
	}
	return nil
}

// Lock serializes work on key and returns the unlock function
func (c *Cache) Lock(key string) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key)
}

// HashFile computes the lower-case hex SHA-1 of a file
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
