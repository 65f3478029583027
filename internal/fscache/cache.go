// Package fscache memoizes file metadata lookups.
//
// Scans over large project trees stat the same paths repeatedly; the cache
// keeps the result (including "does not exist") until it goes unread for the
// TTL, so repeated lookups do not hit the file system.
package fscache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/maypok86/otter/v2"
)

const (
	// DefaultMaxSize bounds the number of cached paths.
	DefaultMaxSize = 1000
	// DefaultTTL is how long a lookup stays valid without being read.
	DefaultTTL = 5 * time.Minute
)

// FileInfo is the cached view of a path.
type FileInfo struct {
	Path    string
	Exists  bool
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// entry wraps a lookup with its expiration time.
type entry struct {
	info      FileInfo
	expiresAt time.Time
}

// Cache is a W-TinyLFU cache of FileInfo keyed by cleaned absolute path.
type Cache struct {
	cache *otter.Cache[string, entry]
	ttl   time.Duration
	stat  func(string) (fs.FileInfo, error)
	now   func() time.Time
}

// New creates a cache holding at most maxSize paths. Each read of a path
// extends its lifetime to ttl from that read.
// Non-positive arguments fall back to the defaults.
func New(maxSize int, ttl time.Duration) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryAccessing[string, entry](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create file cache: %w", err)
	}
	return &Cache{cache: c, ttl: ttl, stat: os.Stat, now: time.Now}, nil
}

// Info returns metadata for path, from the cache when present. A missing path
// is not an error: it yields Exists=false and is cached like any other result.
func (c *Cache) Info(path string) (FileInfo, error) {
	key, err := normalize(path)
	if err != nil {
		return FileInfo{}, err
	}
	if e, ok := c.cache.GetIfPresent(key); ok {
		now := c.now()
		if now.Before(e.expiresAt) {
			e.expiresAt = now.Add(c.ttl)
			c.cache.Set(key, e)
			return e.info, nil
		}
		c.cache.Invalidate(key)
	}

	info := FileInfo{Path: key}
	st, err := c.stat(key)
	switch {
	case err == nil:
		info.Exists = true
		info.IsDir = st.IsDir()
		info.Size = st.Size()
		info.ModTime = st.ModTime()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return FileInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	c.cache.Set(key, entry{info: info, expiresAt: c.now().Add(c.ttl)})
	return info, nil
}

// Invalidate drops the cached entry for path.
func (c *Cache) Invalidate(path string) {
	key, err := normalize(path)
	if err != nil {
		return
	}
	c.cache.Invalidate(key)
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.cache.InvalidateAll()
}

// Len returns the approximate number of cached paths.
func (c *Cache) Len() int {
	return c.cache.EstimatedSize()
}

func normalize(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
