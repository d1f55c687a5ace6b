package passsession

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"medigate/pkg/domain"
)

// Cache holds cached sessions and local credential hashes keyed by
// (subject, provider). With a file path configured it survives restarts;
// either way the contents are never trusted without remote verification.
type Cache struct {
	mu          sync.RWMutex
	sessions    map[string]CachedSession
	credentials map[string]string
	path        string // empty disables persistence
	logger      *slog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheFile enables JSON file persistence at path.
func WithCacheFile(path string) CacheOption {
	return func(c *Cache) {
		c.path = path
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		sessions:    make(map[string]CachedSession),
		credentials: make(map[string]string),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.load()
	return c
}

func (c *Cache) Get(key domain.SessionKey) (CachedSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	session, ok := c.sessions[cacheKey(key)]
	return session, ok
}

func (c *Cache) Put(key domain.SessionKey, session CachedSession) {
	c.mu.Lock()
	c.sessions[cacheKey(key)] = session
	c.mu.Unlock()
	c.persist()
}

func (c *Cache) Delete(key domain.SessionKey) {
	c.mu.Lock()
	delete(c.sessions, cacheKey(key))
	c.mu.Unlock()
	c.persist()
}

func (c *Cache) getCredential(key domain.SessionKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, ok := c.credentials[cacheKey(key)]
	return hash, ok
}

func (c *Cache) putCredential(key domain.SessionKey, hash string) {
	c.mu.Lock()
	c.credentials[cacheKey(key)] = hash
	c.mu.Unlock()
	c.persist()
}

func (c *Cache) deleteCredential(key domain.SessionKey) {
	c.mu.Lock()
	delete(c.credentials, cacheKey(key))
	c.mu.Unlock()
	c.persist()
}

// load restores the cache file; a missing or corrupt file starts empty.
func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.Warn("session cache file corrupt, starting empty", "path", c.path, "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if file.Sessions != nil {
		c.sessions = file.Sessions
	}
	if file.Credentials != nil {
		c.credentials = file.Credentials
	}
}

// persist writes the cache file best-effort; persistence failures never
// surface since the cache is only an optimization.
func (c *Cache) persist() {
	if c.path == "" {
		return
	}
	c.mu.RLock()
	file := cacheFile{Sessions: c.sessions, Credentials: c.credentials}
	data, err := json.MarshalIndent(file, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(c.path), 0o700)
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		c.logger.Warn("failed to persist session cache", "path", c.path, "error", err)
	}
}
