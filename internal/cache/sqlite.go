package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Cache represents the SQLite cache
type Cache struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewCache creates a new cache instance
func NewCache(dbPath string, logger *logrus.Logger) (*Cache, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if dbPath != MemoryPath {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &Error{Op: "open", Err: fmt.Errorf("failed to create cache directory: %w", err)}
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, &Error{Op: "open", Err: fmt.Errorf("failed to open database: %w", err)}
	}
	// An in-memory database exists only on the connection that created it.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if dbPath != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close() //nolint:errcheck
			return nil, &Error{Op: "open", Err: fmt.Errorf("failed to apply %q: %w", p, err)}
		}
	}

	cache := &Cache{
		db:     db,
		logger: logger,
	}

	// Initialize schema
	if err := cache.initSchema(); err != nil {
		db.Close() //nolint:errcheck
		return nil, &Error{Op: "open", Err: fmt.Errorf("failed to initialize schema: %w", err)}
	}

	logger.WithField("path", dbPath).Info("Cache initialized")
	return cache, nil
}

// initSchema initializes the database schema
func (c *Cache) initSchema() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// DB returns the underlying database connection (for use in store.go)
func (c *Cache) DB() *sqlx.DB {
	return c.db
}
