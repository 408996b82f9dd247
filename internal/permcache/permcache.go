// Package permcache implements the optional Permission Rule Cache: a
// durable, on-disk record of permission prompts the user has answered
// "always allow" to, so the AFK Manager can skip re-asking for the
// same call on a future run. Each rule stores the fingerprint together
// with the session name and prompt text it was recorded from; no queue
// state survives a restart.
package permcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Cache wraps a SQLite connection holding always-allow fingerprints.
type Cache struct {
	conn *sql.DB
}

// Open creates (or opens) the cache database at path and applies any
// pending migrations. WAL mode and a busy timeout keep a hook's
// lookup from blocking indefinitely behind a concurrent daemon write.
func Open(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("permcache: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("permcache: ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("permcache: migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("permcache: create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("permcache: apply migrations: %w", err)
	}

	return &Cache{conn: conn}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.conn.Close()
}

// Fingerprint normalizes and hashes a permission prompt so equivalent
// prompts (differing only in whitespace) share a cache entry.
func Fingerprint(prompt string) string {
	normalized := strings.Join(strings.Fields(prompt), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Lookup reports whether fingerprint has a stored always-allow rule.
func (c *Cache) Lookup(fingerprint string) (bool, error) {
	var count int
	err := c.conn.QueryRow(`SELECT COUNT(*) FROM permission_rules WHERE fingerprint = ?`, fingerprint).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("permcache: lookup: %w", err)
	}
	return count > 0, nil
}

// StoreAlways records an always-allow rule for fingerprint.
func (c *Cache) StoreAlways(fingerprint, session, prompt string) error {
	_, err := c.conn.Exec(
		`INSERT INTO permission_rules (fingerprint, session, prompt) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, session, prompt,
	)
	if err != nil {
		return fmt.Errorf("permcache: store: %w", err)
	}
	return nil
}

// Forget removes a previously stored always-allow rule, letting the
// next matching call prompt again.
func (c *Cache) Forget(fingerprint string) error {
	_, err := c.conn.Exec(`DELETE FROM permission_rules WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("permcache: forget: %w", err)
	}
	return nil
}
