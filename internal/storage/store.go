package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist or has expired.
var ErrNotFound = errors.New("not found")

// Store is a durable collection/key/value store with optional per-record
// expiration, backed by SQLite. Values are stored as JSON.
//
// Expiration is lazy: Get reports an expired record as ErrNotFound and
// deletes it eagerly when encountered. DeleteExpired performs bulk sweeps.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "seraface.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Timestamps are stored as RFC3339 UTC strings so lexicographic comparison
// matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nowString() string {
	return formatTime(time.Now())
}

// Put upserts value under (collection, key). When ttl is positive the record
// expires ttl from now; otherwise it has no expiry. Resubmitting a key
// overwrites the prior record (last-write-wins).
func (s *Store) Put(collection, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record %s/%s: %w", collection, key, err)
	}

	now := time.Now()
	var expiresAt any
	if ttl > 0 {
		expiresAt = formatTime(now.Add(ttl))
	}

	_, err = s.db.Exec(`
		INSERT INTO records (collection, key, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		collection, key, string(data), formatTime(now), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("writing record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Get unmarshals the record under (collection, key) into dest. A record whose
// expiry has passed is treated as ErrNotFound and removed.
func (s *Store) Get(collection, key string, dest any) error {
	var value string
	var expiresAt sql.NullString
	err := s.db.QueryRow(
		"SELECT value, expires_at FROM records WHERE collection = ? AND key = ?",
		collection, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading record %s/%s: %w", collection, key, err)
	}

	if expiresAt.Valid && expiresAt.String <= nowString() {
		// Eager deletion of the expired row; failure here doesn't change the answer.
		s.db.Exec("DELETE FROM records WHERE collection = ? AND key = ?", collection, key)
		return ErrNotFound
	}

	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("decoding record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes the record under (collection, key), reporting whether
// anything was removed.
func (s *Store) Delete(collection, key string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM records WHERE collection = ? AND key = ?", collection, key)
	if err != nil {
		return false, fmt.Errorf("deleting record %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScanKeys returns the keys of all live (non-expired) records in collection
// for which match returns true. A nil match selects every key.
func (s *Store) ScanKeys(collection string, match func(key string) bool) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT key FROM records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key ASC`,
		collection, nowString(),
	)
	if err != nil {
		return nil, fmt.Errorf("scanning collection %s: %w", collection, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		if match == nil || match(k) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

// Count returns the number of live records in collection.
func (s *Store) Count(collection string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM records
		WHERE collection = ? AND (expires_at IS NULL OR expires_at > ?)`,
		collection, nowString(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}
	return n, nil
}

// CountCreatedSince returns the number of live records in collection written
// at or after t.
func (s *Store) CountCreatedSince(collection string, t time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM records
		WHERE collection = ? AND created_at >= ? AND (expires_at IS NULL OR expires_at > ?)`,
		collection, formatTime(t), nowString(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}
	return n, nil
}

// DeleteExpired removes every expired record in collection and returns the
// deleted keys. Safe to run concurrently with normal traffic.
func (s *Store) DeleteExpired(collection string) ([]string, error) {
	now := nowString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning sweep transaction: %w", err)
	}

	rows, err := tx.Query(
		"SELECT key FROM records WHERE collection = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		collection, now,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("listing expired records in %s: %w", collection, err)
	}

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		tx.Rollback()
		return nil, err
	}
	rows.Close()

	if len(keys) == 0 {
		tx.Rollback()
		return nil, nil
	}

	if _, err := tx.Exec(
		"DELETE FROM records WHERE collection = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		collection, now,
	); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("deleting expired records in %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing sweep: %w", err)
	}
	return keys, nil
}
