// Package store persists the session's login material: the password digest
// and the per-account device id, in sqlite under the gateway home.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// Schema ledger constants; bump both together on schema changes.
	schemaVersion  = 1
	schemaChecksum = "ob-v1-2026-08-credentials"
)

// ErrNoCredential is returned when no credential row exists for an account.
var ErrNoCredential = errors.New("no stored credential")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			account INTEGER PRIMARY KEY,
			password BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			account INTEGER PRIMARY KEY,
			device_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version WHERE version = ?`, schemaVersion).Scan(&count); err != nil {
		return fmt.Errorf("read schema ledger: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version, checksum) VALUES (?, ?)`, schemaVersion, schemaChecksum); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// SavePassword upserts the password digest for an account.
func (s *Store) SavePassword(ctx context.Context, account int64, digest []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (account, password) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET password = excluded.password, updated_at = CURRENT_TIMESTAMP`,
		account, digest)
	if err != nil {
		return fmt.Errorf("save credential for %d: %w", account, err)
	}
	return nil
}

// LoadPassword returns the stored password digest for an account.
func (s *Store) LoadPassword(ctx context.Context, account int64) ([]byte, error) {
	var digest []byte
	err := s.db.QueryRowContext(ctx, `SELECT password FROM credentials WHERE account = ?`, account).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("load credential for %d: %w", account, err)
	}
	return digest, nil
}

// Device returns the stable device id for an account, generating and
// persisting one on first use.
func (s *Store) Device(ctx context.Context, account int64) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT device_id FROM devices WHERE account = ?`, account).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load device for %d: %w", account, err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO devices (account, device_id) VALUES (?, ?)`, account, id); err != nil {
		return "", fmt.Errorf("save device for %d: %w", account, err)
	}
	return id, nil
}

// SchemaVersion reports the applied schema version from the ledger.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema ledger: %w", err)
	}
	return version, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
