package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/distribution-auth/ghapp/ghapp"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore stores connections, tokens and builds in a SQLite database.
//
// Token values are stored as received, callers are expected to encrypt them.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

const selectConnections = `
	SELECT app_id, server_url, owner, webhook_secret, reserved, app_name, owner_id
	FROM connections
	ORDER BY rowid`

func (s *SQLiteStore) FindConnection(ctx context.Context, predicate func(ghapp.Connection) bool) (ghapp.Connection, bool, error) {
	connections, err := s.ListConnections(ctx)
	if err != nil {
		return ghapp.Connection{}, false, err
	}

	for _, connection := range connections {
		if predicate(connection) {
			return connection, true, nil
		}
	}

	return ghapp.Connection{}, false, nil
}

func (s *SQLiteStore) ListConnections(ctx context.Context) ([]ghapp.Connection, error) {
	rows, err := s.db.QueryContext(ctx, selectConnections)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var connections []ghapp.Connection

	for rows.Next() {
		var connection ghapp.Connection

		err := rows.Scan(
			&connection.AppID,
			&connection.ServerURL,
			&connection.Owner,
			&connection.WebhookSecret,
			&connection.Reserved,
			&connection.AppName,
			&connection.OwnerID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}

		connections = append(connections, connection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	return connections, nil
}

func (s *SQLiteStore) AddConnection(ctx context.Context, connection ghapp.Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (app_id, server_url, owner, webhook_secret, reserved, app_name, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO UPDATE SET
			server_url = excluded.server_url,
			owner = excluded.owner,
			webhook_secret = excluded.webhook_secret,
			reserved = excluded.reserved,
			app_name = excluded.app_name,
			owner_id = excluded.owner_id`,
		connection.AppID,
		connection.ServerURL,
		connection.Owner,
		connection.WebhookSecret,
		connection.Reserved,
		connection.AppName,
		connection.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}

	return nil
}

func (s *SQLiteStore) RemoveConnection(ctx context.Context, appID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM connections WHERE app_id = ?", appID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, buildID int64) (ghapp.IssuedToken, error) {
	var token ghapp.IssuedToken

	err := s.db.QueryRowContext(ctx, "SELECT server_url, app_id, token FROM tokens WHERE build_id = ?", buildID).
		Scan(&token.ServerURL, &token.AppID, &token.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return ghapp.IssuedToken{}, ghapp.ErrNotFound
	}
	if err != nil {
		return ghapp.IssuedToken{}, fmt.Errorf("query token: %w", err)
	}

	return token, nil
}

func (s *SQLiteStore) Put(ctx context.Context, buildID int64, token ghapp.IssuedToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (build_id, server_url, app_id, token)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(build_id) DO UPDATE SET
			server_url = excluded.server_url,
			app_id = excluded.app_id,
			token = excluded.token`,
		buildID,
		token.ServerURL,
		token.AppID,
		token.Token,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, buildID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	return nil
}

func (s *SQLiteStore) BuildIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT build_id FROM tokens ORDER BY build_id")
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	buildIDs := []int64{}

	for rows.Next() {
		var buildID int64
		if err := rows.Scan(&buildID); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}

		buildIDs = append(buildIDs, buildID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	return buildIDs, nil
}

func (s *SQLiteStore) PutBuild(ctx context.Context, buildID int64, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO builds (build_id, seen_at)
		VALUES (?, ?)
		ON CONFLICT(build_id) DO UPDATE SET seen_at = excluded.seen_at`,
		buildID,
		seen.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	return nil
}

func (s *SQLiteStore) BuildSeen(ctx context.Context, buildID int64) (time.Time, error) {
	var seenAt int64

	err := s.db.QueryRowContext(ctx, "SELECT seen_at FROM builds WHERE build_id = ?", buildID).Scan(&seenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ghapp.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query build: %w", err)
	}

	return time.Unix(0, seenAt), nil
}

func (s *SQLiteStore) DeleteBuild(ctx context.Context, buildID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM builds WHERE build_id = ?", buildID); err != nil {
		return fmt.Errorf("delete build: %w", err)
	}

	return nil
}
