package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"paybot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_handle TEXT PRIMARY KEY,
	data        BLOB NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
	user_handle TEXT PRIMARY KEY,
	player_uuid TEXT NOT NULL,
	kind        TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identities_player_uuid ON identities(player_uuid);
`

// SQLiteStore keeps state in a local sqlite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. The pool is capped at one connection; sqlite allows one writer and
// this store is written from one process.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logx.NewLogger("store")}
	s.logger.Info("sqlite store ready at %s", path)
	return s, nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, userHandle string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE user_handle = ?`, userHandle).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, userHandle string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_handle, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_handle) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userHandle, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, userHandle string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_handle = ?`, userHandle); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Identity(ctx context.Context, userHandle string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `
		SELECT user_handle, player_uuid, kind, language, updated_at
		FROM identities WHERE user_handle = ?`, userHandle))
}

func (s *SQLiteStore) IdentityByPlayerUUID(ctx context.Context, playerUUID string) (*Identity, error) {
	return s.scanIdentity(s.db.QueryRowContext(ctx, `
		SELECT user_handle, player_uuid, kind, language, updated_at
		FROM identities WHERE player_uuid = ?`, playerUUID))
}

func (s *SQLiteStore) scanIdentity(row *sql.Row) (*Identity, error) {
	var id Identity
	err := row.Scan(&id.UserHandle, &id.PlayerUUID, &id.Kind, &id.Language, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	return &id, nil
}

func (s *SQLiteStore) SaveIdentity(ctx context.Context, id *Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (user_handle, player_uuid, kind, language, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_handle) DO UPDATE SET
			player_uuid = excluded.player_uuid,
			kind = excluded.kind,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		id.UserHandle, id.PlayerUUID, id.Kind, id.Language, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIdentity(ctx context.Context, userHandle string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE user_handle = ?`, userHandle); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
