package out

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ucx/internal/modules/extension/domain"
	extout "ucx/internal/modules/extension/port/out"

	_ "modernc.org/sqlite"
)

const installedStateKey = "installed_extensions"

// SQLiteStateStore keeps the installed-extension map as a single JSON value
// in a key/value table. Writes replace the whole map, so a crash between
// mutation and save loses at most the latest mutation and never corrupts the
// record.
type SQLiteStateStore struct {
	db *sql.DB
}

func NewSQLiteStateStore(dbPath string) (*SQLiteStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLiteStateStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

var _ extout.StateStore = (*SQLiteStateStore)(nil)

func (s *SQLiteStateStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS node_state (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create node_state table: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) SaveInstalled(ctx context.Context, installed map[string]domain.Installed) error {
	payload, err := json.Marshal(installed)
	if err != nil {
		return fmt.Errorf("encode installed extensions: %w", err)
	}
	const stmt = `
INSERT INTO node_state (key, value)
VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value;
`
	if _, err := s.db.ExecContext(ctx, stmt, installedStateKey, string(payload)); err != nil {
		return fmt.Errorf("save installed extensions: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) LoadInstalled(ctx context.Context) (map[string]domain.Installed, error) {
	raw := ""
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM node_state WHERE key = ?;`, installedStateKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]domain.Installed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load installed extensions: %w", err)
	}

	records := map[string]installedRecord{}
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode installed extensions: %w", err)
	}
	out := make(map[string]domain.Installed, len(records))
	for id, rec := range records {
		out[id] = domain.Installed{
			Manifest:             rec.Manifest,
			InstalledAt:          rec.InstalledAt,
			Enabled:              rec.Enabled,
			PeerIDs:              rec.peers(),
			LastSuccessfulPeerID: rec.LastSuccessfulPeerID,
		}
	}
	return out, nil
}

// installedRecord mirrors domain.Installed but leaves peerIds raw so one
// record written by an older or foreign writer cannot fail the whole load.
type installedRecord struct {
	Manifest             domain.Manifest `json:"manifest"`
	InstalledAt          time.Time       `json:"installedAt"`
	Enabled              bool            `json:"enabled"`
	PeerIDs              json.RawMessage `json:"peerIds"`
	LastSuccessfulPeerID string          `json:"lastSuccessfulPeerId"`
}

// peers decodes the raw peerIds value. Missing, null, or non-array values
// all degrade to an empty set.
func (r installedRecord) peers() []string {
	out := []string{}
	if len(r.PeerIDs) == 0 {
		return out
	}
	if err := json.Unmarshal(r.PeerIDs, &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}
