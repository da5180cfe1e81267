/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS module_outputs (
	identity TEXT NOT NULL,
	raw_hash TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	entry BLOB NOT NULL,
	PRIMARY KEY (identity, raw_hash, config_hash)
);
`

// SQLiteStore keeps zstd-compressed JSON entries in a SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens or creates the cache database at {dir}/modules.db.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "modules.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &SQLiteStore{db: db, encoder: encoder, decoder: decoder}, nil
}

// Get returns the entry for key, if present.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT entry FROM module_outputs WHERE identity = ? AND raw_hash = ? AND config_hash = ?",
		string(key.Identity), key.RawHash, key.ConfigHash,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	data, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing cache entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &entry, true, nil
}

// Put stores an entry, replacing any previous one for the key.
func (s *SQLiteStore) Put(ctx context.Context, key Key, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO module_outputs (identity, raw_hash, config_hash, entry)
		 VALUES (?, ?, ?, ?)`,
		string(key.Identity), key.RawHash, key.ConfigHash, s.encoder.EncodeAll(data, nil),
	)
	return err
}

// Prune deletes every entry whose identity is not in keep.
func (s *SQLiteStore) Prune(ctx context.Context, keep map[string]bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT identity FROM module_outputs")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return 0, err
	}

	for _, id := range stale {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM module_outputs WHERE identity = ?", id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.decoder.Close()
	return errors.Join(s.encoder.Close(), s.db.Close())
}
