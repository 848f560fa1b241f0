// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store keeps a local SQLite copy of the platform config data of
// the DIMMs, broken down by sub-table.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/pcd"
)

var log = logger.Get("store")

const schema = `
CREATE TABLE IF NOT EXISTS platform_config (
	handle INTEGER PRIMARY KEY,
	blob BLOB NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS config_input (
	handle INTEGER PRIMARY KEY,
	seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS config_output (
	handle INTEGER PRIMARY KEY,
	seq INTEGER NOT NULL,
	status INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS current_config (
	handle INTEGER PRIMARY KEY,
	status INTEGER NOT NULL,
	mapped_memory INTEGER NOT NULL,
	mapped_app_direct INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS interleave_set (
	handle INTEGER NOT NULL,
	source TEXT NOT NULL,
	idx INTEGER NOT NULL,
	ways INTEGER NOT NULL,
	format INTEGER NOT NULL,
	mirror BOOLEAN NOT NULL,
	PRIMARY KEY (handle, source, idx)
);
`

// tables are cleared in this order.
var tables = []string{
	"interleave_set",
	"current_config",
	"config_output",
	"config_input",
	"platform_config",
}

const (
	// SourceCurrent marks interleave sets of the current config.
	SourceCurrent = "current"
	// SourceInput marks interleave sets of the config input.
	SourceInput = "input"
)

// InterleaveSet is a stored interleave set description.
type InterleaveSet struct {
	Handle nvm.DeviceHandle
	Source string
	Index  uint16
	Ways   int
	Format uint32
	Mirror bool
}

// Store is the local platform config database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Update replaces everything stored for a DIMM with the given raw platform
// config data.
func (s *Store) Update(handle nvm.DeviceHandle, blob []byte) error {
	p, err := pcd.Parse(blob)
	if err != nil {
		return err
	}

	if err := s.Clear(handle); err != nil {
		return err
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	h := int64(handle)
	if _, err := tx.Exec(`INSERT INTO platform_config (handle, blob) VALUES (?, ?)`, h, blob); err != nil {
		return fmt.Errorf("failed to store platform config: %w", err)
	}

	if c := p.Current; c != nil {
		_, err := tx.Exec(
			`INSERT INTO current_config (handle, status, mapped_memory, mapped_app_direct)
			 VALUES (?, ?, ?, ?)`,
			h, c.Status, int64(c.MappedMemory), int64(c.MappedAppDirect),
		)
		if err != nil {
			return fmt.Errorf("failed to store current config: %w", err)
		}
		if err := insertSets(tx, h, SourceCurrent, c.Interleaves()); err != nil {
			return err
		}
	}

	if in := p.Input; in != nil {
		if _, err := tx.Exec(`INSERT INTO config_input (handle, seq) VALUES (?, ?)`, h, in.Sequence); err != nil {
			return fmt.Errorf("failed to store config input: %w", err)
		}
		if err := insertSets(tx, h, SourceInput, in.Interleaves()); err != nil {
			return err
		}
	}

	if out := p.Output; out != nil {
		_, err := tx.Exec(
			`INSERT INTO config_output (handle, seq, status) VALUES (?, ?, ?)`,
			h, out.Sequence, out.ValidationStatus,
		)
		if err != nil {
			return fmt.Errorf("failed to store config output: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit platform config of DIMM %s: %w", handle, err)
	}

	log.Debug("DIMM %s: stored %d bytes of platform config data", handle, len(blob))

	return nil
}

func insertSets(tx *sql.Tx, handle int64, source string, sets []*pcd.InterleaveInfo) error {
	for _, set := range sets {
		_, err := tx.Exec(
			`INSERT INTO interleave_set (handle, source, idx, ways, format, mirror)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			handle, source, set.Index, len(set.Dimms), set.Format, set.Mirror,
		)
		if err != nil {
			return fmt.Errorf("failed to store %s interleave set %d: %w", source, set.Index, err)
		}
	}
	return nil
}

// Clear removes everything stored for a DIMM. Every table is cleared even
// if some fail, the first error is returned.
func (s *Store) Clear(handle nvm.DeviceHandle) error {
	var result *multierror.Error

	for _, table := range tables {
		if _, err := s.conn.Exec("DELETE FROM "+table+" WHERE handle = ?", int64(handle)); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to clear %s of DIMM %s: %w", table, handle, err))
		}
	}

	if result == nil {
		return nil
	}
	for _, err := range result.Errors[1:] {
		log.Error("%v", err)
	}
	return result.Errors[0]
}

// PlatformConfig returns the stored raw platform config data of a DIMM.
func (s *Store) PlatformConfig(handle nvm.DeviceHandle) ([]byte, error) {
	var blob []byte
	err := s.conn.QueryRow(`SELECT blob FROM platform_config WHERE handle = ?`, int64(handle)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: platform config of DIMM %s", nvm.ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get platform config of DIMM %s: %w", handle, err)
	}
	return blob, nil
}

// Handles returns the DIMMs with stored platform config data.
func (s *Store) Handles() ([]nvm.DeviceHandle, error) {
	rows, err := s.conn.Query(`SELECT handle FROM platform_config ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("failed to list DIMMs: %w", err)
	}
	defer rows.Close()

	var handles []nvm.DeviceHandle
	for rows.Next() {
		var h int64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan DIMM: %w", err)
		}
		handles = append(handles, nvm.DeviceHandle(h))
	}
	return handles, rows.Err()
}

// InterleaveSets returns the stored interleave sets of a DIMM.
func (s *Store) InterleaveSets(handle nvm.DeviceHandle) ([]InterleaveSet, error) {
	rows, err := s.conn.Query(
		`SELECT source, idx, ways, format, mirror FROM interleave_set
		 WHERE handle = ? ORDER BY source, idx`,
		int64(handle),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list interleave sets of DIMM %s: %w", handle, err)
	}
	defer rows.Close()

	var sets []InterleaveSet
	for rows.Next() {
		set := InterleaveSet{Handle: handle}
		if err := rows.Scan(&set.Source, &set.Index, &set.Ways, &set.Format, &set.Mirror); err != nil {
			return nil, fmt.Errorf("failed to scan interleave set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// OutputStatus returns the sequence number and validation status of the
// last config output of a DIMM.
func (s *Store) OutputStatus(handle nvm.DeviceHandle) (uint32, uint8, error) {
	var (
		seq    uint32
		status uint8
	)
	err := s.conn.QueryRow(`SELECT seq, status FROM config_output WHERE handle = ?`, int64(handle)).Scan(&seq, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: config output of DIMM %s", nvm.ErrNotFound, handle)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get config output of DIMM %s: %w", handle, err)
	}
	return seq, status, nil
}
