// Copyright 2025 Kadir Pekel
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

// Package runstore keeps the history of crew runs in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/pmcrew/pkg/utils"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// DefaultListLimit is used when List is called without a positive limit.
const DefaultListLimit = 50

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one click of "Analisar" (or one CLI run).
type Run struct {
	ID             string    `json:"id"`
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	Result         string    `json:"result,omitempty"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	TotalTokens    int       `json:"total_tokens"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const createRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(36) PRIMARY KEY,
    description TEXT NOT NULL,
    status VARCHAR(16) NOT NULL,
    result TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    elapsed_seconds REAL NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createRunsStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`

const selectRunSQL = `
SELECT id, description, status, result, error, elapsed_seconds, total_tokens, created_at, updated_at
FROM runs`

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. MemoryDSN gives a
// throwaway database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if path != MemoryDSN {
		if err := utils.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer, and each connection to :memory: is a
	// separate database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createRunsTableSQL); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createRunsStatusIndexSQL); err != nil {
		return fmt.Errorf("failed to create status index: %w", err)
	}
	return nil
}

// Create records a new running run.
func (s *Store) Create(ctx context.Context, description string) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, description, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Description, run.Status, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// Complete marks a run as succeeded with its result.
func (s *Store) Complete(ctx context.Context, id, result string, elapsed time.Duration, totalTokens int) error {
	return s.finish(ctx, id, StatusSucceeded, result, "", elapsed, totalTokens)
}

// Fail marks a run as failed.
func (s *Store) Fail(ctx context.Context, id string, runErr error, elapsed time.Duration) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.finish(ctx, id, StatusFailed, "", msg, elapsed, 0)
}

func (s *Store) finish(ctx context.Context, id string, status Status, result, errMsg string, elapsed time.Duration, tokens int) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, result = ?, error = ?, elapsed_seconds = ?, total_tokens = ?, updated_at = ?
WHERE id = ?`,
		status, result, errMsg, elapsed.Seconds(), tokens, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRunSQL+` WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, selectRunSQL+` ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var status string
	if err := sc.Scan(
		&run.ID, &run.Description, &status, &run.Result, &run.Error,
		&run.ElapsedSeconds, &run.TotalTokens, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	return &run, nil
}
