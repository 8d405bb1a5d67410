package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// ErrNotFound is returned when the requested analysis does not exist.
var ErrNotFound = errors.New("db: analysis not found")

// Schema versions are tracked in the schema_versions table so future
// migrations can build on deployed databases.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analyses (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id          TEXT NOT NULL UNIQUE,
    created_at      DATETIME NOT NULL,
    input_path      TEXT NOT NULL,
    file_sha256     TEXT NOT NULL DEFAULT '',
    total_rows      INTEGER NOT NULL DEFAULT 0,
    anomalies_found INTEGER NOT NULL DEFAULT 0,
    anomaly_rate    REAL NOT NULL DEFAULT 0.0,
    summary         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);

CREATE TABLE IF NOT EXISTS analysis_anomalies (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    analysis_id INTEGER NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
    row_index   INTEGER NOT NULL,
    timestamp   DATETIME NOT NULL,
    raw_score   REAL NOT NULL,
    severity    TEXT NOT NULL,
    reasons     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_analysis_anomalies_analysis ON analysis_anomalies(analysis_id, row_index ASC);
`,
	},
}

// sqliteStore implements Store on a single SQLite file.
type sqliteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the analysis history database at path and
// applies pending migrations.
func Open(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("db: create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	// One writer at a time; modernc's driver serializes anyway and a larger
	// pool just produces SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("db: %s: %w", pragma, err)
		}
	}

	s := &sqliteStore{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("db: create schema_versions: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_versions`).Scan(&current); err != nil {
		return fmt.Errorf("db: read schema version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && int64(m.version) <= current.Int64 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("db: apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("db: record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// InsertAnalysis writes the record and its anomalies in one transaction.
func (s *sqliteStore) InsertAnalysis(ctx context.Context, record *AnalysisRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db: begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO analyses (run_id, created_at, input_path, file_sha256, total_rows, anomalies_found, anomaly_rate, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.InputPath,
		record.FileSHA256,
		record.TotalRows,
		record.AnomaliesFound,
		record.AnomalyRate,
		record.Summary,
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert analysis: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: analysis id: %w", err)
	}

	for _, a := range record.Anomalies {
		reasons, err := json.Marshal(a.Reasons)
		if err != nil {
			return 0, fmt.Errorf("db: encode reasons: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_anomalies (analysis_id, row_index, timestamp, raw_score, severity, reasons)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id,
			a.RowIndex,
			a.Timestamp.UTC().Format(time.RFC3339Nano),
			a.RawScore,
			a.Severity,
			string(reasons),
		); err != nil {
			return 0, fmt.Errorf("db: insert analysis anomaly: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db: commit analysis: %w", err)
	}
	record.ID = id
	return id, nil
}

// ListAnalyses returns the newest analyses first, capped at limit.
func (s *sqliteStore) ListAnalyses(ctx context.Context, limit int) ([]AnalysisRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, input_path, file_sha256, total_rows, anomalies_found, anomaly_rate, summary
		FROM analyses ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("db: list analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetAnalysis returns one analysis including its anomalies.
func (s *sqliteStore) GetAnalysis(ctx context.Context, id int64) (*AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, created_at, input_path, file_sha256, total_rows, anomalies_found, anomaly_rate, summary
		FROM analyses WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("db: get analysis: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	rec, err := scanAnalysis(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	arows, err := s.db.QueryContext(ctx, `
		SELECT row_index, timestamp, raw_score, severity, reasons
		FROM analysis_anomalies WHERE analysis_id = ? ORDER BY row_index ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("db: get analysis anomalies: %w", err)
	}
	defer arows.Close()

	for arows.Next() {
		var (
			a       AnalysisAnomaly
			ts      string
			reasons string
		)
		if err := arows.Scan(&a.RowIndex, &ts, &a.RawScore, &a.Severity, &reasons); err != nil {
			return nil, fmt.Errorf("db: scan analysis anomaly: %w", err)
		}
		if a.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("db: parse anomaly timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &a.Reasons); err != nil {
			return nil, fmt.Errorf("db: decode reasons: %w", err)
		}
		rec.Anomalies = append(rec.Anomalies, a)
	}
	if err := arows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the database.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func scanAnalysis(rows *sql.Rows) (AnalysisRecord, error) {
	var (
		rec AnalysisRecord
		ts  string
	)
	if err := rows.Scan(&rec.ID, &rec.RunID, &ts, &rec.InputPath, &rec.FileSHA256,
		&rec.TotalRows, &rec.AnomaliesFound, &rec.AnomalyRate, &rec.Summary); err != nil {
		return rec, fmt.Errorf("db: scan analysis: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return rec, fmt.Errorf("db: parse analysis timestamp: %w", err)
	}
	rec.CreatedAt = created
	return rec, nil
}
