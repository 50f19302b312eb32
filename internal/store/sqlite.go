package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed run history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// GenerationRun Operations
// ============================================================================

// CreateRun inserts a new GenerationRun, assigning a uuid when ID is empty
func (s *Store) CreateRun(run *GenerationRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	const query = `
		INSERT INTO generation_runs (
			id, source, filters, start_time, end_time, records_total, records_skipped,
			records_matched, mirrors_emitted, output_path, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		run.ID, run.Source, run.Filters, run.StartTime, run.EndTime,
		run.RecordsTotal, run.RecordsSkipped, run.RecordsMatched, run.MirrorsEmitted,
		run.OutputPath, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation run: %w", err)
	}

	return nil
}

// UpdateRun updates an existing GenerationRun by ID
func (s *Store) UpdateRun(run *GenerationRun) error {
	const query = `
		UPDATE generation_runs SET
			source = ?, filters = ?, start_time = ?, end_time = ?, records_total = ?,
			records_skipped = ?, records_matched = ?, mirrors_emitted = ?,
			output_path = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Source, run.Filters, run.StartTime, run.EndTime, run.RecordsTotal,
		run.RecordsSkipped, run.RecordsMatched, run.MirrorsEmitted,
		run.OutputPath, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update generation run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("generation run %s: %w", run.ID, ErrNotFound)
	}

	return nil
}

const runColumns = `
	id, source, filters, start_time, end_time, records_total, records_skipped,
	records_matched, mirrors_emitted, output_path, status, error_message
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*GenerationRun, error) {
	run := &GenerationRun{}
	err := row.Scan(
		&run.ID, &run.Source, &run.Filters, &run.StartTime, &run.EndTime,
		&run.RecordsTotal, &run.RecordsSkipped, &run.RecordsMatched, &run.MirrorsEmitted,
		&run.OutputPath, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a GenerationRun by ID
func (s *Store) GetRun(id string) (*GenerationRun, error) {
	run, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM generation_runs WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("generation run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query generation run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, optionally filtered by status
func (s *Store) ListRuns(status string, limit int) ([]GenerationRun, error) {
	query := "SELECT " + runColumns + " FROM generation_runs"
	var args []any

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY start_time DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation runs: %w", err)
	}
	defer rows.Close()

	runs := []GenerationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation runs: %w", err)
	}

	return runs, nil
}

// PruneRuns deletes all but the newest keep runs together with their
// skipped records. keep <= 0 disables pruning.
func (s *Store) PruneRuns(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const stale = `
		SELECT id FROM generation_runs
		ORDER BY start_time DESC
		LIMIT -1 OFFSET ?
	`
	if _, err := tx.Exec("DELETE FROM skipped_records WHERE run_id IN ("+stale+")", keep); err != nil {
		return 0, fmt.Errorf("failed to prune skipped records: %w", err)
	}
	result, err := tx.Exec("DELETE FROM generation_runs WHERE id IN ("+stale+")", keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune generation runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	if deleted > 0 {
		s.logger.Debug("pruned run history", "deleted", deleted, "kept", keep)
	}
	return deleted, nil
}

// ============================================================================
// SkippedRecord Operations
// ============================================================================

// AddSkippedRecords stores the records dropped by a run in one transaction
func (s *Store) AddSkippedRecords(runID string, recs []SkippedRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO skipped_records (run_id, record_index, url, stage, reason)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare skipped record insert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		recs[i].RunID = runID
		result, err := stmt.Exec(runID, recs[i].RecordIndex, recs[i].URL, recs[i].Stage, recs[i].Reason)
		if err != nil {
			return fmt.Errorf("failed to insert skipped record: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		recs[i].ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit skipped records: %w", err)
	}
	return nil
}

// ListSkippedRecords retrieves a run's skipped records in feed order
func (s *Store) ListSkippedRecords(runID string) ([]SkippedRecord, error) {
	const query = `
		SELECT id, run_id, record_index, url, stage, reason
		FROM skipped_records WHERE run_id = ? ORDER BY record_index, id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query skipped records: %w", err)
	}
	defer rows.Close()

	records := []SkippedRecord{}
	for rows.Next() {
		rec := SkippedRecord{}
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.RecordIndex, &rec.URL, &rec.Stage, &rec.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan skipped record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating skipped records: %w", err)
	}

	return records, nil
}
