package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetsync/internal/core"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListOptions filters ListRuns. Zero values mean no filter.
type ListOptions struct {
	SourceApp string
	Phase     core.RunPhase
	Since     time.Time
	Limit     int
	Offset    int
}

// RecordRun inserts or replaces a run and its file entries.
func (s *Store) RecordRun(ctx context.Context, run *core.RunResult) error {
	id, err := toPgUUID(run.RunID)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	_, err = tx.Exec(ctx, `
		INSERT INTO sheet_runs (id, source_app, source_record_id, destination_app, phase,
			records_created, duration_ms, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			source_record_id = EXCLUDED.source_record_id,
			destination_app  = EXCLUDED.destination_app,
			phase            = EXCLUDED.phase,
			records_created  = EXCLUDED.records_created,
			duration_ms      = EXCLUDED.duration_ms,
			error            = EXCLUDED.error,
			recorded_at      = now()`,
		id, run.SourceApp, run.SourceRecordID, run.DestinationApp, string(run.Phase),
		run.RecordsCreated, run.Duration.Milliseconds(), toPgText(run.Error), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM sheet_run_files WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("clear files of run %s: %w", run.RunID, err)
	}

	if len(run.Files) > 0 {
		batch := &pgx.Batch{}
		for i, f := range run.Files {
			issues, err := json.Marshal(issuesOrEmpty(f.Issues))
			if err != nil {
				return fmt.Errorf("encode issues of %s: %w", f.FileName, err)
			}
			batch.Queue(`
				INSERT INTO sheet_run_files (run_id, position, file_name, file_key, cells, record_id, error, issues)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				id, i, f.FileName, f.FileKey, f.Cells, toPgText(f.RecordID), toPgText(f.Error), issues,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert files of run %s: %w", run.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `id, source_app, source_record_id, destination_app, phase,
	records_created, duration_ms, error, started_at`

// GetRun returns a run with its files, or core.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, runID string) (*core.RunResult, error) {
	id, err := toPgUUID(runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}

	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM sheet_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT file_name, file_key, cells, record_id, error, issues
		FROM sheet_run_files WHERE run_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get files of run %s: %w", runID, err)
	}
	defer rows.Close()

	run.Files = make([]core.FileResult, 0)
	for rows.Next() {
		var (
			f        core.FileResult
			recordID pgtype.Text
			errText  pgtype.Text
			issues   []byte
		)
		if err := rows.Scan(&f.FileName, &f.FileKey, &f.Cells, &recordID, &errText, &issues); err != nil {
			return nil, fmt.Errorf("scan file of run %s: %w", runID, err)
		}
		f.RecordID = fromPgText(recordID)
		f.Error = fromPgText(errText)
		if err := json.Unmarshal(issues, &f.Issues); err != nil {
			return nil, fmt.Errorf("decode issues of run %s: %w", runID, err)
		}
		if len(f.Issues) == 0 {
			f.Issues = nil
		}
		run.Files = append(run.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns returns runs newest first, without their file entries.
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]core.RunResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	opts.Limit = min(opts.Limit, MaxListLimit)
	opts.Offset = max(opts.Offset, 0)

	wb := newWhereBuilder()
	wb.Add("source_app", opts.SourceApp)
	wb.Add("phase", string(opts.Phase))
	wb.AddSince("started_at", opts.Since)
	whereClause, args := wb.Build()

	query := `SELECT ` + runColumns + ` FROM sheet_runs` + whereClause +
		fmt.Sprintf(" ORDER BY started_at DESC, id LIMIT $%d OFFSET $%d", wb.NextArgIndex(), wb.NextArgIndex()+1)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]core.RunResult, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PurgeRuns deletes runs started more than olderThanDays days ago and
// returns how many were removed. File entries go with them.
func (s *Store) PurgeRuns(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("purge runs: retention must be positive, got %d days", olderThanDays)
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sheet_runs WHERE started_at < now() - make_interval(days => $1)`, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ----------------------------------------------------------------------------
// Internal helper functions
// ----------------------------------------------------------------------------

func scanRun(row pgx.Row) (*core.RunResult, error) {
	var (
		id         pgtype.UUID
		phase      string
		durationMS int64
		errText    pgtype.Text
		startedAt  pgtype.Timestamptz
		run        core.RunResult
	)
	err := row.Scan(&id, &run.SourceApp, &run.SourceRecordID, &run.DestinationApp, &phase,
		&run.RecordsCreated, &durationMS, &errText, &startedAt)
	if err != nil {
		return nil, err
	}

	run.RunID = uuid.UUID(id.Bytes).String()
	run.Phase = core.RunPhase(phase)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.Error = fromPgText(errText)
	run.StartedAt = startedAt.Time
	return &run, nil
}

func toPgUUID(s string) (pgtype.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func fromPgText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

func issuesOrEmpty(issues []core.Issue) []core.Issue {
	if issues == nil {
		return []core.Issue{}
	}
	return issues
}
