package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	"bplog/internal/modules/pressure/readings"
	"bplog/internal/modules/pressure/types"
)

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/backup-readings.sql
var backupReadingsSQL string

//go:embed sql/delete-readings.sql
var deleteReadingsSQL string

type sqliteRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteRepository stores readings in the readings table created by the
// embedded migrations.
func NewSQLiteRepository(db *sql.DB, logger *slog.Logger) ReadingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqliteRepository{db: db, logger: logger, now: time.Now}
}

func (r *sqliteRepository) ReadAll(ctx context.Context) ([]types.Reading, error) {
	rows, err := r.db.QueryContext(ctx, getReadingsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close readings rows", "error", err)
		}
	}()

	var out []types.Reading
	for rows.Next() {
		var rec types.Reading
		var ts string
		if err := rows.Scan(&ts, &rec.Systolic, &rec.Diastolic, &rec.Pulse, &rec.Raw, &rec.LocalTZ); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			r.logger.Debug("skipping row with bad timestamp", "ts", ts, "error", err)
			continue
		}
		rec.Time = t
		if err := readings.Check(rec); err != nil {
			r.logger.Debug("skipping invalid row", "ts", ts, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// ts_utc ordering is lexical; a stable sort on the parsed instant settles
	// differing fractional precision.
	sortByInstant(out)
	return out, nil
}

func (r *sqliteRepository) Append(ctx context.Context, rec types.Reading) error {
	if err := insertReading(ctx, r.db, rec); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (r *sqliteRepository) Dump(ctx context.Context, w io.Writer) error {
	rs, err := r.ReadAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range rs {
		line, err := types.EncodeLine(rec)
		if err != nil {
			return fmt.Errorf("encode reading: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteRepository) Replace(ctx context.Context, rs []types.Reading) (string, error) {
	label := r.now().UTC().Format(backupStampLayout)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, backupReadingsSQL, label); err != nil {
		return "", fmt.Errorf("backup readings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteReadingsSQL); err != nil {
		return "", fmt.Errorf("clear readings: %w", err)
	}
	for i, rec := range rs {
		if err := insertReading(ctx, tx, rec); err != nil {
			return "", fmt.Errorf("insert reading %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	backup := "readings_history backup=" + label
	r.logger.Info("readings replaced", "backup", backup, "readings", len(rs))
	return backup, nil
}

func (r *sqliteRepository) Ping(ctx context.Context) error {
	var ok int
	return r.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertReading(ctx context.Context, db execer, rec types.Reading) error {
	_, err := db.ExecContext(ctx, insertReadingSQL,
		rec.Time.Format(time.RFC3339Nano),
		rec.Time.UTC().Format(time.RFC3339Nano),
		rec.Systolic,
		rec.Diastolic,
		rec.Pulse,
		rec.Raw,
		rec.LocalTZ,
	)
	return err
}
