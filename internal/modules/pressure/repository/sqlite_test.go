package repository

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bplog/internal/logging"
	"bplog/internal/migrate"
	"bplog/internal/modules/pressure/types"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
	})
	if _, err := migrate.Run(context.Background(), db, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLiteRepository_AppendAndReadAll(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t), logging.Discard())
	ctx := context.Background()

	utc := types.Reading{Time: time.Date(2025, 11, 17, 0, 30, 0, 0, time.UTC), Systolic: 118, Diastolic: 78, Pulse: 66}
	for _, r := range []types.Reading{reading(17, 22, 130), reading(17, 9, 120), utc} {
		if err := repo.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := repo.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadAll returned %d; want 3", len(got))
	}
	// 09:00+08:00 is 01:00Z, after the 00:30Z reading.
	if got[0].Systolic != 118 || got[1].Systolic != 120 || got[2].Systolic != 130 {
		t.Errorf("order = %d, %d, %d; want 118, 120, 130", got[0].Systolic, got[1].Systolic, got[2].Systolic)
	}
	if _, off := got[1].Time.Zone(); off != 8*3600 {
		t.Errorf("offset = %d; want recorded +08:00", off)
	}
	if got[1].Raw != "120 80 70" || got[1].LocalTZ != "Asia/Shanghai" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestSQLiteRepository_ReadAll_skipsInvalidRows(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db, logging.Discard())
	ctx := context.Background()

	if err := repo.Append(ctx, reading(17, 9, 120)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for _, ts := range []string{"0001-01-01T00:00:00Z", "yesterday"} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO readings (ts, ts_utc, systolic, diastolic, pulse) VALUES (?, ?, 120, 80, 70)`,
			ts, ts,
		); err != nil {
			t.Fatalf("insert %q: %v", ts, err)
		}
	}

	got, err := repo.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].Systolic != 120 || got[0].Time.IsZero() {
		t.Errorf("ReadAll = %+v; want only the appended reading", got)
	}
}

func TestSQLiteRepository_Append_rejectedByConstraint(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t), logging.Discard())
	bad := reading(17, 9, 120)
	bad.Diastolic = 130

	if err := repo.Append(context.Background(), bad); err == nil {
		t.Fatal("Append with diastolic above systolic = nil; want constraint error")
	}
}

func TestSQLiteRepository_Replace(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db, logging.Discard()).(*sqliteRepository)
	repo.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	for _, r := range []types.Reading{reading(17, 9, 120), reading(17, 22, 130)} {
		if err := repo.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	backup, err := repo.Replace(ctx, []types.Reading{reading(18, 9, 140)})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if !strings.Contains(backup, "20260102T030405.000") {
		t.Errorf("backup = %q; want label with timestamp", backup)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM readings_history WHERE backup = ?`, "20260102T030405.000").Scan(&n); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if n != 2 {
		t.Errorf("history rows = %d; want 2", n)
	}

	got, err := repo.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].Systolic != 140 {
		t.Errorf("after Replace = %+v", got)
	}
}

func TestSQLiteRepository_Replace_rollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db, logging.Discard())
	ctx := context.Background()
	if err := repo.Append(ctx, reading(17, 9, 120)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	bad := reading(18, 9, 120)
	bad.Diastolic = 200
	if _, err := repo.Replace(ctx, []types.Reading{reading(18, 8, 125), bad}); err == nil {
		t.Fatal("Replace with invalid row = nil; want error")
	}

	got, err := repo.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].Systolic != 120 {
		t.Errorf("store changed after failed Replace: %+v", got)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM readings_history`).Scan(&n); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if n != 0 {
		t.Errorf("history rows after rollback = %d; want 0", n)
	}
}

func TestSQLiteRepository_DumpAndPing(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t), logging.Discard())
	ctx := context.Background()
	if err := repo.Append(ctx, reading(17, 9, 120)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	var buf bytes.Buffer
	if err := repo.Dump(ctx, &buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	want := `{"t":"2025-11-17T09:00:00+08:00","sys":120,"dia":80,"pulse":70,"raw":"120 80 70","local_tz":"Asia/Shanghai"}` + "\n"
	if buf.String() != want {
		t.Errorf("Dump = %q; want %q", buf.String(), want)
	}
}
