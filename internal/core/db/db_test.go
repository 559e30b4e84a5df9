package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpen_RejectsUnknownScheme(t *testing.T) {
	if _, err := Open("mysql://localhost/db"); err == nil {
		t.Error("Open(mysql) error = nil, want error")
	}
}

func TestMigrateUp(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	if err := RequireMigrations(ctx, database); err == nil {
		t.Fatal("RequireMigrations() before migrate error = nil, want error")
	}

	if err := MigrateUp(ctx, database); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	// Second run is a no-op
	if err := MigrateUp(ctx, database); err != nil {
		t.Fatalf("MigrateUp() second run error = %v, want nil", err)
	}

	statuses, err := MigrateStatus(ctx, database)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v, want nil", err)
	}
	if len(statuses) == 0 {
		t.Fatal("MigrateStatus() returned no migrations")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
	}

	if err := RequireMigrations(ctx, database); err != nil {
		t.Errorf("RequireMigrations() error = %v, want nil", err)
	}
}

func TestMigrateUp_DetectsTamperedChecksum(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	if err := MigrateUp(ctx, database); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	if _, err := database.Exec("UPDATE migrations SET checksum = 'tampered' WHERE migration_id = '001_outbox.sql'"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := MigrateUp(ctx, database); err == nil {
		t.Error("MigrateUp() error = nil, want checksum mismatch")
	}
}

func TestSplitStatements(t *testing.T) {
	script := "-- header\nCREATE TABLE a (x TEXT);\n\n-- between\nCREATE INDEX i ON a (x);\n"
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("splitStatements() = %q, want 2 statements", got)
	}
	if got[0] != "CREATE TABLE a (x TEXT)" {
		t.Errorf("statement 0 = %q", got[0])
	}
}

func TestQueries_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	if err := MigrateUp(ctx, database); err != nil {
		t.Fatalf("MigrateUp() error = %v, want nil", err)
	}
	queries, err := LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v, want nil", err)
	}

	boom := errors.New("boom")
	err = queries.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "insert-entry", "id-1", "order", "{}", "t", "t"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	var n int
	if err := queries.GetContext(ctx, "count-entries", &n); err != nil {
		t.Fatalf("count-entries: %v", err)
	}
	if n != 0 {
		t.Errorf("count after rollback = %d, want 0", n)
	}

	if _, err := queries.ExecContext(ctx, "no-such-query"); err == nil {
		t.Error("ExecContext(unknown) error = nil, want error")
	}
}
