package store

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("KANBAN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("KANBAN_TEST_DATABASE_URL is not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func tableExists(ctx context.Context, t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+table).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", table, err)
	}
	return exists
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	// A second run finds nothing pending.
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("migrate up again: %v", err)
	}

	var withFTS bool
	if err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'cards' AND column_name = 'fts')`).Scan(&withFTS); err != nil {
		t.Fatalf("check fts column: %v", err)
	}
	if !withFTS {
		t.Fatal("cards.fts missing after 0002_search")
	}

	if err := RollbackMigrations(ctx, db, migrationsDir, 1); err != nil {
		t.Fatalf("revert newest: %v", err)
	}
	if !tableExists(ctx, t, db, "cards") {
		t.Fatal("reverting one step dropped the base schema")
	}

	if err := RollbackMigrations(ctx, db, migrationsDir, 0); err != nil {
		t.Fatalf("revert all: %v", err)
	}
	for _, table := range []string{"boards", "lists", "cards", "participations"} {
		if tableExists(ctx, t, db, table) {
			t.Fatalf("table %s still present after full rollback", table)
		}
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("migrate up after rollback: %v", err)
	}
	for _, table := range []string{"users", "boards", "lists", "cards", "participations"} {
		if !tableExists(ctx, t, db, table) {
			t.Fatalf("table %s missing after round trip", table)
		}
	}
}
