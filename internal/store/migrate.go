package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

var migrationName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one numbered schema step with its forward and reverse scripts.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Key is the value recorded in schema_migrations, e.g. "0001_init".
func (m Migration) Key() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// LoadMigrations pairs the up and down scripts in dir and orders them by
// version. A version missing either direction is an error.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := map[int]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, _ := strconv.Atoi(match[1])
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: match[2]}
			byVersion[version] = m
		} else if m.Name != match[2] {
			return nil, fmt.Errorf("migration %04d has two names: %s and %s", version, m.Name, match[2])
		}
		path := filepath.Join(dir, entry.Name())
		slot := &m.Up
		if match[3] == "down" {
			slot = &m.Down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s script for migration %04d", match[3], version)
		}
		*slot = path
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m.Key())
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations brings the schema up to date with dir. Each pending step
// runs in its own transaction together with its schema_migrations row.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string) error {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if applied[m.Key()] {
			continue
		}
		err := runMigrationScript(ctx, db, m.Up, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Key())
		if err != nil {
			return fmt.Errorf("migrate up %s: %w", m.Key(), err)
		}
		pending++
		log.WithField("version", m.Key()).Info("migration applied")
	}

	log.WithFields(log.Fields{"applied": pending, "known": len(migrations)}).Debug("schema up to date")
	return nil
}

// RollbackMigrations reverts the newest steps applied migrations. steps <= 0
// reverts all of them.
func RollbackMigrations(ctx context.Context, db *sql.DB, dir string, steps int) error {
	migrations, err := LoadMigrations(dir)
	if err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	reverted := 0
	for i := len(migrations) - 1; i >= 0; i-- {
		if steps > 0 && reverted == steps {
			break
		}
		m := migrations[i]
		if !applied[m.Key()] {
			continue
		}
		err := runMigrationScript(ctx, db, m.Down, `DELETE FROM schema_migrations WHERE version = $1`, m.Key())
		if err != nil {
			return fmt.Errorf("migrate down %s: %w", m.Key(), err)
		}
		reverted++
		log.WithField("version", m.Key()).Info("migration reverted")
	}
	return nil
}

func runMigrationScript(ctx context.Context, db *sql.DB, path, bookkeeping, key string) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, key); err != nil {
		return err
	}
	return tx.Commit()
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
