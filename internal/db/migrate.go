package db

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMigrationDrift means an embedded migration no longer matches the
// digest recorded when it was applied.
var ErrMigrationDrift = errors.New("applied migration was modified")

type migration struct {
	version int
	file    string
	body    string
	sum     []byte
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version       INTEGER PRIMARY KEY,
  name          TEXT    NOT NULL DEFAULT '',
  checksum      BLOB,
  applied_at_ms INTEGER NOT NULL
);`

// Migrate brings db up to the embedded schema and returns how many files
// it applied. Each file runs in its own transaction. Files already applied
// are checked against their recorded blake3 digest.
func Migrate(ctx context.Context, db *sql.DB) (int, error) {
	return migrateFS(ctx, db, migrationsFS, "migrations")
}

func migrateFS(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) (int, error) {
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	pending, err := readMigrations(fsys, dir)
	if err != nil {
		return 0, err
	}
	done, err := appliedMigrations(ctx, db)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range pending {
		if sum, ok := done[m.version]; ok {
			if len(sum) > 0 && !bytes.Equal(sum, m.sum) {
				return n, fmt.Errorf("%s: %w", m.file, ErrMigrationDrift)
			}
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func readMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		version, err := migrationVersion(e.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := blake3.Sum256(body)
		out = append(out, migration{version: version, file: e.Name(), body: string(body), sum: sum[:]})
	}

	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d: %s, %s", out[i].version, out[i-1].file, out[i].file)
		}
	}
	return out, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[int][]byte, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations;")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int][]byte)
	for rows.Next() {
		var (
			v   int
			sum []byte
		)
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		done[v] = sum
	}
	return done, rows.Err()
}

func (m migration) apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.file, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.file, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations(version, name, checksum, applied_at_ms) VALUES(?, ?, ?, ?);",
		m.version, m.file, m.sum, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", m.file, err)
	}
	return tx.Commit()
}

// migrationVersion reads the numeric prefix: 0001_init.sql is version 1.
func migrationVersion(file string) (int, error) {
	prefix, _, ok := strings.Cut(file, "_")
	if !ok || prefix == "" {
		return 0, fmt.Errorf("migration %s: want NNNN_name.sql", file)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("migration %s: bad version %q", file, prefix)
	}
	return v, nil
}
