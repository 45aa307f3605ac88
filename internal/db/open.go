package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPath = "./data/gatekeeper.db"

type Config struct {
	Path string // e.g. "./data/gatekeeper.db"
	Env  string // "dev" | "prod"
}

// ErrNoDataDir is returned in prod when the database directory is missing.
var ErrNoDataDir = errors.New("database directory does not exist")

var (
	// File databases: WAL so console reads do not block the audit writer.
	filePragmas = []string{"foreign_keys(1)", "journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(5000)"}
	memPragmas  = []string{"foreign_keys(1)", "busy_timeout(5000)"}
)

// Open opens the sqlite database at cfg.Path and migrates it. In dev the
// parent directory is created on demand; prod expects it to be
// provisioned.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	dir := filepath.Dir(cfg.Path)
	if cfg.Env == "prod" {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoDataDir)
		}
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	return openDSN(ctx, dsn(cfg.Path, nil, filePragmas))
}

// OpenMemory opens a private in-memory database with the production
// schema. name must be unique per database wanted.
func OpenMemory(ctx context.Context, name string) (*sql.DB, error) {
	return openDSN(ctx, dsn(name, url.Values{"mode": {"memory"}, "cache": {"shared"}}, memPragmas))
}

func dsn(name string, q url.Values, pragmas []string) string {
	if q == nil {
		q = url.Values{}
	}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + name + "?" + q.Encode()
}

func openDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One connection: the Worker is the only writer and lookups are short.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = conn.PingContext(pingCtx)
	cancel()
	if err == nil {
		_, err = Migrate(ctx, conn)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	return conn, nil
}
