package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

const defaultDBName = "loopz.db"

type Config struct {
	Driver string
	DSN    string
	// Path is the sqlite file used when DSN is empty.
	Path string
}

// Open opens the configured database. SQLite connections enable foreign keys
// and wait on locks instead of failing fast.
func Open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return openSQLite(cfg)
	case DriverPgx:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("pgx driver requires a dsn")
		}
		return sql.Open(DriverPgx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		path := cfg.Path
		if path == "" {
			path = defaultDBName
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	return sql.Open(DriverSQLite, withForeignKeys(dsn))
}

// withForeignKeys appends the foreign_keys pragma to a sqlite DSN that does
// not set it. Task subtrees and message links rely on it.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// Rebind rewrites ? placeholders to $1..$n for drivers that need numbered
// parameters. Question marks inside single-quoted literals are kept.
func Rebind(driver, query string) string {
	if driver != DriverPgx || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
