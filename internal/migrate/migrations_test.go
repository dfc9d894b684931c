package migrate

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"loopz/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "loopz.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	v1, err := Migrate(ctx, conn, db.DriverSQLite)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v2, err := Migrate(ctx, conn, db.DriverSQLite)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v1 != v2 || v1 < 1 {
		t.Fatalf("versions %d then %d", v1, v2)
	}
	for _, table := range []string{"users", "sessions", "loops", "tasks", "chat_messages", "events"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestDialectsShipSameVersions(t *testing.T) {
	lite, err := loadMigrations(db.DriverSQLite)
	if err != nil {
		t.Fatalf("sqlite migrations: %v", err)
	}
	pg, err := loadMigrations(db.DriverPgx)
	if err != nil {
		t.Fatalf("pgx migrations: %v", err)
	}
	if len(lite) != len(pg) {
		t.Fatalf("sqlite has %d migrations, pgx has %d", len(lite), len(pg))
	}
	for i := range lite {
		if lite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d: %d vs %d", i, lite[i].Version, pg[i].Version)
		}
		if strings.Contains(pg[i].UpSQL, "AUTOINCREMENT") {
			t.Fatalf("pgx migration %s uses sqlite syntax", pg[i].Name)
		}
	}
}

func TestStatementsSplit(t *testing.T) {
	got := statements("CREATE TABLE a (x INT);\n\nCREATE INDEX i ON a(x);\n")
	if len(got) != 2 || got[1] != "CREATE INDEX i ON a(x)" {
		t.Fatalf("statements=%q", got)
	}
}
