package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

const migrationSQL = `-- +migrate Up
CREATE TABLE notes (
    id TEXT PRIMARY KEY,
    body TEXT NOT NULL
);

-- +migrate Down
DROP TABLE notes;
`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	sqlDB := openTestDB(t)
	migrations := fstest.MapFS{
		"0001_notes.sql": &fstest.MapFile{Data: []byte(migrationSQL)},
	}

	for i := range 2 {
		if err := ApplyMigrations(sqlDB, migrations, "."); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	if _, err := sqlDB.Exec(`INSERT INTO notes (id, body) VALUES ('n1', 'hello')`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}

	var applied int
	row := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&applied); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
}

func TestExtractUpMigration(t *testing.T) {
	up := ExtractUpMigration(migrationSQL)
	if !strings.Contains(up, "CREATE TABLE notes") {
		t.Fatalf("up section missing create: %q", up)
	}
	if strings.Contains(up, "DROP TABLE") {
		t.Fatalf("up section includes down SQL: %q", up)
	}

	// Files without section markers run whole.
	plain := "CREATE TABLE plain (id TEXT);"
	if got := ExtractUpMigration(plain); got != plain {
		t.Fatalf("plain file = %q", got)
	}
}
