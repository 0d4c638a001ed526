package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS_Success(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_more.up.sql":   migrationFile("CREATE TABLE test_b (id INT);"),
		"sql/migrations/0002_more.down.sql": migrationFile("DROP TABLE IF EXISTS test_b;"),
		"sql/migrations/0001_init.up.sql":   migrationFile("CREATE TABLE test_a (id INT);"),
		"sql/migrations/0001_init.down.sql": migrationFile("DROP TABLE IF EXISTS test_a;"),
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "more" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
	if migrations[0].UpSQL == "" || migrations[0].DownSQL == "" {
		t.Fatalf("expected both bodies to be loaded: %+v", migrations[0])
	}
}

func TestLoadMigrationsFromFS_BadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name: "missing down half",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql": migrationFile("CREATE TABLE test_a (id INT);"),
			},
			wantErr: "both up and down",
		},
		{
			name: "unparseable file name",
			fsys: fstest.MapFS{
				"sql/migrations/not_a_migration.sql": migrationFile("SELECT 1;"),
			},
			wantErr: "migration file name",
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   migrationFile("   \n"),
				"sql/migrations/0001_init.down.sql": migrationFile("DROP TABLE IF EXISTS test;"),
			},
			wantErr: "empty migration file",
		},
		{
			name: "same version different names",
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    migrationFile("CREATE TABLE test_a (id INT);"),
				"sql/migrations/0001_other.down.sql": migrationFile("DROP TABLE IF EXISTS test_a;"),
			},
			wantErr: "conflicting names",
		},
		{
			name:    "no files at all",
			fsys:    fstest.MapFS{},
			wantErr: "no migration files",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(tc.fsys)
			if err == nil {
				t.Fatal("expected load error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

// Встроенные миграции обязаны парситься без БД.
func TestEmbeddedMigrationsParse(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations failed to parse: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Fatalf("migrations out of order: %d after %d", migrations[i].Version, migrations[i-1].Version)
		}
	}
}
