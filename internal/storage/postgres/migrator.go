package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// advisoryLockID защищает прогон миграций от параллельных инстансов сервиса.
const advisoryLockID = int64(20260312)

const versionTableDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var migrationNameRE = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type migrateDir string

const (
	dirUp   migrateDir = "up"
	dirDown migrateDir = "down"
)

// migration — пара up/down SQL под одной версией.
type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) label() string {
	return fmt.Sprintf("%d_%s", m.Version, m.Name)
}

func (m migration) body(dir migrateDir) string {
	if dir == dirDown {
		return m.DownSQL
	}
	return m.UpSQL
}

// MigrateUp применяет недостающие миграции по порядку версий.
// steps=0 означает "все".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.applyMigrations(ctx, dirUp, steps)
}

// MigrateDown откатывает миграции от старшей версии к младшей.
// Неположительный steps приводится к одному шагу, чтобы случайный
// вызов не снёс схему целиком.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.applyMigrations(ctx, dirDown, steps)
}

// MigrationStatus возвращает старшую применённую версию и количество
// применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (version int64, applied int, err error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	statusCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err = s.db.ExecContext(statusCtx, versionTableDDL); err != nil {
		return 0, 0, fmt.Errorf("create schema_migrations table: %w", err)
	}

	err = s.db.QueryRowContext(statusCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&version, &applied)
	if err != nil {
		return 0, 0, fmt.Errorf("read migration status: %w", err)
	}
	return version, applied, nil
}

// applyMigrations держит advisory lock на всё время прогона, так что
// несколько инстансов не применят одну миграцию дважды.
func (s *Store) applyMigrations(ctx context.Context, dir migrateDir, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	available, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("checkout db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		return fmt.Errorf("take migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockID)
	}()

	if _, err := conn.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	plan, err := buildPlan(ctx, conn, available, dir, steps)
	if err != nil {
		return err
	}

	for _, m := range plan {
		if err := applyOne(ctx, conn, m, dir); err != nil {
			return err
		}
	}
	return nil
}

// buildPlan выбирает миграции для прогона: недостающие версии по
// возрастанию для up, применённые по убыванию (до steps штук) для down.
func buildPlan(ctx context.Context, conn *sql.Conn, available []migration, dir migrateDir, steps int) ([]migration, error) {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var plan []migration
	if dir == dirDown {
		byVersion := make(map[int64]migration, len(available))
		for _, m := range available {
			byVersion[m.Version] = m
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, v := range versions {
			if steps > 0 && len(plan) >= steps {
				break
			}
			m, known := byVersion[v]
			if !known {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", v)
			}
			plan = append(plan, m)
		}
		return plan, nil
	}

	for _, m := range available {
		if applied[m.Version] {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) >= steps {
			break
		}
	}
	return plan, nil
}

// applyOne выполняет тело миграции и запись в schema_migrations одной
// транзакцией.
func applyOne(ctx context.Context, conn *sql.Conn, m migration, dir migrateDir) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for migration %s: %w", m.label(), err)
	}

	if _, err := tx.ExecContext(ctx, m.body(dir)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply %s migration %s: %w", dir, m.label(), err)
	}

	if dir == dirDown {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
			m.Version, m.Name,
		)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("bookkeep %s migration %s: %w", dir, m.label(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", dir, m.label(), err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied versions: %w", err)
	}
	return applied, nil
}

// loadMigrationsFromFS собирает пары NNNN_name.up.sql / NNNN_name.down.sql
// в отсортированный по версии список. Непарный, пустой или криво названный
// файл — ошибка: схема либо воспроизводима целиком, либо никак.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migration files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files under sql/migrations")
	}

	halves := make(map[int64]*migration)
	for _, file := range files {
		base := filepath.Base(file)
		parts := migrationNameRE.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("unexpected migration file name: %s", base)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad migration version in %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("empty migration file: %s", base)
		}

		half, seen := halves[version]
		switch {
		case !seen:
			half = &migration{Version: version, Name: parts[2]}
			halves[version] = half
		case half.Name != parts[2]:
			return nil, fmt.Errorf("version %d has conflicting names %q and %q", version, half.Name, parts[2])
		}

		if migrateDir(parts[3]) == dirUp {
			if half.UpSQL != "" {
				return nil, fmt.Errorf("version %d has more than one up file", version)
			}
			half.UpSQL = body
		} else {
			if half.DownSQL != "" {
				return nil, fmt.Errorf("version %d has more than one down file", version)
			}
			half.DownSQL = body
		}
	}

	out := make([]migration, 0, len(halves))
	for _, half := range halves {
		if half.UpSQL == "" || half.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", half.label())
		}
		out = append(out, *half)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	return out, nil
}
