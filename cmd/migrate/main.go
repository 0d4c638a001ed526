// migrate управляет версией схемы PostgreSQL: применяет, откатывает
// и показывает состояние миграций.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/bookcafe/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

func main() {
	var (
		command string
		steps   int
		dsn     string
	)
	flag.StringVar(&command, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: BOOKCAFE_POSTGRES_DSN)")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("BOOKCAFE_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("BOOKCAFE_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	command = strings.ToLower(strings.TrimSpace(command))
	switch command {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			fail("migrate up failed: %v", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, steps); err != nil {
			fail("migrate down failed: %v", err)
		}
	case "status":
		// Только печать состояния ниже.
	default:
		fail("unsupported direction: %s (use up|down|status)", command)
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		fail("migration status failed: %v", err)
	}

	switch command {
	case "status":
		fmt.Printf("migration status: version=%d applied=%d\n", version, count)
	default:
		fmt.Printf("migrate %s ok: version=%d applied=%d\n", command, version, count)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
