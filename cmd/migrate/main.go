// Command migrate применяет и откатывает миграции схемы кафе в PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/storage/postgres"
)

const (
	migrateTimeout = 30 * time.Second
	dsnEnv         = "CAFE_POSTGRES_DSN"
)

type command string

const (
	commandUp     command = "up"
	commandDown   command = "down"
	commandStatus command = "status"
)

type options struct {
	command command
	steps   int
	dsn     string
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.WithError(err).WithField("direction", opts.command).Fatal("migration failed")
	}
}

func parseArgs(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var (
		direction string
		opts      options
	)
	fs.StringVar(&direction, "direction", string(commandUp), "up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply (0 = all) or roll back (0 = one)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to $"+dsnEnv)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.command = command(strings.ToLower(strings.TrimSpace(direction)))
	switch opts.command {
	case commandUp, commandStatus:
	case commandDown:
		if opts.steps <= 0 {
			opts.steps = 1
		}
	default:
		return options{}, fmt.Errorf("unsupported direction %q, use up|down|status", direction)
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must not be negative, got %d", opts.steps)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(dsnEnv))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s or -dsn is required", dsnEnv)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn, postgres.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	switch opts.command {
	case commandUp:
		err = store.MigrateUp(ctx, opts.steps)
	case commandDown:
		err = store.MigrateDown(ctx, opts.steps)
	}
	if err != nil {
		return err
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, err = fmt.Fprintln(out, describe(opts.command, state))
	return err
}

func describe(cmd command, state postgres.MigrationState) string {
	head := "schema"
	if cmd != commandStatus {
		head = "migrated " + string(cmd)
	}
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", head, state.Version, state.Applied, state.Pending)
}
