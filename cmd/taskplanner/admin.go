package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/labdesk/taskplanner/internal/adapter/postgres"
	"github.com/labdesk/taskplanner/internal/config"
	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/middleware"
	"github.com/labdesk/taskplanner/internal/port/eventstore"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "journal":
		return runAdminJournal(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: taskplanner admin <command> [options]

Commands:
  hash-key   Print the bcrypt hash to configure as server.api_key_hash
  migrate    Apply pending journal migrations
  rollback   Roll back journal migrations
  version    Print the current journal schema version
  journal    List journaled events of a plan
  help       Show this help message

Examples:
  taskplanner admin hash-key
  taskplanner admin migrate --config taskplanner.yaml
  taskplanner admin rollback --steps 1
  taskplanner admin journal --plan 6f1c... --type step_failed --limit 20
`)
}

// adminFlags registers the flags shared by all database commands.
func adminFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfgPath := fs.String("config", config.DefaultConfigFile, "path to YAML config file")
	return fs, cfgPath
}

func loadAdminDSN(cfgPath string) (string, error) {
	cfg, err := config.LoadFrom(cfgPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return "", errors.New("postgres.dsn is not configured")
	}
	return cfg.Postgres.DSN, nil
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	k := *key
	if k == "" {
		var err error
		k, err = promptSecret("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptSecret("Confirm API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if k != confirm {
			return errors.New("keys do not match")
		}
	}
	if len(k) < 16 {
		return errors.New("API key must be at least 16 characters")
	}

	hash, err := middleware.HashAPIKey(k)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func runAdminMigrate(args []string) error {
	fs, cfgPath := adminFlags("migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dsn, err := loadAdminDSN(*cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Journal schema at version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	fs, cfgPath := adminFlags("rollback")
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return errors.New("--steps must be at least 1")
	}
	dsn, err := loadAdminDSN(*cfgPath)
	if err != nil {
		return err
	}

	if err := postgres.RollbackMigrations(context.Background(), dsn, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminVersion(args []string) error {
	fs, cfgPath := adminFlags("version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dsn, err := loadAdminDSN(*cfgPath)
	if err != nil {
		return err
	}

	v, err := postgres.MigrationVersion(context.Background(), dsn)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	fmt.Println(v)
	return nil
}

func runAdminJournal(args []string) error {
	fs, cfgPath := adminFlags("journal")
	planID := fs.String("plan", "", "plan ID (required)")
	types := fs.String("type", "", "comma-separated event types to include")
	limit := fs.Int("limit", 0, "maximum number of events (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *planID == "" {
		return errors.New("--plan is required")
	}

	cfg, err := config.LoadFrom(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is not configured")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	filter := eventstore.Filter{Limit: *limit}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.Types = append(filter.Types, event.Type(t))
		}
	}

	events, err := postgres.NewEventStore(pool).LoadByPlan(ctx, *planID, filter)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tTYPE\tSTEP\tDATA")
	for i := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			events[i].Timestamp.Format("2006-01-02 15:04:05.000"), events[i].Type, events[i].StepID, events[i].Data)
	}
	return w.Flush()
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
