package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", migrate.SourceDir, "source migrations directory (create, validate)")
	name := flag.String("name", "", "migration name (create)")
	version := flag.String("version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	// create and validate work on source files and never touch the database.
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			exitf("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("source migrations invalid: %v", err)
		}
		if err := migrate.ValidateFS(migrate.Migrations()); err != nil {
			exitf("embedded migrations invalid: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "billing-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	migrator, err := migrate.New(sqlDB)
	requireResource(ctx, logg, "migrator", err)

	switch *cmd {
	case "up":
		applied, err := migrator.Up(ctx)
		report(applied)
		if err != nil {
			exitf("%v", err)
		}
	case "down":
		applied, err := migrator.Down(ctx)
		if err != nil {
			exitf("%v", err)
		}
		if applied != nil {
			report([]migrate.Applied{*applied})
		}
	case "status":
		rows, err := migrator.Status(ctx)
		if err != nil {
			exitf("%v", err)
		}
		printStatus(rows)
	case "version":
		target, err := strconv.ParseInt(*version, 10, 64)
		if err != nil {
			exitf("invalid -version %q: %v", *version, err)
		}
		applied, err := migrator.To(ctx, target)
		report(applied)
		if err != nil {
			exitf("%v", err)
		}
	default:
		exitf("unknown -cmd value: %s", *cmd)
	}
}

func report(applied []migrate.Applied) {
	if len(applied) == 0 {
		fmt.Println("no migrations to run")
		return
	}
	for _, a := range applied {
		fmt.Printf("%-4s %d %s (%s)\n", a.Direction, a.Version, a.Path, a.Duration.Round(time.Millisecond))
	}
}

func printStatus(rows []migrate.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tPATH")
	for _, row := range rows {
		state, appliedAt := "pending", "-"
		if row.Applied {
			state = "applied"
			appliedAt = row.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", row.Version, state, appliedAt, row.Path)
	}
	w.Flush()
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
