package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

const usage = "migration command: up|down|status|to|create|validate"

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", usage)
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded schema")
	name := flag.String("name", "", "migration name (create)")
	version := flag.String("version", "", "target version YYYYMMDDHHMMSS (to)")
	flag.Parse()

	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": *cmd, "dir": *dir})

	// create and validate work on files only and need no config.
	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		if *name == "" {
			fail(ctx, logg, "missing -name for create", nil)
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		if err != nil {
			fail(ctx, logg, "create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		files, err := migrate.Files(*dir)
		if err != nil {
			fail(ctx, logg, "open migrations", err)
		}
		if err := migrate.Validate(files); err != nil {
			fail(ctx, logg, "migration validation failed", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, "load config", err)
	}
	logg = logger.ForService("migrate", cfg.App)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "connect database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "extract sql.DB", err)
	}
	files, err := migrate.Files(*dir)
	if err != nil {
		fail(ctx, logg, "open migrations", err)
	}
	runner, err := migrate.NewRunner(sqlDB, files, logg)
	if err != nil {
		fail(ctx, logg, "load migrations", err)
	}

	switch *cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			fail(ctx, logg, "migrate up", err)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		if err := runner.Down(ctx); err != nil {
			fail(ctx, logg, "migrate down", err)
		}
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			fail(ctx, logg, "migration status", err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
		for _, st := range statuses {
			applied := "-"
			if !st.AppliedAt.IsZero() {
				applied = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Source.Version, st.State, applied)
		}
		tw.Flush()
	case "to":
		if *version == "" {
			fail(ctx, logg, "missing -version for to", nil)
		}
		if err := runner.To(ctx, *version); err != nil {
			fail(ctx, logg, "migrate to version", err)
		}
	default:
		fail(ctx, logg, "unknown -cmd value "+*cmd+" ("+usage+")", nil)
	}
}

func fail(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		err = fmt.Errorf("%s", msg)
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
