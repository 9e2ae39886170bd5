// Command migrate manages the booking schema.
//
//	migrate up | down | to <version> | version | seed | reset
//
// On postgres, up/down/to/version go through the SQL files in MIGRATIONS_DIR.
// On sqlite the schema is created from the bun models instead.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate up | down | to <version> | version | seed | reset")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()
	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect: %v", err))
	}
	defer db.Close()

	if err := run(ctx, db, cfg, log, os.Args[1:]); err != nil {
		log.Error("MIGRATE", err.Error())
		os.Exit(1)
	}
	log.Info("MIGRATE", "✅ Done.")
}

func run(ctx context.Context, db *bun.DB, cfg *config.Config, log *logger.Logger, args []string) error {
	sqlite := cfg.Database.Driver == "sqlite"
	runner := migrations.NewRunner(db, migrations.MigrateOptions{MigrationsDir: cfg.Migration.Dir}, log)

	switch args[0] {
	case "up":
		if sqlite {
			return database.CreateSchema(ctx, db)
		}
		return runner.RunMigrations()
	case "down":
		if sqlite {
			return database.DropSchema(ctx, db)
		}
		return runner.MigrateDown()
	case "to":
		if len(args) < 2 {
			usage()
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return runner.MigrateTo(uint(v))
	case "version":
		v, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty=%t)", v, dirty))
		return nil
	case "seed":
		return database.SeedDemo(ctx, db)
	case "reset":
		log.Warn("MIGRATE", "Dropping and recreating all booking tables")
		if err := database.DropSchema(ctx, db); err != nil {
			return err
		}
		if err := database.CreateSchema(ctx, db); err != nil {
			return err
		}
		return database.SeedDemo(ctx, db)
	default:
		usage()
	}
	return nil
}
