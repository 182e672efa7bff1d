package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"
	"time"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/postgres"
	"github.com/flexprice/dealpay/migrations"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print migration SQL without executing it")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	files, err := fs.Glob(migrations.Postgres, "postgres/*.sql")
	if err != nil {
		logger.Fatalw("Failed to list migrations", "error", err)
	}
	sort.Strings(files)

	if *dryRun {
		logger.Info("Dry run mode - printing migration SQL without executing")
		for _, name := range files {
			body, err := migrations.Postgres.ReadFile(name)
			if err != nil {
				logger.Fatalw("Failed to read migration", "file", name, "error", err)
			}
			fmt.Fprintf(os.Stdout, "-- %s\n%s\n", name, body)
		}
		return
	}

	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)
	db, err := postgres.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Running database migrations...")
	err = db.WithTx(ctx, func(ctx context.Context) error {
		for _, name := range files {
			body, err := migrations.Postgres.ReadFile(name)
			if err != nil {
				return err
			}
			if _, err := db.GetQuerier(ctx).ExecContext(ctx, string(body)); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			logger.Infow("Applied migration", "file", name)
		}
		return nil
	})
	if err != nil {
		logger.Fatalw("Failed to apply migrations", "error", err)
	}

	logger.Info("Migration completed successfully")
}
