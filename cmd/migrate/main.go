package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/noah-isme/journal-api/migrations"
	"github.com/noah-isme/journal-api/pkg/config"
	"github.com/noah-isme/journal-api/pkg/database"
	"github.com/noah-isme/journal-api/pkg/logger"
)

const usage = `Usage: migrate COMMAND [ARGS]

Commands:
  up                   apply all pending migrations
  up-by-one            apply the next pending migration
  up-to VERSION        apply migrations up to VERSION
  down                 roll back the latest migration
  down-to VERSION      roll back to VERSION
  redo                 roll back and re-apply the latest migration
  reset                roll back every migration
  status               print the state of each migration
  version              print the current schema version
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	args := flag.Args()
	if err := database.Migrate(db.DB, migrations.FS, logr, args[0], args[1:]...); err != nil {
		logr.Fatal("migration failed", zap.Error(err))
	}
}
