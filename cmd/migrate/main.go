package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/logger"
)

// migrator is satisfied by *migrate.Migrate.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
}

func main() {
	mode := flag.String("mode", "up", "migration mode: up, down, steps or version")
	steps := flag.Int("steps", 1, "number of steps for -mode steps (negative rolls back)")
	dir := flag.String("path", "migrations", "directory holding the migration files")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("create migrate driver", zap.Error(err))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "postgres", driver)
	if err != nil {
		log.Fatal("create migrate instance", zap.Error(err))
	}

	if err := run(m, *mode, *steps, log); err != nil {
		log.Fatal("migrate", zap.String("mode", *mode), zap.Error(err))
	}
}

func run(m migrator, mode string, steps int, log *zap.Logger) error {
	var err error
	switch mode {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if steps == 0 {
			return fmt.Errorf("steps must not be 0")
		}
		err = m.Steps(steps)
	case "version":
	default:
		return fmt.Errorf("unknown mode: %s (use up, down, steps or version)", mode)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("no migrations to apply")
		err = nil
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info("database has no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	log.Info("migration state", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
