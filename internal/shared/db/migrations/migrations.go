package migrations

import (
	"errors"
	"net/url"

	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// DefaultSource is the migrations directory relative to the repo root.
const DefaultSource = "file://internal/shared/db/migrations/sql"

// RunMigrations applies every pending up migration from source to dsn.
func RunMigrations(source, dsn string) error {
	log.Info("RunMigrations",
		zap.String("source", source),
		zap.String("postgresUrl", redact(dsn)))
	m, err := migrate.New(source, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Info("Migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "invalid dsn"
	}
	return u.Redacted()
}
