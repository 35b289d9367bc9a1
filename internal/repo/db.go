// Package repo is the GORM persistence layer: free functions taking a
// context and a *gorm.DB, so callers can pass a transaction handle. Missing
// rows surface as ErrNotFound.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// sqlitePragmas are applied by the driver to every pooled connection.
// foreign_keys and busy_timeout are per-connection settings in SQLite.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

const (
	maxOpenConns    = 10
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
	slowQuery       = 200 * time.Millisecond
)

// zerologWriter routes GORM's slow-query and error lines to the global
// zerolog logger.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...any) {
	log.Warn().Str("subsystem", "gorm").Msgf(format, args...)
}

func newGormLogger() logger.Interface {
	return logger.New(zerologWriter{}, logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// OpenSQLite opens (or creates) the database at path, applies the PRAGMAs and
// pool limits and registers the OpenTelemetry plugin so every query becomes a
// span. The parent directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(withPragmas(path)), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	return db, nil
}

// withPragmas appends the connection PRAGMAs to a path or file: DSN.
func withPragmas(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// AutoMigrate creates or updates every table the service owns. Parents are
// listed before children so foreign keys resolve.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Credential{},
		&domain.RevokedToken{},
		&domain.Chat{},
		&domain.Message{},
		&domain.Idempotency{},
	)
}
