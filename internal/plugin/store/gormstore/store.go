// Package gormstore is the transactional CareStore. One implementation serves
// PostgreSQL in production and SQLite for development and tests.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/config"
	"github.com/chirino/carevault/internal/dataencryption"
	"github.com/chirino/carevault/internal/model"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	registrymigrate "github.com/chirino/carevault/internal/registry/migrate"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	for _, name := range []string{"postgres", "sqlite"} {
		registrystore.Register(registrystore.Plugin{Name: name, Loader: load})
	}
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func load(ctx context.Context) (registrystore.CareStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("gormstore: missing config")
	}
	cipher := dataencryption.FromContext(ctx)
	if cipher == nil {
		key, err := cfg.EncryptionKeyBytes()
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		if cipher, err = dataencryption.New(key); err != nil {
			return nil, err
		}
	}
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	go reportPoolStats(ctx, sqlDB)

	return New(db, cipher, registrycache.FromContext(ctx), cfg.CacheTTL), nil
}

// Open connects to the configured database and sizes the pool.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DatastoreType {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(cfg.DBURL))
	case "postgres", "":
		dialector = postgres.Open(cfg.DBURL)
	default:
		return nil, fmt.Errorf("unsupported datastore %q", cfg.DatastoreType)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialector.Name(), err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	maxOpen := cfg.DBMaxOpenConns
	if dialector.Name() == "sqlite" {
		// one writer at a time; BEGIN IMMEDIATE serializes the rest
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(cfg.DBMaxIdleConns, maxOpen))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(maxOpen))
	}
	return db, nil
}

func reportPoolStats(ctx context.Context, sqlDB *sql.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if security.DBPoolOpenConnections != nil {
				security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
			}
		}
	}
}

// gorm logs go through charmbracelet/log with placeholders instead of values,
// so envelopes and password hashes never reach the log.
func newGormLogger() gormlogger.Interface {
	return gormlogger.New(gormLogWriter{}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}

type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...any) {
	log.Warn("gorm", "msg", fmt.Sprintf(format, args...))
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "carevault-schema" }

func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "datastore", cfg.DatastoreType)
	db, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.WithContext(ctx).AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("Schema migration complete")
	return nil
}

// Store implements registrystore.CareStore on gorm.
type Store struct {
	db       *gorm.DB
	cipher   *dataencryption.Service
	cache    registrycache.DirectoryCache
	cacheTTL time.Duration
	now      func() time.Time

	// bumped on every therapist directory invalidation
	directoryGen atomic.Uint64
}

// New wraps an open database. cache may be nil.
func New(db *gorm.DB, cipher *dataencryption.Service, cache registrycache.DirectoryCache, cacheTTL time.Duration) *Store {
	return &Store{
		db:       db,
		cipher:   cipher,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates or updates the schema on db.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(model.All()...)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// inTx runs fn in one transaction. Domain errors pass through unchanged; any
// other failure, including cancellation, is reported as a TransactionError
// after rollback.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn, s.txOptions()...)
	if err == nil || isDomainError(err) {
		return err
	}
	if isUniqueViolation(err) {
		log.Debug("Store transaction hit a unique constraint", "op", op)
	} else {
		log.Error("Store transaction rolled back", "op", op, "err", err)
	}
	return &registrystore.TransactionError{Op: op, Err: err}
}

func (s *Store) txOptions() []*sql.TxOptions {
	if s.db.Dialector.Name() == "postgres" {
		return []*sql.TxOptions{{Isolation: sql.LevelReadCommitted}}
	}
	return nil
}

// forUpdate row-locks the selected rows on PostgreSQL. SQLite write
// transactions are already exclusive.
func (s *Store) forUpdate(tx *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func isDomainError(err error) bool {
	var (
		notFound   *registrystore.NotFoundError
		validation *registrystore.ValidationError
		conflict   *registrystore.ConflictError
		authn      *security.AuthenticationError
		authz      *security.AuthorizationError
	)
	return errors.As(err, &notFound) || errors.As(err, &validation) || errors.As(err, &conflict) ||
		errors.As(err, &authn) || errors.As(err, &authz)
}

// decryptField opens a stored envelope for display. Failures are counted,
// logged without the envelope, and replaced with the placeholder.
func (s *Store) decryptField(field, recordID, stored string) (string, bool) {
	plain, failure := s.cipher.DecryptOrPlaceholder(stored)
	if failure == nil {
		return plain, false
	}
	security.RecordDecryptFailure(field)
	log.Warn("Stored field failed to decrypt",
		"field", field,
		"recordId", recordID,
		"envelopeLength", len(stored),
		"reason", failure.Reason,
	)
	return plain, true
}

var _ registrystore.CareStore = (*Store)(nil)
