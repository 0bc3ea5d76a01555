package db

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the shared gorm handle. With a DSN it connects to Postgres;
// with an empty DSN it falls back to an in-process sqlite store so a fresh
// checkout boots with no configuration.
func Connect(dsn string) {
	lg := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             100 * time.Millisecond, // log queries > 100ms
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var (
		conn *gorm.DB
		err  error
	)
	if dsn == "" {
		log.Println("[db] DATABASE_URL empty, using in-memory sqlite (development mode)")
		conn, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: lg})
	} else {
		conn, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: lg})
	}
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatal("Failed to get sql.DB: ", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	DB = conn
	log.Println("[db] connected")
}

// IsPostgres reports whether the shared handle talks to Postgres. Some query
// paths (full-text search, array columns) have a sqlite fallback.
func IsPostgres(d *gorm.DB) bool {
	return d != nil && d.Dialector.Name() == "postgres"
}

// IsUniqueViolation reports whether err is a unique-constraint failure on
// either backend. Callers that generate random identifiers retry on it.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ping verifies connectivity; callers use it for startup checks and /health.
func Ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
