// Package history keeps the append-only log of weather lookups.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// DefaultLimit is the number of entries Recent returns when limit is not positive.
const DefaultLimit = 5

// MaxLimit caps Recent.
const MaxLimit = 100

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown history driver")

// Store is the lookup log. Append adds one entry; Recent returns newest first.
type Store interface {
	Append(ctx context.Context, obs *models.Observation) error
	Recent(ctx context.Context, limit int) ([]models.Observation, error)
	Ping(ctx context.Context) error
	Close() error
}

// Repo implements Store on gorm.
type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the history database for driver ("sqlite" or "postgres") and
// migrates the schema. For sqlite the dsn is a file path or a "file:" URI.
func Open(driver, dsn string) (*Repo, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		if dsn == "" {
			dsn = "weather.db"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and ensures the weather_history table exists.
func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&models.Observation{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Repo{db: db, now: time.Now}, nil
}

// Append inserts obs, stamping CapturedAt with the current time when unset.
// CapturedAt is always stored in UTC so text-encoded timestamps sort by instant.
func (r *Repo) Append(ctx context.Context, obs *models.Observation) error {
	start := time.Now()
	defer func() {
		observability.HistoryDuration.WithLabelValues("append").Observe(time.Since(start).Seconds())
	}()

	if obs.CapturedAt.IsZero() {
		obs.CapturedAt = r.now()
	}
	obs.CapturedAt = obs.CapturedAt.UTC()
	if err := r.db.WithContext(ctx).Create(obs).Error; err != nil {
		observability.HistoryAppendsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("append history: %w", err)
	}
	observability.HistoryAppendsTotal.WithLabelValues("success").Inc()
	return nil
}

// Recent returns up to limit entries, newest first. Entries with equal timestamps
// are ordered by insertion, latest first.
func (r *Repo) Recent(ctx context.Context, limit int) ([]models.Observation, error) {
	start := time.Now()
	defer func() {
		observability.HistoryDuration.WithLabelValues("recent").Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "captured_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}

	var rows []models.Observation
	if err := r.db.WithContext(ctx).Clauses(order).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return rows, nil
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
