// Package audit persists block events to PostgreSQL, implementing
// ratelimit.OnBlocked so every Denied/Blocked admission decision leaves a
// durable record independent of the structured request log.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/brinkwatch/admission-guard/internal/ratelimit"
)

// Config contains the audit database connection configuration.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// BlockEvent is one row of the audit trail.
type BlockEvent struct {
	ID          int64     `db:"id"`
	OccurredAt  time.Time `db:"occurred_at"`
	IPAddress   string    `db:"ip_address"`
	Path        string    `db:"path"`
	UserAgent   string    `db:"user_agent"`
	WasScreened bool      `db:"was_screened"`
}

// Store persists BlockEvents to Postgres.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to Postgres, configures the pool, and ensures the
// audit table exists.
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("audit: failed to initialize store: %w", err)
	}

	logger.Info("audit store initialized", zap.String("database_url", maskDatabaseURL(config.DatabaseURL)))
	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS block_events (
			id SERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			ip_address TEXT NOT NULL,
			path TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			was_screened BOOLEAN NOT NULL
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure block_events table: %w", err)
	}
	return nil
}

// OnBlocked implements ratelimit.OnBlocked by inserting one row per block
// event. It is invoked by AdmissionEngine in a detached goroutine, so a
// slow insert never delays the response already sent to the client.
func (s *Store) OnBlocked(ctx context.Context, ip, path string, sc *ratelimit.SecurityContext) error {
	const query = `
		INSERT INTO block_events (occurred_at, ip_address, path, user_agent, was_screened)
		VALUES ($1, $2, $3, $4, $5)`

	userAgent := ""
	wasScreened := false
	if sc != nil {
		userAgent = sc.UserAgent
		wasScreened = sc.WasScreened
	}

	if _, err := s.db.ExecContext(ctx, query, time.Now(), ip, path, userAgent, wasScreened); err != nil {
		return fmt.Errorf("audit: failed to insert block event: %w", err)
	}
	return nil
}

// FetchBatch returns up to limit unexported rows ordered by id, starting
// after afterID, for the Parquet exporter to consume in pages.
func (s *Store) FetchBatch(ctx context.Context, afterID int64, limit int) ([]BlockEvent, error) {
	const query = `
		SELECT id, occurred_at, ip_address, path, user_agent, was_screened
		FROM block_events
		WHERE id > $1
		ORDER BY id
		LIMIT $2`

	var events []BlockEvent
	if err := s.db.SelectContext(ctx, &events, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("audit: failed to fetch batch: %w", err)
	}
	return events, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func maskDatabaseURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.SplitN(url, "@", 2)
	userPart := parts[0]
	if idx := strings.LastIndex(userPart, ":"); idx != -1 {
		userPart = userPart[:idx] + ":***"
	}
	return userPart + "@" + parts[1]
}
