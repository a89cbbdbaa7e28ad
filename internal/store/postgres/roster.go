// Package postgres reads the student roster from the school's Postgres database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/leaderboard"
)

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Roster struct {
	db querier
}

func NewRoster(db *pgxpool.Pool) *Roster {
	return &Roster{db: db}
}

// ListStudents returns the active students of ownerID. The order is stable
// between calls because ranking ties fall back to roster order.
func (r *Roster) ListStudents(ctx context.Context, ownerID string) ([]leaderboard.Student, error) {
	query := `
		SELECT id, display_name, COALESCE(image_ref, '') AS image_ref
		FROM students
		WHERE owner_id = $1 AND archived_at IS NULL
		ORDER BY display_name, id
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list students: %v", apperr.ErrStoreUnavailable, err)
	}

	students, err := pgx.CollectRows(rows, pgx.RowToStructByName[leaderboard.Student])
	if err != nil {
		return nil, fmt.Errorf("%w: scan students: %v", apperr.ErrStoreUnavailable, err)
	}
	if students == nil {
		students = []leaderboard.Student{}
	}
	return students, nil
}
