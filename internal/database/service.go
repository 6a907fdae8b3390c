package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"llmnet/internal/database/models/model"
	"llmnet/internal/database/models/table"
	"llmnet/internal/logger"

	. "github.com/go-jet/jet/v2/sqlite"
)

const defaultHistoryLimit = 50

// Service handles database operations for health history
type Service struct {
	db     *DB
	logger *logger.Logger
}

// NewService creates a new database service
func NewService(db *DB) *Service {
	return &Service{db: db, logger: logger.New("database")}
}

// RecordChecks stores one monitor run in a single transaction
func (s *Service) RecordChecks(ctx context.Context, runID string, records []CheckRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]model.HealthChecks, 0, len(records))
	for _, r := range records {
		row := model.HealthChecks{
			RunID:          runID,
			Provider:       r.Provider,
			URL:            r.URL,
			Status:         r.Status,
			Connected:      r.Connected,
			ResponseTimeMs: r.ResponseTimeMs,
			CheckedAt:      r.CheckedAt.UTC(),
		}
		if r.StatusCode != nil {
			code := int32(*r.StatusCode)
			row.StatusCode = &code
		}
		if r.Error != "" {
			msg := r.Error
			row.ErrorMessage = &msg
		}
		if row.CheckedAt.IsZero() {
			row.CheckedAt = time.Now().UTC()
		}
		rows = append(rows, row)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := table.HealthChecks.INSERT(table.HealthChecks.MutableColumns).MODELS(rows)
	if _, err := stmt.ExecContext(ctx, tx); err != nil {
		return fmt.Errorf("failed to insert health checks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugBg("Recorded %d health checks for run %s", len(rows), runID)
	return nil
}

// LatestByProvider returns the newest stored check of every provider, keyed by provider name
func (s *Service) LatestByProvider(ctx context.Context) (map[string]model.HealthChecks, error) {
	query := `
		SELECT h.id, h.run_id, h.provider, h.url, h.status, h.connected, h.status_code, h.response_time_ms, h.error_message, h.checked_at
		FROM health_checks h
		WHERE h.id IN (SELECT MAX(id) FROM health_checks GROUP BY provider)
		ORDER BY h.provider
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest health checks: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]model.HealthChecks)
	for rows.Next() {
		var h model.HealthChecks
		err := rows.Scan(
			&h.ID, &h.RunID, &h.Provider, &h.URL, &h.Status, &h.Connected,
			&h.StatusCode, &h.ResponseTimeMs, &h.ErrorMessage, &h.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health check: %w", err)
		}
		latest[h.Provider] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read health checks: %w", err)
	}

	return latest, nil
}

// History returns up to limit checks of one provider, newest first. A
// non-positive limit uses the default of 50.
func (s *Service) History(ctx context.Context, providerName string, limit int) ([]model.HealthChecks, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	stmt := SELECT(
		table.HealthChecks.AllColumns,
	).FROM(
		table.HealthChecks,
	).WHERE(
		table.HealthChecks.Provider.EQ(String(providerName)),
	).ORDER_BY(
		table.HealthChecks.ID.DESC(),
	).LIMIT(int64(limit))

	var history []model.HealthChecks
	if err := stmt.QueryContext(ctx, s.db, &history); err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", providerName, err)
	}

	return history, nil
}

// CleanupOld deletes checks older than maxAge and returns how many were removed
func (s *Service) CleanupOld(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	res, err := s.db.ExecContext(ctx, `DELETE FROM health_checks WHERE checked_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old health checks: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed health checks: %w", err)
	}
	if removed > 0 {
		s.logger.InfoBg("Removed %d health checks older than %v", removed, maxAge)
	}
	return removed, nil
}

// Stats returns statistics about the stored history
func (s *Service) Stats(ctx context.Context) (HealthStats, error) {
	var stats HealthStats

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT run_id), COUNT(DISTINCT provider) FROM health_checks",
	).Scan(&stats.TotalChecks, &stats.Runs, &stats.Providers)
	if err != nil {
		return stats, fmt.Errorf("failed to count health checks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM health_checks GROUP BY status")
	if err != nil {
		return stats, fmt.Errorf("failed to get health check statuses: %w", err)
	}
	defer rows.Close()

	stats.ByStatus = make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("failed to scan status row: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to read status rows: %w", err)
	}

	var last time.Time
	err = s.db.QueryRowContext(ctx, "SELECT checked_at FROM health_checks ORDER BY id DESC LIMIT 1").Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return stats, fmt.Errorf("failed to get last check time: %w", err)
	default:
		stats.LastCheckedAt = &last
	}

	return stats, nil
}
