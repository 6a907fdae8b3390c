package checker

import (
	"context"
	"strings"
	"time"

	"llmnet/internal/database"
	"llmnet/internal/database/models/model"
	"llmnet/pkg/network"
	"llmnet/pkg/provider"
)

// DBChecker is a checker that uses SQLite to skip providers checked recently
type DBChecker struct {
	*Checker
	dbService     *database.Service
	checkInterval time.Duration
	now           func() time.Time
}

// NewDBChecker creates a new database-backed checker
func NewDBChecker(c *Checker, dbService *database.Service, checkInterval time.Duration) *DBChecker {
	return &DBChecker{
		Checker:       c,
		dbService:     dbService,
		checkInterval: checkInterval,
		now:           time.Now,
	}
}

// CheckProvidersWithCaching probes only the providers whose latest stored
// check is older than the check interval or points at another URL. Cached
// entries are returned from the database and fresh ones are recorded under
// runID. Results keep input order.
func (c *DBChecker) CheckProvidersWithCaching(ctx context.Context, runID string, providers []provider.Provider) ([]CheckResult, error) {
	if len(providers) == 0 {
		return nil, nil
	}

	c.logger.InfoBg("Checking %d providers with caching (skip if checked within %v)", len(providers), c.checkInterval)

	latest, err := c.dbService.LatestByProvider(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]CheckResult, len(providers))
	var stale []provider.Provider
	var staleIdx []int
	cutoff := c.now().Add(-c.checkInterval)

	for i, p := range providers {
		row, ok := latest[p.Name]
		if ok && row.URL == strings.TrimRight(p.BaseURL, "/") && row.CheckedAt.After(cutoff) {
			results[i] = FromRecord(p, row)
			continue
		}
		stale = append(stale, p)
		staleIdx = append(staleIdx, i)
	}

	c.logger.InfoBg("%d providers cached, %d need checking", len(providers)-len(stale), len(stale))

	if len(stale) == 0 {
		return results, nil
	}

	fresh := c.CheckProviders(ctx, stale)
	for i, r := range fresh {
		results[staleIdx[i]] = r
	}

	if err := c.dbService.RecordChecks(ctx, runID, ToRecords(fresh)); err != nil {
		return results, err
	}

	return results, nil
}

// ToRecords converts results into rows for database.Service.RecordChecks
func ToRecords(results []CheckResult) []database.CheckRecord {
	records := make([]database.CheckRecord, 0, len(results))
	for _, r := range results {
		records = append(records, database.CheckRecord{
			Provider:       r.Provider.Name,
			URL:            r.Health.URL,
			Status:         r.Status.String(),
			Connected:      r.Health.Connected,
			StatusCode:     r.Health.StatusCode,
			ResponseTimeMs: r.Health.ResponseTimeMs,
			Error:          r.Health.Error,
			CheckedAt:      r.Health.CheckedAt,
		})
	}
	return records
}

// FromRecord rebuilds a result from a stored row. The request error itself
// is not persisted, so only the message is restored.
func FromRecord(p provider.Provider, row model.HealthChecks) CheckResult {
	health := network.HealthCheckResult{
		Provider:       row.Provider,
		URL:            row.URL,
		Connected:      row.Connected,
		ResponseTimeMs: row.ResponseTimeMs,
		CheckedAt:      row.CheckedAt,
	}
	if row.StatusCode != nil {
		code := int(*row.StatusCode)
		health.StatusCode = &code
	}
	if row.ErrorMessage != nil {
		health.Error = *row.ErrorMessage
	}

	return CheckResult{
		Provider: p,
		Status:   ParseStatus(row.Status),
		Health:   health,
	}
}
