package database

import (
	"time"
)

// CheckRecord is one provider health check as written to health_checks
type CheckRecord struct {
	Provider       string
	URL            string
	Status         string
	Connected      bool
	StatusCode     *int
	ResponseTimeMs *float64
	Error          string
	CheckedAt      time.Time
}

// HealthStats summarizes the stored history
type HealthStats struct {
	TotalChecks   int            `json:"total_checks" yaml:"total_checks"`
	Runs          int            `json:"runs" yaml:"runs"`
	Providers     int            `json:"providers" yaml:"providers"`
	ByStatus      map[string]int `json:"by_status" yaml:"by_status"`
	LastCheckedAt *time.Time     `json:"last_checked_at,omitempty" yaml:"last_checked_at,omitempty"`
}
