// Package cache keeps display copies of technician summaries. Payout
// validation never reads from it.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/repairdesk/backend/internal/models"
)

// SummaryCache guards writes with a per-technician generation: read it before
// loading records, pass it to Set, and the entry is dropped if
// InvalidateTechnician ran in between.
type SummaryCache interface {
	Get(ctx context.Context, technicianID string, period models.Period) (models.TechnicianSummary, bool, error)
	Generation(ctx context.Context, technicianID string) (int64, error)
	Set(ctx context.Context, summary models.TechnicianSummary, period models.Period, generation int64) error
	InvalidateTechnician(ctx context.Context, technicianID string) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, string, models.Period) (models.TechnicianSummary, bool, error) {
	return models.TechnicianSummary{}, false, nil
}

func (NopCache) Generation(context.Context, string) (int64, error) {
	return 0, nil
}

func (NopCache) Set(context.Context, models.TechnicianSummary, models.Period, int64) error {
	return nil
}

func (NopCache) InvalidateTechnician(context.Context, string) error {
	return nil
}

const keyPrefix = "ledger"

func summaryKey(technicianID string, period models.Period) string {
	return fmt.Sprintf("%s:summary:%s:%s:%s", keyPrefix, strings.TrimSpace(technicianID), boundKey(period.Start), boundKey(period.End))
}

func indexKey(technicianID string) string {
	return fmt.Sprintf("%s:summary-keys:%s", keyPrefix, strings.TrimSpace(technicianID))
}

func generationKey(technicianID string) string {
	return fmt.Sprintf("%s:summary-gen:%s", keyPrefix, strings.TrimSpace(technicianID))
}

func boundKey(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return strconv.FormatInt(ts.UTC().Unix(), 10)
}
