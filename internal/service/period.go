package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/repairdesk/backend/internal/models"
)

var ErrInvalidPeriod = errors.New("invalid period")

const dateOnly = "2006-01-02"

// ParsePeriod reads inclusive bounds from query strings. A bare date as end
// covers the whole day.
func ParsePeriod(start, end string) (models.Period, error) {
	var p models.Period
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start != "" {
		ts, ok := ParseTime(start)
		if !ok || ts == nil {
			return models.Period{}, fmt.Errorf("%w: start %q", ErrInvalidPeriod, start)
		}
		p.Start = ts
	}
	if end != "" {
		ts, ok := ParseTime(end)
		if !ok || ts == nil {
			return models.Period{}, fmt.Errorf("%w: end %q", ErrInvalidPeriod, end)
		}
		if _, err := time.Parse(dateOnly, end); err == nil {
			eod := ts.Add(24*time.Hour - time.Nanosecond)
			ts = &eod
		}
		p.End = ts
	}
	if p.Start != nil && p.End != nil && p.Start.After(*p.End) {
		return models.Period{}, fmt.Errorf("%w: start after end", ErrInvalidPeriod)
	}
	return p, nil
}
