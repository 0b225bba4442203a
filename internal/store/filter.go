package store

import (
	"context"
	"fmt"
	"time"
)

// AddFilterTrigger persists an adaptive content-filter pattern (spec section
// 4.4 REJECT handler: "derives ... and persists it via a filter service").
func (s *Store) AddFilterTrigger(ctx context.Context, pattern, priority string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO filter_triggers (pattern, priority, active, created_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(pattern) DO UPDATE SET priority = excluded.priority, active = 1;
		`, pattern, priority, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("add filter trigger: %w", err)
		}
		return nil
	})
}

// ActiveFilterTrigger describes one persisted content-filter pattern.
type ActiveFilterTrigger struct {
	Pattern  string
	Priority string
}

// ListActiveFilterTriggers returns every active filter trigger, used by the
// observer's priority filter (spec section 4.6).
func (s *Store) ListActiveFilterTriggers(ctx context.Context) ([]ActiveFilterTrigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern, priority FROM filter_triggers WHERE active = 1;`)
	if err != nil {
		return nil, fmt.Errorf("list filter triggers: %w", err)
	}
	defer rows.Close()

	var out []ActiveFilterTrigger
	for rows.Next() {
		var t ActiveFilterTrigger
		if err := rows.Scan(&t.Pattern, &t.Priority); err != nil {
			return nil, fmt.Errorf("scan filter trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
