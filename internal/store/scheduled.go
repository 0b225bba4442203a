package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// CreateScheduledTask persists a new scheduled intent (backs the scheduler's
// schedule_task API, spec section 4.5).
func (s *Store) CreateScheduledTask(ctx context.Context, st *model.ScheduledTask) error {
	var deferUntil sql.NullTime
	if st.DeferUntil != nil {
		deferUntil = sql.NullTime{Time: *st.DeferUntil, Valid: true}
	}
	histJSON, err := json.Marshal(st.DeferralHistory)
	if err != nil {
		return fmt.Errorf("marshal deferral history: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO scheduled_tasks (task_id, name, goal_description, status, trigger_prompt,
				origin_thought_id, parent_task_id, defer_until, schedule_cron, last_triggered_at,
				deferral_count, deferral_history_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), NULL, ?, ?, ?, ?);
		`, st.TaskID, st.Name, st.GoalDescription, string(st.Status), st.TriggerPrompt,
			st.OriginThoughtID, st.ParentTaskID, deferUntil, st.ScheduleCron,
			st.DeferralCount, string(histJSON), time.Now().UTC(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert scheduled task: %w", err)
		}
		return nil
	})
}

func scanScheduledTask(scan func(dest ...any) error) (*model.ScheduledTask, error) {
	var st model.ScheduledTask
	var originThoughtID sql.NullString
	var deferUntil, lastTriggeredAt sql.NullTime
	var cron sql.NullString
	var histJSON string
	if err := scan(
		&st.TaskID, &st.Name, &st.GoalDescription, &st.Status, &st.TriggerPrompt,
		&originThoughtID, &st.ParentTaskID, &deferUntil, &cron, &lastTriggeredAt,
		&st.DeferralCount, &histJSON,
	); err != nil {
		return nil, err
	}
	st.OriginThoughtID = originThoughtID.String
	st.ScheduleCron = cron.String
	if deferUntil.Valid {
		t := deferUntil.Time
		st.DeferUntil = &t
	}
	if lastTriggeredAt.Valid {
		t := lastTriggeredAt.Time
		st.LastTriggeredAt = &t
	}
	if histJSON != "" {
		_ = json.Unmarshal([]byte(histJSON), &st.DeferralHistory)
	}
	return &st, nil
}

const scheduledTaskColumns = `task_id, name, goal_description, status, trigger_prompt,
	origin_thought_id, parent_task_id, defer_until, schedule_cron, last_triggered_at,
	deferral_count, deferral_history_json`

// GetScheduledTask returns a scheduled task by id.
func (s *Store) GetScheduledTask(ctx context.Context, id string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE task_id = ?;`, id)
	st, err := scanScheduledTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled task: %w", err)
	}
	return st, nil
}

// ListActiveScheduledTasks returns every ACTIVE scheduled task, the set the
// scheduler tick evaluates each period (spec section 4.5 step 2).
func (s *Store) ListActiveScheduledTasks(ctx context.Context) ([]*model.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE status = ?;`, string(model.ScheduledActive))
	if err != nil {
		return nil, fmt.Errorf("list active scheduled tasks: %w", err)
	}
	defer rows.Close()
	var out []*model.ScheduledTask
	for rows.Next() {
		st, err := scanScheduledTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkScheduledTaskTriggered records last_triggered_at and, for a one-shot
// task, transitions it to COMPLETE (spec section 4.5 step 4).
func (s *Store) MarkScheduledTaskTriggered(ctx context.Context, id string, triggeredAt time.Time, oneShot bool) error {
	status := string(model.ScheduledActive)
	if oneShot {
		status = string(model.ScheduledComplete)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_tasks SET last_triggered_at = ?, status = ?, updated_at = ? WHERE task_id = ?;
		`, triggeredAt, status, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("mark scheduled task triggered: %w", err)
		}
		return nil
	})
}

// CancelScheduledTask transitions a scheduled task to CANCELLED (spec: cancel_task).
func (s *Store) CancelScheduledTask(ctx context.Context, id string) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE scheduled_tasks SET status = ?, updated_at = ? WHERE task_id = ? AND status IN (?, ?);
		`, string(model.ScheduledCancelled), time.Now().UTC(), id, string(model.ScheduledPending), string(model.ScheduledActive))
		if err != nil {
			return fmt.Errorf("cancel scheduled task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("cancel scheduled task: %s not active/pending", id)
		}
		return nil
	})
}

// DeferScheduledTask pushes a scheduled task's defer_until out, incrementing
// deferral_count and appending to deferral_history (spec: defer_task).
func (s *Store) DeferScheduledTask(ctx context.Context, id string, newDeferUntil time.Time, reason string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var histJSON string
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT deferral_count, deferral_history_json FROM scheduled_tasks WHERE task_id = ?;`, id).Scan(&count, &histJSON); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("defer scheduled task: %s not found", id)
			}
			return err
		}
		var hist []string
		if histJSON != "" {
			_ = json.Unmarshal([]byte(histJSON), &hist)
		}
		hist = append(hist, fmt.Sprintf("%s: %s -> %s", time.Now().UTC().Format(time.RFC3339), reason, newDeferUntil.Format(time.RFC3339)))
		newHistJSON, err := json.Marshal(hist)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE scheduled_tasks SET defer_until = ?, deferral_count = ?, deferral_history_json = ?, updated_at = ?
			WHERE task_id = ?;
		`, newDeferUntil, count+1, string(newHistJSON), time.Now().UTC(), id); err != nil {
			return err
		}
		return tx.Commit()
	})
}
