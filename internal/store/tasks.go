package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// AddTask persists a new task (spec section 4.1: add_task).
func (s *Store) AddTask(ctx context.Context, t *model.Task) error {
	extras, err := json.Marshal(t.Context.Extras)
	if err != nil {
		return fmt.Errorf("marshal task context extras: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (task_id, description, priority, parent_task_id, status,
				context_author_name, context_author_id, context_channel_id, context_origin_service,
				context_extras_json, outcome, created_at, updated_at)
			VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?);
		`, t.TaskID, t.Description, t.Priority, t.ParentTaskID, string(t.Status),
			t.Context.AuthorName, t.Context.AuthorID, t.Context.ChannelID, t.Context.OriginService,
			string(extras), t.Outcome, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
}

func scanTask(scan func(dest ...any) error) (*model.Task, error) {
	var t model.Task
	var parentTaskID, authorName, authorID, channelID, originService, outcome sql.NullString
	var extrasJSON string
	if err := scan(
		&t.TaskID, &t.Description, &t.Priority, &parentTaskID, &t.Status,
		&authorName, &authorID, &channelID, &originService, &extrasJSON, &outcome,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.ParentTaskID = parentTaskID.String
	t.Outcome = outcome.String
	t.Context = model.TaskContext{
		AuthorName:    authorName.String,
		AuthorID:      authorID.String,
		ChannelID:     channelID.String,
		OriginService: originService.String,
		Extras:        map[string]string{},
	}
	if extrasJSON != "" {
		_ = json.Unmarshal([]byte(extrasJSON), &t.Context.Extras)
	}
	return &t, nil
}

const taskColumns = `task_id, description, priority, parent_task_id, status,
	context_author_name, context_author_id, context_channel_id, context_origin_service,
	context_extras_json, outcome, created_at, updated_at`

// GetTask returns a task by id, or (nil, nil) if absent (spec: get_task).
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?;`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TaskExists reports whether a task with the given id exists (spec: task_exists).
func (s *Store) TaskExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE task_id = ?;`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("task exists: %w", err)
	}
	return n > 0, nil
}

// UpdateTaskStatus transitions a task's status, enforcing the monotonic
// state machine (spec: update_task_status).
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var current model.TaskStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE task_id = ?;`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update task status: task %s not found", id)
			}
			return err
		}
		if !model.CanTransitionTask(current, status) {
			return fmt.Errorf("illegal task transition %s -> %s for %s", current, status, id)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?;`, string(status), time.Now().UTC(), id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetTasksByStatus returns all tasks in the given status (spec: get_tasks_by_status).
func (s *Store) GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC;`, string(status))
	if err != nil {
		return nil, fmt.Errorf("get tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func scanTaskRows(rows *sql.Rows) ([]*model.Task, error) {
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetPendingTasksForActivation returns PENDING tasks ordered by priority desc
// then created_at asc (spec: get_pending_tasks_for_activation).
func (s *Store) GetPendingTasksForActivation(ctx context.Context, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?;
	`, string(model.TaskPending), limit)
	if err != nil {
		return nil, fmt.Errorf("get pending tasks for activation: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// GetRecentCompletedTasks returns the most recently completed tasks (spec:
// get_recent_completed_tasks).
func (s *Store) GetRecentCompletedTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT ?;
	`, string(model.TaskCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("get recent completed tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// GetTopTasks returns the highest-priority tasks regardless of status (spec:
// get_top_tasks).
func (s *Store) GetTopTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		ORDER BY priority DESC, created_at ASC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get top tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// GetTasksNeedingSeedThought returns ACTIVE tasks with zero non-terminal
// thoughts (spec: get_tasks_needing_seed_thought).
func (s *Store) GetTasksNeedingSeedThought(ctx context.Context, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM thoughts th
			WHERE th.source_task_id = t.task_id
			AND th.status IN (?, ?)
		)
		ORDER BY t.priority DESC, t.created_at ASC
		LIMIT ?;
	`, string(model.TaskActive), string(model.ThoughtPending), string(model.ThoughtProcessing), limit)
	if err != nil {
		return nil, fmt.Errorf("get tasks needing seed thought: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// CountTasks returns the number of tasks, optionally filtered by status
// (spec: count_tasks). Counters may be consistent-eventually with at most
// one round of staleness per the spec's failure model.
func (s *Store) CountTasks(ctx context.Context, status *model.TaskStatus) (int, error) {
	var n int
	var err error
	if status != nil {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE status = ?;`, string(*status)).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks;`).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// DeleteTasksByIDs deletes tasks and cascades to their thoughts (spec:
// delete_tasks_by_ids — "must cascade to thoughts and to per-thought side
// tables").
func (s *Store) DeleteTasksByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM thoughts WHERE source_task_id IN (`+placeholders+`);`, args...); err != nil {
			return fmt.Errorf("cascade delete thoughts: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id IN (`+placeholders+`);`, args...); err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		return tx.Commit()
	})
}
