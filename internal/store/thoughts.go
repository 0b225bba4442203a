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

func marshalThoughtContext(c model.ThoughtContext) (string, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

func unmarshalThoughtContext(s string) (model.ThoughtContext, error) {
	var c model.ThoughtContext
	if s == "" {
		return c, nil
	}
	err := json.Unmarshal([]byte(s), &c)
	return c, err
}

// AddThought persists a new thought (spec: add_thought).
func (s *Store) AddThought(ctx context.Context, th *model.Thought) error {
	ctxJSON, err := marshalThoughtContext(th.Context)
	if err != nil {
		return fmt.Errorf("marshal thought context: %w", err)
	}
	notesJSON, err := json.Marshal(th.PonderNotes)
	if err != nil {
		return fmt.Errorf("marshal ponder notes: %w", err)
	}
	var finalActionJSON sql.NullString
	if th.FinalAction != nil {
		b, err := json.Marshal(th.FinalAction)
		if err != nil {
			return fmt.Errorf("marshal final action: %w", err)
		}
		finalActionJSON = sql.NullString{String: string(b), Valid: true}
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO thoughts (thought_id, source_task_id, parent_thought_id, thought_type, content,
				context_json, priority, round_number, round_processed, ponder_count, ponder_notes_json,
				final_action_json, status, created_at, updated_at)
			VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?);
		`, th.ThoughtID, th.SourceTaskID, th.ParentThoughtID, th.ThoughtType, th.Content,
			ctxJSON, th.Priority, th.RoundNumber, th.PonderCount, string(notesJSON),
			finalActionJSON, string(th.Status), th.CreatedAt, th.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert thought: %w", err)
		}
		return nil
	})
}

const thoughtColumns = `thought_id, source_task_id, parent_thought_id, thought_type, content,
	context_json, priority, round_number, round_processed, ponder_count, ponder_notes_json,
	final_action_json, status, created_at, updated_at`

func scanThought(scan func(dest ...any) error) (*model.Thought, error) {
	var th model.Thought
	var parentID sql.NullString
	var ctxJSON, notesJSON string
	var finalActionJSON sql.NullString
	var roundProcessed sql.NullInt64
	if err := scan(
		&th.ThoughtID, &th.SourceTaskID, &parentID, &th.ThoughtType, &th.Content,
		&ctxJSON, &th.Priority, &th.RoundNumber, &roundProcessed, &th.PonderCount, &notesJSON,
		&finalActionJSON, &th.Status, &th.CreatedAt, &th.UpdatedAt,
	); err != nil {
		return nil, err
	}
	th.ParentThoughtID = parentID.String
	if roundProcessed.Valid {
		th.RoundProcessed = int(roundProcessed.Int64)
	}
	tc, err := unmarshalThoughtContext(ctxJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal thought context: %w", err)
	}
	th.Context = tc
	if notesJSON != "" {
		_ = json.Unmarshal([]byte(notesJSON), &th.PonderNotes)
	}
	if finalActionJSON.Valid {
		var fa model.ActionSelectionResult
		if err := json.Unmarshal([]byte(finalActionJSON.String), &fa); err != nil {
			return nil, fmt.Errorf("unmarshal final action: %w", err)
		}
		th.FinalAction = &fa
	}
	return &th, nil
}

func scanThoughtRows(rows *sql.Rows) ([]*model.Thought, error) {
	var out []*model.Thought
	for rows.Next() {
		th, err := scanThought(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// GetThought returns a thought by id, or (nil, nil) if absent (spec: get_thought).
func (s *Store) GetThought(ctx context.Context, id string) (*model.Thought, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+thoughtColumns+` FROM thoughts WHERE thought_id = ?;`, id)
	th, err := scanThought(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thought: %w", err)
	}
	return th, nil
}

// GetThoughtsByTaskID returns all thoughts for a task (spec: get_thoughts_by_task_id).
func (s *Store) GetThoughtsByTaskID(ctx context.Context, taskID string) ([]*model.Thought, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+thoughtColumns+` FROM thoughts WHERE source_task_id = ? ORDER BY created_at ASC;`, taskID)
	if err != nil {
		return nil, fmt.Errorf("get thoughts by task id: %w", err)
	}
	defer rows.Close()
	return scanThoughtRows(rows)
}

// GetThoughtsByStatus returns all thoughts in the given status (spec: get_thoughts_by_status).
func (s *Store) GetThoughtsByStatus(ctx context.Context, status model.ThoughtStatus) ([]*model.Thought, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+thoughtColumns+` FROM thoughts WHERE status = ? ORDER BY created_at ASC;`, string(status))
	if err != nil {
		return nil, fmt.Errorf("get thoughts by status: %w", err)
	}
	defer rows.Close()
	return scanThoughtRows(rows)
}

// GetPendingThoughtsForActiveTasks returns PENDING thoughts whose source task
// is ACTIVE, ordered by task priority desc, thought priority desc, then
// created_at asc (spec: get_pending_thoughts_for_active_tasks). It must never
// return a thought belonging to a non-ACTIVE task, even transiently.
func (s *Store) GetPendingThoughtsForActiveTasks(ctx context.Context, limit int) ([]*model.Thought, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT th.thought_id, th.source_task_id, th.parent_thought_id, th.thought_type, th.content,
			th.context_json, th.priority, th.round_number, th.round_processed, th.ponder_count,
			th.ponder_notes_json, th.final_action_json, th.status, th.created_at, th.updated_at
		FROM thoughts th
		JOIN tasks t ON t.task_id = th.source_task_id
		WHERE th.status = ? AND t.status = ?
		ORDER BY t.priority DESC, th.priority DESC, th.created_at ASC
		LIMIT ?;
	`, string(model.ThoughtPending), string(model.TaskActive), limit)
	if err != nil {
		return nil, fmt.Errorf("get pending thoughts for active tasks: %w", err)
	}
	defer rows.Close()
	return scanThoughtRows(rows)
}

// UpdateThoughtStatus updates a thought's status and optionally its final
// action and round_processed (spec: update_thought_status). Once a thought is
// terminal, the status does not change again.
func (s *Store) UpdateThoughtStatus(ctx context.Context, id string, status model.ThoughtStatus, finalAction *model.ActionSelectionResult, roundProcessed *int) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var current model.ThoughtStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM thoughts WHERE thought_id = ?;`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update thought status: thought %s not found", id)
			}
			return err
		}
		if current.IsTerminal() {
			return nil // no-op: terminal status never changes.
		}

		var finalActionJSON sql.NullString
		if finalAction != nil {
			b, err := json.Marshal(finalAction)
			if err != nil {
				return fmt.Errorf("marshal final action: %w", err)
			}
			finalActionJSON = sql.NullString{String: string(b), Valid: true}
		}
		var roundProcessedVal sql.NullInt64
		if roundProcessed != nil {
			roundProcessedVal = sql.NullInt64{Int64: int64(*roundProcessed), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE thoughts
			SET status = ?,
				final_action_json = CASE WHEN ? THEN ? ELSE final_action_json END,
				round_processed = CASE WHEN ? THEN ? ELSE round_processed END,
				updated_at = ?
			WHERE thought_id = ?;
		`, string(status), finalActionJSON.Valid, finalActionJSON, roundProcessedVal.Valid, roundProcessedVal, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update thought: %w", err)
		}
		return tx.Commit()
	})
}

// IncrementPonder requeues a thought as PENDING, increments ponder_count and
// appends a note (spec section 4.3 step 8 / section 4.4 PONDER handler).
func (s *Store) IncrementPonder(ctx context.Context, id string, note string) (int, error) {
	var newCount int
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		var count int
		var notesJSON string
		if err := tx.QueryRowContext(ctx, `SELECT ponder_count, ponder_notes_json FROM thoughts WHERE thought_id = ?;`, id).Scan(&count, &notesJSON); err != nil {
			return err
		}
		var notes []string
		if notesJSON != "" {
			_ = json.Unmarshal([]byte(notesJSON), &notes)
		}
		if note != "" {
			notes = append(notes, note)
		}
		newNotesJSON, err := json.Marshal(notes)
		if err != nil {
			return err
		}
		newCount = count + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE thoughts SET status = ?, ponder_count = ?, ponder_notes_json = ?, updated_at = ?
			WHERE thought_id = ?;
		`, string(model.ThoughtPending), newCount, string(newNotesJSON), time.Now().UTC(), id); err != nil {
			return err
		}
		return tx.Commit()
	})
	return newCount, err
}

// CountThoughts returns the count of PENDING+PROCESSING thoughts (spec:
// count_thoughts).
func (s *Store) CountThoughts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM thoughts WHERE status IN (?, ?);`,
		string(model.ThoughtPending), string(model.ThoughtProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count thoughts: %w", err)
	}
	return n, nil
}

// DeleteThoughtsByIDs deletes thoughts by id (spec: delete_thoughts_by_ids).
func (s *Store) DeleteThoughtsByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM thoughts WHERE thought_id IN (`+placeholders+`);`, args...)
		if err != nil {
			return fmt.Errorf("delete thoughts: %w", err)
		}
		return nil
	})
}
