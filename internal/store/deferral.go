package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
)

// SaveDeferralReportMapping links an outbound deferral notification message
// to the (task, thought) it concerns (spec: save_deferral_report_mapping).
func (s *Store) SaveDeferralReportMapping(ctx context.Context, messageID, taskID, thoughtID, pkg string) error {
	if pkg == "" {
		pkg = "{}"
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO deferral_reports (message_id, task_id, thought_id, package_json, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET task_id = excluded.task_id, thought_id = excluded.thought_id,
				package_json = excluded.package_json;
		`, messageID, taskID, thoughtID, pkg, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("save deferral report mapping: %w", err)
		}
		return nil
	})
}

// GetDeferralReportContext resolves a previously-sent deferral notification
// back to its (task_id, thought_id, package) (spec: get_deferral_report_context),
// the entry point for WA corrections (section 4.6, scenario S5).
func (s *Store) GetDeferralReportContext(ctx context.Context, messageID string) (*model.DeferralReportMapping, error) {
	var m model.DeferralReportMapping
	var pkg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT message_id, task_id, thought_id, package_json FROM deferral_reports WHERE message_id = ?;
	`, messageID).Scan(&m.MessageID, &m.TaskID, &m.ThoughtID, &pkg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deferral report context: %w", err)
	}
	m.Package = pkg.String
	return &m, nil
}
