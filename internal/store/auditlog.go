package store

import (
	"context"
	"fmt"
	"time"
)

// AppendAuditLog records a handler's start/success/failure decision against
// the audit_log table (spec section 4.4: "every handler audits the action").
func (s *Store) AppendAuditLog(ctx context.Context, traceID, subject, action, decision, reason string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_log (trace_id, subject, action, decision, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?);
		`, traceID, subject, action, decision, reason, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("append audit log: %w", err)
		}
		return nil
	})
}
