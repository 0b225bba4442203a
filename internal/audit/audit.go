// Package audit implements the dispatch handler contract's audit trail
// (spec section 4.4: "every handler audits the action (start,
// success/failure)"): an append-only JSONL file plus, when a database is
// attached, a durable audit_log table row per entry.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emooreatx/CIRISAgent-sub009/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	Subject   string `json:"subject,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// DB is the persistence slice this package optionally writes through, kept
// decoupled from *store.Store to avoid an audit -> store import cycle risk
// as store grows.
type DB interface {
	AppendAuditLog(ctx context.Context, traceID, subject, action, decision, reason string) error
}

// Auditor writes a single handler invocation's audit trail. One Auditor is
// shared across all dispatch handlers for the process's lifetime.
type Auditor struct {
	mu        sync.Mutex
	file      *os.File
	db        DB
	denyCount atomic.Int64
}

// New opens (creating if needed) homeDir/logs/audit.jsonl for append.
func New(homeDir string) (*Auditor, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open audit log: %w", err)
	}
	return &Auditor{file: f}, nil
}

// SetDB attaches a database sink for durable audit_log rows.
func (a *Auditor) SetDB(db DB) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.db = db
}

// Close closes the underlying file handle.
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// DenyCount returns the total number of "deny"/"failure" decisions recorded.
func (a *Auditor) DenyCount() int64 {
	return a.denyCount.Load()
}

// Record appends one audit entry: action names the handler (e.g. "SPEAK"),
// decision is one of "start"/"success"/"failure", subject is usually the
// thought id, and reason carries any failure detail (redacted before
// persistence, matching the codebase's secret-handling convention).
func (a *Auditor) Record(ctx context.Context, traceID, subject, action, decision, reason string) {
	if decision == "failure" || decision == "deny" {
		a.denyCount.Add(1)
	}

	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    action,
			Decision:  decision,
			Reason:    reason,
			Subject:   subject,
			TraceID:   traceID,
		}
		if b, err := json.Marshal(ev); err == nil {
			_, _ = a.file.Write(append(b, '\n'))
		}
	}

	if a.db != nil {
		_ = a.db.AppendAuditLog(ctx, traceID, subject, action, decision, reason)
	}
}
