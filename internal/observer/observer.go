// Package observer implements the Observer/event ingress contract of spec
// section 4.6: a bounded recent-history window per channel, a secrets
// filter pass, a priority filter, and passive/priority Task+Thought
// creation. Observers never invoke the pipeline directly; they only write
// Tasks/Thoughts.
package observer

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emooreatx/CIRISAgent-sub009/internal/model"
	"github.com/emooreatx/CIRISAgent-sub009/internal/secrets"
	"github.com/emooreatx/CIRISAgent-sub009/internal/store"
)

// Priority bands an incoming message can be classified into (spec section
// 4.6: "default MEDIUM, may escalate to HIGH/CRITICAL").
type Priority string

const (
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// IncomingMessage is one external event an Observer ingests.
type IncomingMessage struct {
	MessageID     string
	ChannelID     string
	AuthorID      string
	AuthorName    string
	Content       string
	OriginService string
	IsSelf        bool // true when this is the agent's own message, skipped
	Timestamp     time.Time

	// RepliedToMessageID is set when this message is a reply to a previous
	// message (e.g. a deferral report), driving the WA correction path.
	RepliedToMessageID string
}

// SecretsFilter matches internal/secrets.Service's process_incoming_text
// capability.
type SecretsFilter interface {
	ProcessIncomingText(ctx context.Context, text, contextHint, sourceMessageID string) (string, []secrets.SecretReference, error)
}

// MemoryRecaller is the narrow slice of internal/memory.Service an observer
// may use to recall relevant context before creating a Thought.
type MemoryRecaller interface {
	Recall(ctx context.Context, query string, scope model.MemoryScope) (string, error)
}

// FilterTriggerSource is the narrow slice of *store.Store the priority
// filter consults.
type FilterTriggerSource interface {
	ListActiveFilterTriggers(ctx context.Context) ([]store.ActiveFilterTrigger, error)
}

// Store is the persistence slice an Observer writes to.
type Store interface {
	AddTask(ctx context.Context, t *model.Task) error
	AddThought(ctx context.Context, th *model.Thought) error
	SaveDeferralReportMapping(ctx context.Context, messageID, taskID, thoughtID, pkg string) error
	GetDeferralReportContext(ctx context.Context, messageID string) (*model.DeferralReportMapping, error)
}

// Config wires an Observer.
type Config struct {
	Store            Store
	Secrets          SecretsFilter
	Memory           MemoryRecaller // optional
	Triggers         FilterTriggerSource
	OriginService    string
	HistoryWindow    int // default 10
	AuthorizedWAUsers map[string]bool
}

// Observer ingests external messages for one origin service (e.g. one chat
// platform connection) and turns them into Tasks/Thoughts.
type Observer struct {
	store         Store
	secrets       SecretsFilter
	memory        MemoryRecaller
	triggers      FilterTriggerSource
	originService string
	historyWindow int
	waUsers       map[string]bool

	mu      sync.Mutex
	history map[string][]IncomingMessage // per channel, most recent last
}

// New builds an Observer from cfg.
func New(cfg Config) *Observer {
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 10
	}
	waUsers := cfg.AuthorizedWAUsers
	if waUsers == nil {
		waUsers = map[string]bool{}
	}
	return &Observer{
		store:         cfg.Store,
		secrets:       cfg.Secrets,
		memory:        cfg.Memory,
		triggers:      cfg.Triggers,
		originService: cfg.OriginService,
		historyWindow: window,
		waUsers:       waUsers,
		history:       make(map[string][]IncomingMessage),
	}
}

// Ingest processes one incoming message per the spec section 4.6 contract.
// It returns the created task id, or "" if the message was skipped (the
// agent's own message) or routed as a WA correction instead.
func (o *Observer) Ingest(ctx context.Context, msg IncomingMessage) (string, error) {
	if msg.IsSelf {
		return "", nil
	}

	o.recordHistory(msg)

	if handled, taskID, err := o.tryWACorrection(ctx, msg); handled {
		return taskID, err
	}

	redacted := msg.Content
	if o.secrets != nil {
		r, _, err := o.secrets.ProcessIncomingText(ctx, msg.Content, msg.ChannelID, msg.MessageID)
		if err != nil {
			// Fail safe: process the message normally rather than dropping it
			// (spec section 5, Backpressure).
			redacted = msg.Content
		} else {
			redacted = r
		}
	}

	priority := o.classifyPriority(ctx, redacted)

	var recalled string
	if o.memory != nil {
		if v, err := o.memory.Recall(ctx, msg.ChannelID, model.ScopeEnvironment); err == nil {
			recalled = v
		}
	}

	now := time.Now().UTC()
	task := &model.Task{
		TaskID:      uuid.NewString(),
		Description: fmt.Sprintf("observation from %s: %s", msg.ChannelID, redacted),
		Priority:    priorityScore(priority),
		Status:      model.TaskPending,
		Context: model.TaskContext{
			AuthorName:    msg.AuthorName,
			AuthorID:      msg.AuthorID,
			ChannelID:     msg.ChannelID,
			OriginService: o.originService,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.AddTask(ctx, task); err != nil {
		return "", fmt.Errorf("observer: add task: %w", err)
	}

	content := redacted
	if recalled != "" {
		content = redacted + "\n\ncontext: " + recalled
	}
	th := &model.Thought{
		ThoughtID:    uuid.NewString(),
		SourceTaskID: task.TaskID,
		ThoughtType:  model.ThoughtTypeObservation,
		Content:      content,
		Context: model.ThoughtContext{
			AuthorName:    msg.AuthorName,
			AuthorID:      msg.AuthorID,
			ChannelID:     msg.ChannelID,
			OriginService: o.originService,
		},
		Priority:  priorityScore(priority),
		Status:    model.ThoughtPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.AddThought(ctx, th); err != nil {
		return "", fmt.Errorf("observer: add thought: %w", err)
	}

	return task.TaskID, nil
}

// tryWACorrection routes a reply to a previously-sent deferral report into
// a correction Thought on the original task (spec section 4.6).
func (o *Observer) tryWACorrection(ctx context.Context, msg IncomingMessage) (handled bool, taskID string, err error) {
	if msg.RepliedToMessageID == "" {
		return false, "", nil
	}
	if !o.waUsers[msg.AuthorID] {
		return false, "", nil
	}
	mapping, err := o.store.GetDeferralReportContext(ctx, msg.RepliedToMessageID)
	if err != nil {
		return false, "", fmt.Errorf("observer: get deferral report context: %w", err)
	}
	if mapping == nil {
		return false, "", nil
	}

	now := time.Now().UTC()
	th := &model.Thought{
		ThoughtID:       uuid.NewString(),
		SourceTaskID:    mapping.TaskID,
		ParentThoughtID: mapping.ThoughtID,
		ThoughtType:     model.ThoughtTypeCorrection,
		Content:         msg.Content,
		Context: model.ThoughtContext{
			AuthorName:     msg.AuthorName,
			AuthorID:       msg.AuthorID,
			ChannelID:      msg.ChannelID,
			OriginService:  o.originService,
			IsWACorrection: true,
			WAAuthorID:     msg.AuthorID,
			WAAuthorName:   msg.AuthorName,
		},
		Priority:  model.ThoughtPriorityHigh,
		Status:    model.ThoughtPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.AddThought(ctx, th); err != nil {
		return true, "", fmt.Errorf("observer: add correction thought: %w", err)
	}
	return true, mapping.TaskID, nil
}

func (o *Observer) recordHistory(msg IncomingMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := append(o.history[msg.ChannelID], msg)
	if len(h) > o.historyWindow {
		h = h[len(h)-o.historyWindow:]
	}
	o.history[msg.ChannelID] = h
}

// RecentHistory returns the bounded recent-history window for a channel.
func (o *Observer) RecentHistory(channelID string) []IncomingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]IncomingMessage, len(o.history[channelID]))
	copy(out, o.history[channelID])
	return out
}

func (o *Observer) classifyPriority(ctx context.Context, content string) Priority {
	if o.triggers == nil {
		return PriorityMedium
	}
	rules, err := o.triggers.ListActiveFilterTriggers(ctx)
	if err != nil {
		return PriorityMedium
	}
	highest := PriorityMedium
	for _, rule := range rules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil || !re.MatchString(content) {
			continue
		}
		switch rule.Priority {
		case string(PriorityCritical):
			return PriorityCritical
		case string(PriorityHigh):
			highest = PriorityHigh
		}
	}
	return highest
}

func priorityScore(p Priority) int {
	switch p {
	case PriorityCritical:
		return model.ThoughtPriorityCritical
	case PriorityHigh:
		return model.ThoughtPriorityHigh
	default:
		return model.ThoughtPriorityPassive
	}
}
