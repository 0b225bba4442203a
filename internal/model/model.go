// Package model defines the core data model of the runtime: Task, Thought,
// ActionSelectionResult, the DMA result types, ScheduledTask and Correlation.
package model

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "PENDING"
	TaskActive   TaskStatus = "ACTIVE"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskPaused   TaskStatus = "PAUSED"
	TaskFailed   TaskStatus = "FAILED"
	TaskDeferred TaskStatus = "DEFERRED"
	TaskRejected TaskStatus = "REJECTED"
)

// taskTransitions is the monotonic state machine from spec section 3:
// PENDING -> ACTIVE -> {COMPLETED|FAILED|DEFERRED|REJECTED}; PAUSED <-> ACTIVE;
// DEFERRED -> ACTIVE (scheduler reactivation).
var taskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskPending: {TaskActive: {}, TaskRejected: {}},
	TaskActive: {
		TaskCompleted: {},
		TaskFailed:    {},
		TaskDeferred:  {},
		TaskRejected:  {},
		TaskPaused:    {},
	},
	TaskPaused:   {TaskActive: {}},
	TaskDeferred: {TaskActive: {}},
}

// CanTransitionTask reports whether the task state machine allows from->to.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	next, ok := taskTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Task is a unit of intent with a lifecycle (spec section 3).
type Task struct {
	TaskID        string
	Description   string
	Priority      int
	ParentTaskID  string
	Context       TaskContext
	Outcome       string
	Status        TaskStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TaskContext carries the opaque, structured context attached to a task:
// channel/author/origin fields plus free-form extras.
type TaskContext struct {
	AuthorName    string
	AuthorID      string
	ChannelID     string
	OriginService string
	Extras        map[string]string
}

// ThoughtStatus is the lifecycle state of a Thought.
type ThoughtStatus string

const (
	ThoughtPending    ThoughtStatus = "PENDING"
	ThoughtProcessing ThoughtStatus = "PROCESSING"
	ThoughtCompleted  ThoughtStatus = "COMPLETED"
	ThoughtPaused     ThoughtStatus = "PAUSED"
	ThoughtFailed     ThoughtStatus = "FAILED"
	ThoughtDeferred   ThoughtStatus = "DEFERRED"
	ThoughtRejected   ThoughtStatus = "REJECTED"
)

// IsTerminal reports whether a thought status is terminal (spec section 3:
// "once terminal ... the status does not change").
func (s ThoughtStatus) IsTerminal() bool {
	switch s {
	case ThoughtCompleted, ThoughtFailed, ThoughtDeferred, ThoughtRejected:
		return true
	default:
		return false
	}
}

// Thought priority bands used by observers and the scheduler.
const (
	ThoughtPriorityPassive  = 0
	ThoughtPriorityHigh     = 5
	ThoughtPriorityCritical = 10
)

// Well-known thought types (spec section 3).
const (
	ThoughtTypeSeed             = "seed"
	ThoughtTypeFollowUp         = "follow_up"
	ThoughtTypeMemoryMeta       = "memory_meta"
	ThoughtTypeStartupMeta      = "startup_meta"
	ThoughtTypeCorrection       = "correction"
	ThoughtTypeObservation      = "observation"
	ThoughtTypeJob              = "job"
	ThoughtTypeStandard         = "standard"
	ThoughtTypeScheduledTrigger = "SCHEDULED_TASK_TRIGGER"
)

// Thought is a unit of reasoning attached to exactly one Task.
type Thought struct {
	ThoughtID       string
	SourceTaskID    string
	ParentThoughtID string
	ThoughtType     string
	Content         string
	Context         ThoughtContext
	Priority        int
	RoundNumber     int
	RoundProcessed  int
	PonderCount     int
	PonderNotes     []string
	FinalAction     *ActionSelectionResult
	Status          ThoughtStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ThoughtContext is the typed record replacing the source's opaque context
// dicts; Extras carries forward-compatible free-form data.
type ThoughtContext struct {
	AuthorName        string
	AuthorID          string
	ChannelID         string
	OriginService     string
	InitialTaskContext string
	IsWACorrection    bool
	WAAuthorID        string
	WAAuthorName      string
	Snapshot          *SystemSnapshot
	Extras            map[string]string
}

// SystemSnapshot is the point-in-time aggregation merged into a thought's
// context at pipeline step 1.
type SystemSnapshot struct {
	CountsByStatus          map[string]int
	CurrentTaskSummary      string
	CurrentThoughtSummary   string
	RecentCompletedTasks    []string
	TopPendingTasks         []string
	ResolvedChannelID       string
	ChannelIDSource         string
	DetectedSecretRefs      []string
	UserProfiles            map[string]string
	TelemetrySummary        string
	ResourceSnapshot        string
	AgentIdentitySummary    string
}

// Action is the closed set of actions an ActionSelectionResult may select.
type Action string

const (
	ActionObserve      Action = "OBSERVE"
	ActionSpeak        Action = "SPEAK"
	ActionTool         Action = "TOOL"
	ActionReject       Action = "REJECT"
	ActionPonder       Action = "PONDER"
	ActionDefer        Action = "DEFER"
	ActionMemorize     Action = "MEMORIZE"
	ActionRecall       Action = "RECALL"
	ActionForget       Action = "FORGET"
	ActionTaskComplete Action = "TASK_COMPLETE"
)

// MemoryScope is the scope argument of Memorize/Recall/Forget.
type MemoryScope string

const (
	ScopeIdentity    MemoryScope = "IDENTITY"
	ScopeEnvironment MemoryScope = "ENVIRONMENT"
	ScopeLocal       MemoryScope = "LOCAL"
)

// ActionParameters is the tagged variant whose concrete shape depends on the
// selected action. Exactly one of these fields is meaningful per action;
// handlers refuse mismatched tags rather than trusting zero values.
type ActionParameters struct {
	Speak    *SpeakParams
	Defer    *DeferParams
	Ponder   *PonderParams
	Reject   *RejectParams
	Observe  *ObserveParams
	Memorize *MemorizeParams
	Recall   *RecallParams
	Forget   *ForgetParams
	Tool     *ToolParams
}

type SpeakParams struct {
	Content   string
	ChannelID string
}

type DeferParams struct {
	Reason     string
	Context    map[string]string
	DeferUntil *time.Time
}

type PonderParams struct {
	Questions []string
}

type RejectParams struct {
	Reason       string
	CreateFilter bool
	FilterPattern string
	FilterPriority string
}

type ObserveParams struct {
	ChannelID string
	Active    bool
}

type MemorizeParams struct {
	Key   string
	Scope MemoryScope
}

type RecallParams struct {
	Query string
	Scope MemoryScope
}

type ForgetParams struct {
	Key    string
	Scope  MemoryScope
	Reason string
}

type ToolParams struct {
	ToolName  string
	Arguments map[string]string
}

// GuardrailAttachment is the side channel attached to a dispatched result so
// handlers can read guardrail epistemic data (spec section 4.3 step 9).
type GuardrailAttachment struct {
	Overridden     bool
	OriginalAction Action
	OverrideReason string
	EntropyScore   float64
	CoherenceScore float64
}

// ActionSelectionResult is the output of the thought-processing pipeline.
type ActionSelectionResult struct {
	SelectedAction  Action
	ActionParameters ActionParameters
	Rationale       string
	Confidence      *float64
	RawLLMResponse  string
	Guardrail       *GuardrailAttachment
}

// EthicalDMAResult is the Ethical PDMA's structured output.
type EthicalDMAResult struct {
	AlignmentCheck string
	Decision       string
	Rationale      string
}

// CSDMAResult is the common-sense DMA's structured output.
type CSDMAResult struct {
	PlausibilityScore float64
	Flags             []string
	Reasoning         string
}

// DSDMAResult is the optional domain-specific DMA's structured output.
type DSDMAResult struct {
	Domain            string
	Score             float64
	Flags             []string
	Reasoning         string
	RecommendedAction string
}

// DMABundle is the aggregate of the three parallel DMA results plus the
// critical-failure signal used at pipeline step 3.
type DMABundle struct {
	Ethical        *EthicalDMAResult
	CSDMA          *CSDMAResult
	DSDMA          *DSDMAResult
	CriticalFailure bool
	FailingDMAs    []string
}

// ScheduledTaskStatus is the lifecycle state of a ScheduledTask.
type ScheduledTaskStatus string

const (
	ScheduledPending   ScheduledTaskStatus = "PENDING"
	ScheduledActive    ScheduledTaskStatus = "ACTIVE"
	ScheduledComplete  ScheduledTaskStatus = "COMPLETE"
	ScheduledCancelled ScheduledTaskStatus = "CANCELLED"
)

// ScheduledTask is a persisted intent to trigger a Thought in the future
// (spec section 3). Exactly one of DeferUntil or ScheduleCron is set.
type ScheduledTask struct {
	TaskID           string
	Name             string
	GoalDescription  string
	Status           ScheduledTaskStatus
	TriggerPrompt    string
	OriginThoughtID  string
	DeferUntil       *time.Time
	ScheduleCron     string
	LastTriggeredAt  *time.Time
	DeferralCount    int
	DeferralHistory  []string
	ParentTaskID     string
}

// IsOneShot reports whether this is a one-shot (DeferUntil-only) task.
func (s *ScheduledTask) IsOneShot() bool {
	return s.ScheduleCron == ""
}

// CorrelationStatus is the lifecycle state of a Correlation.
type CorrelationStatus string

const (
	CorrelationPending   CorrelationStatus = "PENDING"
	CorrelationCompleted CorrelationStatus = "COMPLETED"
	CorrelationFailed    CorrelationStatus = "FAILED"
)

// Correlation is an envelope around a side-effect invocation used for
// idempotency, tracing, and audit (spec section 3).
type Correlation struct {
	CorrelationID string
	ServiceType   string
	HandlerName   string
	ActionType    string
	RequestData   string
	ResponseData  string
	Status        CorrelationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeferralReportMapping links an outbound deferral notification message to
// the task/thought it concerns, so a WA correction reply can resolve it
// (spec sections 4.1, 4.6, 8 scenario S5).
type DeferralReportMapping struct {
	MessageID string
	TaskID    string
	ThoughtID string
	Package   string
}
