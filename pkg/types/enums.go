package types

// RunStatus is the normalized status of a polled workflow run.
type RunStatus string

// RunStatus values. Anything the platform reports that is not terminal maps to
// RunInProgress.
const (
	RunSuccess    RunStatus = "success"
	RunFailure    RunStatus = "failure"
	RunInProgress RunStatus = "in_progress"
	RunCancelled  RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailure || s == RunCancelled
}

// FailureCategory is the closed set of classifier categories.
type FailureCategory string

const (
	CategoryTransientInfra FailureCategory = "transient_infra"
	CategoryFlakyTest      FailureCategory = "flaky_test"
	CategoryCodeDefect     FailureCategory = "code_defect"
	CategoryConfigDrift    FailureCategory = "config_drift"
	CategoryUnknown        FailureCategory = "unknown"
)

// Categories lists every valid FailureCategory in prompt order.
var Categories = []FailureCategory{
	CategoryTransientInfra,
	CategoryFlakyTest,
	CategoryCodeDefect,
	CategoryConfigDrift,
	CategoryUnknown,
}

// ParseCategory returns the category for s and whether s named one exactly.
func ParseCategory(s string) (FailureCategory, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return CategoryUnknown, false
}

// Retryable reports whether the category is ever a candidate for an
// automatic re-run.
func (c FailureCategory) Retryable() bool {
	return c == CategoryTransientInfra || c == CategoryFlakyTest
}

// VerdictSource records where a verdict came from.
type VerdictSource string

const (
	VerdictFromInference VerdictSource = "inference"
	VerdictFromFallback  VerdictSource = "fallback"
)

// Action is the Safety Gate ruling.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionSkip     Action = "skip"
	ActionEscalate Action = "escalate"
)

// Decision reasons for skip and escalate rulings.
const (
	ReasonExhausted     = "exhausted"
	ReasonCooldown      = "cooldown"
	ReasonLowConfidence = "low_confidence"
)

// AttemptOutcome is the recorded result of a remediation attempt.
type AttemptOutcome string

const (
	AttemptPending   AttemptOutcome = "pending"
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptExhausted AttemptOutcome = "exhausted"
)

// SignatureStatus is the remediation state of one failure signature.
type SignatureStatus string

const (
	SignatureFresh     SignatureStatus = "fresh"
	SignatureRetried   SignatureStatus = "retried"
	SignatureExhausted SignatureStatus = "exhausted"
	SignatureResolved  SignatureStatus = "resolved"
)

// Outcome is the per-target result line of a cycle.
type Outcome string

const (
	OutcomeHealthy          Outcome = "healthy"
	OutcomeNoRuns           Outcome = "no_runs"
	OutcomeInProgress       Outcome = "in_progress"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeRetried          Outcome = "retried"
	OutcomeRetryFailed      Outcome = "retry_failed"
	OutcomeSkippedExhausted Outcome = "skipped_exhausted"
	OutcomeSkippedCooldown  Outcome = "skipped_cooldown"
	OutcomeEscalated        Outcome = "escalated"
	OutcomeResolved         Outcome = "resolved"
	OutcomeDeferred         Outcome = "deferred"
	OutcomeError            Outcome = "error"
)

// AlertLevel is the severity of an operator alert.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// AlertType names an alert sink backend.
type AlertType string

const (
	AlertConsole     AlertType = "console"
	AlertWebhook     AlertType = "webhook"
	AlertFile        AlertType = "file"
	AlertEventBridge AlertType = "eventbridge"
	AlertMessaging   AlertType = "messaging"
)

// CommandKind tags the Command variant.
type CommandKind string

const (
	CommandAddTarget CommandKind = "add_target"
	CommandUnknown   CommandKind = "unknown"
)
