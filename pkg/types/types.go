// Package types defines the public domain types for runwarden.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AllWorkflows is the WorkflowID of a target that watches every workflow of
// its project.
const AllWorkflows = "*"

// Target is one monitored (account, project, workflow) triple.
type Target struct {
	ID         string             `json:"id"`
	AccountID  string             `json:"accountId"`
	ProjectID  string             `json:"projectId"`
	WorkflowID string             `json:"workflowId"`
	Label      string             `json:"label"`
	Channel    string             `json:"channel,omitempty"`
	RepoURL    string             `json:"repoUrl,omitempty"`
	Enabled    bool               `json:"enabled"`
	Policy     *RemediationPolicy `json:"policy,omitempty"`
	AddedAt    time.Time          `json:"addedAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// TargetID derives the stable identifier of a triple.
func TargetID(accountID, projectID, workflowID string) string {
	sum := sha256.Sum256([]byte(accountID + "|" + projectID + "|" + workflowID))
	return "tgt_" + hex.EncodeToString(sum[:8])
}

// Key returns the triple in display form.
func (t Target) Key() string {
	return fmt.Sprintf("%s/%s/%s", t.AccountID, t.ProjectID, t.WorkflowID)
}

// WorkflowScope names the workflow that run's failures and recoveries are
// tracked under. It is empty for targets bound to a single workflow; a target
// watching every workflow tracks each one separately.
func (t Target) WorkflowScope(run RunObservation) string {
	if t.WorkflowID != AllWorkflows {
		return ""
	}
	return run.WorkflowID
}

// RunObservation is one polled snapshot of a workflow run.
type RunObservation struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"targetId"`
	WorkflowID string    `json:"workflowId,omitempty"`
	RunID      string    `json:"runId"`
	RunAttempt int       `json:"runAttempt,omitempty"`
	Status     RunStatus `json:"status"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	LogExcerpt string    `json:"logExcerpt,omitempty"`
	Truncated  bool      `json:"truncated,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// SameRun reports whether o describes the same run attempt in the same status.
func (o RunObservation) SameRun(other RunObservation) bool {
	return o.RunID == other.RunID && o.RunAttempt == other.RunAttempt && o.Status == other.Status
}

// Verdict is the classifier's judgment about a failed run.
type Verdict struct {
	RunID          string          `json:"runId"`
	Category       FailureCategory `json:"category"`
	Confidence     float64         `json:"confidence"`
	FixSummary     string          `json:"fixSummary,omitempty"`
	RetryCandidate bool            `json:"isDeterministicRetryCandidate"`
	Source         VerdictSource   `json:"source"`
	ClassifiedAt   time.Time       `json:"classifiedAt"`
}

// FallbackVerdict is the closed-world verdict used when classification fails.
func FallbackVerdict(runID string, at time.Time) Verdict {
	return Verdict{
		RunID:        runID,
		Category:     CategoryUnknown,
		Confidence:   0,
		Source:       VerdictFromFallback,
		ClassifiedAt: at,
	}
}

// FailureSignature identifies "the same recurring failure" on a target.
type FailureSignature string

// Decision is the Safety Gate output.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (d Decision) String() string {
	if d.Reason == "" {
		return string(d.Action)
	}
	return string(d.Action) + " (" + d.Reason + ")"
}

// RemediationAttempt records one remediation action for a signature.
type RemediationAttempt struct {
	ID            string           `json:"id"`
	Signature     FailureSignature `json:"signature"`
	TargetID      string           `json:"targetId"`
	RunID         string           `json:"runId"`
	AttemptNumber int              `json:"attemptNumber"`
	Action        Action           `json:"action"`
	Outcome       AttemptOutcome   `json:"outcome"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// SignatureState is the durable remediation state of a failure signature.
// Attempts for the current episode live in the ledger named by LedgerKey.
type SignatureState struct {
	Signature     FailureSignature `json:"signature"`
	TargetID      string           `json:"targetId"`
	WorkflowID    string           `json:"workflowId,omitempty"`
	Category      FailureCategory  `json:"category"`
	Generation    int              `json:"generation"`
	Status        SignatureStatus  `json:"status"`
	Attempts      int              `json:"attempts"`
	LastRunID     string           `json:"lastRunId,omitempty"`
	FirstSeenAt   time.Time        `json:"firstSeenAt"`
	LastAttemptAt *time.Time       `json:"lastAttemptAt,omitempty"`
	EscalatedAt   *time.Time       `json:"escalatedAt,omitempty"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// LedgerKey names the attempt ledger of the current generation.
func (s SignatureState) LedgerKey() string {
	return LedgerKey(s.Signature, s.Generation)
}

// LedgerKey names the attempt ledger for a signature generation.
func LedgerKey(sig FailureSignature, generation int) string {
	return fmt.Sprintf("%s#%d", sig, generation)
}

// Open reports whether the signature still counts as an active failure.
func (s SignatureState) Open() bool {
	return s.Status != SignatureResolved
}

// ReportEntry is one target's line in a cycle report.
type ReportEntry struct {
	Target   Target              `json:"target"`
	Outcome  Outcome             `json:"outcome"`
	RunID    string              `json:"runId,omitempty"`
	RunURL   string              `json:"runUrl,omitempty"`
	Title    string              `json:"title,omitempty"`
	Decision *Decision           `json:"decision,omitempty"`
	Verdict  *Verdict            `json:"verdict,omitempty"`
	Attempt  *RemediationAttempt `json:"attempt,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Repeat   bool                `json:"repeat,omitempty"`
}

// ReportCounts summarizes a cycle.
type ReportCounts struct {
	Targets   int `json:"targets"`
	Healthy   int `json:"healthy"`
	Retried   int `json:"retried"`
	Skipped   int `json:"skipped"`
	Escalated int `json:"escalated"`
	Resolved  int `json:"resolved"`
	Deferred  int `json:"deferred"`
	Errors    int `json:"errors"`
}

// CycleReport is the aggregated digest of one monitoring cycle.
type CycleReport struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Entries     []ReportEntry `json:"entries"`
	Counts      ReportCounts  `json:"counts"`
}

// Healthy reports whether every target ended the cycle without an open
// failure.
func (r CycleReport) Healthy() bool {
	return r.Counts.Healthy+r.Counts.Resolved == r.Counts.Targets
}

// Command is the tagged result of interpreting an operator message.
type Command struct {
	Kind      CommandKind    `json:"kind"`
	AddTarget *AddTargetArgs `json:"addTarget,omitempty"`
}

// AddTargetArgs are the parsed fields of an add-target command.
type AddTargetArgs struct {
	RepoURL    string `json:"repoUrl"`
	AccountID  string `json:"accountId"`
	ProjectID  string `json:"projectId"`
	WorkflowID string `json:"workflowId"`
	Channel    string `json:"channel"`
	Label      string `json:"label"`
}

// InboundMessage is one operator message received from the transport.
type InboundMessage struct {
	UpdateID int64     `json:"updateId"`
	ChatID   string    `json:"chatId"`
	From     string    `json:"from,omitempty"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// Alert is an operator notification outside the cycle digest.
type Alert struct {
	Level     AlertLevel             `json:"level"`
	TargetID  string                 `json:"targetId,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
