package deploy

import (
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/spec"
	"github.com/google/uuid"
)

// Outcome is the terminal classification of a deployment attempt.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeHealthy    Outcome = "healthy"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// Reason narrows down why an attempt left the healthy path.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonImageUnavailable     Reason = "image_unavailable"
	ReasonContainerStartFailed Reason = "container_start_failed"
	ReasonHealthCheckTimeout   Reason = "health_check_timeout"
	ReasonNoPriorImage         Reason = "no_prior_image"
	ReasonRollbackFailed       Reason = "rollback_failed"
	ReasonCancelled            Reason = "cancelled"
)

// ProbeResult is the structured outcome of a single readiness check.
type ProbeResult struct {
	CheckedAt time.Time `json:"checked_at"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
}

// Attempt records one Deploy call end to end: the target it ran against,
// every probe issued, and the terminal outcome. The orchestrator owns the
// attempt until it returns; after that it is read-only history.
type Attempt struct {
	ID           string                `json:"id"`
	Target       spec.DeploymentTarget `json:"target"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at"`
	Outcome      Outcome               `json:"outcome"`
	Reason       Reason                `json:"reason,omitempty"`
	Detail       string                `json:"detail,omitempty"`
	HealthChecks []ProbeResult         `json:"health_checks,omitempty"`
	LogTail      string                `json:"log_tail,omitempty"`
	ContainerID  string                `json:"container_id,omitempty"`
}

func newAttempt(target spec.DeploymentTarget, now time.Time) *Attempt {
	return &Attempt{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: now,
		Outcome:   OutcomePending,
	}
}

func (a *Attempt) finish(now time.Time, outcome Outcome, reason Reason, detail string) *Attempt {
	a.FinishedAt = now
	a.Outcome = outcome
	a.Reason = reason
	a.Detail = detail
	return a
}

// MarkRolledBack reclassifies a failed attempt once a rollback for it has
// been executed and came up healthy.
func (a *Attempt) MarkRolledBack() {
	if a.Outcome == OutcomeFailed {
		a.Outcome = OutcomeRolledBack
	}
}
