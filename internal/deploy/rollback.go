package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/spec"
)

// ErrNoPriorImage is returned by PlanRollback when the repository has no
// image older than the one that just failed. It is a legitimate terminal
// state, not a fault.
var ErrNoPriorImage = errors.New("no prior image to roll back to")

// RollbackPlan names the image transition a rollback will perform. A plan
// is consumed exactly once by ExecuteRollback.
type RollbackPlan struct {
	From   spec.ImageRef
	To     spec.ImageRef
	Reason string
}

// RollbackPlanner selects the previously known-good image for a target and
// replays the deploy sequence against it.
type RollbackPlanner struct {
	registry ImageRegistry
	orch     *Orchestrator
}

// NewRollbackPlanner creates a planner bound to an orchestrator.
func NewRollbackPlanner(registry ImageRegistry, orch *Orchestrator) *RollbackPlanner {
	return &RollbackPlanner{registry: registry, orch: orch}
}

// PlanRollback picks the newest local tag of the target's repository that
// is older than the currently deployed one. Returns ErrNoPriorImage when
// the ordering has fewer than two usable entries.
func (p *RollbackPlanner) PlanRollback(ctx context.Context, target spec.DeploymentTarget, reason string) (*RollbackPlan, error) {
	tags, err := p.registry.ListTags(ctx, target.Image.Repository)
	if err != nil {
		return nil, fmt.Errorf("could not list tags for %s: %w", target.Image.Repository, err)
	}

	// The failed tag is excluded; the next entry in the newest-first
	// ordering is the candidate.
	for _, t := range tags {
		if t.Tag == target.Image.Tag {
			continue
		}
		return &RollbackPlan{
			From:   target.Image,
			To:     spec.ImageRef{Repository: t.Repository, Tag: t.Tag},
			Reason: reason,
		}, nil
	}
	return nil, ErrNoPriorImage
}

// ExecuteRollback rewrites the target's image to the plan's destination and
// runs exactly one more deploy. The rollback attempt is a first-class
// attempt in its own right; if it fails it is reclassified as
// RollbackFailed and never retried further.
func (p *RollbackPlanner) ExecuteRollback(ctx context.Context, target spec.DeploymentTarget, plan *RollbackPlan, timeout, pollInterval time.Duration) *Attempt {
	log.Printf("[INFO] Rolling back '%s' from %s to %s (%s)", target.ServiceName, plan.From, plan.To, plan.Reason)
	target.Image = plan.To

	attempt := p.orch.Deploy(ctx, target, timeout, pollInterval)
	if attempt.Outcome != OutcomeHealthy {
		attempt.Reason = ReasonRollbackFailed
		attempt.Detail = fmt.Sprintf("rollback to %s failed: %s", plan.To, attempt.Detail)
		log.Printf("[ERROR] Rollback of '%s' failed; manual intervention required", target.ServiceName)
	}
	return attempt
}
