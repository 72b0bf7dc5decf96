package deploy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/spec"
)

// ContainerRuntime is the command side of the container engine: everything
// the orchestrator does to replace a running instance. Stop/remove style
// operations are idempotent so a deploy is safely re-runnable after a
// partial failure.
type ContainerRuntime interface {
	// EnsureImage resolves the image locally, pulling it if needed.
	EnsureImage(ctx context.Context, target spec.DeploymentTarget) error
	// StartContainer creates and starts a container for the target and
	// returns its ID.
	StartContainer(ctx context.Context, target spec.DeploymentTarget) (string, error)
	// StopAndRemove stops and removes the named container. A container
	// that does not exist is not an error.
	StopAndRemove(ctx context.Context, containerName string) error
	// IsRunning reports whether the named container is currently running.
	IsRunning(ctx context.Context, containerName string) (bool, error)
	// Logs returns the last tail lines of the named container's output.
	Logs(ctx context.Context, containerName string, tail int) (string, error)
}

// ImageTag is one locally available tagged image of a repository.
type ImageTag struct {
	Repository string
	Tag        string
	CreatedAt  time.Time
}

// ImageRegistry lists locally available images for a repository.
type ImageRegistry interface {
	// ListTags returns all tags of the repository, newest first.
	ListTags(ctx context.Context, repository string) ([]ImageTag, error)
}

// HealthProbe issues a single bounded readiness check. Every failure mode
// (connection error, bad status, timeout) comes back as an unsuccessful
// result, never as an error.
type HealthProbe interface {
	Check(ctx context.Context, endpoint string) ProbeResult
}

// Orchestrator drives the deploy sequence: stop old, start new, poll
// health, classify the outcome. It keeps no state between calls; the
// container runtime is the source of truth.
//
// Callers must serialize Deploy calls against the same container name.
// Calls against different targets are independent.
type Orchestrator struct {
	runtime  ContainerRuntime
	registry ImageRegistry
	probe    HealthProbe
	clock    Clock
	logTail  int
}

// NewOrchestrator creates an orchestrator. A nil clock falls back to the
// system clock.
func NewOrchestrator(runtime ContainerRuntime, registry ImageRegistry, probe HealthProbe, clock Clock) *Orchestrator {
	if clock == nil {
		clock = SystemClock()
	}
	return &Orchestrator{
		runtime:  runtime,
		registry: registry,
		probe:    probe,
		clock:    clock,
		logTail:  50,
	}
}

// Deploy replaces the container named by the target and gates success on
// the health endpoint answering within timeout. The result is always a
// terminal Attempt; adapter and network failures are folded into its
// outcome and never escape as raw errors.
//
// Rollback is deliberately not automatic: a failed attempt is returned
// as-is and retry-by-rollback is the caller's decision.
func (o *Orchestrator) Deploy(ctx context.Context, target spec.DeploymentTarget, timeout, pollInterval time.Duration) *Attempt {
	attempt := newAttempt(target, o.clock.Now())
	log.Printf("[INFO] Deploying %s as container '%s'", target.Image, target.ContainerName)

	// 1. Clear out any existing container under this name.
	if err := o.runtime.StopAndRemove(ctx, target.ContainerName); err != nil {
		return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonContainerStartFailed,
			fmt.Sprintf("could not remove existing container '%s': %v", target.ContainerName, err))
	}

	// 2. Resolve the image, pulling if it is not available locally.
	if err := o.runtime.EnsureImage(ctx, target); err != nil {
		return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonImageUnavailable,
			fmt.Sprintf("image %s is unavailable: %v", target.Image, err))
	}

	// 3. Start the replacement container.
	containerID, err := o.runtime.StartContainer(ctx, target)
	if err != nil {
		return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonContainerStartFailed,
			fmt.Sprintf("could not start container: %v", err))
	}
	attempt.ContainerID = containerID

	// A container that exits right after start will never pass a probe;
	// catch it here with its logs instead of burning the whole timeout.
	if running, err := o.runtime.IsRunning(ctx, target.ContainerName); err == nil && !running {
		attempt.LogTail, _ = o.runtime.Logs(ctx, target.ContainerName, o.logTail)
		return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonContainerStartFailed,
			"container exited immediately after start")
	}

	// 4. Poll the health endpoint until success, timeout, or cancellation.
	return o.pollUntilHealthy(ctx, attempt, timeout, pollInterval)
}

// pollUntilHealthy blocks the calling flow for up to timeout, issuing one
// probe per pollInterval. The first success wins. Cancellation aborts the
// loop but leaves the container untouched so an operator can inspect it.
func (o *Orchestrator) pollUntilHealthy(ctx context.Context, attempt *Attempt, timeout, pollInterval time.Duration) *Attempt {
	target := attempt.Target
	deadline := o.clock.Now().Add(timeout)

	for {
		if ctx.Err() != nil {
			return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonCancelled,
				fmt.Sprintf("deployment cancelled after %d health checks", len(attempt.HealthChecks)))
		}

		select {
		case <-ctx.Done():
			return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonCancelled,
				fmt.Sprintf("deployment cancelled after %d health checks", len(attempt.HealthChecks)))
		case <-o.clock.After(pollInterval):
		}

		result := o.probe.Check(ctx, target.HealthURL)
		attempt.HealthChecks = append(attempt.HealthChecks, result)

		if result.Success {
			log.Printf("[INFO] Container '%s' healthy after %d checks", target.ContainerName, len(attempt.HealthChecks))
			return attempt.finish(o.clock.Now(), OutcomeHealthy, ReasonNone, "")
		}
		log.Printf("[INFO] Health check %d for '%s' failed: %s", len(attempt.HealthChecks), target.ContainerName, result.Detail)

		if !o.clock.Now().Before(deadline) {
			attempt.LogTail, _ = o.runtime.Logs(ctx, target.ContainerName, o.logTail)
			return attempt.finish(o.clock.Now(), OutcomeFailed, ReasonHealthCheckTimeout,
				fmt.Sprintf("no successful health check within %s (%d attempts)", timeout, len(attempt.HealthChecks)))
		}
	}
}
