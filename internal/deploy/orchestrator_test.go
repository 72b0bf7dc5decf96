package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeClock advances its own time whenever the orchestrator waits, so the
// polling loop runs without real delays.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type fakeRuntime struct {
	stopCalls    []string
	started      []spec.DeploymentTarget
	currentImage string

	ensureErr  error
	startErr   error
	exitsEarly bool
	logs       string
}

func (r *fakeRuntime) EnsureImage(ctx context.Context, target spec.DeploymentTarget) error {
	return r.ensureErr
}

func (r *fakeRuntime) StartContainer(ctx context.Context, target spec.DeploymentTarget) (string, error) {
	if r.startErr != nil {
		return "", r.startErr
	}
	r.started = append(r.started, target)
	r.currentImage = target.Image.String()
	return "cid-" + target.Image.Tag, nil
}

func (r *fakeRuntime) StopAndRemove(ctx context.Context, name string) error {
	r.stopCalls = append(r.stopCalls, name)
	return nil
}

func (r *fakeRuntime) IsRunning(ctx context.Context, name string) (bool, error) {
	return !r.exitsEarly, nil
}

func (r *fakeRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	return r.logs, nil
}

type fakeRegistry struct {
	tags []ImageTag
	err  error
}

func (r *fakeRegistry) ListTags(ctx context.Context, repository string) ([]ImageTag, error) {
	return r.tags, r.err
}

// fakeProbe answers checks from a script; out of script it keeps failing.
// onCheck runs before each answer, so tests can cancel mid-poll.
type fakeProbe struct {
	script  []bool
	calls   int
	onCheck func(call int)
}

func (p *fakeProbe) Check(ctx context.Context, endpoint string) ProbeResult {
	p.calls++
	if p.onCheck != nil {
		p.onCheck(p.calls)
	}
	success := false
	if p.calls <= len(p.script) {
		success = p.script[p.calls-1]
	}
	detail := "connection refused"
	if success {
		detail = "status 200"
	}
	return ProbeResult{CheckedAt: time.Now(), Success: success, Detail: detail}
}

func testTarget(tag string) spec.DeploymentTarget {
	return spec.DeploymentTarget{
		ServiceName:   "web",
		ContainerName: "web",
		Image:         spec.ImageRef{Repository: "registry.local/web", Tag: tag},
		Ports:         []spec.PortBinding{{HostPort: 8080, ContainerPort: 80}},
		HealthURL:     "http://localhost:8080/health",
	}
}

// =============================================================================
// Deploy
// =============================================================================

func TestDeploy_HealthyOnFirstProbe(t *testing.T) {
	runtime := &fakeRuntime{}
	probe := &fakeProbe{script: []bool{true}}
	orch := NewOrchestrator(runtime, &fakeRegistry{}, probe, newFakeClock())

	attempt := orch.Deploy(context.Background(), testTarget("v1"), 60*time.Second, 5*time.Second)

	require.Equal(t, OutcomeHealthy, attempt.Outcome)
	assert.Equal(t, ReasonNone, attempt.Reason)
	assert.Len(t, attempt.HealthChecks, 1)
	assert.Equal(t, "cid-v1", attempt.ContainerID)
	assert.Equal(t, []string{"web"}, runtime.stopCalls)
}

func TestDeploy_TwiceInARowIsIdempotent(t *testing.T) {
	runtime := &fakeRuntime{}
	probe := &fakeProbe{script: []bool{true, true}}
	orch := NewOrchestrator(runtime, &fakeRegistry{}, probe, newFakeClock())

	first := orch.Deploy(context.Background(), testTarget("v1"), 60*time.Second, 5*time.Second)
	second := orch.Deploy(context.Background(), testTarget("v1"), 60*time.Second, 5*time.Second)

	// The second call stops and removes a container that is already gone;
	// that must not fail the attempt.
	require.Equal(t, OutcomeHealthy, first.Outcome)
	require.Equal(t, OutcomeHealthy, second.Outcome)
	assert.Equal(t, []string{"web", "web"}, runtime.stopCalls)
}

func TestDeploy_FailsNoLaterThanTimeout(t *testing.T) {
	runtime := &fakeRuntime{logs: "panic: cannot bind port\n"}
	probe := &fakeProbe{} // never succeeds
	clock := newFakeClock()
	orch := NewOrchestrator(runtime, &fakeRegistry{}, probe, clock)

	start := clock.Now()
	attempt := orch.Deploy(context.Background(), testTarget("v1"), 10*time.Second, time.Second)

	require.Equal(t, OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonHealthCheckTimeout, attempt.Reason)

	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 10*time.Second, "must not fail before the timeout")
	assert.LessOrEqual(t, elapsed, 11*time.Second, "must fail no later than timeout + poll interval")
	assert.Len(t, attempt.HealthChecks, 10)
	assert.Equal(t, "panic: cannot bind port\n", attempt.LogTail)
}

func TestDeploy_HealthyOnNthProbeRecordsExactlyN(t *testing.T) {
	probe := &fakeProbe{script: []bool{false, false, true}}
	orch := NewOrchestrator(&fakeRuntime{}, &fakeRegistry{}, probe, newFakeClock())

	attempt := orch.Deploy(context.Background(), testTarget("v1"), 60*time.Second, 5*time.Second)

	require.Equal(t, OutcomeHealthy, attempt.Outcome)
	assert.Len(t, attempt.HealthChecks, 3)
	assert.False(t, attempt.HealthChecks[0].Success)
	assert.False(t, attempt.HealthChecks[1].Success)
	assert.True(t, attempt.HealthChecks[2].Success)
}

func TestDeploy_CancelledMidPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := &fakeProbe{
		onCheck: func(call int) {
			if call == 2 {
				cancel()
			}
		},
	}
	runtime := &fakeRuntime{}
	orch := NewOrchestrator(runtime, &fakeRegistry{}, probe, newFakeClock())

	attempt := orch.Deploy(ctx, testTarget("v1"), 60*time.Second, 5*time.Second)

	require.Equal(t, OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonCancelled, attempt.Reason)
	assert.Len(t, attempt.HealthChecks, 2)
	// Cancellation must not touch the container.
	assert.Len(t, runtime.stopCalls, 1)
	assert.Len(t, runtime.started, 1)
}

func TestDeploy_ImageUnavailable(t *testing.T) {
	runtime := &fakeRuntime{ensureErr: errors.New("manifest unknown")}
	orch := NewOrchestrator(runtime, &fakeRegistry{}, &fakeProbe{}, newFakeClock())

	attempt := orch.Deploy(context.Background(), testTarget("v9"), 10*time.Second, time.Second)

	require.Equal(t, OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonImageUnavailable, attempt.Reason)
	assert.Contains(t, attempt.Detail, "manifest unknown")
	assert.Empty(t, attempt.HealthChecks)
}

func TestDeploy_ContainerStartFailed(t *testing.T) {
	runtime := &fakeRuntime{startErr: errors.New("port is already allocated")}
	orch := NewOrchestrator(runtime, &fakeRegistry{}, &fakeProbe{}, newFakeClock())

	attempt := orch.Deploy(context.Background(), testTarget("v1"), 10*time.Second, time.Second)

	require.Equal(t, OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonContainerStartFailed, attempt.Reason)
	assert.Empty(t, attempt.HealthChecks)
}

func TestDeploy_ContainerExitsImmediately(t *testing.T) {
	runtime := &fakeRuntime{exitsEarly: true, logs: "fatal: missing config\n"}
	orch := NewOrchestrator(runtime, &fakeRegistry{}, &fakeProbe{}, newFakeClock())

	attempt := orch.Deploy(context.Background(), testTarget("v1"), 10*time.Second, time.Second)

	require.Equal(t, OutcomeFailed, attempt.Outcome)
	assert.Equal(t, ReasonContainerStartFailed, attempt.Reason)
	assert.Equal(t, "fatal: missing config\n", attempt.LogTail)
	assert.Empty(t, attempt.HealthChecks)
}
