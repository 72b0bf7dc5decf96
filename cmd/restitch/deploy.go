package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/db"
	"github.com/atvirokodosprendimai/restitch/internal/deploy"
	"github.com/atvirokodosprendimai/restitch/internal/health"
	"github.com/atvirokodosprendimai/restitch/internal/messaging"
	"github.com/atvirokodosprendimai/restitch/internal/runtime/docker"
	"github.com/atvirokodosprendimai/restitch/internal/spec"
	"github.com/urfave/cli/v3"
)

func runDeploy(ctx context.Context, cmd *cli.Command) error {
	target, err := buildTarget(cmd)
	if err != nil {
		return err
	}

	tc, err := newToolchain(cmd)
	if err != nil {
		return err
	}
	defer tc.close()

	timeout := cmd.Value("timeout").(time.Duration)
	pollInterval := cmd.Value("poll-interval").(time.Duration)

	attempt := tc.orch.Deploy(ctx, target, timeout, pollInterval)

	var rollbackAttempt *deploy.Attempt
	if attempt.Outcome == deploy.OutcomeFailed && attempt.Reason != deploy.ReasonCancelled && !cmd.Bool("no-rollback") {
		plan, planErr := tc.planner.PlanRollback(ctx, target, string(attempt.Reason))
		switch {
		case errors.Is(planErr, deploy.ErrNoPriorImage):
			log.Printf("[INFO] No prior image for %s; rollback is not possible", target.Image.Repository)
		case planErr != nil:
			log.Printf("[ERROR] Could not plan rollback: %v", planErr)
		default:
			rollbackAttempt = tc.planner.ExecuteRollback(ctx, target, plan, timeout, pollInterval)
			if rollbackAttempt.Outcome == deploy.OutcomeHealthy {
				attempt.MarkRolledBack()
			}
		}
	}

	tc.record(attempt)
	if rollbackAttempt != nil {
		tc.record(rollbackAttempt)
	}

	final := attempt
	if rollbackAttempt != nil {
		final = rollbackAttempt
	}
	return report(attempt, rollbackAttempt, final)
}

func runRollback(ctx context.Context, cmd *cli.Command) error {
	target, err := buildTarget(cmd)
	if err != nil {
		return err
	}

	tc, err := newToolchain(cmd)
	if err != nil {
		return err
	}
	defer tc.close()

	// The running container decides what "current" means; the tag flag is
	// only a fallback when nothing is running.
	if current, err := tc.docker.ContainerImage(ctx, target.ContainerName); err == nil {
		if ref, parseErr := spec.ParseImageRef(current); parseErr == nil && ref.Repository == target.Image.Repository {
			target.Image = ref
		}
	}

	plan, err := tc.planner.PlanRollback(ctx, target, "operator requested rollback")
	if errors.Is(err, deploy.ErrNoPriorImage) {
		return cli.Exit(fmt.Sprintf("no prior image for %s: nothing to roll back to", target.Image.Repository), 1)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("could not plan rollback: %v", err), 1)
	}

	timeout := cmd.Value("timeout").(time.Duration)
	pollInterval := cmd.Value("poll-interval").(time.Duration)

	attempt := tc.planner.ExecuteRollback(ctx, target, plan, timeout, pollInterval)
	tc.record(attempt)
	return report(attempt, nil, attempt)
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	gormDB, err := db.NewDatabase(cmd.Value("db-path").(string))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	store := db.NewStore(gormDB)

	records, err := store.RecentDeployments(int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No deployment attempts recorded.")
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-12s %-22s %s", r.StartedAt.Format(time.RFC3339), r.Outcome, r.Image, r.AttemptID)
		if r.Reason != "" {
			line += "  (" + r.Reason + ")"
		}
		fmt.Println(line)
	}
	return nil
}

// toolchain bundles the collaborators a deploy or rollback run needs.
type toolchain struct {
	docker  *docker.Client
	orch    *deploy.Orchestrator
	planner *deploy.RollbackPlanner
	store   *db.Store
	pub     *messaging.Publisher
	closers []func()
}

func newToolchain(cmd *cli.Command) (*toolchain, error) {
	pollInterval := cmd.Value("poll-interval").(time.Duration)
	requestTimeout := cmd.Value("request-timeout").(time.Duration)
	if requestTimeout >= pollInterval {
		return nil, fmt.Errorf("request timeout %s must be strictly below poll interval %s", requestTimeout, pollInterval)
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return nil, err
	}

	probe := health.NewHTTPProbe(requestTimeout)
	orch := deploy.NewOrchestrator(dockerClient, dockerClient, probe, nil)

	tc := &toolchain{
		docker:  dockerClient,
		orch:    orch,
		planner: deploy.NewRollbackPlanner(dockerClient, orch),
	}

	gormDB, err := db.NewDatabase(cmd.Value("db-path").(string))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	tc.store = db.NewStore(gormDB)

	if natsURL := cmd.Value("nats-url").(string); natsURL != "" {
		nc, err := messaging.Connect(natsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		tc.pub = messaging.NewPublisher(nc)
		tc.closers = append(tc.closers, nc.Close)
	}
	return tc, nil
}

func (tc *toolchain) close() {
	for _, fn := range tc.closers {
		fn()
	}
}

// record persists the attempt and publishes its status event. Neither
// failure blocks the deploy result from being reported.
func (tc *toolchain) record(attempt *deploy.Attempt) {
	if err := tc.store.SaveAttempt(attempt); err != nil {
		log.Printf("[ERROR] Saving deployment record: %v", err)
	}
	err := tc.pub.PublishStatus(messaging.DeployStatus{
		AttemptID:   attempt.ID,
		ServiceName: attempt.Target.ServiceName,
		Image:       attempt.Target.Image.String(),
		Outcome:     string(attempt.Outcome),
		Reason:      string(attempt.Reason),
		Detail:      attempt.Detail,
		Timestamp:   attempt.FinishedAt,
	})
	if err != nil {
		log.Printf("[ERROR] Publishing status event: %v", err)
	}
}

// report prints the outcome for the operator and sets the exit code: 0
// only when the service ended up healthy.
func report(attempt, rollbackAttempt, final *deploy.Attempt) error {
	if attempt.Outcome != deploy.OutcomeHealthy {
		printDiagnostics(attempt)
	}
	if rollbackAttempt != nil && rollbackAttempt.Outcome != deploy.OutcomeHealthy {
		printDiagnostics(rollbackAttempt)
	}

	switch {
	case final.Outcome == deploy.OutcomeHealthy && rollbackAttempt != nil:
		fmt.Printf("Rolled back: %s is running image %s\n", final.Target.ContainerName, final.Target.Image)
		return nil
	case final.Outcome == deploy.OutcomeHealthy:
		fmt.Printf("Deployed: %s is running image %s\n", final.Target.ContainerName, final.Target.Image)
		return nil
	case final.Reason == deploy.ReasonRollbackFailed:
		return cli.Exit("rollback failed: the service is NOT healthy, manual intervention required", 1)
	default:
		return cli.Exit(fmt.Sprintf("deployment failed: %s", final.Detail), 1)
	}
}

func printDiagnostics(attempt *deploy.Attempt) {
	fmt.Printf("Attempt %s (%s) finished %s", attempt.ID, attempt.Target.Image, attempt.Outcome)
	if attempt.Reason != "" {
		fmt.Printf(" (%s)", attempt.Reason)
	}
	fmt.Println()
	for i, p := range attempt.HealthChecks {
		status := "fail"
		if p.Success {
			status = "ok"
		}
		fmt.Printf("  probe %d at %s: %s %s\n", i+1, p.CheckedAt.Format(time.RFC3339), status, p.Detail)
	}
	if attempt.LogTail != "" {
		fmt.Println("  container logs:")
		for _, line := range strings.Split(strings.TrimRight(attempt.LogTail, "\n"), "\n") {
			fmt.Println("    " + line)
		}
	}
}

// buildTarget assembles the deployment target from flags, with the tag
// argument taking precedence over --tag.
func buildTarget(cmd *cli.Command) (spec.DeploymentTarget, error) {
	tag := cmd.Value("tag").(string)
	if arg := cmd.Args().First(); arg != "" {
		tag = arg
	}

	target := spec.DeploymentTarget{
		ServiceName:   cmd.Value("service").(string),
		ContainerName: cmd.Value("container-name").(string),
		Image: spec.ImageRef{
			Repository: cmd.Value("repository").(string),
			Tag:        tag,
		},
		Registry: spec.RegistryAuth{
			Username: cmd.Value("registry-user").(string),
			Password: cmd.Value("registry-password").(string),
		},
		RestartPolicy: cmd.Value("restart").(string),
		HealthURL:     cmd.Value("health-url").(string),
	}

	if hostPort := int(cmd.Int("port")); hostPort > 0 {
		containerPort := int(cmd.Int("container-port"))
		if containerPort == 0 {
			containerPort = hostPort
		}
		target.Ports = append(target.Ports, spec.PortBinding{HostPort: hostPort, ContainerPort: containerPort})
	}

	for _, kv := range cmd.StringSlice("env") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return spec.DeploymentTarget{}, fmt.Errorf("invalid env binding %q, expected KEY=VALUE", kv)
		}
		if target.Env == nil {
			target.Env = map[string]string{}
		}
		target.Env[key] = value
	}

	for _, v := range cmd.StringSlice("volume") {
		source, dest, ok := strings.Cut(v, ":")
		if !ok {
			return spec.DeploymentTarget{}, fmt.Errorf("invalid volume binding %q, expected /host:/container", v)
		}
		target.Volumes = append(target.Volumes, spec.VolumeBinding{Source: source, Target: dest})
	}

	if err := target.Validate(); err != nil {
		return spec.DeploymentTarget{}, err
	}
	return target, nil
}
