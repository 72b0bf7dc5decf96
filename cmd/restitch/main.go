package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "restitch",
		Usage: "Health-gated single-host container deploy and rollback.",
		Commands: []*cli.Command{
			{
				Name:      "deploy",
				Usage:     "Deploy an image tag and gate success on its health endpoint",
				ArgsUsage: "[tag]",
				Flags: append(targetFlags(),
					&cli.BoolFlag{Name: "no-rollback", Usage: "Do not roll back to the previous image when the deploy fails"},
				),
				Action: runDeploy,
			},
			{
				Name:   "rollback",
				Usage:  "Replace the running container with the previously known-good image",
				Flags:  targetFlags(),
				Action: runRollback,
			},
			{
				Name:  "history",
				Usage: "List recent deployment attempts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db-path", Value: "restitch.db", Usage: "Path to the SQLite database file"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of attempts to show"},
				},
				Action: runHistory,
			},
			{
				Name:  "serve",
				Usage: "Run the status server: embedded NATS plus an HTTP API over deployment history",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "http-addr", Value: "0.0.0.0:8080", Usage: "HTTP server bind address"},
					&cli.StringFlag{Name: "db-path", Value: "restitch.db", Usage: "Path to the SQLite database file"},
					&cli.StringFlag{Name: "nats-addr", Value: "0.0.0.0:4222", Usage: "NATS server bind address (host:port)"},
				},
				Action: runServe,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// targetFlags are the flags shared by deploy and rollback that describe the
// deployment target and the health gate.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "service", Value: "app", Usage: "Service name"},
		&cli.StringFlag{Name: "container-name", Usage: "Container name (defaults to the service name)"},
		&cli.StringFlag{Name: "repository", Required: true, Usage: "Image repository, e.g. registry.local/app"},
		&cli.StringFlag{Name: "tag", Value: "latest", Usage: "Image tag", Sources: cli.EnvVars("RESTITCH_TAG")},
		&cli.IntFlag{Name: "port", Usage: "Host port to publish", Sources: cli.EnvVars("RESTITCH_PORT")},
		&cli.IntFlag{Name: "container-port", Usage: "Container port behind --port (defaults to --port)"},
		&cli.StringSliceFlag{Name: "env", Usage: "Environment binding KEY=VALUE (repeatable)"},
		&cli.StringSliceFlag{Name: "volume", Usage: "Volume binding /host/path:/container/path (repeatable)"},
		&cli.StringFlag{Name: "restart", Value: "unless-stopped", Usage: "Restart policy: no, always, on-failure, unless-stopped"},
		&cli.StringFlag{Name: "health-url", Usage: "Readiness endpoint (default http://localhost:<port>/health)"},
		&cli.DurationFlag{Name: "timeout", Value: 60 * time.Second, Usage: "Total health polling window"},
		&cli.DurationFlag{Name: "poll-interval", Value: 5 * time.Second, Usage: "Interval between health checks"},
		&cli.DurationFlag{Name: "request-timeout", Value: 2 * time.Second, Usage: "Per-check HTTP timeout (must be below --poll-interval)"},
		&cli.StringFlag{Name: "registry-user", Usage: "Registry username for private image pulls"},
		&cli.StringFlag{Name: "registry-password", Usage: "Registry password for private image pulls"},
		&cli.StringFlag{Name: "db-path", Value: "restitch.db", Usage: "Path to the SQLite database file"},
		&cli.StringFlag{Name: "nats-url", Usage: "NATS server URL for status events (disabled when empty)"},
	}
}
