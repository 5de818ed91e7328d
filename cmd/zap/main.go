package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"zap/internal/lock"
	"zap/internal/logging"
)

const version = "1.0.0"

// rootCommand builds the command tree. Root flags apply to every
// subcommand.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "zap",
		Usage:   "Maintain and replicate ZFS snapshots",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "append JSON logs to this file",
			},
			&cli.StringFlag{
				Name:  "lock-file",
				Usage: "run lock path",
				Value: lock.DefaultPath(),
			},
		},
		Commands: []*cli.Command{
			snapshotCommand(),
			replicateCommand(),
			destroyCommand(),
			listCommand(),
			checkCommand(),
		},
	}
}

func main() {
	cmd := rootCommand()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "zap: interrupted")
			os.Exit(130)
		}
		slog.Error("zap failed", "error", err)
		os.Exit(1)
	}
}

// runContext is captured once per invocation: every snapshot created
// in one run shares a single timestamp, and every origin comparison
// uses one hostname.
type runContext struct {
	host string
	now  time.Time
}

func newRunContext() (runContext, error) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return runContext{}, fmt.Errorf("cannot determine local hostname: %w", err)
	}
	// Short hostname only; the domain would never round-trip through
	// the name grammar.
	return runContext{
		host: strings.SplitN(hostname, ".", 2)[0],
		now:  time.Now(),
	}, nil
}

func setupLogging(cmd *cli.Command) (io.Closer, error) {
	return logging.Setup(cmd.Bool("verbose"), cmd.String("log-file"))
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}

func acquireLock(cmd *cli.Command, subcommand string) (func() error, error) {
	release, err := lock.Acquire(cmd.String("lock-file"), subcommand)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return release, nil
}

func releaseQuietly(release func() error) {
	if err := release(); err != nil {
		slog.Warn("Failed to release run lock", "error", err)
	}
}
