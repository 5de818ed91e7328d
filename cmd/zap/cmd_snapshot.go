package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"zap/internal/create"
	"zap/internal/name"
	"zap/internal/remote"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Aliases:   []string{"snap"},
		Usage:     "Create snapshots that expire after a time-to-live",
		ArgsUsage: "TTL [[-r] dataset]...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "allow-degraded",
				Aliases: []string{"D"},
				Usage:   "proceed even when the pool is DEGRADED",
			},
			&cli.BoolFlag{
				Name:    "no-resilver",
				Aliases: []string{"L"},
				Usage:   "skip pools that are resilvering",
			},
			&cli.BoolFlag{
				Name:    "no-scrub",
				Aliases: []string{"S"},
				Usage:   "skip pools that are being scrubbed",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runSnapshot,
	}
}

func runSnapshot(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("missing TTL argument")
	}
	ttl, err := name.ParseTTL(args[0])
	if err != nil {
		return err
	}
	targets, err := parseTargets(args[1:])
	if err != nil {
		return err
	}

	logCloser, err := setupLogging(cmd)
	if err != nil {
		return err
	}
	defer closeQuietly(logCloser)

	rc, err := newRunContext()
	if err != nil {
		return err
	}

	release, err := acquireLock(cmd, "snapshot")
	if err != nil {
		return err
	}
	defer releaseQuietly(release)

	policy := zpool.CreatePolicy()
	if cmd.Bool("allow-degraded") {
		policy.AllowDegraded = true
	}
	policy.AllowScrub = !cmd.Bool("no-scrub")
	policy.AllowResilver = !cmd.Bool("no-resilver")

	runner := remote.ExecRunner{}
	engine := &create.Engine{
		ZFS:    zfs.New(runner),
		Gate:   zpool.NewGate(runner),
		Policy: policy,
		Host:   rc.host,
		Now:    rc.now,
		TTL:    ttl,
	}

	slog.Info("Snapshot run starting", "host", rc.host, "ttl", ttl.String())
	engineTargets := make([]create.Target, 0, len(targets))
	for _, t := range targets {
		engineTargets = append(engineTargets, create.Target{Dataset: t.name, Recursive: t.recursive})
	}
	return engine.Run(ctx, engineTargets)
}
