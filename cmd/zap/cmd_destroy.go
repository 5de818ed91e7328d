package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"zap/internal/destroy"
	"zap/internal/remote"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

func destroyCommand() *cli.Command {
	return &cli.Command{
		Name:      "destroy",
		Usage:     "Destroy expired snapshots",
		ArgsUsage: "[host[,host]...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "allow-degraded",
				Aliases: []string{"D"},
				Usage:   "destroy even when the pool is DEGRADED",
			},
			&cli.BoolFlag{
				Name:    "allow-resilver",
				Aliases: []string{"l"},
				Usage:   "destroy while the pool is resilvering",
			},
			&cli.BoolFlag{
				Name:    "allow-scrub",
				Aliases: []string{"s"},
				Usage:   "destroy while the pool is being scrubbed",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runDestroy,
	}
}

func runDestroy(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) > 1 {
		return fmt.Errorf("destroy takes at most one host list argument")
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

	hosts := []string{rc.host}
	if len(args) == 1 {
		hosts, err = splitHosts(args[0])
		if err != nil {
			return err
		}
	}

	release, err := acquireLock(cmd, "destroy")
	if err != nil {
		return err
	}
	defer releaseQuietly(release)

	policy := zpool.DestroyPolicy()
	policy.AllowDegraded = cmd.Bool("allow-degraded")
	policy.AllowScrub = cmd.Bool("allow-scrub")
	policy.AllowResilver = cmd.Bool("allow-resilver")

	runner := remote.ExecRunner{}
	engine := &destroy.Engine{
		ZFS:    zfs.New(runner),
		Gate:   zpool.NewGate(runner),
		Policy: policy,
		Hosts:  hosts,
		Now:    rc.now,
	}

	slog.Info("Destroy run starting", "hosts", hosts)
	return engine.Run(ctx)
}
