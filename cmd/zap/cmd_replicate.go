package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"zap/internal/remote"
	"zap/internal/replicate"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

// Filter environment variables: commands the transfer stream is piped
// through on the sending and receiving legs. Both ends must have the
// command installed when set.
const (
	filterEnv       = "ZAP_FILTER"
	remoteFilterEnv = "ZAP_REP_FILTER"
)

func replicateCommand() *cli.Command {
	return &cli.Command{
		Name:      "replicate",
		Aliases:   []string{"rep"},
		Usage:     "Replicate snapshots to a local or remote dataset",
		ArgsUsage: "[[[user@]host:]parent_dataset [-r] dataset...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "no-compress",
				Aliases: []string{"C"},
				Usage:   "do not send a compressed stream",
			},
			&cli.BoolFlag{
				Name:    "allow-degraded",
				Aliases: []string{"D"},
				Usage:   "proceed even when the pool is DEGRADED",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"F"},
				Usage:   "force-destroy divergent changes on the destination when receiving",
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
			&cli.StringFlag{
				Name:    "origin-host",
				Aliases: []string{"h"},
				Usage:   "replicate snapshots created by this host instead of the local one",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runReplicate,
	}
}

func runReplicate(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	var pairs []replicate.Pair
	if len(args) > 0 {
		if len(args) < 2 {
			return fmt.Errorf("an explicit destination requires at least one dataset")
		}
		// The destination argument must at least parse; the engine
		// re-parses per pair so property-driven runs get the same
		// treatment.
		if _, err := remote.ParseDestination(args[0]); err != nil {
			return err
		}
		targets, err := parseTargets(args[1:])
		if err != nil {
			return err
		}
		for _, t := range targets {
			pairs = append(pairs, replicate.Pair{
				Dataset:   t.name,
				Recursive: t.recursive,
				RawDest:   args[0],
			})
		}
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
	originHost := cmd.String("origin-host")
	if originHost == "" {
		originHost = rc.host
	}

	release, err := acquireLock(cmd, "replicate")
	if err != nil {
		return err
	}
	defer releaseQuietly(release)

	policy := zpool.ReplicatePolicy()
	if cmd.Bool("allow-degraded") {
		policy.AllowDegraded = true
	}
	policy.AllowScrub = !cmd.Bool("no-scrub")
	policy.AllowResilver = !cmd.Bool("no-resilver")

	runner := remote.ExecRunner{}
	engine := &replicate.Engine{
		ZFS:          zfs.New(runner),
		Transfer:     zfs.Pipeline{},
		Gate:         zpool.NewGate(runner),
		Policy:       policy,
		Host:         originHost,
		Compressed:   !cmd.Bool("no-compress"),
		Force:        cmd.Bool("force"),
		LocalFilter:  os.Getenv(filterEnv),
		RemoteFilter: os.Getenv(remoteFilterEnv),
	}

	slog.Info("Replication run starting", "host", rc.host, "origin", originHost)
	return engine.Run(ctx, pairs)
}
