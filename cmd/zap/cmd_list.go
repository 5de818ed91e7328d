package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"zap/internal/check"
	"zap/internal/list"
	"zap/internal/remote"
	"zap/internal/zfs"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List owned snapshots and bookmarks with expiry state",
		ArgsUsage: "[dataset]...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "hosts",
				Aliases: []string{"H"},
				Usage:   "comma-separated origin hosts (default: local host)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runList,
	}
}

func runList(ctx context.Context, cmd *cli.Command) error {
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
	if s := cmd.String("hosts"); s != "" {
		hosts, err = splitHosts(s)
		if err != nil {
			return err
		}
	}

	client := zfs.New(remote.ExecRunner{})
	return list.Run(ctx, client, hosts, cmd.Args().Slice(), rc.now)
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Run preflight diagnostics",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client := zfs.New(remote.ExecRunner{})
			return check.Run(ctx, client)
		},
	}
}
