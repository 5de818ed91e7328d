// Package create implements the snapshot creation engine.
package create

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"zap/internal/name"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

// Target is one dataset to snapshot.
type Target struct {
	Dataset   string
	Recursive bool
}

type Engine struct {
	ZFS    *zfs.Client
	Gate   *zpool.Gate
	Policy zpool.Policy

	// Host and Now are captured once per invocation so every snapshot
	// of a run shares one name suffix.
	Host string
	Now  time.Time
	TTL  name.TTL
}

// Run snapshots every target, or every dataset with the auto-snapshot
// property when no targets are given. Per-dataset failures are logged
// and never abort the batch.
func (e *Engine) Run(ctx context.Context, targets []Target) error {
	if len(targets) == 0 {
		var err error
		targets, err = e.autoTargets(ctx)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			slog.Info("No datasets selected for snapshot",
				"property", zfs.AutoSnapProperty)
			return nil
		}
	}

	suffix := name.Encode(e.Host, e.Now, e.TTL)
	for _, target := range targets {
		if ok, reason := e.Gate.Allow(ctx, zfs.Pool(target.Dataset), e.Policy); !ok {
			slog.Warn("Skipping snapshot", "dataset", target.Dataset, "reason", reason)
			continue
		}

		snapshot := target.Dataset + "@" + suffix
		if err := e.ZFS.CreateSnapshot(ctx, snapshot, target.Recursive); err != nil {
			slog.Warn("Failed to create snapshot", "snapshot", snapshot, "error", err)
			continue
		}
		slog.Info("Created snapshot", "snapshot", snapshot, "recursive", target.Recursive)
	}

	return nil
}

func (e *Engine) autoTargets(ctx context.Context) ([]Target, error) {
	values, err := e.ZFS.DatasetsWithProperty(ctx, zfs.AutoSnapProperty)
	if err != nil {
		return nil, err
	}

	var targets []Target
	for dataset, value := range values {
		if value != "on" {
			continue
		}
		targets = append(targets, Target{Dataset: dataset})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Dataset < targets[j].Dataset })
	return targets, nil
}
