// Package destroy implements expiration of zap-owned snapshots. Any
// name that does not decode, or whose origin host is not in the
// filter set, is left untouched.
package destroy

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"zap/internal/name"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

type Engine struct {
	ZFS    *zfs.Client
	Gate   *zpool.Gate
	Policy zpool.Policy

	// Hosts is the origin-host filter; only snapshots created by one
	// of these hosts are candidates.
	Hosts []string
	Now   time.Time
}

// Run destroys every expired owned snapshot. Each destroy is
// independent; one failure does not stop the sweep.
func (e *Engine) Run(ctx context.Context) error {
	snapshots, err := e.ZFS.AllSnapshots(ctx)
	if err != nil {
		return err
	}

	destroyed := 0
	for _, raw := range snapshots {
		snap, err := name.Parse(raw)
		if err != nil {
			slog.Debug("Skipping snapshot not created by zap", "snapshot", raw)
			continue
		}
		if !slices.Contains(e.Hosts, snap.Host) {
			continue
		}
		if !snap.Expired(e.Now) {
			slog.Debug("Snapshot not expired", "snapshot", raw, "expiresAt", snap.ExpiresAt())
			continue
		}

		if ok, reason := e.Gate.Allow(ctx, snap.Pool(), e.Policy); !ok {
			slog.Warn("Skipping destroy", "snapshot", raw, "reason", reason)
			continue
		}

		if err := e.ZFS.DestroySnapshot(ctx, raw); err != nil {
			slog.Warn("Failed to destroy snapshot", "snapshot", raw, "error", err)
			continue
		}
		destroyed++
		slog.Info("Destroyed expired snapshot", "snapshot", raw,
			"createdAt", snap.CreatedAt, "ttl", snap.TTL.String())
	}

	slog.Info("Destroy sweep finished", "candidates", len(snapshots), "destroyed", destroyed)
	return nil
}
