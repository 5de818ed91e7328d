// Package replicate implements the replication engine: for each
// (dataset, destination) pair it decides between a full send, an
// incremental send from a snapshot or bookmark baseline, or a no-op,
// and maintains bookmarks so future incrementals stay possible after
// local snapshots expire.
package replicate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"zap/internal/name"
	"zap/internal/remote"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

// Pair is one source dataset and its raw destination value, either a
// command-line argument or the replication property. Parsing is
// deferred so an invalid destination skips only its own pair.
type Pair struct {
	Dataset   string
	Recursive bool
	RawDest   string
}

type Engine struct {
	ZFS      *zfs.Client
	Transfer zfs.Transferer
	Gate     *zpool.Gate
	Policy   zpool.Policy

	// Host selects which origin's snapshots are replicated; normally
	// the local host.
	Host string

	Compressed   bool
	Force        bool
	LocalFilter  string
	RemoteFilter string
}

// Run replicates every pair, or every dataset carrying the
// replication property when no pairs are given. Every per-pair
// failure is reported and the batch continues.
func (e *Engine) Run(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		var err error
		pairs, err = e.autoPairs(ctx)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			slog.Info("No datasets selected for replication",
				"property", zfs.ReplicateProperty)
			return nil
		}
	}

	for _, pair := range pairs {
		e.replicate(ctx, pair)
	}
	return nil
}

func (e *Engine) autoPairs(ctx context.Context) ([]Pair, error) {
	values, err := e.ZFS.DatasetsWithProperty(ctx, zfs.ReplicateProperty)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	for dataset, value := range values {
		pairs = append(pairs, Pair{Dataset: dataset, RawDest: value})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Dataset < pairs[j].Dataset })
	return pairs, nil
}

func (e *Engine) replicate(ctx context.Context, pair Pair) {
	dest, err := remote.ParseDestination(pair.RawDest)
	if errors.Is(err, remote.ErrDisabled) {
		slog.Debug("Replication disabled", "dataset", pair.Dataset)
		return
	}
	if err != nil {
		slog.Error("Invalid replication destination", "dataset", pair.Dataset, "error", err)
		return
	}

	if !e.ZFS.DatasetExists(ctx, remote.Endpoint{}, pair.Dataset) {
		slog.Error("Dataset does not exist", "dataset", pair.Dataset)
		return
	}

	if ok, reason := e.Gate.Allow(ctx, zfs.Pool(pair.Dataset), e.Policy); !ok {
		slog.Warn("Skipping replication", "dataset", pair.Dataset, "reason", reason)
		return
	}

	local, err := e.newestLocal(ctx, pair.Dataset)
	if err != nil {
		slog.Warn("Failed to list local snapshots", "dataset", pair.Dataset, "error", err)
		return
	}
	if local == nil {
		slog.Warn("No snapshots to replicate", "dataset", pair.Dataset, "host", e.Host)
		return
	}

	newest, foreign, err := e.newestRemote(ctx, dest, pair.Dataset)
	if err != nil {
		slog.Warn("Failed to query destination", "dataset", pair.Dataset,
			"destination", dest.String(), "error", err)
		return
	}
	if foreign != "" {
		// An unrecognized newest snapshot on the destination means we
		// cannot establish incremental lineage safely. Operator
		// attention required; nothing is destroyed or overwritten.
		slog.Error("Destination has a snapshot that is not ours",
			"dataset", pair.Dataset, "destination", dest.String(), "snapshot", foreign)
		return
	}

	if newest == nil {
		e.full(ctx, pair, dest, local)
		return
	}
	e.incremental(ctx, pair, dest, local, newest)
}

// newestLocal finds the newest local snapshot created by e.Host.
func (e *Engine) newestLocal(ctx context.Context, dataset string) (*name.Snapshot, error) {
	raws, err := e.ZFS.Snapshots(ctx, remote.Endpoint{}, dataset)
	if err != nil {
		return nil, err
	}
	return newestOwned(raws, e.Host), nil
}

// newestRemote finds the newest own-origin snapshot on the
// destination copy of dataset. A missing destination dataset means no
// snapshots (full transfer). When the overall newest destination
// snapshot does not decode or has a foreign origin, its name is
// returned in foreign.
func (e *Engine) newestRemote(ctx context.Context, dest remote.Destination, dataset string) (newest *name.Snapshot, foreign string, err error) {
	remoteDS := remoteDataset(dest, dataset)
	if !e.ZFS.DatasetExists(ctx, dest.Endpoint, remoteDS) {
		return nil, "", nil
	}

	raws, err := e.ZFS.Snapshots(ctx, dest.Endpoint, remoteDS)
	if err != nil {
		return nil, "", err
	}
	if len(raws) == 0 {
		return nil, "", nil
	}

	owned := newestOwned(raws, e.Host)
	if owned == nil {
		return nil, raws[len(raws)-1], nil
	}

	// zfs list order is creation order; anything listed after our
	// newest own snapshot was made by someone else and would be
	// rolled back by an incremental receive.
	if last := raws[len(raws)-1]; last != ownedFullName(owned, remoteDS) {
		return nil, last, nil
	}
	return owned, "", nil
}

func ownedFullName(snap *name.Snapshot, dataset string) string {
	return dataset + "@" + snap.Name()
}

func newestOwned(raws []string, host string) *name.Snapshot {
	var newest *name.Snapshot
	for _, raw := range raws {
		snap, err := name.Parse(raw)
		if err != nil || snap.Host != host {
			continue
		}
		if newest == nil || snap.CreatedAt.After(newest.CreatedAt) {
			newest = snap
		}
	}
	return newest
}

// remoteDataset mirrors zfs receive -d: the source path minus its
// pool, appended to the destination parent.
func remoteDataset(dest remote.Destination, dataset string) string {
	if i := strings.IndexByte(dataset, '/'); i >= 0 {
		return dest.Dataset + dataset[i:]
	}
	return dest.Dataset
}

func (e *Engine) full(ctx context.Context, pair Pair, dest remote.Destination, local *name.Snapshot) {
	slog.Info("Starting full replication", "snapshot", local.String(), "destination", dest.String())

	digest, err := e.Transfer.Transfer(ctx,
		zfs.SendSpec{
			Snapshot:   local.String(),
			Recursive:  pair.Recursive,
			Compressed: e.Compressed,
			Filter:     e.LocalFilter,
		},
		zfs.RecvSpec{Dest: dest, Force: e.Force, Filter: e.RemoteFilter})
	if err != nil {
		slog.Warn("Full replication failed", "snapshot", local.String(),
			"destination", dest.String(), "error", err)
		return
	}
	slog.Info("Full replication finished", "snapshot", local.String(),
		"destination", dest.String(), "blake3", digest)

	e.bookmark(ctx, local)
	e.fixupReceived(ctx, dest, pair.Dataset)
}

func (e *Engine) incremental(ctx context.Context, pair Pair, dest remote.Destination, local, rem *name.Snapshot) {
	if !local.CreatedAt.After(rem.CreatedAt) {
		slog.Info("Destination is up to date", "dataset", pair.Dataset, "destination", dest.String())
		return
	}

	spec := zfs.SendSpec{
		Snapshot:   local.String(),
		Recursive:  pair.Recursive,
		Compressed: e.Compressed,
		Filter:     e.LocalFilter,
	}

	baseSnapshot := pair.Dataset + "@" + rem.Name()
	baseBookmark := pair.Dataset + "#" + rem.Name()
	switch {
	case e.ZFS.SnapshotExists(ctx, remote.Endpoint{}, baseSnapshot):
		spec.Base = baseSnapshot
		spec.Intermediates = true
	case e.ZFS.BookmarkExists(ctx, baseBookmark):
		// Bookmark baseline: intermediate snapshots collapse into one
		// delta. A documented limitation, not an error.
		spec.Base = baseBookmark
	default:
		slog.Warn("No common baseline for incremental replication",
			"dataset", pair.Dataset, "destination", dest.String(), "wanted", baseSnapshot)
		return
	}

	slog.Info("Starting incremental replication", "snapshot", local.String(),
		"base", spec.Base, "destination", dest.String())

	digest, err := e.Transfer.Transfer(ctx, spec,
		zfs.RecvSpec{Dest: dest, Force: e.Force, Filter: e.RemoteFilter})
	if err != nil {
		slog.Warn("Incremental replication failed", "snapshot", local.String(),
			"destination", dest.String(), "error", err)
		return
	}
	slog.Info("Incremental replication finished", "snapshot", local.String(),
		"destination", dest.String(), "blake3", digest)

	e.bookmark(ctx, local)
}

// bookmark records the replicated snapshot so it can serve as an
// incremental baseline after the snapshot itself expires. Bookmarks
// are never destroyed by zap.
func (e *Engine) bookmark(ctx context.Context, snap *name.Snapshot) {
	bm := snap.Bookmark()
	if e.ZFS.BookmarkExists(ctx, bm) {
		slog.Debug("Bookmark already exists", "bookmark", bm)
		return
	}
	if err := e.ZFS.CreateBookmark(ctx, snap.String(), bm); err != nil {
		slog.Warn("Failed to create bookmark", "bookmark", bm, "error", err)
		return
	}
	slog.Info("Created bookmark", "bookmark", bm)
}

// fixupReceived adjusts the receiving copy after a full transfer:
// disable automount to avoid mountpoint collisions, and switch off
// the zap properties so the copy is never snapshotted or re-replicated
// by a zap running on the destination.
func (e *Engine) fixupReceived(ctx context.Context, dest remote.Destination, dataset string) {
	remoteDS := remoteDataset(dest, dataset)

	canmount, err := e.ZFS.Property(ctx, remote.Endpoint{}, dataset, "canmount")
	if err != nil {
		slog.Warn("Failed to read canmount", "dataset", dataset, "error", err)
	} else if canmount == "on" {
		if err := e.ZFS.SetProperty(ctx, dest.Endpoint, remoteDS, "canmount", "noauto"); err != nil {
			slog.Warn("Failed to disable automount on destination",
				"dataset", remoteDS, "destination", dest.String(), "error", err)
		}
	}

	for _, property := range []string{zfs.AutoSnapProperty, zfs.ReplicateProperty} {
		if err := e.ZFS.SetProperty(ctx, dest.Endpoint, remoteDS, property, "off"); err != nil {
			slog.Warn("Failed to clear property on destination",
				"dataset", remoteDS, "property", property, "error", err)
		}
	}
}
