// Package list prints an inventory of zap-owned snapshots and
// bookmarks with their decoded provenance and expiry state.
package list

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"sort"
	"time"

	"zap/internal/name"
	"zap/internal/zfs"
)

type Info struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Dataset   string `json:"dataset"`
	Origin    string `json:"origin"`
	CreatedAt string `json:"created_at"`
	TTL       string `json:"ttl"`
	ExpiresAt string `json:"expires_at"`
	Expired   bool   `json:"expired"`
}

type Output struct {
	Hosts   []string `json:"hosts"`
	Entries []Info   `json:"entries"`
	Summary struct {
		Snapshots int `json:"snapshots"`
		Bookmarks int `json:"bookmarks"`
		Expired   int `json:"expired"`
	} `json:"summary"`
}

// Run lists owned snapshots (and their datasets' bookmarks) for the
// given origin hosts, optionally restricted to specific datasets.
func Run(ctx context.Context, client *zfs.Client, hosts, datasets []string, now time.Time) error {
	raws, err := client.AllSnapshots(ctx)
	if err != nil {
		return err
	}

	output := Output{Hosts: hosts, Entries: []Info{}}
	seen := map[string]bool{}

	for _, raw := range raws {
		snap, err := name.Parse(raw)
		if err != nil || !slices.Contains(hosts, snap.Host) {
			continue
		}
		if len(datasets) > 0 && !slices.Contains(datasets, snap.Dataset) {
			continue
		}
		output.Entries = append(output.Entries, info(raw, "snapshot", snap, now))
		output.Summary.Snapshots++
		seen[snap.Dataset] = true
	}

	for dataset := range seen {
		bookmarks, err := client.Bookmarks(ctx, dataset)
		if err != nil {
			continue
		}
		for _, raw := range bookmarks {
			bm, err := name.Parse(raw)
			if err != nil || !slices.Contains(hosts, bm.Host) {
				continue
			}
			output.Entries = append(output.Entries, info(raw, "bookmark", bm, now))
			output.Summary.Bookmarks++
		}
	}

	sort.Slice(output.Entries, func(i, j int) bool {
		if output.Entries[i].Dataset != output.Entries[j].Dataset {
			return output.Entries[i].Dataset < output.Entries[j].Dataset
		}
		return output.Entries[i].CreatedAt < output.Entries[j].CreatedAt
	})
	for _, entry := range output.Entries {
		if entry.Expired {
			output.Summary.Expired++
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func info(raw, kind string, snap *name.Snapshot, now time.Time) Info {
	return Info{
		Name:      raw,
		Kind:      kind,
		Dataset:   snap.Dataset,
		Origin:    snap.Host,
		CreatedAt: snap.CreatedAt.Format(time.RFC3339),
		TTL:       snap.TTL.String(),
		ExpiresAt: snap.ExpiresAt().Format(time.RFC3339),
		Expired:   kind == "snapshot" && snap.Expired(now),
	}
}
