// Package zfs wraps the zfs command-line primitives. Every operation
// is endpoint-aware so the same calls serve the local host and the
// replication destination.
package zfs

import (
	"context"
	"fmt"
	"strings"

	"zap/internal/remote"
)

// User properties carrying zap policy on datasets.
const (
	AutoSnapProperty  = "zap:snap"
	ReplicateProperty = "zap:rep"
)

type Client struct {
	Runner remote.Runner
}

func New(runner remote.Runner) *Client {
	return &Client{Runner: runner}
}

func splitLines(out []byte) []string {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// Snapshots lists the snapshot names of a single dataset in creation
// order, oldest first.
func (c *Client) Snapshots(ctx context.Context, e remote.Endpoint, dataset string) ([]string, error) {
	out, err := c.Runner.Output(ctx, e,
		[]string{"zfs", "list", "-H", "-o", "name", "-t", "snapshot", "-s", "creation", "-d", "1", dataset})
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s on %s: %w", dataset, e, err)
	}
	return splitLines(out), nil
}

// AllSnapshots lists every snapshot on the local host.
func (c *Client) AllSnapshots(ctx context.Context) ([]string, error) {
	out, err := c.Runner.Output(ctx, remote.Endpoint{},
		[]string{"zfs", "list", "-H", "-o", "name", "-t", "snapshot"})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return splitLines(out), nil
}

// Bookmarks lists the bookmark names of a local dataset.
func (c *Client) Bookmarks(ctx context.Context, dataset string) ([]string, error) {
	out, err := c.Runner.Output(ctx, remote.Endpoint{},
		[]string{"zfs", "list", "-H", "-o", "name", "-t", "bookmark", "-d", "1", dataset})
	if err != nil {
		return nil, fmt.Errorf("list bookmarks of %s: %w", dataset, err)
	}
	return splitLines(out), nil
}

func (c *Client) DatasetExists(ctx context.Context, e remote.Endpoint, dataset string) bool {
	err := c.Runner.Run(ctx, e, []string{"zfs", "list", "-H", "-o", "name", dataset})
	return err == nil
}

func (c *Client) SnapshotExists(ctx context.Context, e remote.Endpoint, snapshot string) bool {
	err := c.Runner.Run(ctx, e, []string{"zfs", "list", "-H", "-o", "name", "-t", "snapshot", snapshot})
	return err == nil
}

func (c *Client) BookmarkExists(ctx context.Context, bookmark string) bool {
	err := c.Runner.Run(ctx, remote.Endpoint{}, []string{"zfs", "list", "-H", "-o", "name", "-t", "bookmark", bookmark})
	return err == nil
}

func (c *Client) CreateSnapshot(ctx context.Context, snapshot string, recursive bool) error {
	argv := []string{"zfs", "snapshot"}
	if recursive {
		argv = append(argv, "-r")
	}
	argv = append(argv, snapshot)
	if err := c.Runner.Run(ctx, remote.Endpoint{}, argv); err != nil {
		return fmt.Errorf("create snapshot %s: %w", snapshot, err)
	}
	return nil
}

func (c *Client) DestroySnapshot(ctx context.Context, snapshot string) error {
	// Refuse anything that is not a snapshot name; a bare dataset here
	// would destroy live data.
	if !strings.Contains(snapshot, "@") {
		return fmt.Errorf("refusing to destroy non-snapshot %q", snapshot)
	}
	if err := c.Runner.Run(ctx, remote.Endpoint{}, []string{"zfs", "destroy", snapshot}); err != nil {
		return fmt.Errorf("destroy snapshot %s: %w", snapshot, err)
	}
	return nil
}

func (c *Client) CreateBookmark(ctx context.Context, snapshot, bookmark string) error {
	if err := c.Runner.Run(ctx, remote.Endpoint{}, []string{"zfs", "bookmark", snapshot, bookmark}); err != nil {
		return fmt.Errorf("bookmark %s: %w", snapshot, err)
	}
	return nil
}

func (c *Client) Property(ctx context.Context, e remote.Endpoint, dataset, property string) (string, error) {
	out, err := c.Runner.Output(ctx, e,
		[]string{"zfs", "get", "-H", "-o", "value", property, dataset})
	if err != nil {
		return "", fmt.Errorf("get %s of %s on %s: %w", property, dataset, e, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) SetProperty(ctx context.Context, e remote.Endpoint, dataset, property, value string) error {
	if err := c.Runner.Run(ctx, e, []string{"zfs", "set", property + "=" + value, dataset}); err != nil {
		return fmt.Errorf("set %s=%s on %s at %s: %w", property, value, dataset, e, err)
	}
	return nil
}

// DatasetsWithProperty returns dataset -> property value for every
// local filesystem and volume where the property is set (not "-").
func (c *Client) DatasetsWithProperty(ctx context.Context, property string) (map[string]string, error) {
	out, err := c.Runner.Output(ctx, remote.Endpoint{},
		[]string{"zfs", "list", "-H", "-o", "name," + property, "-t", "filesystem,volume"})
	if err != nil {
		return nil, fmt.Errorf("list datasets by %s: %w", property, err)
	}

	values := make(map[string]string)
	for _, line := range splitLines(out) {
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		value := strings.TrimSpace(fields[1])
		if value == "" || value == "-" {
			continue
		}
		values[fields[0]] = value
	}
	return values, nil
}

// Pool returns the top-level pool of a dataset path.
func Pool(dataset string) string {
	if i := strings.IndexByte(dataset, '/'); i >= 0 {
		return dataset[:i]
	}
	return dataset
}
