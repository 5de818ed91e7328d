// Package zpool classifies pool health for gating snapshot operations.
// Anything it cannot query or parse is treated as unsafe.
package zpool

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zap/internal/remote"
)

// Status is the typed form of one pool's zpool status output.
type Status struct {
	State string
	Scan  string
}

var unsafeStates = map[string]bool{
	"FAULTED": true,
	"OFFLINE": true,
	"REMOVED": true,
	"UNAVAIL": true,
}

// Safe reports whether the pool state permits operations. Unknown
// states are unsafe.
func (s *Status) Safe(allowDegraded bool) bool {
	switch {
	case s.State == "ONLINE":
		return true
	case s.State == "DEGRADED":
		return allowDegraded
	default:
		return false
	}
}

func (s *Status) Scrubbing() bool {
	return strings.Contains(s.Scan, "scrub in progress")
}

func (s *Status) Resilvering() bool {
	return strings.Contains(s.Scan, "resilver in progress")
}

// ParseStatus extracts the pool-level state and scan lines from zpool
// status text. The per-vdev state column appears later in the output
// and is ignored; only the first "state:" line is the pool's own.
func ParseStatus(text string) (*Status, error) {
	status := &Status{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if status.State == "" {
			if v, ok := strings.CutPrefix(line, "state:"); ok {
				status.State = strings.TrimSpace(v)
				continue
			}
		}
		if status.Scan == "" {
			if v, ok := strings.CutPrefix(line, "scan:"); ok {
				status.Scan = strings.TrimSpace(v)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if status.State == "" {
		return nil, fmt.Errorf("no state line in zpool status output")
	}
	return status, nil
}

// Policy holds the per-operation-class gating defaults. Creation and
// replication tolerate a degraded pool and in-progress scrub/resilver;
// destruction tolerates none of them unless overridden.
type Policy struct {
	AllowDegraded bool
	AllowScrub    bool
	AllowResilver bool
}

func CreatePolicy() Policy {
	return Policy{AllowDegraded: true, AllowScrub: true, AllowResilver: true}
}

func ReplicatePolicy() Policy {
	return Policy{AllowDegraded: true, AllowScrub: true, AllowResilver: true}
}

func DestroyPolicy() Policy {
	return Policy{}
}

// Gate answers "may this operation touch this pool" with one status
// query per pool per run.
type Gate struct {
	Runner remote.Runner

	cache map[string]*Status
}

func NewGate(runner remote.Runner) *Gate {
	return &Gate{Runner: runner, cache: make(map[string]*Status)}
}

func (g *Gate) status(ctx context.Context, pool string) (*Status, error) {
	if s, ok := g.cache[pool]; ok {
		return s, nil
	}
	out, err := g.Runner.Output(ctx, remote.Endpoint{}, []string{"zpool", "status", pool})
	if err != nil {
		return nil, fmt.Errorf("zpool status %s: %w", pool, err)
	}
	status, err := ParseStatus(string(out))
	if err != nil {
		return nil, fmt.Errorf("zpool status %s: %w", pool, err)
	}
	g.cache[pool] = status
	return status, nil
}

// Allow applies the policy to the pool's current health, failing
// closed when the status cannot be determined. The returned reason is
// empty when the operation may proceed.
func (g *Gate) Allow(ctx context.Context, pool string, policy Policy) (bool, string) {
	status, err := g.status(ctx, pool)
	if err != nil {
		slog.Debug("Pool status unavailable", "pool", pool, "error", err)
		return false, fmt.Sprintf("pool %s status unavailable, treating as unsafe", pool)
	}
	if !status.Safe(policy.AllowDegraded) {
		return false, fmt.Sprintf("pool %s is %s", pool, status.State)
	}
	if status.Scrubbing() && !policy.AllowScrub {
		return false, fmt.Sprintf("pool %s is being scrubbed", pool)
	}
	if status.Resilvering() && !policy.AllowResilver {
		return false, fmt.Sprintf("pool %s is being resilvered", pool)
	}
	return true, ""
}
