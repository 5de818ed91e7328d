package destroy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zap/internal/remote"
	"zap/internal/zfs"
	"zap/internal/zpool"
)

const statusOnline = `  pool: tank
 state: ONLINE
  scan: scrub repaired 0B in 00:10:00 with 0 errors on Sun Jan  7 00:10:01 2024
`

const statusScrubbing = `  pool: tank
 state: ONLINE
  scan: scrub in progress since Mon Jan 15 09:00:00 2024
`

type fakeRunner struct {
	outputs  map[string][]byte
	runErrs  map[string]error
	commands [][]string
}

func key(argv []string) string {
	return strings.Join(argv, " ")
}

func (f *fakeRunner) Output(ctx context.Context, e remote.Endpoint, argv []string) ([]byte, error) {
	f.commands = append(f.commands, argv)
	if out, ok := f.outputs[key(argv)]; ok {
		return out, nil
	}
	return nil, errors.New("no such command")
}

func (f *fakeRunner) Run(ctx context.Context, e remote.Endpoint, argv []string) error {
	f.commands = append(f.commands, argv)
	if err, ok := f.runErrs[key(argv)]; ok {
		return err
	}
	return nil
}

func (f *fakeRunner) destroyed() []string {
	var names []string
	for _, cmd := range f.commands {
		if len(cmd) == 3 && cmd[0] == "zfs" && cmd[1] == "destroy" {
			names = append(names, cmd[2])
		}
	}
	return names
}

const (
	expiredSnap   = "tank/home@ZAP_alpha_2024-01-01T00:00:00p0000--1d"
	freshSnap     = "tank/home@ZAP_alpha_2024-01-14T12:00:00p0000--1w"
	otherHostSnap = "tank/home@ZAP_beta_2024-01-01T00:00:00p0000--1d"
	manualSnap    = "tank/home@manual"
)

func newEngine(runner *fakeRunner, hosts ...string) *Engine {
	return &Engine{
		ZFS:    zfs.New(runner),
		Gate:   zpool.NewGate(runner),
		Policy: zpool.DestroyPolicy(),
		Hosts:  hosts,
		Now:    time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func snapshotList(names ...string) []byte {
	return []byte(strings.Join(names, "\n") + "\n")
}

func TestRunDestroysOnlyExpiredOwned(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"zfs list -H -o name -t snapshot": snapshotList(expiredSnap, freshSnap, otherHostSnap, manualSnap),
		"zpool status tank":               []byte(statusOnline),
	}}
	engine := newEngine(runner, "alpha")

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, []string{expiredSnap}, runner.destroyed())
}

func TestRunHostFilter(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"zfs list -H -o name -t snapshot": snapshotList(expiredSnap, otherHostSnap),
		"zpool status tank":               []byte(statusOnline),
	}}
	engine := newEngine(runner, "alpha", "beta")

	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, []string{expiredSnap, otherHostSnap}, runner.destroyed())
}

func TestRunExpiryIsStrict(t *testing.T) {
	// Created 2024-01-14T00:00:00 with a one-day TTL: the expiration
	// instant is exactly Now, which is not yet past it.
	boundary := "tank/home@ZAP_alpha_2024-01-14T00:00:00p0000--1d"
	runner := &fakeRunner{outputs: map[string][]byte{
		"zfs list -H -o name -t snapshot": snapshotList(boundary),
		"zpool status tank":               []byte(statusOnline),
	}}
	engine := newEngine(runner, "alpha")

	require.NoError(t, engine.Run(context.Background()))
	assert.Empty(t, runner.destroyed())
}

func TestRunScrubBlocksDestroy(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		"zfs list -H -o name -t snapshot": snapshotList(expiredSnap),
		"zpool status tank":               []byte(statusScrubbing),
	}}
	engine := newEngine(runner, "alpha")

	require.NoError(t, engine.Run(context.Background()))
	assert.Empty(t, runner.destroyed())

	engine = newEngine(runner, "alpha")
	engine.Policy.AllowScrub = true
	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, []string{expiredSnap}, runner.destroyed())
}

func TestRunContinuesAfterFailure(t *testing.T) {
	second := "tank/vm@ZAP_alpha_2024-01-01T00:00:00p0000--1d"
	runner := &fakeRunner{
		outputs: map[string][]byte{
			"zfs list -H -o name -t snapshot": snapshotList(expiredSnap, second),
			"zpool status tank":               []byte(statusOnline),
		},
		runErrs: map[string]error{
			"zfs destroy " + expiredSnap: errors.New("snapshot is busy"),
		},
	}
	engine := newEngine(runner, "alpha")

	require.NoError(t, engine.Run(context.Background()))
	assert.Contains(t, runner.destroyed(), second)
}

func TestRunListFailureIsFatal(t *testing.T) {
	engine := newEngine(&fakeRunner{}, "alpha")
	assert.Error(t, engine.Run(context.Background()))
}
