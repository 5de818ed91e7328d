package zfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"zap/internal/remote"
)

// installFakeZFS puts a shell script named zfs first on PATH for the
// duration of the test.
func installFakeZFS(t *testing.T, script string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "zfs")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestPipelineTransferDigest(t *testing.T) {
	installFakeZFS(t, `#!/bin/sh
case "$1" in
send) printf 'chunk\nchunk\nchunk\n' ;;
receive) cat >/dev/null ;;
esac
`)

	digest, err := Pipeline{}.Transfer(context.Background(),
		SendSpec{Snapshot: "tank/home@s1"},
		RecvSpec{Dest: remote.Destination{Dataset: "backup"}})
	require.NoError(t, err)

	hasher := blake3.New()
	hasher.Write([]byte("chunk\nchunk\nchunk\n"))
	assert.Equal(t, fmt.Sprintf("%x", hasher.Sum(nil)), digest)
}

func TestPipelineTransferCancelled(t *testing.T) {
	installFakeZFS(t, `#!/bin/sh
case "$1" in
send)
	i=0
	while [ "$i" -lt 40 ]; do
		echo chunk
		sleep 0.1
		i=$((i+1))
	done
	;;
receive) cat >/dev/null ;;
esac
`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	digest, err := Pipeline{}.Transfer(ctx,
		SendSpec{Snapshot: "tank/home@s1"},
		RecvSpec{Dest: remote.Destination{Dataset: "backup"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, digest)
}

func TestPipelineTransferSendFailure(t *testing.T) {
	installFakeZFS(t, `#!/bin/sh
case "$1" in
send) echo "cannot open 'tank/home@s1'" >&2; exit 1 ;;
receive) cat >/dev/null ;;
esac
`)

	_, err := Pipeline{}.Transfer(context.Background(),
		SendSpec{Snapshot: "tank/home@s1"},
		RecvSpec{Dest: remote.Destination{Dataset: "backup"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}
