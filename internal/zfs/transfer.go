package zfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/kballard/go-shellquote"
	"github.com/zeebo/blake3"

	"zap/internal/remote"
)

// SendSpec describes one zfs send invocation.
type SendSpec struct {
	// Snapshot is the full name of the snapshot being sent.
	Snapshot string
	// Base is the incremental baseline: a full snapshot name or a
	// full bookmark name. Empty means full send.
	Base string
	// Intermediates selects -I over -i: every snapshot between Base
	// and Snapshot travels individually. Only valid when Base is a
	// snapshot; a bookmark baseline collapses history into one delta.
	Intermediates bool
	Recursive     bool
	Compressed    bool
	// Filter is an optional command line the stream is piped through
	// on the sending side.
	Filter string
}

// RecvSpec describes the receiving end.
type RecvSpec struct {
	Dest  remote.Destination
	Force bool
	// Filter is an optional command line run on the receiving side,
	// ahead of zfs receive.
	Filter string
}

// Transferer runs one send/receive pipeline and returns the BLAKE3
// digest of the raw send stream.
type Transferer interface {
	Transfer(ctx context.Context, send SendSpec, recv RecvSpec) (string, error)
}

func sendArgs(s SendSpec) []string {
	argv := []string{"zfs", "send"}
	if s.Compressed {
		argv = append(argv, "-L", "-c", "-e")
	}
	if s.Recursive {
		argv = append(argv, "-R")
	}
	if s.Base != "" {
		if s.Intermediates {
			argv = append(argv, "-I", s.Base)
		} else {
			argv = append(argv, "-i", s.Base)
		}
	}
	return append(argv, s.Snapshot)
}

func recvArgs(r RecvSpec) []string {
	argv := []string{"zfs", "receive", "-u", "-d"}
	if r.Force {
		argv = append(argv, "-F")
	}
	return append(argv, r.Dest.Dataset)
}

// Pipeline is the real Transferer: zfs send, optionally a local
// filter, then zfs receive either directly or through ssh. The send
// stream is teed through a BLAKE3 hasher, following the same pipe
// construction as splitting senders use.
type Pipeline struct{}

func (Pipeline) Transfer(ctx context.Context, send SendSpec, recv RecvSpec) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	argv := sendArgs(send)
	cmds := []*exec.Cmd{exec.CommandContext(runCtx, argv[0], argv[1:]...)}

	if send.Filter != "" {
		words, err := shellquote.Split(send.Filter)
		if err != nil || len(words) == 0 {
			return "", fmt.Errorf("invalid filter command %q: %w", send.Filter, err)
		}
		cmds = append(cmds, exec.CommandContext(runCtx, words[0], words[1:]...))
	}

	if recv.Dest.Local() {
		if recv.Filter != "" {
			words, err := shellquote.Split(recv.Filter)
			if err != nil || len(words) == 0 {
				return "", fmt.Errorf("invalid filter command %q: %w", recv.Filter, err)
			}
			cmds = append(cmds, exec.CommandContext(runCtx, words[0], words[1:]...))
		}
		argv = recvArgs(recv)
		cmds = append(cmds, exec.CommandContext(runCtx, argv[0], argv[1:]...))
	} else {
		command := shellquote.Join(recvArgs(recv)...)
		if recv.Filter != "" {
			command = recv.Filter + " | " + command
		}
		cmds = append(cmds, exec.CommandContext(runCtx, "ssh", recv.Dest.Target(), command))
	}

	hasher := blake3.New()
	var closeAfterStart []io.Closer
	var closeAfterWait []io.Closer

	for i := 0; i < len(cmds)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			return "", fmt.Errorf("failed to create pipe: %w", err)
		}
		cmds[i].Stdout = pw
		closeAfterStart = append(closeAfterStart, pw)
		if i == 0 {
			cmds[i+1].Stdin = io.TeeReader(pr, hasher)
			closeAfterWait = append(closeAfterWait, pr)
		} else {
			cmds[i+1].Stdin = pr
			closeAfterStart = append(closeAfterStart, pr)
		}
	}
	for _, cmd := range cmds {
		cmd.Stderr = os.Stderr
	}

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			for _, started := range cmds[:i] {
				_ = started.Process.Kill()
				_ = started.Wait()
			}
			for _, c := range closeAfterStart {
				c.Close()
			}
			for _, c := range closeAfterWait {
				c.Close()
			}
			return "", fmt.Errorf("failed to start %s: %w", cmd.Path, err)
		}
	}

	// Close our copies of the write ends so EOF propagates down the
	// pipeline when the sender exits.
	for _, c := range closeAfterStart {
		c.Close()
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(cmds))
	for _, cmd := range cmds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				// Once one process fails the rest die of broken pipes;
				// only the first cause is worth reporting.
				if runCtx.Err() == nil {
					errChan <- fmt.Errorf("%s failed: %w", cmd.Path, err)
				}
				cancel()
			}
		}()
	}
	wg.Wait()
	for _, c := range closeAfterWait {
		c.Close()
	}
	close(errChan)

	// A cancelled caller means the stream was cut short no matter how
	// the processes exited.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("transfer interrupted: %w", err)
	}

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		slog.Error("Transfer pipeline failed", "snapshot", send.Snapshot, "errors", errs)
		return "", fmt.Errorf("transfer pipeline failed: %v", errs)
	}

	digest := fmt.Sprintf("%x", hasher.Sum(nil))
	return digest, nil
}
