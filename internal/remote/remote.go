// Package remote models where a command runs: the local host or an
// ssh-reachable one. Remote argument vectors are quoted as a whole
// rather than concatenated, so dataset names never reach the remote
// shell unescaped.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ErrDisabled marks the destination value that means "do not
// replicate this dataset".
var ErrDisabled = errors.New("replication disabled")

var (
	userPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]*$`)
	hostPattern = regexp.MustCompile(`^[0-9A-Za-z]([-0-9A-Za-z]*[0-9A-Za-z])?(\.[0-9A-Za-z]([-0-9A-Za-z]*[0-9A-Za-z])?)*$`)
)

// Endpoint identifies where commands execute. The zero value is the
// local host.
type Endpoint struct {
	User string
	Host string
}

func (e Endpoint) Local() bool {
	return e.Host == ""
}

// Target returns the ssh destination, user@host or bare host.
func (e Endpoint) Target() string {
	if e.User != "" {
		return e.User + "@" + e.Host
	}
	return e.Host
}

func (e Endpoint) String() string {
	if e.Local() {
		return "local"
	}
	return e.Target()
}

// Destination is a replication target: an endpoint plus the parent
// dataset snapshots are received into.
type Destination struct {
	Endpoint
	Dataset string
}

func (d Destination) String() string {
	if d.Local() {
		return d.Dataset
	}
	return d.Target() + ":" + d.Dataset
}

// ParseDestination parses [user@]host:parent-dataset. A bare dataset
// is a local destination. Loopback hosts are normalized to local and
// any username is dropped. The literal value "off" returns
// ErrDisabled.
func ParseDestination(s string) (Destination, error) {
	if strings.EqualFold(s, "off") {
		return Destination{}, ErrDisabled
	}

	user, host := "", ""

	rest := s
	if at := strings.Index(rest, "@"); at >= 0 && at < strings.Index(rest+":", ":") {
		user = rest[:at]
		rest = rest[at+1:]
		if !userPattern.MatchString(user) {
			return Destination{}, fmt.Errorf("invalid username %q in destination %q", user, s)
		}
	}

	dataset := rest
	if strings.HasPrefix(rest, "[") {
		// Bracketed IPv6 literal.
		end := strings.Index(rest, "]:")
		if end < 0 {
			return Destination{}, fmt.Errorf("unterminated IPv6 literal in destination %q", s)
		}
		host = rest[1:end]
		dataset = rest[end+2:]
		if net.ParseIP(host) == nil {
			return Destination{}, fmt.Errorf("invalid IP literal %q in destination %q", host, s)
		}
	} else if colon := strings.Index(rest, ":"); colon >= 0 {
		host = rest[:colon]
		dataset = rest[colon+1:]
		if host == "" {
			return Destination{}, fmt.Errorf("empty host in destination %q", s)
		}
		if net.ParseIP(host) == nil && !hostPattern.MatchString(host) {
			return Destination{}, fmt.Errorf("invalid host %q in destination %q", host, s)
		}
	} else if user != "" {
		return Destination{}, fmt.Errorf("username without host in destination %q", s)
	}

	if dataset == "" {
		return Destination{}, fmt.Errorf("empty dataset in destination %q", s)
	}
	if strings.ContainsAny(dataset, "@# \t") || strings.HasPrefix(dataset, "/") {
		return Destination{}, fmt.Errorf("invalid dataset %q in destination %q", dataset, s)
	}

	if loopback(host) {
		// No remote-shell hop to ourselves; the username is moot.
		return Destination{Dataset: dataset}, nil
	}

	return Destination{Endpoint: Endpoint{User: user, Host: host}, Dataset: dataset}, nil
}

func loopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Runner executes an argument vector at an endpoint. Engines depend on
// this interface so tests can substitute a fake.
type Runner interface {
	// Output runs argv and captures stdout.
	Output(ctx context.Context, e Endpoint, argv []string) ([]byte, error)
	// Run runs argv with stderr passed through.
	Run(ctx context.Context, e Endpoint, argv []string) error
}

// ExecRunner is the real Runner. Remote vectors travel as a single
// shell-quoted string over ssh.
type ExecRunner struct{}

func (ExecRunner) command(ctx context.Context, e Endpoint, argv []string) *exec.Cmd {
	if e.Local() {
		return exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	return exec.CommandContext(ctx, "ssh", e.Target(), shellquote.Join(argv...))
}

func (r ExecRunner) Output(ctx context.Context, e Endpoint, argv []string) ([]byte, error) {
	cmd := r.command(ctx, e, argv)
	cmd.Stderr = os.Stderr
	return cmd.Output()
}

func (r ExecRunner) Run(ctx context.Context, e Endpoint, argv []string) error {
	cmd := r.command(ctx, e, argv)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
