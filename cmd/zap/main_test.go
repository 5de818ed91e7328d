package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := rootCommand()

	flags := map[string]bool{}
	for _, flag := range cmd.Flags {
		for _, name := range flag.Names() {
			flags[name] = true
		}
	}
	assert.True(t, flags["log-file"])
	assert.True(t, flags["lock-file"])

	names := map[string]bool{}
	for _, sub := range cmd.Commands {
		names[sub.Name] = true
	}
	for _, want := range []string{"snapshot", "replicate", "destroy", "list", "check"} {
		assert.True(t, names[want], want)
	}
}

func TestRootCommandLockFileDefault(t *testing.T) {
	cmd := rootCommand()
	for _, flag := range cmd.Flags {
		for _, name := range flag.Names() {
			if name == "lock-file" {
				sf, ok := flag.(interface{ GetValue() string })
				require.True(t, ok)
				assert.NotEmpty(t, sf.GetValue())
				return
			}
		}
	}
	t.Fatal("lock-file flag not found")
}
