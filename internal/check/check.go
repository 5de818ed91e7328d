// Package check runs preflight diagnostics for a zap installation.
package check

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"zap/internal/remote"
	"zap/internal/zfs"
)

func Run(ctx context.Context, client *zfs.Client) error {
	for _, binary := range []string{"zfs", "zpool", "ssh"} {
		if _, err := exec.LookPath(binary); err != nil {
			return fmt.Errorf("%s not found in PATH: %w", binary, err)
		}
		fmt.Printf("%s: OK\n", binary)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("cannot determine local hostname: %w", err)
	}
	fmt.Printf("hostname %s: OK\n", strings.SplitN(hostname, ".", 2)[0])

	snapTargets, err := client.DatasetsWithProperty(ctx, zfs.AutoSnapProperty)
	if err != nil {
		return fmt.Errorf("%s audit: %w", zfs.AutoSnapProperty, err)
	}
	for dataset, value := range snapTargets {
		if value != "on" && value != "off" {
			fmt.Printf("dataset %s: %s=%q is neither on nor off\n", dataset, zfs.AutoSnapProperty, value)
			continue
		}
		fmt.Printf("dataset %s %s=%s: OK\n", dataset, zfs.AutoSnapProperty, value)
	}

	repTargets, err := client.DatasetsWithProperty(ctx, zfs.ReplicateProperty)
	if err != nil {
		return fmt.Errorf("%s audit: %w", zfs.ReplicateProperty, err)
	}
	for dataset, value := range repTargets {
		if _, err := remote.ParseDestination(value); err != nil && !errors.Is(err, remote.ErrDisabled) {
			return fmt.Errorf("dataset %s: %w", dataset, err)
		}
		fmt.Printf("dataset %s %s=%s: OK\n", dataset, zfs.ReplicateProperty, value)
	}

	fmt.Println("all checks passed")
	return nil
}
