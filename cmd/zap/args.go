package main

import (
	"fmt"
	"strings"
)

type target struct {
	name      string
	recursive bool
}

// parseTargets handles the trailing dataset list where each dataset
// may be preceded by -r. Flag parsing has already stopped by the time
// these arguments are seen, so the marker is interpreted here.
func parseTargets(args []string) ([]target, error) {
	var targets []target
	recursive := false
	for _, arg := range args {
		switch {
		case arg == "-r":
			if recursive {
				return nil, fmt.Errorf("repeated -r before dataset")
			}
			recursive = true
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown option %q in dataset list", arg)
		case arg == "":
			return nil, fmt.Errorf("empty dataset name")
		default:
			targets = append(targets, target{name: arg, recursive: recursive})
			recursive = false
		}
	}
	if recursive {
		return nil, fmt.Errorf("-r must be followed by a dataset")
	}
	return targets, nil
}

// splitHosts parses the comma-separated origin host list accepted by
// destroy and list.
func splitHosts(s string) ([]string, error) {
	var hosts []string
	for _, host := range strings.Split(s, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			return nil, fmt.Errorf("empty host in %q", s)
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}
