package instance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/docker/docker/client"
	dockerpkg "github.com/noesislabs/noesis/internal/docker"
)

// MaxNameLength caps instance names at the DNS label limit, since the
// name is embedded in container and network names.
const MaxNameLength = 63

var (
	// namePattern accepts DNS-label style names: lowercase alphanumeric
	// with interior hyphens.
	namePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

	// defaultNamePattern matches auto-generated mesh-N instance names.
	defaultNamePattern = regexp.MustCompile(`^mesh-([0-9]+)$`)
)

// ValidateName checks an instance name against DNS label rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// GenerateDefaultName picks the next free mesh-N name by scanning the
// labels of every existing mesh container.
func GenerateDefaultName(ctx context.Context, cli *client.Client) (string, error) {
	containers, err := scanContainers(ctx, cli)
	if err != nil {
		return "", err
	}

	highest := 0
	for _, c := range containers {
		m := defaultNamePattern.FindStringSubmatch(c.Labels[dockerpkg.LabelInstanceName])
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}

	return fmt.Sprintf("mesh-%d", highest+1), nil
}

// NameInUse reports whether any container already carries the given
// instance name.
func NameInUse(ctx context.Context, cli *client.Client, instanceName string) (bool, error) {
	containers, err := scanContainers(ctx, cli, instanceLabel(instanceName))
	if err != nil {
		return false, err
	}
	return len(containers) > 0, nil
}
