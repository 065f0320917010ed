package instance

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	dockerpkg "github.com/noesislabs/noesis/internal/docker"
)

// ListInstances discovers all mesh instances from container labels.
// Returns one InstanceInfo per instance name, sorted alphabetically.
func ListInstances(ctx context.Context, cli *client.Client) ([]InstanceInfo, error) {
	containers, err := scanContainers(ctx, cli)
	if err != nil {
		return nil, err
	}

	byInstance := make(map[string][]types.Container)
	for _, c := range containers {
		name := c.Labels[dockerpkg.LabelInstanceName]
		if name == "" {
			continue
		}
		byInstance[name] = append(byInstance[name], c)
	}

	infos := make([]InstanceInfo, 0, len(byInstance))
	for name, group := range byInstance {
		infos = append(infos, Summarize(name, group))
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos, nil
}

// ResolveInstanceName resolves the target instance for a CLI command.
// If name is non-empty it is returned after verifying the instance
// exists. Otherwise, if exactly one instance exists, that instance is
// used.
func ResolveInstanceName(ctx context.Context, cli *client.Client, name string) (string, error) {
	if name != "" {
		exists, err := NameInUse(ctx, cli, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("instance '%s' not found", name)
		}
		return name, nil
	}

	infos, err := ListInstances(ctx, cli)
	if err != nil {
		return "", err
	}

	if len(infos) == 0 {
		return "", fmt.Errorf("no instances found")
	}
	if len(infos) > 1 {
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		return "", fmt.Errorf("multiple instances found (%v), use --name to specify which one", names)
	}

	return infos[0].Name, nil
}

// GetInstanceRedisPort reads the published Redis port of an instance
// from its Redis container's labels.
func GetInstanceRedisPort(ctx context.Context, cli *client.Client, instanceName string) (int, error) {
	containers, err := scanContainers(ctx, cli, instanceLabel(instanceName), componentLabel("redis"))
	if err != nil {
		return 0, err
	}
	if len(containers) == 0 {
		return 0, fmt.Errorf("Redis container not found for instance '%s'", instanceName)
	}

	portStr, ok := containers[0].Labels[dockerpkg.LabelRedisPort]
	if !ok {
		return 0, fmt.Errorf("Redis port label missing for instance '%s'", instanceName)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid Redis port '%s': %w", portStr, err)
	}
	return port, nil
}

// VerifyInstanceRunning checks that the instance's core components are
// up. Workers may be scaled to zero and are not checked.
func VerifyInstanceRunning(ctx context.Context, cli *client.Client, instanceName string) error {
	containers, err := scanContainers(ctx, cli, instanceLabel(instanceName))
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		return fmt.Errorf("instance '%s' not found", instanceName)
	}

	essential := map[string]bool{
		"redis":       false,
		"coordinator": false,
	}
	for _, c := range containers {
		component := c.Labels[dockerpkg.LabelComponent]
		if _, ok := essential[component]; !ok {
			continue
		}
		essential[component] = true
		if c.State != "running" {
			return fmt.Errorf("instance '%s' is not running (component '%s' is %s)", instanceName, component, c.State)
		}
	}

	for component, found := range essential {
		if !found {
			return fmt.Errorf("instance '%s' is missing essential component '%s'", instanceName, component)
		}
	}
	return nil
}
