package instance

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	dockerpkg "github.com/noesislabs/noesis/internal/docker"
)

// scanContainers lists the mesh containers matching the given extra
// label filters. Every query is scoped to the project label so unrelated
// containers on the host never leak into instance logic.
func scanContainers(ctx context.Context, cli *client.Client, extraLabels ...string) ([]types.Container, error) {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject))
	for _, l := range extraLabels {
		filter.Add("label", l)
	}

	containers, err := cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return containers, nil
}

// instanceLabel builds the filter expression selecting one instance.
func instanceLabel(name string) string {
	return fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, name)
}

// componentLabel builds the filter expression selecting one component.
func componentLabel(component string) string {
	return fmt.Sprintf("%s=%s", dockerpkg.LabelComponent, component)
}
