package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

// pingTimeout bounds the daemon liveness probe so a wedged socket fails
// fast instead of hanging the CLI.
const pingTimeout = 5 * time.Second

// Connect builds a Docker API client from the environment and verifies
// the daemon answers before handing it out, so a dead daemon surfaces
// here rather than on the first container call.
func Connect(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("Docker daemon not reachable (noesis instances run as containers; start Docker first): %w", err)
	}

	return cli, nil
}
