package instance

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/docker/docker/client"
	dockerpkg "github.com/noesislabs/noesis/internal/docker"
)

// Each instance's Redis store publishes on its own host port, allocated
// from a fixed window so up to 100 instances can coexist on one host.
const (
	redisPortFloor   = 6379
	redisPortCeiling = 6478
)

// FindNextAvailablePort allocates a host port for a new instance's Redis
// container: the first port in the window that no mesh container has
// claimed by label and that the host can actually bind.
func FindNextAvailablePort(ctx context.Context, cli *client.Client) (int, error) {
	claimed, err := claimedRedisPorts(ctx, cli)
	if err != nil {
		return 0, err
	}

	for port := redisPortFloor; port <= redisPortCeiling; port++ {
		if claimed[port] {
			continue
		}
		if isPortBindable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", redisPortFloor, redisPortCeiling)
}

// claimedRedisPorts collects the ports recorded on existing Redis
// container labels. Stopped instances keep their claim so they can
// restart on the same port.
func claimedRedisPorts(ctx context.Context, cli *client.Client) (map[int]bool, error) {
	containers, err := scanContainers(ctx, cli, componentLabel("redis"))
	if err != nil {
		return nil, err
	}

	claimed := make(map[int]bool, len(containers))
	for _, c := range containers {
		if port, err := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort]); err == nil {
			claimed[port] = true
		}
	}
	return claimed, nil
}

// isPortBindable reports whether the host can bind the port right now.
func isPortBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// RedisHost resolves the hostname for reaching an instance's published
// Redis port. Inside a container the host's ports are only reachable
// through the Docker host gateway.
func RedisHost() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "host.docker.internal"
	}
	return "localhost"
}

// RedisURL builds the redis:// URL for an instance's published port.
func RedisURL(port int) string {
	return fmt.Sprintf("redis://%s:%d", RedisHost(), port)
}
