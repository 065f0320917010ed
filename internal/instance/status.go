package instance

import (
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	dockerpkg "github.com/noesislabs/noesis/internal/docker"
)

// Status is the overall health of one instance's containers.
type Status string

const (
	// StatusRunning indicates every container of the instance is running.
	StatusRunning Status = "Running"

	// StatusDegraded indicates some containers are stopped or missing.
	StatusDegraded Status = "Degraded"

	// StatusStopped indicates no container of the instance is running.
	StatusStopped Status = "Stopped"
)

// DetermineStatus condenses a container group into one status.
func DetermineStatus(containers []types.Container) Status {
	running := 0
	for _, c := range containers {
		if c.State == "running" {
			running++
		}
	}

	switch {
	case len(containers) == 0 || running == 0:
		return StatusStopped
	case running == len(containers):
		return StatusRunning
	default:
		return StatusDegraded
	}
}

// InstanceInfo is the per-instance row the CLI reports.
type InstanceInfo struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Workers int    `json:"workers"`
	Uptime  string `json:"uptime"`
}

// Summarize condenses one instance's containers into its report row.
// The worker count comes from component labels; uptime is measured from
// the instance's oldest container, the network's first member.
func Summarize(name string, group []types.Container) InstanceInfo {
	workers := 0
	for _, c := range group {
		if c.Labels[dockerpkg.LabelComponent] == "worker" {
			workers++
		}
	}

	status := DetermineStatus(group)
	uptime := "-"
	if status == StatusRunning && len(group) > 0 {
		oldest := group[0].Created
		for _, c := range group {
			if c.Created < oldest {
				oldest = c.Created
			}
		}
		uptime = formatUptime(time.Since(time.Unix(oldest, 0)))
	}

	return InstanceInfo{
		Name:    name,
		Status:  status,
		Workers: workers,
		Uptime:  uptime,
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
