package models

import "time"

// ProjectServer is the shared front HTTP server container of a project.
// There is at most one running container per project.
type ProjectServer struct {
	ProjectID     string    `json:"projectId"`
	ContainerName string    `json:"containerName"`
	ContainerID   string    `json:"containerId"`
	Image         string    `json:"image"`
	Host          string    `json:"host,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HealthResult is the structured outcome of a bounded health polling loop.
type HealthResult struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason,omitempty"`
}
