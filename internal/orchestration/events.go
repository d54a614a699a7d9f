package orchestration

import (
	"time"

	"evalgo.org/deployer/models"
)

// EventType classifies deployment events.
type EventType string

const (
	EventPhase  EventType = "deployment_phase"
	EventLog    EventType = "deployment_log"
	EventResult EventType = "deployment_result"
)

// Event is one observable step of a deployment, as pushed to subscribers.
type Event struct {
	Type         EventType             `json:"type"`
	DeploymentID string                `json:"deploymentId"`
	Service      string                `json:"service"`
	BuildType    models.BuildType      `json:"buildType"`
	Phase        models.Phase          `json:"phase,omitempty"`
	Progress     int                   `json:"progress,omitempty"`
	Metadata     map[string]any        `json:"metadata,omitempty"`
	Log          *models.LogEntry      `json:"log,omitempty"`
	Result       *models.BuilderResult `json:"result,omitempty"`
	Error        string                `json:"error,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Publisher receives every deployment event. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }
