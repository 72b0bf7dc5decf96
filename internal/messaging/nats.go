package messaging

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectDeployStatus is the subject deploy runs publish their
	// terminal outcome on.
	SubjectDeployStatus = "restitch.deploy.status"
)

// DeployStatus is the message published when a deployment attempt reaches
// a terminal outcome.
type DeployStatus struct {
	AttemptID   string    `json:"attempt_id"`
	ServiceName string    `json:"service_name"`
	Image       string    `json:"image"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Connect establishes a connection to a NATS server.
func Connect(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}
	log.Println("Connected to NATS server at", natsURL)
	return nc, nil
}

// Publisher emits deploy status events. A nil Publisher or one created
// without a connection is a no-op, so deploys work with NATS disabled.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher wraps a NATS connection. nc may be nil.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// PublishStatus sends the status event on SubjectDeployStatus.
func (p *Publisher) PublishStatus(status DeployStatus) error {
	if p == nil || p.nc == nil {
		return nil
	}
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return p.nc.Publish(SubjectDeployStatus, data)
}
