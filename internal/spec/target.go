package spec

import (
	"fmt"
	"strings"
)

// DeploymentTarget describes one attempt to run a service container.
// It is built once per deploy invocation and passed by value; the
// orchestrator never mutates it.
type DeploymentTarget struct {
	ServiceName   string            `json:"service_name"`
	ContainerName string            `json:"container_name"`
	Image         ImageRef          `json:"image"`
	Registry      RegistryAuth      `json:"registry,omitempty"`
	Ports         []PortBinding     `json:"ports,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Volumes       []VolumeBinding   `json:"volumes,omitempty"`
	RestartPolicy string            `json:"restart_policy,omitempty"`
	HealthURL     string            `json:"health_url,omitempty"`
}

// ImageRef identifies a tagged image in a repository.
type ImageRef struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

func (r ImageRef) String() string {
	if r.Tag == "" {
		return r.Repository
	}
	return r.Repository + ":" + r.Tag
}

// ParseImageRef splits "repository:tag" into an ImageRef. A missing tag
// defaults to "latest".
func ParseImageRef(s string) (ImageRef, error) {
	if s == "" {
		return ImageRef{}, fmt.Errorf("image reference is empty")
	}
	// The tag separator is the last colon after the final slash, so
	// registry ports ("registry:5000/app") are not mistaken for tags.
	slash := strings.LastIndex(s, "/")
	colon := strings.LastIndex(s, ":")
	if colon > slash {
		return ImageRef{Repository: s[:colon], Tag: s[colon+1:]}, nil
	}
	return ImageRef{Repository: s, Tag: "latest"}, nil
}

// RegistryAuth defines credentials for a private container registry.
type RegistryAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PortBinding defines a host-to-container port mapping.
type PortBinding struct {
	HostPort      int `json:"host_port"`
	ContainerPort int `json:"container_port"`
}

// VolumeBinding defines a host path mounted into the container.
type VolumeBinding struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Validate checks the target for the fields every deployment needs and
// fills derivable defaults (container name, health URL).
func (t *DeploymentTarget) Validate() error {
	if t.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if t.Image.Repository == "" {
		return fmt.Errorf("image repository is required")
	}
	if t.ContainerName == "" {
		t.ContainerName = t.ServiceName
	}
	switch t.RestartPolicy {
	case "", "no", "always", "on-failure", "unless-stopped":
	default:
		return fmt.Errorf("unknown restart policy %q", t.RestartPolicy)
	}
	for _, p := range t.Ports {
		if p.HostPort <= 0 || p.ContainerPort <= 0 {
			return fmt.Errorf("invalid port binding %d:%d", p.HostPort, p.ContainerPort)
		}
	}
	if t.HealthURL == "" {
		if len(t.Ports) == 0 {
			return fmt.Errorf("health URL is required when no ports are published")
		}
		t.HealthURL = fmt.Sprintf("http://localhost:%d/health", t.Ports[0].HostPort)
	}
	return nil
}
