package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageRef(t *testing.T) {
	tests := []struct {
		name string
		in   string
		repo string
		tag  string
	}{
		{"repo and tag", "registry.local/web:v3", "registry.local/web", "v3"},
		{"no tag defaults to latest", "registry.local/web", "registry.local/web", "latest"},
		{"registry port is not a tag", "registry:5000/web", "registry:5000/web", "latest"},
		{"registry port with tag", "registry:5000/web:v1", "registry:5000/web", "v1"},
		{"bare name", "nginx:1.27", "nginx", "1.27"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseImageRef(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.repo, ref.Repository)
			assert.Equal(t, tt.tag, ref.Tag)
			assert.Equal(t, tt.repo+":"+tt.tag, ref.String())
		})
	}
}

func TestParseImageRefEmpty(t *testing.T) {
	_, err := ParseImageRef("")
	assert.Error(t, err)
}

func TestValidateFillsDefaults(t *testing.T) {
	target := DeploymentTarget{
		ServiceName: "web",
		Image:       ImageRef{Repository: "registry.local/web", Tag: "v1"},
		Ports:       []PortBinding{{HostPort: 8080, ContainerPort: 80}},
	}

	require.NoError(t, target.Validate())
	assert.Equal(t, "web", target.ContainerName)
	assert.Equal(t, "http://localhost:8080/health", target.HealthURL)
}

func TestValidateRejectsBadTargets(t *testing.T) {
	tests := []struct {
		name   string
		target DeploymentTarget
	}{
		{"missing service", DeploymentTarget{Image: ImageRef{Repository: "r"}}},
		{"missing repository", DeploymentTarget{ServiceName: "web"}},
		{"bad restart policy", DeploymentTarget{
			ServiceName:   "web",
			Image:         ImageRef{Repository: "r", Tag: "v1"},
			RestartPolicy: "sometimes",
			HealthURL:     "http://localhost:8080/health",
		}},
		{"bad port", DeploymentTarget{
			ServiceName: "web",
			Image:       ImageRef{Repository: "r", Tag: "v1"},
			Ports:       []PortBinding{{HostPort: -1, ContainerPort: 80}},
		}},
		{"no ports and no health url", DeploymentTarget{
			ServiceName: "web",
			Image:       ImageRef{Repository: "r", Tag: "v1"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.target.Validate())
		})
	}
}
