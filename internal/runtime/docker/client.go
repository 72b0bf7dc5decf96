// Package docker adapts the Docker engine to the orchestrator's container
// runtime and image registry ports.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/restitch/internal/deploy"
	"github.com/atvirokodosprendimai/restitch/internal/spec"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/api/types/registry"
	"github.com/moby/moby/client"
)

// Client is a wrapper around the official Docker client.
type Client struct {
	cli *client.Client
}

// NewClient creates a new Docker client.
func NewClient() (*Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("could not create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// EnsureImage resolves the target's image locally, pulling it from the
// registry when it is not already present.
func (c *Client) EnsureImage(ctx context.Context, target spec.DeploymentTarget) error {
	ref := target.Image.String()
	if tags, err := c.ListTags(ctx, target.Image.Repository); err == nil && hasTag(tags, target.Image.Tag) {
		return nil
	}

	authStr, err := getAuthString(target.Registry.Username, target.Registry.Password)
	if err != nil {
		return fmt.Errorf("could not get auth string: %w", err)
	}
	pullOpts := client.ImagePullOptions{RegistryAuth: authStr}
	reader, err := c.cli.ImagePull(ctx, ref, pullOpts)
	if err != nil {
		return fmt.Errorf("could not pull image '%s': %w", ref, err)
	}
	defer reader.Close()
	// Drain the stream so the pull runs to completion.
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// StartContainer creates and starts a container for the target and returns
// its ID. Any container already holding the name must be removed first via
// StopAndRemove.
func (c *Client) StartContainer(ctx context.Context, target spec.DeploymentTarget) (string, error) {
	hostConfig := &container.HostConfig{}
	containerConfig := &container.Config{
		Image: target.Image.String(),
	}

	for k, v := range target.Env {
		containerConfig.Env = append(containerConfig.Env, k+"="+v)
	}
	sort.Strings(containerConfig.Env)

	for _, vol := range target.Volumes {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   vol.Source,
			Target:   vol.Target,
			ReadOnly: vol.ReadOnly,
		})
	}

	if target.RestartPolicy != "" && target.RestartPolicy != "no" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(target.RestartPolicy),
		}
	}

	if len(target.Ports) > 0 {
		exposedPorts := make(network.PortSet)
		portBindings := make(network.PortMap)

		for _, p := range target.Ports {
			containerPort, err := network.ParsePort(fmt.Sprintf("%d/tcp", p.ContainerPort))
			if err != nil {
				return "", fmt.Errorf("invalid container port %d: %w", p.ContainerPort, err)
			}
			exposedPorts[containerPort] = struct{}{}
			portBindings[containerPort] = []network.PortBinding{
				{
					HostIP:   netip.Addr{},
					HostPort: strconv.Itoa(p.HostPort),
				},
			}
		}
		containerConfig.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	createOptions := client.ContainerCreateOptions{
		Config:     containerConfig,
		HostConfig: hostConfig,
		Name:       target.ContainerName,
	}
	resp, err := c.cli.ContainerCreate(ctx, createOptions)
	if err != nil {
		return "", fmt.Errorf("could not create container: %w", err)
	}

	startOpts := client.ContainerStartOptions{}
	if _, err := c.cli.ContainerStart(ctx, resp.ID, startOpts); err != nil {
		return "", fmt.Errorf("could not start container: %w", err)
	}

	return resp.ID, nil
}

// StopAndRemove stops and removes the named container. A name with no
// container behind it is a no-op so deploys can be re-run after partial
// failures.
func (c *Client) StopAndRemove(ctx context.Context, containerName string) error {
	if containerName == "" {
		return nil
	}

	_, err := c.cli.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return err
	}

	if _, err := c.cli.ContainerStop(ctx, containerName, client.ContainerStopOptions{}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("could not stop container '%s': %w", containerName, err)
	}

	_, err = c.cli.ContainerRemove(ctx, containerName, client.ContainerRemoveOptions{Force: true, RemoveVolumes: false})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("could not remove container '%s': %w", containerName, err)
	}
	return nil
}

// IsRunning reports whether the named container is currently running. A
// missing container is simply not running.
func (c *Client) IsRunning(ctx context.Context, containerName string) (bool, error) {
	res, err := c.cli.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return res.Container.State != nil && res.Container.State.Running, nil
}

// ContainerImage returns the image reference the named container was
// created from.
func (c *Client) ContainerImage(ctx context.Context, containerName string) (string, error) {
	res, err := c.cli.ContainerInspect(ctx, containerName, client.ContainerInspectOptions{})
	if err != nil {
		return "", fmt.Errorf("could not inspect container '%s': %w", containerName, err)
	}
	if res.Container.Config != nil && res.Container.Config.Image != "" {
		return res.Container.Config.Image, nil
	}
	return res.Container.Image, nil
}

// Logs returns the last tail lines of the named container's output.
func (c *Client) Logs(ctx context.Context, containerName string, tail int) (string, error) {
	reader, err := c.cli.ContainerLogs(ctx, containerName, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("could not read logs for '%s': %w", containerName, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("could not read log stream for '%s': %w", containerName, err)
	}
	return string(data), nil
}

// ListTags returns all locally available tags of the repository, newest
// first.
func (c *Client) ListTags(ctx context.Context, repository string) ([]deploy.ImageTag, error) {
	res, err := c.cli.ImageList(ctx, client.ImageListOptions{})
	if err != nil {
		return nil, fmt.Errorf("could not list images: %w", err)
	}
	return collectTags(res.Items, repository), nil
}

// collectTags filters the image summaries down to the repository's tags and
// orders them newest first, tag name descending on equal creation times.
func collectTags(summaries []image.Summary, repository string) []deploy.ImageTag {
	var tags []deploy.ImageTag
	for _, s := range summaries {
		for _, repoTag := range s.RepoTags {
			ref, err := spec.ParseImageRef(repoTag)
			if err != nil || ref.Repository != repository {
				continue
			}
			tags = append(tags, deploy.ImageTag{
				Repository: ref.Repository,
				Tag:        ref.Tag,
				CreatedAt:  time.Unix(s.Created, 0),
			})
		}
	}

	sort.Slice(tags, func(i, j int) bool {
		if !tags[i].CreatedAt.Equal(tags[j].CreatedAt) {
			return tags[i].CreatedAt.After(tags[j].CreatedAt)
		}
		return strings.Compare(tags[i].Tag, tags[j].Tag) > 0
	})
	return tags
}

// hasTag reports whether the tag is present in a ListTags result, i.e. the
// image is already resolvable locally and needs no pull.
func hasTag(tags []deploy.ImageTag, tag string) bool {
	for _, t := range tags {
		if t.Tag == tag {
			return true
		}
	}
	return false
}

func getAuthString(username, password string) (string, error) {
	if username == "" && password == "" {
		return "", nil
	}
	authConfig := registry.AuthConfig{
		Username: username,
		Password: password,
	}
	encodedJSON, err := json.Marshal(authConfig)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(encodedJSON), nil
}
