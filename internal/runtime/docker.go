package runtime

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
)

// DockerHandle supervises one named docker container.
type DockerHandle struct {
	cli  *client.Client
	name string
}

// NewDockerHandle creates a handle for the container with the given name.
// The container does not have to exist yet.
func NewDockerHandle(name string) (*DockerHandle, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerHandle{cli: cli, name: name}, nil
}

// NewDockerHandleWithClient creates a handle using an existing client.
func NewDockerHandleWithClient(cli *client.Client, name string) *DockerHandle {
	return &DockerHandle{cli: cli, name: name}
}

// Running reports whether the named container is currently running.
func (d *DockerHandle) Running(ctx context.Context) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, d.name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", d.name, err)
	}
	return info.State != nil && info.State.Running, nil
}

// Start creates and starts the container. A leftover stopped container with
// the same name is removed first so the new options take effect.
func (d *DockerHandle) Start(ctx context.Context, opts StartOptions) error {
	if _, err := d.cli.ContainerInspect(ctx, d.name); err == nil {
		if err := d.cli.ContainerRemove(ctx, d.name, types.ContainerRemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove stale container %s: %w", d.name, err)
		}
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", opts.ContainerPort))
	hostPort := ""
	if opts.HostPort != 0 {
		hostPort = strconv.Itoa(opts.HostPort)
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: hostPort}},
		},
	}
	if opts.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(opts.Network)
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	config := &container.Config{
		Image:        opts.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, d.name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", d.name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", d.name, err)
	}
	return nil
}

// Monitor waits for the container process to terminate. The returned channel
// receives nil on a clean exit (code 0) and an error otherwise.
func (d *DockerHandle) Monitor(ctx context.Context) (<-chan error, error) {
	info, err := d.cli.ContainerInspect(ctx, d.name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrNoContainer
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", d.name, err)
	}

	waitCh, errCh := d.cli.ContainerWait(ctx, info.ID, container.WaitConditionNotRunning)

	done := make(chan error, 1)
	go func() {
		select {
		case status := <-waitCh:
			if status.Error != nil {
				done <- fmt.Errorf("container %s wait error: %s", d.name, status.Error.Message)
			} else if status.StatusCode != 0 {
				done <- fmt.Errorf("container %s exited with status %d", d.name, status.StatusCode)
			} else {
				done <- nil
			}
		case err := <-errCh:
			done <- fmt.Errorf("failed to monitor container %s: %w", d.name, err)
		}
	}()
	return done, nil
}

// Destroy stops and removes the container. Destroying a container that does
// not exist is not an error.
func (d *DockerHandle) Destroy(ctx context.Context) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, d.name, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", d.name, err)
	}
	if err := d.cli.ContainerRemove(ctx, d.name, types.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", d.name, err)
	}
	return nil
}

// Endpoint resolves the host address bound to the given container port.
func (d *DockerHandle) Endpoint(ctx context.Context, port int) (string, error) {
	info, err := d.cli.ContainerInspect(ctx, d.name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", ErrNoContainer
		}
		return "", fmt.Errorf("failed to inspect container %s: %w", d.name, err)
	}
	if info.NetworkSettings == nil {
		return "", ErrNoContainer
	}

	bindings := info.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", port))]
	if len(bindings) == 0 {
		return "", ErrNotListening
	}
	return net.JoinHostPort(bindings[0].HostIP, bindings[0].HostPort), nil
}
