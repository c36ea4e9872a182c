package toolset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerSandbox runs shell commands inside a single long-lived container
// bind-mounted to a workspace directory, rather than on the host. It
// probes the daemon once at construction and degrades to "unavailable"
// rather than failing if Docker isn't reachable.
type DockerSandbox struct {
	mu          sync.Mutex
	client      client.APIClient
	available   bool
	image       string
	workspace   string
	containerID string
}

// NewDockerSandbox attempts to connect to the local Docker daemon. If the
// daemon isn't reachable within 5s, the sandbox is left unavailable and
// every Exec call returns an error so callers fall back to host execution.
func NewDockerSandbox(dockerImage, workspace string) *DockerSandbox {
	s := &DockerSandbox{image: dockerImage, workspace: workspace}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return s
	}

	s.client = cli
	s.available = true
	return s
}

// Available reports whether the Docker daemon was reachable at construction.
func (s *DockerSandbox) Available() bool { return s.available }

// Exec runs command inside the sandbox container, creating it on first use.
func (s *DockerSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	if !s.available {
		return "", "", -1, fmt.Errorf("docker sandbox: daemon not available")
	}

	s.mu.Lock()
	cid, err := s.ensureContainerLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return "", "", -1, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCfg := container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   "/workspace",
		AttachStdout: true,
		AttachStderr: true,
	}
	execResp, err := s.client.ContainerExecCreate(execCtx, cid, execCfg)
	if err != nil {
		return "", "", -1, fmt.Errorf("docker sandbox: exec create: %w", err)
	}
	attachResp, err := s.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("docker sandbox: exec attach: %w", err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader); err != nil {
		return "", "", -1, fmt.Errorf("docker sandbox: exec read: %w", err)
	}

	inspectResp, err := s.client.ContainerExecInspect(execCtx, execResp.ID)
	if err != nil {
		return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("docker sandbox: exec inspect: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), inspectResp.ExitCode, nil
}

// ensureContainerLocked creates the sandbox container if it doesn't exist
// yet, or reuses it if it's still running. Caller must hold s.mu.
func (s *DockerSandbox) ensureContainerLocked(ctx context.Context) (string, error) {
	if s.containerID != "" {
		info, err := s.client.ContainerInspect(ctx, s.containerID)
		if err == nil && info.State.Running {
			return s.containerID, nil
		}
		s.containerID = ""
	}

	if err := s.ensureImage(ctx); err != nil {
		return "", fmt.Errorf("docker sandbox: pull image: %w", err)
	}

	containerCfg := &container.Config{
		Image:      s.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: s.workspace, Target: "/workspace"},
		},
	}

	resp, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker sandbox: create container: %w", err)
	}
	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("docker sandbox: start container: %w", err)
	}

	s.containerID = resp.ID
	return s.containerID, nil
}

func (s *DockerSandbox) ensureImage(ctx context.Context) error {
	if _, err := s.client.ImageInspect(ctx, s.image); err == nil {
		return nil
	}
	reader, err := s.client.ImagePull(ctx, s.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close stops and removes the sandbox container, if one was created.
func (s *DockerSandbox) Close(ctx context.Context) error {
	if !s.available || s.client == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containerID != "" {
		_ = s.client.ContainerStop(ctx, s.containerID, container.StopOptions{})
		_ = s.client.ContainerRemove(ctx, s.containerID, container.RemoveOptions{Force: true})
		s.containerID = ""
	}
	return s.client.Close()
}
