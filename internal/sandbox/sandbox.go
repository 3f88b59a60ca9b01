// Package sandbox implements the sandbox collaborator (spec.md §1, §4.7's
// optional sandbox-test step): an ephemeral, resource-limited container
// that runs one command against a file set and always reaps itself.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/specforge/specforge/internal/errs"
)

// ExecutionConfig bounds one sandbox run.
type ExecutionConfig struct {
	Image       string
	MemoryBytes int64
	NanoCPUs    int64
	Timeout     time.Duration
	WorkDir     string
}

// ExecutionResult is the outcome of one sandbox run.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// File is one file copied into the container's working directory before
// the command runs.
type File struct {
	Path    string
	Content []byte
}

// Sandbox runs cmd inside an ephemeral container pre-loaded with files,
// under config's resource limits.
type Sandbox interface {
	Run(ctx context.Context, cmd []string, config ExecutionConfig, files []File) (*ExecutionResult, error)
}

// DockerSandbox is the Docker-backed Sandbox, grounded on
// streamspace-dev-streamspace's docker-agent container lifecycle
// (create, copy-in, start, wait, always remove via defer).
type DockerSandbox struct {
	client *client.Client
}

// NewDockerSandbox wraps an already-configured Docker client.
func NewDockerSandbox(c *client.Client) *DockerSandbox {
	return &DockerSandbox{client: c}
}

// Run creates a container from config.Image, copies files into
// config.WorkDir (default /workspace), runs cmd, and always removes the
// container on every return path — success, failure, or timeout.
func (s *DockerSandbox) Run(ctx context.Context, cmd []string, config ExecutionConfig, files []File) (*ExecutionResult, error) {
	workDir := config.WorkDir
	if workDir == "" {
		workDir = "/workspace"
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	containerConfig := &container.Config{
		Image:      config.Image,
		Cmd:        cmd,
		WorkingDir: workDir,
		Tty:        false,
	}
	hostConfig := &container.HostConfig{}
	if config.MemoryBytes > 0 {
		hostConfig.Resources.Memory = config.MemoryBytes
	}
	if config.NanoCPUs > 0 {
		hostConfig.Resources.NanoCPUs = config.NanoCPUs
	}

	resp, err := s.client.ContainerCreate(runCtx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "creating sandbox container", err)
	}
	containerID := resp.ID

	defer func() {
		_ = s.client.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true})
	}()

	if len(files) > 0 {
		archive, err := tarFiles(files)
		if err != nil {
			return nil, err
		}
		if err := s.client.CopyToContainer(runCtx, containerID, workDir, archive, types.CopyToContainerOptions{}); err != nil {
			return nil, errs.Wrap(errs.KindStoreBackendError, "copying files into sandbox", err)
		}
	}

	if err := s.client.ContainerStart(runCtx, containerID, types.ContainerStartOptions{}); err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "starting sandbox container", err)
	}

	statusCh, errCh := s.client.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return nil, errs.Wrap(errs.KindTimeout, "waiting for sandbox container", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := s.client.ContainerLogs(context.Background(), containerID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return &ExecutionResult{ExitCode: exitCode}, nil
	}
	defer logs.Close()

	stdout, stderr := demuxLogs(logs)
	return &ExecutionResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

func tarFiles(files []File) (io.Reader, error) {
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for _, f := range files {
		hdr := &tar.Header{Name: f.Path, Mode: 0o644, Size: int64(len(f.Content))}
		if err := w.WriteHeader(hdr); err != nil {
			return nil, errs.Wrap(errs.KindStoreBackendError, "writing tar header", err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, errs.Wrap(errs.KindStoreBackendError, "writing tar body", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "closing tar writer", err)
	}
	return &buf, nil
}

// demuxLogs strips Docker's 8-byte stream-multiplexing header, routing
// each frame to stdout or stderr by its first byte.
func demuxLogs(r io.Reader) (stdout, stderr string) {
	var outBuf, errBuf bytes.Buffer
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			break
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			break
		}
		switch header[0] {
		case 2:
			errBuf.Write(frame)
		default:
			outBuf.Write(frame)
		}
	}
	return outBuf.String(), errBuf.String()
}
