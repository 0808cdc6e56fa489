package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerLauncher starts each instance in its own container. The image must
// have the kata binary as its entrypoint.
type DockerLauncher struct {
	Policy Policy
	client *client.Client
}

// NewDockerLauncher connects to the Docker daemon described by the
// environment (DOCKER_HOST and friends).
func NewDockerLauncher(policy Policy) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerLauncher{Policy: policy, client: cli}, nil
}

func (l *DockerLauncher) Launch(ctx context.Context) (*Process, error) {
	mem, err := l.Policy.MemoryBytes()
	if err != nil {
		return nil, err
	}

	cfg := &container.Config{
		Image:           l.Policy.Image,
		Cmd:             l.Policy.args(),
		Env:             l.Policy.Env,
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: !l.Policy.Network,
	}
	hostCfg := &container.HostConfig{
		AutoRemove: true,
		Resources: container.Resources{
			Memory:   mem,
			NanoCPUs: l.Policy.NanoCPUs,
		},
	}
	if !l.Policy.Network {
		hostCfg.NetworkMode = "none"
	}

	resp, err := l.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := resp.ID

	hj, err := l.client.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		l.remove(id)
		return nil, fmt.Errorf("attaching to container %s: %w", shortID(id), err)
	}

	if err := l.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		hj.Close()
		l.remove(id)
		return nil, fmt.Errorf("starting container %s: %w", shortID(id), err)
	}

	// Without a TTY the attach stream multiplexes stdout and stderr.
	stdout, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, os.Stderr, hj.Reader)
		pw.CloseWithError(err)
	}()

	return &Process{
		Stdin:  hijackedStdin{hj: hj},
		Stdout: stdout,
		kill: func() error {
			defer hj.Close()
			return l.remove(id)
		},
		wait: func() error {
			statusCh, errCh := l.client.ContainerWait(context.Background(), id, container.WaitConditionNotRunning)
			select {
			case err := <-errCh:
				return err
			case st := <-statusCh:
				if st.StatusCode != 0 {
					return fmt.Errorf("container %s exited with %d", shortID(id), st.StatusCode)
				}
				return nil
			}
		},
	}, nil
}

func (l *DockerLauncher) remove(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("removing container %s: %w", shortID(id), err)
	}
	return nil
}

// Close releases the Docker client.
func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

type hijackedStdin struct {
	hj types.HijackedResponse
}

func (s hijackedStdin) Write(p []byte) (int, error) {
	return s.hj.Conn.Write(p)
}

func (s hijackedStdin) Close() error {
	return s.hj.CloseWrite()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
