package localservice

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// streamRunner starts a long-lived process and exposes its combined
// output as a line stream. Used for build output and container logs.
type streamRunner interface {
	Stream(ctx context.Context, onLine func(string), name string, args ...string) error
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Stream runs one command, forwarding each combined-output line.
func (r *execRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	if err := cmd.Wait(); err != nil {
		return err
	}
	return nil
}

// Docker drives the docker CLI for the local service lifecycle.
type Docker struct {
	binary   string
	runner   commandRunner
	streamer streamRunner
}

// NewDocker creates the production docker client.
func NewDocker() *Docker {
	r := &execRunner{}
	return &Docker{binary: "docker", runner: r, streamer: r}
}

// NewDockerForTests creates a docker client with injected runners.
func NewDockerForTests(runner commandRunner, streamer streamRunner) *Docker {
	return &Docker{binary: "docker", runner: runner, streamer: streamer}
}

// Available checks that the docker CLI exists and the daemon answers.
func (d *Docker) Available(ctx context.Context) error {
	if _, err := d.runner.Run(ctx, d.binary, "version", "--format", "{{.Client.Version}}"); err != nil {
		return fmt.Errorf("docker command is not available: %w", err)
	}
	if res, err := d.runner.Run(ctx, d.binary, "info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("docker daemon is not running: %s: %w", strings.TrimSpace(res.Stderr), err)
	}
	return nil
}

// HasNvidiaRuntime reports whether the daemon exposes the nvidia
// container runtime. The error distinguishes "no runtime" from "could
// not ask the daemon".
func (d *Docker) HasNvidiaRuntime(ctx context.Context) (bool, error) {
	res, err := d.runner.Run(ctx, d.binary, "info", "--format", "{{json .Runtimes}}")
	if err != nil {
		return false, fmt.Errorf("query docker runtimes: %s: %w", commandDetail(res), err)
	}
	return strings.Contains(res.Stdout, "nvidia"), nil
}

// ImageExists reports whether the image tag is present locally.
func (d *Docker) ImageExists(ctx context.Context, tag string) bool {
	_, err := d.runner.Run(ctx, d.binary, "image", "inspect", tag)
	return err == nil
}

// Build builds an image from a context directory, streaming output.
func (d *Docker) Build(ctx context.Context, dir, tag string, onLine func(string)) error {
	if err := d.streamer.Stream(ctx, onLine, d.binary, "build", "-t", tag, dir); err != nil {
		return fmt.Errorf("docker build %s: %w", tag, err)
	}
	return nil
}

// Pull fetches an image, streaming progress output.
func (d *Docker) Pull(ctx context.Context, tag string, onLine func(string)) error {
	if err := d.streamer.Stream(ctx, onLine, d.binary, "pull", tag); err != nil {
		return fmt.Errorf("docker pull %s: %w", tag, err)
	}
	return nil
}

// RunDetached starts a container in the background.
func (d *Docker) RunDetached(ctx context.Context, args []string) error {
	full := append([]string{"run", "-d"}, args...)
	if res, err := d.runner.Run(ctx, d.binary, full...); err != nil {
		return fmt.Errorf("docker run: %s: %w", commandDetail(res), err)
	}
	return nil
}

// Stop stops a running container. Missing containers are not an error.
func (d *Docker) Stop(ctx context.Context, name string) error {
	res, err := d.runner.Run(ctx, d.binary, "stop", name)
	if err != nil && !isNoSuchContainer(res) {
		return fmt.Errorf("docker stop %s: %s: %w", name, commandDetail(res), err)
	}
	return nil
}

// Remove deletes a container. Missing containers are not an error.
func (d *Docker) Remove(ctx context.Context, name string) error {
	res, err := d.runner.Run(ctx, d.binary, "rm", "-f", name)
	if err != nil && !isNoSuchContainer(res) {
		return fmt.Errorf("docker rm %s: %s: %w", name, commandDetail(res), err)
	}
	return nil
}

// ContainerRunning reports whether the named container is running.
func (d *Docker) ContainerRunning(ctx context.Context, name string) (bool, error) {
	res, err := d.runner.Run(ctx, d.binary, "inspect", "--format", "{{.State.Running}}", name)
	if err != nil {
		if isNoSuchContainer(res) {
			return false, nil
		}
		return false, fmt.Errorf("docker inspect %s: %w", name, err)
	}
	return strings.TrimSpace(res.Stdout) == "true", nil
}

// TailLogs follows a container's log stream until the context ends.
func (d *Docker) TailLogs(ctx context.Context, name string, onLine func(string)) error {
	err := d.streamer.Stream(ctx, onLine, d.binary, "logs", "-f", "--tail", "200", name)
	if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	return nil
}

func isNoSuchContainer(res commandResult) bool {
	detail := strings.ToLower(res.Stderr)
	return strings.Contains(detail, "no such container") || strings.Contains(detail, "is not running")
}

func commandDetail(res commandResult) string {
	if detail := strings.TrimSpace(res.Stderr); detail != "" {
		return detail
	}
	return strings.TrimSpace(res.Stdout)
}
