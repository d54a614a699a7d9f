package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"evalgo.org/deployer/internal/logging"
)

// CommandRunner executes name with args in dir using env appended to the
// process environment, returning combined stdout. Stderr is folded into the
// returned error on failure.
type CommandRunner func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

// ComposeProject identifies one compose stack on disk.
type ComposeProject struct {
	Dir         string
	File        string
	ProjectName string

	// Services restricts up to a subset of the declared services
	Services []string

	// Env is injected into the compose process environment
	Env map[string]string
}

// Compose drives Docker Compose through its CLI.
type Compose struct {
	binary string
	run    CommandRunner
	logger *slog.Logger
}

// NewCompose returns a Compose runner using binary (e.g. "docker") with the
// "compose" subcommand. A nil runner executes real processes.
func NewCompose(binary string, run CommandRunner, logger *slog.Logger) *Compose {
	if binary == "" {
		binary = "docker"
	}
	if run == nil {
		run = ExecCommand
	}
	return &Compose{binary: binary, run: run, logger: logging.OrDiscard(logger)}
}

// Up builds and starts the stack in detached mode.
func (c *Compose) Up(ctx context.Context, p ComposeProject) (string, error) {
	args := append(c.baseArgs(p), "up", "-d", "--build", "--remove-orphans")
	args = append(args, p.Services...)

	out, err := c.run(ctx, p.Dir, envList(p.Env), c.binary, args...)
	if err != nil {
		return string(out), fmt.Errorf("docker compose up: %w", err)
	}
	return string(out), nil
}

// ContainerIDs lists the ids of the stack's containers.
func (c *Compose) ContainerIDs(ctx context.Context, p ComposeProject) ([]string, error) {
	args := append(c.baseArgs(p), "ps", "-q")
	args = append(args, p.Services...)

	out, err := c.run(ctx, p.Dir, envList(p.Env), c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("docker compose ps: %w", err)
	}

	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Down stops the stack and removes its volumes and orphans.
func (c *Compose) Down(ctx context.Context, p ComposeProject) error {
	args := append(c.baseArgs(p), "down", "--volumes", "--remove-orphans")
	if _, err := c.run(ctx, p.Dir, envList(p.Env), c.binary, args...); err != nil {
		return fmt.Errorf("docker compose down: %w", err)
	}
	return nil
}

func (c *Compose) baseArgs(p ComposeProject) []string {
	args := []string{"compose"}
	if p.ProjectName != "" {
		args = append(args, "-p", p.ProjectName)
	}
	if p.File != "" {
		args = append(args, "-f", p.File)
	}
	return args
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

// ExecCommand is the CommandRunner backed by os/exec.
func ExecCommand(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}
