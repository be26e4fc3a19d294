package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/mcpkit/internal/toolerr"
)

const (
	defaultDockerImage     = "alpine:3.20"
	defaultDockerMemoryMB  = 512
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0

	// containerWorkDir is where the request's working directory is mounted.
	containerWorkDir = "/workspace"
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image          string        // Container image (e.g. "alpine:3.20").
	DefaultTimeout time.Duration // Wall-clock timeout per execution.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit      int           // --pids-limit (prevents fork bombs).
	NetworkAllowed bool          // false = --network=none.
}

// DockerSandbox executes commands inside ephemeral Docker containers.
// The request's working directory is bind-mounted at /workspace so file
// effects stay inside the workspace.
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger
}

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultDockerMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	return &DockerSandbox{config: cfg, logger: logger}
}

// Execute runs a command inside an ephemeral Docker container.
func (s *DockerSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := "mcpkit-sbx-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	args := append(s.buildDockerArgs(name, req), req.Command...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	s.logger.Debug("docker sandbox executing",
		slog.String("container", name),
		slog.String("image", s.config.Image),
		slog.Any("command", req.Command),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// --rm does not fire when the client is killed mid-run.
	s.forceRemoveContainer(name)

	exitCode := 0
	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("docker sandbox timed out",
				slog.String("container", name),
				slog.Duration("timeout", timeout),
			)
			return nil, &toolerr.TimeoutError{Command: req.Command, Timeout: timeout}
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, &toolerr.ExecutionError{Command: req.Command, Cause: fmt.Errorf("docker: %w", runErr)}
		}
	}

	return &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Success:  exitCode == 0,
		Duration: duration,
	}, nil
}

// buildDockerArgs constructs the docker run argument list. The command itself
// is not included; the caller appends it.
func (s *DockerSandbox) buildDockerArgs(name string, req ExecutionRequest) []string {
	memoryFlag := strconv.Itoa(s.config.MemoryMB) + "m"

	args := []string{
		"run", "--rm",
		"--name", name,
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag,
		"--cpus=" + strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(s.config.PIDsLimit),
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
	}

	if s.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}

	if req.WorkingDir != "" {
		args = append(args, "--volume", req.WorkingDir+":"+containerWorkDir+":rw")
	}
	args = append(args, "--workdir", containerWorkDir)

	for k, v := range req.Env {
		args = append(args, "--env", k+"="+v)
	}

	return append(args, s.config.Image)
}

// forceRemoveContainer removes a container by name, best effort.
func (s *DockerSandbox) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		s.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
		)
	}
}
