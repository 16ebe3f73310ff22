package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultPath      = "DiscordChatExporter.Cli"
	defaultWaitDelay = 5 * time.Second
)

// Config holds the export tool configuration.
type Config struct {
	Path      string
	ExtraArgs []string
	DryRun    bool
}

// Command runs DiscordChatExporter as a subprocess.
type Command struct {
	cfg       Config
	logger    *slog.Logger
	waitDelay time.Duration
}

// NewCommand creates a subprocess invoker.
func NewCommand(cfg Config, logger *slog.Logger) *Command {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{cfg: cfg, logger: logger, waitDelay: defaultWaitDelay}
}

// Check verifies the export tool can be found. Dry runs never need it.
func (c *Command) Check() error {
	if c.cfg.DryRun {
		return nil
	}
	if _, err := exec.LookPath(c.cfg.Path); err != nil {
		return fmt.Errorf("exporter not found: %w", err)
	}
	return nil
}

// Args builds the argument list for req. Values are passed as separate
// arguments and never through a shell.
func (c *Command) Args(req Request) []string {
	var args []string
	if req.Source.IsDirectMessages() {
		args = append(args, "exportdm")
	} else {
		args = append(args, "exportguild", "--guild", req.Source.ID, "--include-threads", "All")
	}

	args = append(args,
		"--format", "Json",
		"--media",
		"--reuse-media",
		"--markdown", "false",
		"--token", req.Source.Token,
		"--media-dir", withSlash(req.MediaDir),
		"--output", withSlash(req.OutputDir),
		"--after", req.Start.UTC().Format(time.RFC3339),
		"--before", req.End.UTC().Format(time.RFC3339),
	)
	return append(args, c.cfg.ExtraArgs...)
}

// A trailing separator tells the exporter the output is a directory.
func withSlash(dir string) string {
	if strings.HasSuffix(dir, string(os.PathSeparator)) {
		return dir
	}
	return dir + string(os.PathSeparator)
}

// Invoke runs the exporter for req and waits for it to exit.
func (c *Command) Invoke(ctx context.Context, req Request) (Result, error) {
	args := c.Args(req)
	log := c.logger.With("source", req.Source.Name, "month", req.Month.String())
	log.Info("running exporter", "command", c.cfg.Path+" "+strings.Join(Redact(args), " "))

	if c.cfg.DryRun {
		log.Warn("dry run, command not executed")
		return Result{Success: false, ExitCode: -1, Diagnostics: "dry run"}, nil
	}

	tail := newTail(diagnosticLines)
	stdout := newLineWriter(func(line string) {
		log.Debug("exporter stdout", "line", line)
	})
	stderr := newLineWriter(func(line string) {
		log.Warn("exporter stderr", "line", line)
		tail.add(line)
	})

	cmd := exec.CommandContext(ctx, c.cfg.Path, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children of the exporter can keep its output open after it exits or is
	// killed; stop waiting for them after waitDelay.
	cmd.WaitDelay = c.waitDelay

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start exporter: %w", err)
	}

	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	res := Result{ExitCode: cmd.ProcessState.ExitCode(), Diagnostics: tail.String()}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.Success = true
	case errors.As(waitErr, &exitErr):
		// Non-zero exit or killed by signal; reported through the result.
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// Exited cleanly but a leftover child held its output open.
		log.Warn("exporter output still open after exit, stopped reading", "wait_delay", c.waitDelay)
		res.Success = true
	default:
		return res, fmt.Errorf("wait exporter: %w", waitErr)
	}

	log.Info("exporter exited", "exit_code", res.ExitCode)
	return res, nil
}
