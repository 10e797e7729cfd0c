package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// CommandExecutor defines an interface for running external commands.
// This abstraction is crucial for enabling unit tests to mock command execution.
type CommandExecutor interface {
	// Run executes a command and returns its standard output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// RunCombined executes a command and returns its combined standard output and
	// standard error.
	RunCombined(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewCommandExecutor returns the os/exec backed executor used in production.
func NewCommandExecutor() CommandExecutor {
	return &defaultExecutor{}
}

// defaultExecutor implements the CommandExecutor interface using the standard os/exec
// package.
type defaultExecutor struct{}

// Run is the production implementation for executing a command.
func (executor *defaultExecutor) Run(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// RunCombined is the production implementation for executing a command and capturing all
// output.
func (executor *defaultExecutor) RunCombined(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// OpenOutputDirectory opens dir in the platform file browser. It is never called by
// the conversion itself; callers invoke it once a run has finished.
func OpenOutputDirectory(ctx context.Context, executor CommandExecutor, dir string) error {
	if dir == "" {
		return ErrOutputPathRequired
	}

	name, args := revealCommand(runtime.GOOS, dir)

	output, execErr := executor.RunCombined(ctx, name, args...)
	if execErr != nil {
		// explorer.exe exits with 1 even when it opened the window.
		var exitErr *exec.ExitError
		if runtime.GOOS == "windows" && errors.As(execErr, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}

		return fmt.Errorf(
			"failed to open %s with %s: %w. Output: %s",
			dir,
			name,
			execErr,
			string(output),
		)
	}

	return nil
}

// revealCommand returns the command that opens dir in the file browser of goos.
func revealCommand(goos, dir string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{dir}
	case "windows":
		return "explorer", []string{dir}
	default:
		return "xdg-open", []string{dir}
	}
}
