package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// ErrToolNotFound is returned when the probe executable is not installed
var ErrToolNotFound = errors.New("probe tool not found")

// Runner executes one command and returns its standard output.
// A command that starts and exits, with any status, is not an error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the local host
type ExecRunner struct{}

// Run executes name with args and returns trimmed stdout
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s: %w", name, ctxErr)
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitOutput(name, out, stderr.String())
		}
		return "", fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// exitOutput handles a command that ran and exited non-zero. Exit status is
// not a reachability signal and the output is returned as is, except that an
// interpreter reporting the tool's module as missing means the tool is absent.
func exitOutput(name, stdout, stderr string) (string, error) {
	if stdout == "" && missingModule(stderr) {
		return "", fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	return stdout, nil
}

// missingModule reports whether stderr carries a python import failure
func missingModule(stderr string) bool {
	return strings.Contains(stderr, "No module named") ||
		strings.Contains(stderr, "ModuleNotFoundError")
}
