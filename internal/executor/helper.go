package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/lingosub/pkg/logger"
)

const (
	dimStart = "\033[2m"
	dimEnd   = "\033[0m"
)

// ErrNotConfigured is returned when an adapter lacks a credential or endpoint.
var ErrNotConfigured = errors.New("adapter is not configured")

// StreamDimmed reads from r, writes to buf for capture, and prints dimmed to stderr.
// This creates a Docker-build-like experience where tool output is visible but greyed out.
func StreamDimmed(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	// Increase buffer for potentially long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		fmt.Fprintf(os.Stderr, "%s  │ %s%s\n", dimStart, line, dimEnd)
	}

	if err := scanner.Err(); err != nil {
		logger.Debugf("Scanner error (may be normal): %v", err)
	}
}

// runStreamed runs an external tool, echoing its output dimmed, and returns
// captured stdout. quiet suppresses the echo for machine-readable output.
func runStreamed(ctx context.Context, quiet bool, name string, args ...string) (string, error) {
	logger.Debugf("  Command: %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)

	if quiet {
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return "", commandError(name, err, stderr.String())
		}
		return stdout.String(), nil
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", name, err)
	}

	wg.Add(2)
	go StreamDimmed(&wg, stdoutPipe, &stdoutBuf)
	go StreamDimmed(&wg, stderrPipe, &stderrBuf)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return "", commandError(name, err, stderrBuf.String())
	}
	return stdoutBuf.String(), nil
}

func commandError(name string, err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w", name, err)
	}
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > 500 {
		stderr = "..." + stderr[len(stderr)-500:]
	}
	return fmt.Errorf("%s failed: %w\nStderr: %s", name, err, stderr)
}
