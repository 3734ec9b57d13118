package coding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// cpuSeconds caps the sandboxed process's CPU time.
	cpuSeconds = 3

	// memoryKB caps the sandboxed process's virtual memory (256 MB).
	memoryKB = 256 * 1024
)

// Sandbox executes submissions through the host interpreters with resource
// limits applied by the shell and a scrubbed environment. There is no
// network namespace isolation here; deployments that need it run the whole
// service inside a no-network container.
type Sandbox struct {
	// Dir is where per-run workspaces are created. Empty means the system
	// temp dir.
	Dir string
}

var _ Executor = (*Sandbox)(nil)

// sourceFile returns the filename the interpreter expects.
func sourceFile(lang Language) (string, error) {
	switch lang {
	case LangPython:
		return "main.py", nil
	case LangJavaScript:
		return "main.js", nil
	case LangJava:
		return "Main.java", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
}

// command returns the interpreter invocation for the written source file.
func command(lang Language, file string) string {
	switch lang {
	case LangPython:
		return "python3 " + file
	case LangJavaScript:
		return "node " + file
	default:
		// Single-file source launch; no separate compile step.
		return "java " + file
	}
}

// Execute writes the source into a scratch dir and runs it against stdin
// under the CPU and memory limits. A deadline slightly above the CPU cap
// backstops interpreters that sleep instead of compute.
func (s *Sandbox) Execute(ctx context.Context, lang Language, source, stdin string) (ExecOutcome, error) {
	file, err := sourceFile(lang)
	if err != nil {
		return ExecOutcome{}, err
	}

	dir, err := os.MkdirTemp(s.Dir, "coding-run-")
	if err != nil {
		return ExecOutcome{}, fmt.Errorf("coding: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, file), []byte(source), 0o644); err != nil {
		return ExecOutcome{}, fmt.Errorf("coding: write source: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, (cpuSeconds+2)*time.Second)
	defer cancel()

	script := fmt.Sprintf("ulimit -t %d -v %d; exec %s", cpuSeconds, memoryKB, command(lang, file))
	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", script)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	// Scrubbed environment: interpreter path only, no credentials, no
	// proxy variables.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	outcome := ExecOutcome{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Runtime: elapsed,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			return outcome, nil
		}
		if runCtx.Err() != nil {
			outcome.ExitCode = -1
			outcome.Stderr = "time limit exceeded"
			return outcome, nil
		}
		return ExecOutcome{}, fmt.Errorf("coding: run submission: %w", err)
	}
	return outcome, nil
}
