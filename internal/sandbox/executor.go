package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

const (
	outputLimit   = 1 << 20 // 1 MB combined stdout cap
	outerTimeout  = 5 * time.Second
	killDelay     = 500 * time.Millisecond
	cleanupRetry  = 5 * time.Second
	tempDirMode   = 0o700
	sourceMode    = 0o600
)

var (
	pythonFileRegex = regexp.MustCompile(`^[a-f0-9-]+\.py$`)
	jsFileRegex     = regexp.MustCompile(`^[a-f0-9-]+\.js$`)

	// Only a bare interpreter invocation on a single script file is ever
	// allowed to reach exec.
	pythonCmdRegex = regexp.MustCompile(`^python3? (?:"[^"]*\.py"|'[^']*\.py'|[^\s'"]+\.py)$`)
	nodeCmdRegex   = regexp.MustCompile(`^node (?:"[^"]*\.js"|'[^']*\.js'|[^\s'"]+\.js)$`)
)

// Executor runs student submissions in interpreter subprocesses with
// OS-level resource limits. One shared scratch directory; uniqueness is
// per file.
type Executor struct {
	tempDir   string
	pythonBin string
	nodeBin   string
	logger    *zap.Logger
}

// New creates the executor and its scratch directory (mode 0700).
func New(tempDir string, logger *zap.Logger) (*Executor, error) {
	if err := os.MkdirAll(tempDir, tempDirMode); err != nil {
		return nil, fmt.Errorf("create sandbox temp dir: %w", err)
	}
	if err := os.Chmod(tempDir, tempDirMode); err != nil {
		return nil, fmt.Errorf("restrict sandbox temp dir: %w", err)
	}
	return &Executor{
		tempDir:   tempDir,
		pythonBin: "python3",
		nodeBin:   "node",
		logger:    logger,
	}, nil
}

// Execute runs source under the named language sandbox and returns the
// captured output. Limit trips and sandbox refusals come back inside the
// Execution, not as an error; only unsupported languages and internal
// failures error out.
func (e *Executor) Execute(ctx context.Context, language, source string) (types.Execution, error) {
	switch language {
	case types.LanguagePython:
		return e.runPython(ctx, source)
	case types.LanguageJavaScript:
		return e.runJavaScript(ctx, source)
	default:
		return types.Execution{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
}

// Cleanup removes every leftover source file from the scratch directory.
// Called on graceful shutdown.
func (e *Executor) Cleanup() {
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if pythonFileRegex.MatchString(name) || jsFileRegex.MatchString(name) {
			_ = os.Remove(filepath.Join(e.tempDir, name))
		}
	}
}

// writeSource materializes source into the scratch directory under a
// fresh UUID name and verifies the result against the filename whitelist
// and the directory boundary.
func (e *Executor) writeSource(source, ext string, nameRegex *regexp.Regexp) (string, error) {
	name := uuid.New().String() + ext
	if !nameRegex.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrBadSourcePath, name)
	}
	path := filepath.Join(e.tempDir, name)
	if filepath.Dir(filepath.Clean(path)) != filepath.Clean(e.tempDir) {
		return "", fmt.Errorf("%w: %q escapes sandbox dir", ErrBadSourcePath, path)
	}
	if err := os.WriteFile(path, []byte(source), sourceMode); err != nil {
		return "", fmt.Errorf("write source file: %w", err)
	}
	return path, nil
}

// removeSource deletes the file on all exit paths; a failed removal is
// retried once after a delay in case the interpreter still held it.
func (e *Executor) removeSource(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("sandbox file removal failed, retrying",
			zap.String("path", path), zap.Error(err))
		time.AfterFunc(cleanupRetry, func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				e.logger.Error("sandbox file removal failed permanently",
					zap.String("path", path), zap.Error(err))
			}
		})
	}
}

// validateCommand re-renders the command line and refuses anything that
// is not exactly an interpreter plus one script path.
func validateCommand(bin string, args []string, whitelist *regexp.Regexp) error {
	rendered := bin + " " + strings.Join(args, " ")
	if !whitelist.MatchString(rendered) {
		return fmt.Errorf("%w: %q", ErrCommandRejected, rendered)
	}
	return nil
}

// cappedBuffer collects process output up to a byte limit and drops the
// rest, recording that truncation happened.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if b.truncated {
		s += "\n[output truncated]"
	}
	return s
}

// runLimited starts the interpreter and enforces the wall-clock cap:
// SIGTERM at the deadline, SIGKILL 500 ms later if it lingers.
func (e *Executor) runLimited(ctx context.Context, bin string, args []string, timeout time.Duration) (stdout, stderr string, runErr error) {
	out := &cappedBuffer{limit: outputLimit}
	errOut := &cappedBuffer{limit: outputLimit}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = out
	cmd.Stderr = errOut
	cmd.Dir = e.tempDir

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start interpreter: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return out.String(), errOut.String(), err
	case <-timer.C:
	case <-ctx.Done():
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killDelay):
		_ = cmd.Process.Kill()
		<-done
	}
	if ctx.Err() != nil {
		return out.String(), errOut.String(), ctx.Err()
	}
	return out.String(), errOut.String(), ErrTimeout
}

// failureResult surfaces a failed run inside the caller-visible result,
// keeping any partial stdout ahead of the error text.
func failureResult(stdout, errText string) string {
	if stdout == "" {
		return "Error: " + errText
	}
	return stdout + "\nError: " + errText
}

func executionAt(result, errText string) types.Execution {
	return types.Execution{
		Result:    result,
		Error:     errText,
		Timestamp: time.Now(),
	}
}
