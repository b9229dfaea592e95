package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// JavaScript runs under the same subprocess discipline as Python: the
// submission is embedded as a string literal in a harness that evaluates
// it inside an empty vm context. Nothing from the host — process,
// require, module, Buffer, timers, fetch — is reachable from the
// student's code; only a capturing console is provided. The vm enforces
// the 2 s interpreter cap and the harness process gets the same outer
// wall-clock treatment as the Python path.
const jsHarness = `'use strict';
const vm = require('vm');
const src = %s;
const lines = [];
const fmt = (v) => {
  if (typeof v === 'string') return v;
  try {
    const s = JSON.stringify(v);
    return s === undefined ? String(v) : s;
  } catch (e) {
    return String(v);
  }
};
const capture = (...args) => { lines.push(args.map(fmt).join(' ')); };
const sandbox = {
  console: { log: capture, error: capture, warn: capture, info: capture },
};
let result;
try {
  result = vm.runInNewContext(src, vm.createContext(sandbox), { timeout: %d });
} catch (err) {
  if (lines.length > 0) process.stdout.write(lines.join('\n'));
  process.stderr.write(err instanceof Error ? err.message : String(err));
  process.exit(1);
}
if (result !== undefined) lines.push('=> ' + fmt(result));
process.stdout.write(lines.join('\n'));
`

const jsInterpreterTimeoutMS = 2000

// runJavaScript wraps the submission in the vm harness and runs it
// through node. The harness is trusted code; the submission only ever
// executes inside the empty vm context.
func (e *Executor) runJavaScript(ctx context.Context, source string) (types.Execution, error) {
	literal, err := json.Marshal(source)
	if err != nil {
		return types.Execution{}, fmt.Errorf("encode source literal: %w", err)
	}
	wrapped := fmt.Sprintf(jsHarness, literal, jsInterpreterTimeoutMS)

	path, err := e.writeSource(wrapped, ".js", jsFileRegex)
	if err != nil {
		return types.Execution{}, err
	}
	defer e.removeSource(path)

	args := []string{filepath.Base(path)}
	if err := validateCommand(e.nodeBin, args, nodeCmdRegex); err != nil {
		return types.Execution{}, err
	}

	// Outer cap slightly above the vm timeout so the in-interpreter
	// error message wins when the script merely loops.
	outer := time.Duration(jsInterpreterTimeoutMS)*time.Millisecond + time.Second

	stdout, stderr, runErr := e.runLimited(ctx, e.nodeBin, args, outer)
	switch {
	case errors.Is(runErr, ErrTimeout):
		return executionAt(stdout, "execution timed out after 2s"), nil
	case runErr != nil && stderr != "":
		msg := strings.TrimSpace(stderr)
		return executionAt(failureResult(stdout, msg), msg), nil
	case runErr != nil:
		return executionAt(failureResult(stdout, runErr.Error()), runErr.Error()), nil
	default:
		return executionAt(stdout, strings.TrimSpace(stderr)), nil
	}
}
