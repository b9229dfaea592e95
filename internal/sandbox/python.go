package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// pythonPrelude is prepended to every submission before it reaches the
// interpreter. It caps CPU, heap, and file size, deny-lists dangerous
// imports (and their dotted descendants), disarms the os-level process
// entry points, and restricts open() to read modes.
const pythonPrelude = `import builtins as _b
import os as _os
import resource as _resource

_resource.setrlimit(_resource.RLIMIT_CPU, (2, 2))
_resource.setrlimit(_resource.RLIMIT_DATA, (50 * 1024 * 1024, 50 * 1024 * 1024))
_resource.setrlimit(_resource.RLIMIT_FSIZE, (1024 * 1024, 1024 * 1024))

_denied = {
    "subprocess", "socket", "requests", "http", "urllib",
    "ftplib", "telnetlib", "smtplib", "_pickle", "pickle",
}

_real_import = _b.__import__

def _guarded_import(name, *args, **kwargs):
    if name.split(".")[0] in _denied:
        raise ImportError("import of %r is not allowed" % name)
    return _real_import(name, *args, **kwargs)

_b.__import__ = _guarded_import

def _blocked(*args, **kwargs):
    raise PermissionError("operation not allowed")

for _attr in dir(_os):
    if _attr in ("system", "popen", "fork", "unlink") or \
       _attr.startswith("spawn") or _attr.startswith("exec"):
        try:
            setattr(_os, _attr, _blocked)
        except (AttributeError, TypeError):
            pass

_real_open = _b.open

def _readonly_open(file, mode="r", *args, **kwargs):
    if any(c in mode for c in "wax+"):
        raise PermissionError("write access is not allowed")
    return _real_open(file, mode, *args, **kwargs)

_b.open = _readonly_open

del _b, _os, _resource, _attr
`

// runPython materializes the guarded source to a temp file and invokes
// the interpreter with the outer wall-clock cap.
func (e *Executor) runPython(ctx context.Context, source string) (types.Execution, error) {
	guarded := pythonPrelude + "\n" + source

	path, err := e.writeSource(guarded, ".py", pythonFileRegex)
	if err != nil {
		return types.Execution{}, err
	}
	defer e.removeSource(path)

	// The interpreter sees only the bare filename; runLimited sets the
	// working directory to the scratch dir, so tracebacks never carry
	// the host path.
	args := []string{filepath.Base(path)}
	if err := validateCommand(e.pythonBin, args, pythonCmdRegex); err != nil {
		return types.Execution{}, err
	}

	stdout, stderr, runErr := e.runLimited(ctx, e.pythonBin, args, outerTimeout)
	switch {
	case errors.Is(runErr, ErrTimeout):
		return executionAt(stdout, "execution timed out after 5s"), nil
	case runErr != nil && stderr != "":
		msg := strings.TrimSpace(stderr)
		return executionAt(failureResult(stdout, msg), msg), nil
	case runErr != nil:
		return executionAt(failureResult(stdout, runErr.Error()), runErr.Error()), nil
	default:
		return executionAt(stdout, strings.TrimSpace(stderr)), nil
	}
}
