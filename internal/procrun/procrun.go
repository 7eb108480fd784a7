// Package procrun wraps os/exec for the two shapes of child process Imploid
// runs: short-lived commands whose output is collected whole, and long-lived
// agent processes supervised through streaming readers.
package procrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// Options controls where and how a child process runs.
type Options struct {
	Dir   string
	Env   []string // appended to the parent environment
	Stdin io.Reader
}

// Result is the collected outcome of a short-lived command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// SpawnError reports that a child could not be started at all.
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %v: %v", e.Argv, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Run executes argv synchronously and captures both streams. A non-zero exit
// is not an error; it is reported through Result.ExitCode. Only a failure to
// start the process returns an error.
func Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("empty argv")}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdin = opts.Stdin
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Argv: argv, Err: err}
	}

	err := cmd.Wait()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("command %v: %w", argv, err)
	}
	return res, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Handle supervises a long-lived child started with Spawn.
type Handle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	done     chan struct{}
	exitCode int

	killOnce sync.Once
}

// Spawn starts argv with pipes on stdout and stderr. The caller must drain
// both readers concurrently; the runner buffers nothing itself. The pipes are
// plain os.Pipe pairs whose write ends are closed in the parent after start,
// so the readers see EOF when the child exits regardless of Wait ordering.
func Spawn(argv []string, opts Options) (*Handle, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{Argv: argv, Err: fmt.Errorf("empty argv")}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdin = opts.Stdin
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Argv: argv, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &SpawnError{Argv: argv, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, &SpawnError{Argv: argv, Err: err}
	}

	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	h := &Handle{
		cmd:    cmd,
		stdout: outR,
		stderr: errR,
		done:   make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			var exitErr *exec.ExitError
			if asExitError(err, &exitErr) {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.exitCode = -1
			}
		}
		close(h.done)
	}()

	return h, nil
}

// Stdout returns the child's stdout stream.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Stderr returns the child's stderr stream.
func (h *Handle) Stderr() io.Reader { return h.stderr }

// Done is closed when the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the child's exit code. Valid only after Done is closed.
func (h *Handle) ExitCode() int {
	return h.exitCode
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Kill sends SIGTERM to the child. Safe to call more than once; only the
// first call delivers the signal. It returns promptly without waiting for
// the child to exit.
func (h *Handle) Kill() {
	h.killOnce.Do(func() {
		if h.cmd.Process != nil {
			h.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
}
