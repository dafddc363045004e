// Package executor runs external commands synchronously and captures each
// invocation as an immutable Execution record. A non-zero exit is never an
// error here; callers decide per stage whether it is fatal.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/benchsweep/benchsweep/internal/models"
)

// stopGrace is how long Stop waits after an interrupt before killing.
const stopGrace = 10 * time.Second

// Runner executes commands. With Verbose set, output is echoed to the
// console while still being captured into the Execution.
type Runner struct {
	Verbose bool
}

// Run executes cmd to completion and returns the captured Execution. The
// returned record always carries the command descriptor and timestamps; the
// exit code is absent when the process could not be launched.
func (r *Runner) Run(ctx context.Context, cmd models.Command) models.Execution {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	setup(c, cmd)

	var stdout, stderr bytes.Buffer
	c.Stdout = r.writer(&stdout, os.Stdout)
	c.Stderr = r.writer(&stderr, os.Stderr)

	started := time.Now()
	err := c.Run()
	ended := time.Now()

	return build(cmd, started, ended, &stdout, &stderr, err)
}

// Handle is a started process, stoppable into an Execution.
type Handle struct {
	cmd     *exec.Cmd
	desc    models.Command
	started time.Time
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

// Start launches cmd without waiting for it. It is used for the benchmark
// server process, which is stopped after the load generators finish.
func (r *Runner) Start(ctx context.Context, cmd models.Command) (*Handle, error) {
	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...)
	setup(c, cmd)

	h := &Handle{cmd: c, desc: cmd}
	c.Stdout = r.writer(&h.stdout, os.Stdout)
	c.Stderr = r.writer(&h.stderr, os.Stderr)

	h.started = time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Program, err)
	}
	return h, nil
}

// Stop interrupts the process, waits up to a grace period, kills it if it
// does not exit, and returns the Execution covering its whole lifetime.
func (h *Handle) Stop() models.Execution {
	_ = h.cmd.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		_ = h.cmd.Process.Kill()
		err = <-done
	}

	return build(h.desc, h.started, time.Now(), &h.stdout, &h.stderr, err)
}

func setup(c *exec.Cmd, cmd models.Command) {
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range cmd.Env {
			c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
}

func (r *Runner) writer(buf *bytes.Buffer, console io.Writer) io.Writer {
	if r.Verbose {
		return io.MultiWriter(buf, console)
	}
	return buf
}

func build(cmd models.Command, started, ended time.Time, stdout, stderr *bytes.Buffer, err error) models.Execution {
	e := models.Execution{
		Command:   cmd,
		StartedAt: started,
		EndedAt:   ended,
	}

	out, errOut := stdout.String(), stderr.String()
	e.Stdout = &out
	e.Stderr = &errOut

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		e.ExitCode = &code
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		e.ExitCode = &code
	default:
		// Process never launched; exit code stays absent.
	}
	return e
}
