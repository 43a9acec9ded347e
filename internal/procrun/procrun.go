// Package procrun provides the persistent-pipe subprocess helper used by
// both the rule compiler (piping a restore script into iptables-restore /
// ip6tables-restore) and the ipset manager (one long-lived pipe per
// (set, family) pair, per the "subprocess fan-out for ipset" design note
// in spec.md §9 — never one process per member).
package procrun

import (
	"bytes"
	"context"
	"io"
	"os/exec"

	"github.com/m2osw/ipload/internal/apperr"
)

// Pipe is a started subprocess with its stdin open for writing. Callers
// write lines to it and call Close to flush stdin and collect the exit
// status.
type Pipe struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

// Start launches name with args, connecting a pipe to its stdin and
// capturing stderr for the error message on a nonzero exit. The
// subprocess runs in its own process group so that ctx cancellation (the
// daemon shutting down mid-restore) terminates any children it spawned
// too, not just the immediate process.
func Start(ctx context.Context, name string, args ...string) (*Pipe, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	setpgid(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeSubprocess, name, "failed to open stdin pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.CodeSubprocess, name, "failed to start subprocess", err)
	}
	return &Pipe{cmd: cmd, stdin: stdin, stderr: &stderr}, nil
}

// WriteLine writes one line (with a trailing newline) to the subprocess's
// stdin.
func (p *Pipe) WriteLine(line string) error {
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return apperr.Wrap(apperr.CodeSubprocess, p.cmd.Path, "failed writing to subprocess", err)
	}
	return nil
}

// Close closes stdin, waits for the subprocess to exit, and returns an
// error carrying the captured stderr if the exit status was nonzero.
func (p *Pipe) Close() error {
	if err := p.stdin.Close(); err != nil {
		return apperr.Wrap(apperr.CodeSubprocess, p.cmd.Path, "failed closing subprocess stdin", err)
	}
	if err := p.cmd.Wait(); err != nil {
		return apperr.Wrap(apperr.CodeSubprocess, p.cmd.Path, "subprocess exited nonzero: "+p.stderr.String(), err)
	}
	return nil
}

// Run is a convenience wrapper for one-shot commands that don't need a
// long-lived stdin pipe (e.g. `ipset create`).
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setpgid(cmd)
	cmd.Cancel = func() error { return killGroup(cmd) }
	if err := cmd.Run(); err != nil {
		return nil, apperr.Wrap(apperr.CodeSubprocess, name, "subprocess exited nonzero: "+stderr.String(), err)
	}
	return stdout.Bytes(), nil
}
