package policy

import (
	"context"
	"os"
	"os/exec"
)

// ProcessPolicy is a NamespacePolicy with a command to run inside it.
// It is composed, not subclassed: NamespacePolicy owns the namespace
// lifecycle, ProcessPolicy only adds Action.
type ProcessPolicy struct {
	*NamespacePolicy
	Cmd []string

	// newCmd builds the command Action runs. Overridable in tests so
	// Action can be exercised without a real namespace or CAP_SYS_ADMIN;
	// nil means the real "ip netns exec" invocation.
	newCmd func(ctx context.Context, nsName string, cmd []string) *exec.Cmd
}

var _ ActionPolicy = (*ProcessPolicy)(nil)

func ipNetnsExecCmd(ctx context.Context, nsName string, cmd []string) *exec.Cmd {
	args := append([]string{"netns", "exec", nsName}, cmd...)
	return exec.CommandContext(ctx, "ip", args...)
}

// Action runs Cmd inside the namespace via "ip netns exec" (the same
// mechanism iproute2 itself uses: enter the namespace, then exec), and
// blocks until it exits. This is the suspension point called out in
// spec.md §5 — it can block for the child's entire lifetime.
//
// Per spec.md §9's resolved open question, the child's exit status is
// propagated to the caller as a *ChildExitError rather than discarded.
func (p *ProcessPolicy) Action(ctx context.Context) error {
	newCmd := p.newCmd
	if newCmd == nil {
		newCmd = ipNetnsExecCmd
	}
	cmd := newCmd(ctx, p.NSName, p.Cmd)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return &ChildSpawnError{Cmd: p.Cmd, Err: err}
	}

	p.Logger.Debug("process policy action started",
		"component", "policy",
		"namespace", p.NSName,
		"cmd", p.Cmd,
	)

	err := cmd.Wait()
	state := cmd.ProcessState
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return &ChildSpawnError{Cmd: p.Cmd, Err: err}
		}
	}
	if state != nil && !state.Success() {
		return &ChildExitError{State: state}
	}
	return nil
}
