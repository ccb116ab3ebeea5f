package policy

import (
	"context"
	"os/exec"
	"testing"

	"github.com/wepwawet/wepwawet/internal/netlinkgw/netlinkgwfake"
)

func TestProcessPolicyActionPropagatesExitCode(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	p := &ProcessPolicy{
		NamespacePolicy: newTestNamespacePolicy(t, gw),
		Cmd:             []string{"ignored"},
		newCmd: func(ctx context.Context, nsName string, cmd []string) *exec.Cmd {
			return exec.CommandContext(ctx, "sh", "-c", "exit 7")
		},
	}

	err := p.Action(context.Background())
	if err == nil {
		t.Fatal("expected a *ChildExitError for a nonzero exit")
	}
	exitErr, ok := err.(*ChildExitError)
	if !ok {
		t.Fatalf("got %T, want *ChildExitError", err)
	}
	if exitErr.ExitCode() != 7 {
		t.Errorf("ExitCode() = %d, want 7", exitErr.ExitCode())
	}
}

func TestProcessPolicyActionSucceeds(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	p := &ProcessPolicy{
		NamespacePolicy: newTestNamespacePolicy(t, gw),
		Cmd:             []string{"ignored"},
		newCmd: func(ctx context.Context, nsName string, cmd []string) *exec.Cmd {
			return exec.CommandContext(ctx, "true")
		},
	}

	if err := p.Action(context.Background()); err != nil {
		t.Fatalf("Action: %v", err)
	}
}

func TestProcessPolicyActionSpawnFailure(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	p := &ProcessPolicy{
		NamespacePolicy: newTestNamespacePolicy(t, gw),
		Cmd:             []string{"ignored"},
		newCmd: func(ctx context.Context, nsName string, cmd []string) *exec.Cmd {
			return exec.CommandContext(ctx, "/no/such/binary-wepwawet-test")
		},
	}

	err := p.Action(context.Background())
	if _, ok := err.(*ChildSpawnError); !ok {
		t.Fatalf("got %T (%v), want *ChildSpawnError", err, err)
	}
}

func TestProcessPolicyDefaultsToIPNetnsExec(t *testing.T) {
	gw := netlinkgwfake.New("wg0")
	p := &ProcessPolicy{
		NamespacePolicy: newTestNamespacePolicy(t, gw),
		Cmd:             []string{"true"},
	}
	if p.newCmd != nil {
		t.Fatal("newCmd should be nil until Action supplies the default")
	}
	cmd := ipNetnsExecCmd(context.Background(), p.NSName, p.Cmd)
	wantArgs := []string{"ip", "netns", "exec", p.NSName, "true"}
	if len(cmd.Args) != len(wantArgs) {
		t.Fatalf("args = %v, want %v", cmd.Args, wantArgs)
	}
	for i, a := range wantArgs {
		if cmd.Args[i] != a {
			t.Errorf("args[%d] = %q, want %q", i, cmd.Args[i], a)
		}
	}
}

func TestChildSpawnErrorUnwraps(t *testing.T) {
	inner := context.DeadlineExceeded
	err := &ChildSpawnError{Cmd: []string{"true"}, Err: inner}
	if err.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped error")
	}
}
