package policy

import (
	"fmt"
	"os"
)

// ChildSpawnError means ProcessPolicy's child could not be spawned at
// all (e.g. the binary was not found).
type ChildSpawnError struct {
	Cmd []string
	Err error
}

func (e *ChildSpawnError) Error() string {
	return fmt.Sprintf("policy: spawn %v: %v", e.Cmd, e.Err)
}

func (e *ChildSpawnError) Unwrap() error { return e.Err }

// ChildExitError carries the exit status of a ProcessPolicy's child
// process. This is the resolution of spec.md §9's open question:
// Action propagates the child's exit status rather than discarding it.
type ChildExitError struct {
	State *os.ProcessState
}

func (e *ChildExitError) Error() string {
	return fmt.Sprintf("policy: child exited: %v", e.State)
}

// ExitCode returns the child's exit code, or -1 if it was terminated by
// a signal rather than exiting normally.
func (e *ChildExitError) ExitCode() int {
	return e.State.ExitCode()
}
