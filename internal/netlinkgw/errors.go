package netlinkgw

import "fmt"

// Error wraps a failed rtnetlink operation with the primitive and
// argument that failed, so callers can log or match on it without
// parsing error strings.
type Error struct {
	Op  string // e.g. "route_add", "rule_add", "link_add_veth"
	Arg string // human-readable description of the argument that failed
	Err error
}

func (e *Error) Error() string {
	if e.Arg != "" {
		return fmt.Sprintf("netlinkgw: %s(%s): %v", e.Op, e.Arg, e.Err)
	}
	return fmt.Sprintf("netlinkgw: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, arg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Arg: arg, Err: err}
}
