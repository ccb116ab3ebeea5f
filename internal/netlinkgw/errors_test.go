package netlinkgw

import (
	"errors"
	"testing"
)

func TestErrorMessageWithArg(t *testing.T) {
	inner := errors.New("no such device")
	err := &Error{Op: "link_lookup", Arg: "wg0", Err: inner}
	want := `netlinkgw: link_lookup(wg0): no such device`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorMessageWithoutArg(t *testing.T) {
	inner := errors.New("permission denied")
	err := &Error{Op: "rule_add", Err: inner}
	want := `netlinkgw: rule_add: permission denied`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Op: "route_add", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is did not find the wrapped error")
	}
}

func TestWrapErrReturnsNilForNil(t *testing.T) {
	if wrapErr("link_add_veth", "wg0", nil) != nil {
		t.Error("wrapErr(op, arg, nil) should return nil")
	}
}

func TestWrapErrPreservesOpAndArg(t *testing.T) {
	inner := errors.New("boom")
	err := wrapErr("link_add_veth", "wg0", inner)
	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("got %T, want *Error", err)
	}
	if nerr.Op != "link_add_veth" || nerr.Arg != "wg0" || nerr.Err != inner {
		t.Errorf("wrapErr = %+v, want Op=link_add_veth Arg=wg0 Err=%v", nerr, inner)
	}
}
