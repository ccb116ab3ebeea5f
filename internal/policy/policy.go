// Package policy implements the selector+action contract that the
// routing engine orchestrates: a uid range, or a freshly created
// network namespace (optionally wrapping a single command to run
// inside it). All three variants share the same Up/Down lifecycle;
// ProcessPolicy adds Action by composing a NamespacePolicy rather than
// subclassing it.
package policy

import "context"

// Policy is the contract every selector+action variant implements.
// Up must be idempotent with respect to observable kernel state if
// called again after a previous Up returned an error partway through —
// in practice this module achieves that by never retrying a failed Up;
// the caller is expected to call Down and discard the Policy.
// Down must tolerate objects that were never created (a partial Up) or
// that are already gone (a previous Down already ran).
type Policy interface {
	Up(ctx context.Context) error
	Down() error
}

// ActionPolicy is implemented by policies that also have a blocking
// action to run once Up has completed — today, only ProcessPolicy.
type ActionPolicy interface {
	Policy
	Action(ctx context.Context) error
}
