package routing

import "errors"

// ErrInterfaceNotFound is returned from Up when the configured tunnel
// interface does not exist.
var ErrInterfaceNotFound = errors.New("routing: tunnel interface not found")
