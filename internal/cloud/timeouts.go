// Package cloud abstracts the cloud-provider control-plane calls the
// Fuse and HBee roles make: function invocation, container
// provisioning, and object-store ranged reads. Calls wrapped in
// WithTimeout carry an explicit timeout rather than relying on a
// client default; downloads, listings and describe-tasks polling are
// bounded only by the caller's context.
package cloud

import (
	"context"
	"fmt"
	"time"
)

// Timeouts for the cloud control-plane calls named in the spec:
// invoke/run-task get a short budget, list-tasks a shorter one,
// describe-tasks polling is unbounded (governed by the caller's own
// context instead).
const (
	InvokeTimeout    = 5 * time.Second
	RunTaskTimeout   = 5 * time.Second
	ListTasksTimeout = 2 * time.Second
)

// WithTimeout runs fn under a context bounded by d. When that deadline
// ended the call, fn's error is returned wrapped with an
// "op: timed out after d" message; other errors pass through as is.
func WithTimeout(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(cctx)
	if err != nil && cctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: timed out after %s: %w", op, d, err)
	}
	return err
}
