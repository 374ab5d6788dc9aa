// Package transport holds the pieces shared by the TCP and WebSocket
// adapters.
package transport

import (
	"context"
	"errors"
	"os"
	"time"
)

// BindDeadline maps ctx onto a socket deadline set through set, such as
// net.Conn.SetReadDeadline. The deadline follows ctx's deadline, and
// cancelling ctx expires it immediately so a blocked call returns. The
// returned stop function must be called once the I/O call is done.
func BindDeadline(ctx context.Context, set func(time.Time) error) (stop func() bool) {
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
	return context.AfterFunc(ctx, func() {
		_ = set(time.Now())
	})
}

// ContextError prefers ctx's error over err once ctx is done, so callers
// see context.Canceled or context.DeadlineExceeded instead of a socket
// timeout.
func ContextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// The socket deadline may fire just before ctx's own timer.
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}
