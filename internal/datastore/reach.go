package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	apperrors "github.com/harunnryd/testbed/internal/errors"
)

// WaitReachable dials the datastore every retry interval until it accepts a
// connection or timeout elapses. A zero timeout waits until ctx is done.
func WaitReachable(ctx context.Context, handle *Handle, retry, timeout time.Duration) error {
	if !handle.Known() {
		return apperrors.ErrDatastoreUnknown
	}
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var dialer net.Dialer
	attempts := 0
	for {
		attempts++
		conn, err := dialer.DialContext(ctx, "tcp", handle.Address())
		if err == nil {
			_ = conn.Close()
			slog.Debug("Datastore reachable", "address", handle.Address(), "attempts", attempts)
			return nil
		}
		slog.Debug("Datastore not reachable yet, will retry", "address", handle.Address(), "error", err)

		select {
		case <-ctx.Done():
			return apperrors.WithCategory(ctx.Err(), fmt.Sprintf("datastore %s unreachable after %d attempts", handle.Address(), attempts), apperrors.ErrProvision)
		case <-time.After(retry):
		}
	}
}
