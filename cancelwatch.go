//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop
//

package ipkchat

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/safeconn"
)

// NewCancelWatchFunc returns a new [*CancelWatchFunc].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewCancelWatchFunc(cfg *Config, logger SLogger) *CancelWatchFunc {
	return &CancelWatchFunc{Logger: logger, TimeNow: cfg.TimeNow}
}

// CancelWatchFunc ties the lifetime of a chat connection to a context.
//
// When the context is done the connection is closed, so the background
// reader of a [*StreamSocket] observes an error and the next receive fails.
// A CLI passes the context returned by [signal.NotifyContext].
//
// Closing the returned connection unregisters the watcher.
type CancelWatchFunc struct {
	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewCancelWatchFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewCancelWatchFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, net.Conn] = &CancelWatchFunc{}

// Call registers the watcher using [context.AfterFunc].
func (op *CancelWatchFunc) Call(ctx context.Context, conn net.Conn) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		op.Logger.Info(
			"cancelWatchFired",
			slog.Any("err", context.Cause(ctx)),
			slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
			slog.Time("t", op.TimeNow()),
		)
		conn.Close()
	})
	return &cancelWatchedConn{Conn: conn, stop: stop}, nil
}

// cancelWatchedConn wraps a [net.Conn] with a context cancellation watcher.
type cancelWatchedConn struct {
	net.Conn
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying connection.
func (c *cancelWatchedConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
