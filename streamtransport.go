// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// NewStreamTransport returns a new [*StreamTransport] running on conn.
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewStreamTransport(cfg *Config, conn StreamConn, logger SLogger) *StreamTransport {
	return &StreamTransport{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		conn:          conn,
		rbuf:          make([]byte, streamChunkSize),
	}
}

// StreamTransport is the [Transport] speaking the text encoding over a [StreamConn].
type StreamTransport struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewStreamTransport] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewStreamTransport] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewStreamTransport] from [Config.TimeNow].
	TimeNow func() time.Time

	conn   StreamConn
	framer lineFramer
	rbuf   []byte
}

var _ Transport = &StreamTransport{}

// Send implements [Transport].
//
// The encoded line is buffered until Flush.
func (t *StreamTransport) Send(m Message) error {
	frame, err := AppendText(nil, m)
	if err != nil {
		return err
	}
	count, err := t.conn.Write(frame)
	t.Logger.Debug(
		"frameSent",
		slog.Any("err", err),
		slog.String("errClass", t.ErrClassifier.Classify(err)),
		slog.Int("ioBytesCount", count),
		slog.String("protocol", "tcp"),
		slog.Time("t", t.TimeNow()),
		slog.String("type", m.Type().String()),
	)
	return err
}

// Flush implements [Transport].
func (t *StreamTransport) Flush() error {
	return t.conn.Flush()
}

// TryReceive implements [Transport].
//
// AUTH and JOIN from the server wrap [ErrUnexpectedMessage].
func (t *StreamTransport) TryReceive() (Message, error) {
	for {
		line, ok, err := t.framer.next()
		if err != nil {
			return nil, err
		}
		if ok {
			return t.decode(line)
		}
		count, err := t.conn.TryRead(t.rbuf)
		t.framer.feed(t.rbuf[:count])
		if err != nil {
			return nil, err
		}
		if count <= 0 {
			return nil, nil
		}
	}
}

func (t *StreamTransport) decode(line []byte) (Message, error) {
	m, err := ParseText(line)
	if err != nil {
		return nil, err
	}
	t.Logger.Debug(
		"frameReceived",
		slog.Int("ioBytesCount", len(line)),
		slog.String("protocol", "tcp"),
		slog.Time("t", t.TimeNow()),
		slog.String("type", m.Type().String()),
	)
	if isClientOnly(m) {
		return nil, fmt.Errorf("%w: %s from server", ErrUnexpectedMessage, m.Type())
	}
	return m, nil
}

// Close implements [Transport].
func (t *StreamTransport) Close() error {
	return t.conn.Close()
}

// NewStreamTransportFunc returns a new [*StreamTransportFunc].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewStreamTransportFunc(cfg *Config, logger SLogger) *StreamTransportFunc {
	return &StreamTransportFunc{Config: cfg, Logger: logger}
}

// StreamTransportFunc wraps a connected [net.Conn] into a [*StreamTransport].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type StreamTransportFunc struct {
	// Config is passed to [NewStreamTransport].
	//
	// Set by [NewStreamTransportFunc] to the user-provided config.
	Config *Config

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewStreamTransportFunc] to the user-provided logger.
	Logger SLogger
}

var _ Func[net.Conn, *StreamTransport] = &StreamTransportFunc{}

// Call implements [Func].
func (op *StreamTransportFunc) Call(ctx context.Context, conn net.Conn) (*StreamTransport, error) {
	return NewStreamTransport(op.Config, NewStreamSocket(conn), op.Logger), nil
}
