// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"net/netip"
)

// NewDatagramTransport returns a new [*DatagramTransport] running on conn.
//
// The arguments are passed to [NewReliabilityEngine].
func NewDatagramTransport(cfg *Config, conn DatagramConn, server netip.AddrPort, logger SLogger) *DatagramTransport {
	return &DatagramTransport{engine: NewReliabilityEngine(cfg, conn, server, logger)}
}

// DatagramTransport is the [Transport] speaking the binary encoding through
// a [*ReliabilityEngine].
type DatagramTransport struct {
	engine *ReliabilityEngine
}

var _ Transport = &DatagramTransport{}

// Engine returns the underlying [*ReliabilityEngine].
func (t *DatagramTransport) Engine() *ReliabilityEngine {
	return t.engine
}

// Send implements [Transport].
//
// The message is queued and transmitted by Flush or TryReceive.
func (t *DatagramTransport) Send(m Message) error {
	_, err := t.engine.Enqueue(m)
	return err
}

// Flush implements [Transport].
//
// Every call also drives retransmissions, so the owner polls it regularly.
func (t *DatagramTransport) Flush() error {
	return t.engine.Poll()
}

// TryReceive implements [Transport].
func (t *DatagramTransport) TryReceive() (Message, error) {
	if m, ok := t.engine.Next(); ok {
		return m, nil
	}
	if err := t.engine.Poll(); err != nil {
		return nil, err
	}
	if m, ok := t.engine.Next(); ok {
		return m, nil
	}
	return nil, nil
}

// Close implements [Transport].
//
// It blocks until the queued datagrams are confirmed or time out.
func (t *DatagramTransport) Close() error {
	return t.engine.Close()
}

// NewDatagramTransportFunc returns a new [*DatagramTransportFunc].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDatagramTransportFunc(cfg *Config, logger SLogger) *DatagramTransportFunc {
	return &DatagramTransportFunc{Config: cfg, Logger: logger}
}

// DatagramTransportFunc wraps a [*DatagramSocket] into a [*DatagramTransport].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type DatagramTransportFunc struct {
	// Config is passed to [NewDatagramTransport].
	//
	// Set by [NewDatagramTransportFunc] to the user-provided config.
	Config *Config

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewDatagramTransportFunc] to the user-provided logger.
	Logger SLogger
}

var _ Func[*DatagramSocket, *DatagramTransport] = &DatagramTransportFunc{}

// Call implements [Func].
func (op *DatagramTransportFunc) Call(ctx context.Context, sock *DatagramSocket) (*DatagramTransport, error) {
	return NewDatagramTransport(op.Config, sock, sock.Server(), op.Logger), nil
}
