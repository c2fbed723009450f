// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import "net/netip"

// Transport is the capability a [*Session] needs from a wire binding.
//
// Implementations never block: Send queues or writes, Flush pushes what is
// pending and TryReceive returns (nil, nil) when no message is available.
// [*StreamTransport] and [*DatagramTransport] implement this interface.
type Transport interface {
	Send(m Message) error
	Flush() error
	TryReceive() (Message, error)
	Close() error
}

// StreamConn is the byte stream a [*StreamTransport] runs on.
//
// TryRead returns (0, nil) when no bytes are available yet. After the
// peer closes the stream it returns [io.EOF].
type StreamConn interface {
	TryRead(p []byte) (int, error)
	Write(p []byte) (int, error)
	Flush() error
	Close() error
}

// Datagram is a datagram read from a [DatagramConn].
type Datagram struct {
	// Data is the datagram payload.
	Data []byte

	// From is the sender endpoint.
	From netip.AddrPort
}

// DatagramConn is the unconnected socket a [*ReliabilityEngine] runs on.
//
// TryReadFrom returns false when no datagram is available yet.
type DatagramConn interface {
	TryReadFrom() (Datagram, bool, error)
	WriteTo(p []byte, addr netip.AddrPort) (int, error)
	Close() error
}
