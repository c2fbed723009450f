// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"net"
	"net/netip"
)

// NewStreamDialFunc returns the pipeline connecting to target over TCP.
//
// The pipeline resolves the target, connects, logs the connection I/O,
// binds the connection lifetime to the context passed to Call and wraps
// the connection into a [*StreamTransport].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewStreamDialFunc(cfg *Config, target Target, logger SLogger) Func[Unit, Transport] {
	return Compose6[Unit, Target, netip.AddrPort, net.Conn, net.Conn, net.Conn, Transport](
		ConstFunc(target),
		NewResolveFunc(cfg, logger),
		NewConnectFunc(cfg, "tcp", PurposeChat, logger),
		NewObserveConnFunc(cfg, logger),
		NewCancelWatchFunc(cfg, logger),
		asTransport[net.Conn, *StreamTransport](NewStreamTransportFunc(cfg, logger)),
	)
}

// NewDatagramDialFunc returns the pipeline talking to target over UDP.
//
// The pipeline resolves the target, opens an unconnected socket and wraps
// it into a [*DatagramTransport].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDatagramDialFunc(cfg *Config, target Target, logger SLogger) Func[Unit, Transport] {
	return Compose4[Unit, Target, netip.AddrPort, *DatagramSocket, Transport](
		ConstFunc(target),
		NewResolveFunc(cfg, logger),
		NewListenPacketFunc(cfg, logger),
		asTransport[*DatagramSocket, *DatagramTransport](NewDatagramTransportFunc(cfg, logger)),
	)
}

// NewDialFunc returns [NewStreamDialFunc] for "tcp" and
// [NewDatagramDialFunc] for "udp".
func NewDialFunc(cfg *Config, protocol string, target Target, logger SLogger) (Func[Unit, Transport], error) {
	switch protocol {
	case "tcp":
		return NewStreamDialFunc(cfg, target, logger), nil
	case "udp":
		return NewDatagramDialFunc(cfg, target, logger), nil
	default:
		return nil, &ValidationError{Field: "protocol", Reason: "must be tcp or udp"}
	}
}

// asTransport adapts a Func returning a concrete transport to [Func] returning [Transport].
func asTransport[A any, T Transport](fn Func[A, T]) Func[A, Transport] {
	return FuncAdapter[A, Transport](func(ctx context.Context, input A) (Transport, error) {
		txp, err := fn.Call(ctx, input)
		if err != nil {
			return nil, err
		}
		return txp, nil
	})
}
