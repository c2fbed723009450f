// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

// maxDatagramSize is the largest datagram the background reader accepts.
const maxDatagramSize = 65535

// NewDatagramSocket wraps an unconnected [net.PacketConn] into a [*DatagramSocket].
//
// The server argument is the endpoint datagrams are initially sent to.
//
// It immediately starts a goroutine reading from conn. Close the socket to
// stop the goroutine.
func NewDatagramSocket(conn net.PacketConn, server netip.AddrPort) *DatagramSocket {
	s := &DatagramSocket{
		conn:      conn,
		datagrams: make(chan Datagram, 64),
		done:      make(chan struct{}),
		server:    server,
	}
	go s.readLoop()
	return s
}

// DatagramSocket adapts a [net.PacketConn] to the non-blocking [DatagramConn].
type DatagramSocket struct {
	closeOnce sync.Once
	conn      net.PacketConn
	datagrams chan Datagram
	done      chan struct{}
	err       error
	server    netip.AddrPort
}

var _ DatagramConn = &DatagramSocket{}

// Server returns the endpoint given to [NewDatagramSocket].
func (s *DatagramSocket) Server() netip.AddrPort {
	return s.server
}

// LocalAddr returns the local address of the underlying socket.
func (s *DatagramSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *DatagramSocket) readLoop() {
	defer close(s.datagrams)
	for {
		buf := make([]byte, maxDatagramSize)
		count, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.err = err
			return
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		from := udpAddr.AddrPort()
		dgram := Datagram{Data: buf[:count], From: netip.AddrPortFrom(from.Addr().Unmap(), from.Port())}
		select {
		case s.datagrams <- dgram:
		case <-s.done:
			s.err = net.ErrClosed
			return
		}
	}
}

// TryReadFrom implements [DatagramConn].
func (s *DatagramSocket) TryReadFrom() (Datagram, bool, error) {
	select {
	case dgram, ok := <-s.datagrams:
		if !ok {
			return Datagram{}, false, s.err
		}
		return dgram, true, nil
	default:
		return Datagram{}, false, nil
	}
}

// WriteTo implements [DatagramConn].
func (s *DatagramSocket) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	return s.conn.WriteTo(p, net.UDPAddrFromAddrPort(addr))
}

// Close implements [DatagramConn].
//
// Subsequent calls return [net.ErrClosed].
func (s *DatagramSocket) Close() (err error) {
	err = net.ErrClosed
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return
}

// NewListenPacketFunc returns a new [*ListenPacketFunc].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewListenPacketFunc(cfg *Config, logger SLogger) *ListenPacketFunc {
	return &ListenPacketFunc{
		ErrClassifier: cfg.ErrClassifier,
		ListenConfig:  cfg.ListenConfig,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ListenPacketFunc opens an unconnected UDP socket for talking to a server.
//
// The socket binds an ephemeral port of the same family as the server.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ListenPacketFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewListenPacketFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// ListenConfig is the [PacketListener] to use.
	//
	// Set by [NewListenPacketFunc] from [Config.ListenConfig].
	ListenConfig PacketListener

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewListenPacketFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewListenPacketFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[netip.AddrPort, *DatagramSocket] = &ListenPacketFunc{}

// Call opens the socket and wraps it into a [*DatagramSocket] bound to server.
func (op *ListenPacketFunc) Call(ctx context.Context, server netip.AddrPort) (*DatagramSocket, error) {
	network := "udp4"
	if !server.Addr().Unmap().Is4() {
		network = "udp6"
	}

	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.Logger.Info(
		"listenPacketStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", network),
		slog.String("remoteAddr", server.String()),
		slog.Time("t", t0),
	)

	pconn, err := op.ListenConfig.ListenPacket(ctx, network, ":0")

	var laddr string
	if err == nil {
		laddr = packetLocalAddr(pconn)
	}
	op.Logger.Info(
		"listenPacketDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr),
		slog.String("protocol", network),
		slog.String("remoteAddr", server.String()),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
	if err != nil {
		return nil, err
	}
	return NewDatagramSocket(pconn, server), nil
}

// packetLocalAddr is like [safeconn.LocalAddr] for a [net.PacketConn].
func packetLocalAddr(pconn net.PacketConn) string {
	if addr := pconn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
