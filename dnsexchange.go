//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop
//

package ipkchat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/bassosimone/dnsoverstream"
	"github.com/bassosimone/minest"
	"github.com/bassosimone/safeconn"
)

// dnsUnusedDialer is a [Dialer] that panics if DialContext is called.
//
// The DNS transports below run on a connection the [*ResolveFunc] already
// established and must never dial on their own.
type dnsUnusedDialer struct{}

var _ Dialer = dnsUnusedDialer{}

// DialContext implements [Dialer] and always panics.
func (dnsUnusedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	panic("ipkchat: DNS transport must not dial; this is a programming error")
}

// dnsExchangeLogContext holds common logging state for DNS exchanges.
type dnsExchangeLogContext struct {
	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// LocalAddr is the local address of the connection.
	LocalAddr string

	// Logger is the SLogger to use.
	Logger SLogger

	// Protocol is the network protocol (e.g., "tcp", "udp").
	Protocol string

	// RemoteAddr is the remote address of the connection.
	RemoteAddr string

	// ServerProtocol is the DNS protocol ("udp" or "tcp").
	ServerProtocol string

	// TimeNow is the function to get the current time.
	TimeNow func() time.Time
}

// newDNSExchangeLogContext returns the log context for an exchange on conn.
func newDNSExchangeLogContext(
	conn net.Conn, serverProtocol string, logger SLogger, classifier ErrClassifier, timeNow func() time.Time) *dnsExchangeLogContext {
	return &dnsExchangeLogContext{
		ErrClassifier:  classifier,
		LocalAddr:      safeconn.LocalAddr(conn),
		Logger:         logger,
		Protocol:       safeconn.Network(conn),
		RemoteAddr:     safeconn.RemoteAddr(conn),
		ServerProtocol: serverProtocol,
		TimeNow:        timeNow,
	}
}

// logStart logs the start of a DNS exchange.
func (lc *dnsExchangeLogContext) logStart(t0 time.Time, deadline time.Time) {
	lc.Logger.Info(
		"dnsExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
		slog.String("serverProtocol", lc.ServerProtocol),
		slog.Time("t", t0),
	)
}

// logDone logs the completion of a DNS exchange.
func (lc *dnsExchangeLogContext) logDone(t0 time.Time, deadline time.Time, err error) {
	lc.Logger.Info(
		"dnsExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", lc.ErrClassifier.Classify(err)),
		slog.String("localAddr", lc.LocalAddr),
		slog.String("protocol", lc.Protocol),
		slog.String("remoteAddr", lc.RemoteAddr),
		slog.String("serverProtocol", lc.ServerProtocol),
		slog.Time("t0", t0),
		slog.Time("t", lc.TimeNow()),
	)
}

// makeQueryObserver returns an observer for raw DNS queries.
//
// The rqr pointer captures the raw query for the response observer.
func (lc *dnsExchangeLogContext) makeQueryObserver(t0 time.Time, rqr *[]byte) func([]byte) {
	return func(rawQuery []byte) {
		lc.Logger.Debug(
			"dnsQuery",
			slog.String("serverProtocol", lc.ServerProtocol),
			slog.Any("dnsRawQuery", rawQuery),
			slog.String("localAddr", lc.LocalAddr),
			slog.String("protocol", lc.Protocol),
			slog.String("remoteAddr", lc.RemoteAddr),
			slog.Time("t", t0),
		)
		*rqr = rawQuery
	}
}

// makeResponseObserver returns an observer for raw DNS responses.
func (lc *dnsExchangeLogContext) makeResponseObserver(t0 time.Time, rqr *[]byte) func([]byte) {
	return func(rawResp []byte) {
		lc.Logger.Debug(
			"dnsResponse",
			slog.String("serverProtocol", lc.ServerProtocol),
			slog.Any("dnsRawQuery", *rqr),
			slog.String("localAddr", lc.LocalAddr),
			slog.String("protocol", lc.Protocol),
			slog.String("remoteAddr", lc.RemoteAddr),
			slog.Time("t0", t0),
			slog.Time("t", lc.TimeNow()),
			slog.Any("dnsRawResponse", rawResp),
		)
	}
}

// dnsExchange sends query over the connected conn and returns the response.
//
// The lc.ServerProtocol selects DNS-over-UDP or DNS-over-TCP framing.
func dnsExchange(ctx context.Context, lc *dnsExchangeLogContext,
	conn net.Conn, query *dnscodec.Query) (*dnscodec.Response, error) {
	t0 := lc.TimeNow()
	deadline, _ := ctx.Deadline()
	var rqr []byte
	unused := netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

	switch lc.ServerProtocol {
	case "udp":
		txp := minest.NewDNSOverUDPTransport(dnsUnusedDialer{}, unused)
		txp.ObserveRawQuery = lc.makeQueryObserver(t0, &rqr)
		txp.ObserveRawResponse = lc.makeResponseObserver(t0, &rqr)

		lc.logStart(t0, deadline)
		resp, err := txp.ExchangeWithConn(ctx, conn, query)
		lc.logDone(t0, deadline, err)
		return resp, err

	case "tcp":
		streamDialer := dnsoverstream.NewStreamOpenerDialerTCP(dnsUnusedDialer{})
		txp := dnsoverstream.NewTransport(streamDialer, unused)
		txp.ObserveRawQuery = lc.makeQueryObserver(t0, &rqr)
		txp.ObserveRawResponse = lc.makeResponseObserver(t0, &rqr)

		lc.logStart(t0, deadline)
		resp, err := txp.ExchangeWithStreamOpener(ctx, dnsoverstream.NewTCPStreamOpener(conn), query)
		lc.logDone(t0, deadline, err)
		return resp, err

	default:
		return nil, fmt.Errorf("ipkchat: unsupported DNS protocol %q", lc.ServerProtocol)
	}
}
