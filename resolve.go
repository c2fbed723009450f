// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Target is the chat server as named by the user.
type Target struct {
	// Host is a host name or an IP address literal.
	Host string

	// Port is the server port.
	Port uint16
}

// String returns the target in host:port form.
func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// NewResolveFunc returns a new [*ResolveFunc].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewResolveFunc(cfg *Config, logger SLogger) *ResolveFunc {
	return &ResolveFunc{
		DNSConnect: Compose2[netip.AddrPort, net.Conn, net.Conn](
			NewConnectFunc(cfg, cfg.DNSProtocol, PurposeDNS, logger),
			NewObserveConnFunc(cfg, logger),
		),
		DNSProtocol:   cfg.DNSProtocol,
		DNSServer:     cfg.DNSServer,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Resolver:      cfg.Resolver,
		TimeNow:       cfg.TimeNow,
	}
}

// ResolveFunc maps a [Target] to the server endpoint.
//
// IP literals are used as is. Names are resolved with Resolver, or with a
// DNS exchange with DNSServer when it is valid. IPv4 addresses are preferred.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ResolveFunc struct {
	// DNSConnect connects to DNSServer.
	//
	// Set by [NewResolveFunc] using [Config.Dialer] and [Config.DNSProtocol].
	DNSConnect Func[netip.AddrPort, net.Conn]

	// DNSProtocol is "udp" or "tcp".
	//
	// Set by [NewResolveFunc] from [Config.DNSProtocol].
	DNSProtocol string

	// DNSServer is the DNS server to query.
	//
	// Set by [NewResolveFunc] from [Config.DNSServer].
	DNSServer netip.AddrPort

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewResolveFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewResolveFunc] to the user-provided logger.
	Logger SLogger

	// Resolver resolves names when DNSServer is not valid.
	//
	// Set by [NewResolveFunc] from [Config.Resolver].
	Resolver Resolver

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewResolveFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[Target, netip.AddrPort] = &ResolveFunc{}

// Call resolves the target.
func (op *ResolveFunc) Call(ctx context.Context, target Target) (netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(target.Host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), target.Port), nil
	}

	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.Logger.Info(
		"resolveStart",
		slog.Time("deadline", deadline),
		slog.String("host", target.Host),
		slog.String("resolver", op.resolverName()),
		slog.Time("t", t0),
	)

	addrs, err := op.lookup(ctx, target.Host)
	var endpoint netip.AddrPort
	if err == nil {
		var addr netip.Addr
		if addr, err = preferIPv4(addrs); err == nil {
			endpoint = netip.AddrPortFrom(addr, target.Port)
		}
	}

	op.Logger.Info(
		"resolveDone",
		slog.Time("deadline", deadline),
		slog.Any("addrs", addrs),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("host", target.Host),
		slog.String("resolver", op.resolverName()),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolving %s: %w", target.Host, err)
	}
	return endpoint, nil
}

func (op *ResolveFunc) resolverName() string {
	if op.DNSServer.IsValid() {
		return op.DNSProtocol + "://" + op.DNSServer.String()
	}
	return "system"
}

func (op *ResolveFunc) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	if !op.DNSServer.IsValid() {
		return op.Resolver.LookupNetIP(ctx, "ip", host)
	}

	conn, err := op.DNSConnect.Call(ctx, op.DNSServer)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	lc := newDNSExchangeLogContext(conn, op.DNSProtocol, op.Logger, op.ErrClassifier, op.TimeNow)
	resp, err := dnsExchange(ctx, lc, conn, dnscodec.NewQuery(host, dns.TypeA))
	if err != nil {
		return nil, err
	}
	records, err := resp.RecordsA()
	if err != nil {
		return nil, err
	}
	var addrs []netip.Addr
	for _, record := range records {
		addr, err := netip.ParseAddr(record)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// preferIPv4 returns the first IPv4 address, else the first address.
func preferIPv4(addrs []netip.Addr) (netip.Addr, error) {
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return addr.Unmap(), nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0], nil
	}
	return netip.Addr{}, ErrNoAddress
}
