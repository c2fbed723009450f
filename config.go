// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"net"
	"net/netip"
	"time"
)

// Default protocol parameters.
const (
	// DefaultPort is the default server port.
	DefaultPort = 4567

	// DefaultConfirmTimeout is how long a datagram waits for its CONFIRM.
	DefaultConfirmTimeout = 250 * time.Millisecond

	// DefaultMaxRetries is the number of datagram retransmissions.
	DefaultMaxRetries = 3

	// DefaultMaxParallel is the number of unconfirmed datagrams in flight.
	DefaultMaxParallel = 1

	// DefaultPollInterval is the cadence for polling a session or draining on close.
	DefaultPollInterval = 10 * time.Millisecond
)

// PacketListener abstracts the [*net.ListenConfig] behavior.
type PacketListener interface {
	ListenPacket(ctx context.Context, network, address string) (net.PacketConn, error)
}

// Resolver abstracts the [*net.Resolver] behavior.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Config holds common configuration for ipkchat operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ListenConfig is used by [*ListenPacketFunc].
	//
	// Set by [NewConfig] to [*net.ListenConfig].
	ListenConfig PacketListener

	// Resolver is used by [*ResolveFunc] when DNSServer is not set.
	//
	// Set by [NewConfig] to [net.DefaultResolver].
	Resolver Resolver

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// Sleep blocks for the given duration.
	//
	// Set by [NewConfig] to [time.Sleep].
	Sleep func(time.Duration)

	// Port is the server port used when the target does not name one.
	//
	// Set by [NewConfig] to [DefaultPort].
	Port uint16

	// ConfirmTimeout is the datagram confirmation timeout.
	//
	// Set by [NewConfig] to [DefaultConfirmTimeout].
	ConfirmTimeout time.Duration

	// MaxRetries is the number of retransmissions before giving up.
	//
	// Set by [NewConfig] to [DefaultMaxRetries].
	MaxRetries int

	// MaxParallel bounds the unconfirmed datagrams in flight.
	//
	// Set by [NewConfig] to [DefaultMaxParallel].
	MaxParallel int

	// ExtendedChannel allows '.' inside channel ids.
	//
	// Set by [NewConfig] to false.
	ExtendedChannel bool

	// CorrectServerIDs enables [ByteSwapCorrector] for inbound datagram ids.
	//
	// Set by [NewConfig] to true.
	CorrectServerIDs bool

	// PollInterval is the cadence of [*ReliabilityEngine.Close] draining.
	//
	// Set by [NewConfig] to [DefaultPollInterval].
	PollInterval time.Duration

	// DNSServer is the DNS server used by [*ResolveFunc].
	//
	// Set by [NewConfig] to the zero value, meaning: use Resolver.
	DNSServer netip.AddrPort

	// DNSProtocol is either "udp" or "tcp" and only matters with DNSServer.
	//
	// Set by [NewConfig] to "udp".
	DNSProtocol string
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:           &net.Dialer{},
		ListenConfig:     &net.ListenConfig{},
		Resolver:         net.DefaultResolver,
		ErrClassifier:    DefaultErrClassifier,
		TimeNow:          time.Now,
		Sleep:            time.Sleep,
		Port:             DefaultPort,
		ConfirmTimeout:   DefaultConfirmTimeout,
		MaxRetries:       DefaultMaxRetries,
		MaxParallel:      DefaultMaxParallel,
		ExtendedChannel:  false,
		CorrectServerIDs: true,
		PollInterval:     DefaultPollInterval,
		DNSProtocol:      "udp",
	}
}

// serverIDCorrector returns the [ServerIDCorrector] selected by the config.
func (c *Config) serverIDCorrector() ServerIDCorrector {
	if c.CorrectServerIDs {
		return ByteSwapCorrector
	}
	return IdentityCorrector
}
