// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/bassosimone/ipkchat"
	"gopkg.in/yaml.v3"
)

// options contains the command line settings, which may also come from a YAML file.
type options struct {
	Protocol           string `yaml:"protocol"`
	Server             string `yaml:"server"`
	Port               uint16 `yaml:"port"`
	UDPTimeout         uint16 `yaml:"udp_timeout"`
	UDPRetransmissions uint8  `yaml:"udp_retransmissions"`
	UDPWindow          uint8  `yaml:"udp_window"`
	Extend             bool   `yaml:"extend"`
	DNSServer          string `yaml:"dns_server"`
	DNSProtocol        string `yaml:"dns_protocol"`
	LogLevel           string `yaml:"log_level"`
	MetricsListen      string `yaml:"metrics_listen"`
}

// defaultOptions returns the settings used when neither file nor flags say otherwise.
func defaultOptions() *options {
	return &options{
		Port:               ipkchat.DefaultPort,
		UDPTimeout:         uint16(ipkchat.DefaultConfirmTimeout / time.Millisecond),
		UDPRetransmissions: ipkchat.DefaultMaxRetries,
		UDPWindow:          ipkchat.DefaultMaxParallel,
		DNSProtocol:        "udp",
		LogLevel:           "error",
	}
}

// loadOptions reads the options from the given YAML file.
// If the file does not exist, it returns the default options with no error.
func loadOptions(path string) (*options, error) {
	opts := defaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return opts, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return opts, nil
}

// merge copies into o the flags the user explicitly set.
func (o *options) merge(flags *options, changed func(name string) bool) {
	if changed("protocol") {
		o.Protocol = flags.Protocol
	}
	if changed("server") {
		o.Server = flags.Server
	}
	if changed("port") {
		o.Port = flags.Port
	}
	if changed("udp-timeout") {
		o.UDPTimeout = flags.UDPTimeout
	}
	if changed("udp-retransmissions") {
		o.UDPRetransmissions = flags.UDPRetransmissions
	}
	if changed("udp-window") {
		o.UDPWindow = flags.UDPWindow
	}
	if changed("extend") {
		o.Extend = flags.Extend
	}
	if changed("dns-server") {
		o.DNSServer = flags.DNSServer
	}
	if changed("dns-protocol") {
		o.DNSProtocol = flags.DNSProtocol
	}
	if changed("log-level") {
		o.LogLevel = flags.LogLevel
	}
	if changed("metrics-listen") {
		o.MetricsListen = flags.MetricsListen
	}
}

// config validates the options and returns the matching [*ipkchat.Config].
func (o *options) config() (*ipkchat.Config, error) {
	o.Protocol = strings.ToLower(o.Protocol)
	switch o.Protocol {
	case "tcp", "udp":
	case "":
		return nil, errors.New("missing protocol, use -t tcp or -t udp")
	default:
		return nil, fmt.Errorf("protocol must be either 'tcp' or 'udp', got %q", o.Protocol)
	}
	if o.Server == "" {
		return nil, errors.New("missing server address, use -s")
	}

	cfg := ipkchat.NewConfig()
	cfg.Port = o.Port
	cfg.ConfirmTimeout = time.Duration(o.UDPTimeout) * time.Millisecond
	cfg.MaxRetries = int(o.UDPRetransmissions)
	cfg.MaxParallel = max(int(o.UDPWindow), 1)
	cfg.ExtendedChannel = o.Extend

	if o.DNSServer != "" {
		server, err := netip.ParseAddrPort(o.DNSServer)
		if err != nil {
			return nil, fmt.Errorf("invalid DNS server %q: %w", o.DNSServer, err)
		}
		switch o.DNSProtocol {
		case "udp", "tcp":
		default:
			return nil, fmt.Errorf("DNS protocol must be either 'tcp' or 'udp', got %q", o.DNSProtocol)
		}
		cfg.DNSServer = server
		cfg.DNSProtocol = o.DNSProtocol
	}
	return cfg, nil
}

// target returns the chat server.
func (o *options) target() ipkchat.Target {
	return ipkchat.Target{Host: o.Server, Port: o.Port}
}

// logLevel parses LogLevel.
func (o *options) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", o.LogLevel, err)
	}
	return level, nil
}
