// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassosimone/ipkchat"
	"github.com/bassosimone/ipkchat/internal/eventmetrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// newRootCmd returns the ipkchat command reading from stdin.
func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		configFile string
		flags      = defaultOptions()
	)

	cmd := &cobra.Command{
		Use:   "ipkchat -t tcp|udp -s SERVER",
		Short: "Chat client for the IPK24-CHAT protocol",
		Long: `Connects to an IPK24-CHAT server and runs an interactive session.

Lines read from standard input are either commands (see /help) or messages
for the current channel. End of input or ^C leaves the server.

Settings come from the optional YAML file given with --config, overridden
by the flags set on the command line.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(configFile)
			if err != nil {
				return err
			}
			opts.merge(flags, cmd.Flags().Changed)
			return runClient(opts, stdin, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML configuration file")
	f.StringVarP(&flags.Protocol, "protocol", "t", flags.Protocol, "transport protocol: tcp or udp")
	f.StringVarP(&flags.Server, "server", "s", flags.Server, "server IP address or host name")
	f.Uint16VarP(&flags.Port, "port", "p", flags.Port, "server port")
	f.Uint16VarP(&flags.UDPTimeout, "udp-timeout", "d", flags.UDPTimeout, "UDP confirmation timeout in milliseconds")
	f.Uint8VarP(&flags.UDPRetransmissions, "udp-retransmissions", "r", flags.UDPRetransmissions, "maximum number of UDP retransmissions")
	f.Uint8VarP(&flags.UDPWindow, "udp-window", "w", flags.UDPWindow, "maximum number of unconfirmed UDP messages")
	f.BoolVarP(&flags.Extend, "extend", "e", flags.Extend, "allow '.' in channel ids")
	f.StringVar(&flags.DNSServer, "dns-server", flags.DNSServer, "resolve the server with this DNS server (ip:port)")
	f.StringVar(&flags.DNSProtocol, "dns-protocol", flags.DNSProtocol, "protocol for --dns-server: udp or tcp")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "structured log level: debug, info, warn or error")
	f.StringVar(&flags.MetricsListen, "metrics-listen", flags.MetricsListen, "serve Prometheus metrics at this address")
	return cmd
}

// runClient connects and runs the chat until the session ends.
func runClient(opts *options, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	level, err := opts.logLevel()
	if err != nil {
		return err
	}

	var handler slog.Handler = slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level})
	if opts.MetricsListen != "" {
		handler = eventmetrics.New(handler)
		stop, err := serveMetrics(opts.MetricsListen)
		if err != nil {
			return err
		}
		defer stop()
	}
	logger := slog.New(handler).With("spanID", ipkchat.NewSpanID())

	dial, err := ipkchat.NewDialFunc(cfg, opts.Protocol, opts.target(), logger)
	if err != nil {
		return err
	}
	session := ipkchat.NewSession(cfg, dial, logger)

	// The connection lives as long as the context passed to Connect.
	if err := session.Connect(context.Background()); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := &chat{
		pollInterval: ipkchat.DefaultPollInterval,
		session:      session,
		stderr:       stderr,
		stdout:       stdout,
	}
	return c.run(ctx, readLines(stdin))
}

// serveMetrics exposes the Prometheus metrics in the background.
func serveMetrics(address string) (stop func(), err error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server failed", slog.Any("err", err))
		}
	}()
	return func() { srv.Close() }, nil
}
