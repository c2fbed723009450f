//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop
//

// Package ipkchat implements the client side of the IPK24 chat protocol.
//
// # Sessions
//
// A [*Session] drives one connection to a chat server through the states
//
//	stopped -> started -> authorizing -> open -> end
//
// Use [Session.Connect] to connect, [Session.Authorize] to log in,
// [Session.Join] to switch channel, [Session.Send] to chat, and [Session.Bye]
// to leave. Operations illegal in the current state fail with errors wrapping
// [ErrInvalidState] and invalid user input fails with errors wrapping
// [ErrInvalidField]. Neither touches the wire.
//
// Any transport or protocol failure ends the session: the client tells the
// server what went wrong with ERR, says BYE, closes the transport and returns
// the original error.
//
// The session is poll driven. The caller periodically invokes
// [Session.Poll] and [Session.Receive], which never block waiting for the
// server. [Session.Receive] returns [ErrNoMessage] when nothing is pending.
//
// # Transports
//
// Two [Transport] implementations exist:
//
//   - [*StreamTransport] speaks the text encoding over TCP
//   - [*DatagramTransport] speaks the binary encoding over UDP through a
//     [*ReliabilityEngine], which confirms, retransmits and reorders messages
//
// [NewDialFunc] builds the pipeline producing either transport for a [Target].
//
// # Pipelines
//
// Dialing is expressed as a composition of [Func] stages:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// [Compose2] through [Compose6] chain stages such as [ResolveFunc],
// [ConnectFunc], [ObserveConnFunc], [CancelWatchFunc] and
// [ListenPacketFunc]. The compiler checks that outputs match inputs.
//
// [CancelWatchFunc] closes the TCP connection when the context passed to
// Connect is done. Pass a context living as long as the session.
//
// # Observability
//
// All components log through [SLogger], which [*slog.Logger] satisfies. By
// default, logging is disabled.
//
// Span events come in *Start/*Done pairs carrying t0, t, err and errClass.
// Wire observations (frameSent, frameReceived, frameRetransmit,
// frameConfirmed, frameDropped, readDone, writeDone) use [slog.LevelDebug];
// everything else uses [slog.LevelInfo].
//
// Use [NewSpanID] with [*slog.Logger.With] to correlate all the events of a
// session.
package ipkchat
