// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"log/slog"
	"time"
)

// State is the state of a [*Session].
type State int

const (
	// StateStopped is the initial state, before Connect.
	StateStopped State = iota

	// StateStarted means connected but not authorized.
	StateStarted

	// StateAuthorizing means AUTH was sent and we are waiting for REPLY.
	StateAuthorizing

	// StateOpen means authorized.
	StateOpen

	// StateError is transient and lasts while a failure is handled.
	StateError

	// StateEnd is terminal.
	StateEnd
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	case StateAuthorizing:
		return "authorizing"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateEnd:
		return "end"
	default:
		return "unknown"
	}
}

// initialDisplayName is used until the user picks a display name.
const initialDisplayName = "?"

// NewSession returns a new [*Session] in [StateStopped].
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The dial argument produces the [Transport] when calling Connect. Use
// [NewDialFunc] to build it.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewSession(cfg *Config, dial Func[Unit, Transport], logger SLogger) *Session {
	return &Session{
		Dial:            dial,
		ErrClassifier:   cfg.ErrClassifier,
		ExtendedChannel: cfg.ExtendedChannel,
		Logger:          logger,
		TimeNow:         cfg.TimeNow,
		displayName:     initialDisplayName,
		state:           StateStopped,
	}
}

// Session is the client side of a chat session.
//
// All methods are non-blocking except Connect, and Bye when the datagram
// transport waits for pending confirmations. The caller drives I/O by
// calling Poll and Receive periodically.
//
// A Session is not safe for concurrent use.
type Session struct {
	// Dial produces the transport.
	//
	// Set by [NewSession] to the user-provided dial pipeline.
	Dial Func[Unit, Transport]

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewSession] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// ExtendedChannel allows '.' in channel ids.
	//
	// Set by [NewSession] from [Config.ExtendedChannel].
	ExtendedChannel bool

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewSession] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewSession] from [Config.TimeNow].
	TimeNow func() time.Time

	displayName string
	state       State
	txp         Transport
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// DisplayName returns the display name used for outgoing messages.
func (s *Session) DisplayName() string {
	return s.displayName
}

// SetDisplayName validates and sets the display name.
func (s *Session) SetDisplayName(name string) error {
	if err := ValidateDisplayName(name); err != nil {
		return err
	}
	s.displayName = name
	return nil
}

// Connect runs the dial pipeline and moves to [StateStarted].
//
// On failure the session stays in [StateStopped] and may be connected again.
func (s *Session) Connect(ctx context.Context) error {
	if s.state != StateStopped {
		return ErrAlreadyConnected
	}

	t0 := s.TimeNow()
	deadline, _ := ctx.Deadline()
	s.Logger.Info(
		"sessionConnectStart",
		slog.Time("deadline", deadline),
		slog.Time("t", t0),
	)

	txp, err := s.Dial.Call(ctx, Unit{})

	s.Logger.Info(
		"sessionConnectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", s.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", s.TimeNow()),
	)
	if err != nil {
		return err
	}

	s.txp = txp
	s.setState(StateStarted)
	return nil
}

// Authorize sends AUTH and moves to [StateAuthorizing].
//
// A non-empty displayName replaces the current display name. The outcome
// arrives later as a [ReplyMessage] returned by Receive.
func (s *Session) Authorize(username, secret, displayName string) error {
	switch s.state {
	case StateStarted:
	case StateStopped:
		return ErrNotConnected
	default:
		return ErrAlreadyAuthorized
	}

	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidateSecret(secret); err != nil {
		return err
	}
	if displayName != "" {
		if err := s.SetDisplayName(displayName); err != nil {
			return err
		}
	}

	msg := AuthMessage{Username: username, DisplayName: s.displayName, Secret: secret}
	if err := s.deliver(msg); err != nil {
		return err
	}
	s.setState(StateAuthorizing)
	return nil
}

// Join asks to switch to the given channel.
func (s *Session) Join(channel string) error {
	if s.state != StateOpen {
		return ErrNotAuthorized
	}
	if err := ValidateChannel(channel, s.ExtendedChannel); err != nil {
		return err
	}
	return s.deliver(JoinMessage{Channel: channel, DisplayName: s.displayName})
}

// Send sends a chat message to the current channel.
func (s *Session) Send(text string) error {
	if s.state != StateOpen {
		return ErrNotAuthorized
	}
	if err := ValidateMessage(text); err != nil {
		return err
	}
	return s.deliver(MsgMessage{DisplayName: s.displayName, Content: text})
}

// Bye sends BYE, closes the transport and moves to [StateEnd].
func (s *Session) Bye() error {
	switch s.state {
	case StateStopped:
		return ErrNotConnected
	case StateEnd:
		return ErrAlreadyClosed
	}
	if err := s.deliver(ByeMessage{}); err != nil {
		return err
	}
	err := s.txp.Close()
	s.setState(StateEnd)
	return err
}

// Receive returns the next message from the server.
//
// It returns [ErrNoMessage] when nothing is available, including after the
// session has ended. Any REPLY received while authorizing moves the
// session to [StateOpen], whatever its result. A BYE or an ERR from the
// server ends the session, and the message is returned.
func (s *Session) Receive() (Message, error) {
	switch s.state {
	case StateStopped:
		return nil, ErrNotConnected
	case StateEnd:
		return nil, ErrNoMessage
	}

	m, err := s.txp.TryReceive()
	if err != nil {
		return nil, s.fail(err)
	}
	if m == nil {
		return nil, ErrNoMessage
	}

	switch m.(type) {
	case ReplyMessage:
		if s.state == StateAuthorizing {
			// A negative REPLY still opens the session.
			s.setState(StateOpen)
		}

	case ByeMessage, ErrMessage:
		if err := s.Bye(); err != nil {
			s.Logger.Info(
				"sessionByeFailed",
				slog.Any("err", err),
				slog.String("errClass", s.ErrClassifier.Classify(err)),
				slog.Time("t", s.TimeNow()),
			)
		}
	}
	return m, nil
}

// Poll flushes pending outbound data and, on the datagram transport,
// retransmits unconfirmed messages.
//
// It is a no-op unless the session is connected and not ended.
func (s *Session) Poll() error {
	switch s.state {
	case StateStarted, StateAuthorizing, StateOpen:
	default:
		return nil
	}
	if err := s.txp.Flush(); err != nil {
		return s.fail(err)
	}
	return nil
}

// deliver sends and flushes m, escalating failures.
func (s *Session) deliver(m Message) error {
	if err := s.txp.Send(m); err != nil {
		return s.fail(err)
	}
	if err := s.txp.Flush(); err != nil {
		return s.fail(err)
	}
	return nil
}

// fail notifies the peer about cause, terminates the session and returns cause.
//
// Failures while notifying the peer are suppressed.
func (s *Session) fail(cause error) error {
	s.setState(StateError)
	s.Logger.Info(
		"sessionError",
		slog.Any("err", cause),
		slog.String("errClass", s.ErrClassifier.Classify(cause)),
		slog.Time("t", s.TimeNow()),
	)

	notice := ErrMessage{DisplayName: s.displayName, Content: sanitizeMessage(cause.Error())}
	if s.txp.Send(notice) == nil {
		_ = s.txp.Flush()
	}
	if s.txp.Send(ByeMessage{}) == nil {
		_ = s.txp.Flush()
	}
	_ = s.txp.Close()

	s.setState(StateEnd)
	return cause
}

func (s *Session) setState(next State) {
	if next == s.state {
		return
	}
	s.Logger.Info(
		"sessionState",
		slog.String("from", s.state.String()),
		slog.String("to", next.String()),
		slog.Time("t", s.TimeNow()),
	)
	s.state = next
}
