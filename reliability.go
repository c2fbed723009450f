// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/bassosimone/runtimex"
)

// pendingSend is an encoded datagram waiting to be sent or confirmed.
type pendingSend struct {
	frame   []byte
	id      uint16
	kind    MessageType
	retries int
	sentAt  time.Time
}

// NewReliabilityEngine returns a new [*ReliabilityEngine] running on conn.
//
// The cfg argument contains the common configuration for ipkchat operations.
//
// The server argument is the endpoint the first datagrams are sent to. The
// engine pins the source endpoint of the first inbound datagram.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewReliabilityEngine(cfg *Config, conn DatagramConn, server netip.AddrPort, logger SLogger) *ReliabilityEngine {
	runtimex.Assert(conn != nil)
	return &ReliabilityEngine{
		ConfirmTimeout: cfg.ConfirmTimeout,
		Corrector:      cfg.serverIDCorrector(),
		ErrClassifier:  cfg.ErrClassifier,
		Logger:         logger,
		MaxParallel:    max(cfg.MaxParallel, 1),
		MaxRetries:     cfg.MaxRetries,
		PollInterval:   cfg.PollInterval,
		Sleep:          cfg.Sleep,
		TimeNow:        cfg.TimeNow,
		conn:           conn,
		server:         netip.AddrPortFrom(server.Addr().Unmap(), server.Port()),
	}
}

// ReliabilityEngine adds ids, confirmations, retransmissions and in-order
// delivery on top of a [DatagramConn].
//
// The engine is poll driven and never blocks, except in Close. It is not
// safe for concurrent use.
//
// All exported fields are safe to modify after construction but before
// first use.
type ReliabilityEngine struct {
	// ConfirmTimeout is how long a datagram waits for its confirmation.
	//
	// Set by [NewReliabilityEngine] from [Config.ConfirmTimeout].
	ConfirmTimeout time.Duration

	// Corrector adjusts inbound ids for servers that swap their bytes.
	//
	// Set by [NewReliabilityEngine] according to [Config.CorrectServerIDs].
	Corrector ServerIDCorrector

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewReliabilityEngine] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewReliabilityEngine] to the user-provided logger.
	Logger SLogger

	// MaxParallel bounds the datagrams waiting for confirmation.
	//
	// Set by [NewReliabilityEngine] from [Config.MaxParallel], at least 1.
	MaxParallel int

	// MaxRetries is the number of retransmissions before giving up.
	//
	// Set by [NewReliabilityEngine] from [Config.MaxRetries].
	MaxRetries int

	// PollInterval is the cadence used by Close while draining.
	//
	// Set by [NewReliabilityEngine] from [Config.PollInterval].
	PollInterval time.Duration

	// Sleep blocks for the given duration (configurable for testing).
	//
	// Set by [NewReliabilityEngine] from [Config.Sleep].
	Sleep func(time.Duration)

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewReliabilityEngine] from [Config.TimeNow].
	TimeNow func() time.Time

	conn     DatagramConn
	inflight []*pendingSend
	nextID   uint16
	pinned   bool
	queue    []*pendingSend
	ready    []Message
	reorder  reorderBuffer
	server   netip.AddrPort
}

// Server returns the endpoint datagrams are currently sent to.
func (e *ReliabilityEngine) Server() netip.AddrPort {
	return e.server
}

// Enqueue encodes m with the next outbound id and queues it for sending.
//
// The message is transmitted by a later call to Poll.
func (e *ReliabilityEngine) Enqueue(m Message) (uint16, error) {
	if m.Type() == TypeConfirm {
		return 0, unencodable("CONFIRM is generated by the engine")
	}
	frame, err := AppendBinary(nil, e.nextID, m)
	if err != nil {
		return 0, err
	}
	id := e.nextID
	e.nextID++
	e.queue = append(e.queue, &pendingSend{frame: frame, id: id, kind: m.Type()})
	return id, nil
}

// Poll reads the available datagrams, retransmits the expired ones and
// sends queued ones while the in-flight window allows.
//
// Errors are fatal for the engine: decoding errors, unexpected messages,
// socket errors and errors wrapping [ErrConfirmTimeout].
func (e *ReliabilityEngine) Poll() error {
	if err := e.receive(); err != nil {
		return err
	}
	if err := e.retransmit(); err != nil {
		return err
	}
	return e.transmit()
}

// Next returns the next in-order application message, if any.
func (e *ReliabilityEngine) Next() (Message, bool) {
	if len(e.ready) <= 0 {
		return nil, false
	}
	m := e.ready[0]
	e.ready = e.ready[1:]
	return m, true
}

// InFlight returns the number of datagrams waiting for confirmation.
func (e *ReliabilityEngine) InFlight() int {
	return len(e.inflight)
}

// Queued returns the number of datagrams not sent yet.
func (e *ReliabilityEngine) Queued() int {
	return len(e.queue)
}

// Idle returns whether every enqueued datagram has been confirmed.
func (e *ReliabilityEngine) Idle() bool {
	return len(e.queue) <= 0 && len(e.inflight) <= 0
}

// Close polls every PollInterval until the engine is idle or a poll fails,
// then closes the socket.
//
// The drain is bounded because each datagram fails with [ErrConfirmTimeout]
// once its retries are exhausted.
func (e *ReliabilityEngine) Close() error {
	var drainErr error
	for !e.Idle() {
		if drainErr = e.Poll(); drainErr != nil || e.Idle() {
			break
		}
		e.Sleep(e.PollInterval)
	}

	t0 := e.TimeNow()
	e.Logger.Info(
		"closeStart",
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", e.server.String()),
		slog.Time("t", t0),
	)
	closeErr := e.conn.Close()
	e.Logger.Info(
		"closeDone",
		slog.Any("err", closeErr),
		slog.String("errClass", e.ErrClassifier.Classify(closeErr)),
		slog.String("protocol", "udp"),
		slog.String("remoteAddr", e.server.String()),
		slog.Time("t0", t0),
		slog.Time("t", e.TimeNow()),
	)
	return errors.Join(drainErr, closeErr)
}

func (e *ReliabilityEngine) receive() error {
	for {
		dgram, ok, err := e.conn.TryReadFrom()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := e.handleDatagram(dgram); err != nil {
			return err
		}
	}
}

func (e *ReliabilityEngine) handleDatagram(dgram Datagram) error {
	from := netip.AddrPortFrom(dgram.From.Addr().Unmap(), dgram.From.Port())
	if from.Addr() != e.server.Addr() {
		e.logDropped(from, -1, "foreignHost")
		return nil
	}
	if e.pinned && from.Port() != e.server.Port() {
		e.logDropped(from, -1, "foreignPort")
		return nil
	}

	hdr, err := ParseFrameHeader(dgram.Data)
	if err != nil {
		return err
	}
	if !e.pinned {
		e.pinned = true
		e.server = from
	}
	e.Logger.Debug(
		"frameReceived",
		slog.Int("id", int(hdr.ID)),
		slog.Int("ioBytesCount", len(dgram.Data)),
		slog.String("remoteAddr", from.String()),
		slog.Time("t", e.TimeNow()),
		slog.String("type", hdr.Type.String()),
	)

	if hdr.Type != TypeConfirm {
		frame := runtimex.PanicOnError1(AppendBinary(nil, 0, ConfirmMessage{ID: hdr.ID}))
		if err := e.write(frame, hdr.ID, TypeConfirm, 0); err != nil {
			return err
		}
	}

	id, msg, err := ParseBinary(dgram.Data)
	if err != nil {
		return fmt.Errorf("datagram %d: %w", id, err)
	}

	switch m := msg.(type) {
	case ConfirmMessage:
		e.confirm(m.ID)
		return nil
	case ReplyMessage:
		e.confirm(m.RefID)
	case AuthMessage, JoinMessage:
		return fmt.Errorf("%w: %s from server", ErrUnexpectedMessage, m.Type())
	}

	if !e.reorder.isAnchored() {
		e.reorder.anchor(id)
	} else {
		id = e.Corrector.CorrectID(id, e.reorder.next())
	}
	switch verdict := e.reorder.insert(id, msg); verdict {
	case verdictBuffered:
		e.ready = append(e.ready, e.reorder.release()...)
	default:
		e.logDropped(from, int(id), verdict.String())
	}
	return nil
}

// confirm removes the first in-flight datagram with the given id.
func (e *ReliabilityEngine) confirm(id uint16) {
	for idx, p := range e.inflight {
		if p.id == id {
			e.inflight = append(e.inflight[:idx], e.inflight[idx+1:]...)
			e.Logger.Debug(
				"frameConfirmed",
				slog.Int("id", int(id)),
				slog.Int("retries", p.retries),
				slog.Time("t0", p.sentAt),
				slog.Time("t", e.TimeNow()),
				slog.String("type", p.kind.String()),
			)
			return
		}
	}
}

func (e *ReliabilityEngine) retransmit() error {
	now := e.TimeNow()
	for idx := 0; idx < len(e.inflight); idx++ {
		p := e.inflight[idx]
		if now.Sub(p.sentAt) <= e.ConfirmTimeout {
			continue
		}
		if p.retries >= e.MaxRetries {
			e.inflight = append(e.inflight[:idx], e.inflight[idx+1:]...)
			e.Logger.Info(
				"frameTimeout",
				slog.Int("id", int(p.id)),
				slog.Int("retries", p.retries),
				slog.String("remoteAddr", e.server.String()),
				slog.Time("t", now),
				slog.String("type", p.kind.String()),
			)
			return fmt.Errorf("%w: %s %d after %d retransmissions", ErrConfirmTimeout, p.kind, p.id, p.retries)
		}
		p.retries++
		p.sentAt = now
		e.Logger.Debug(
			"frameRetransmit",
			slog.Int("id", int(p.id)),
			slog.Int("retries", p.retries),
			slog.String("remoteAddr", e.server.String()),
			slog.Time("t", now),
			slog.String("type", p.kind.String()),
		)
		if err := e.write(p.frame, p.id, p.kind, p.retries); err != nil {
			return err
		}
	}
	return nil
}

func (e *ReliabilityEngine) transmit() error {
	// Strictly below: MaxParallel is the number of frames allowed in flight.
	for len(e.queue) > 0 && len(e.inflight) < e.MaxParallel {
		p := e.queue[0]
		e.queue = e.queue[1:]
		p.sentAt = e.TimeNow()
		e.inflight = append(e.inflight, p)
		if err := e.write(p.frame, p.id, p.kind, 0); err != nil {
			return err
		}
	}
	return nil
}

func (e *ReliabilityEngine) write(frame []byte, id uint16, kind MessageType, retries int) error {
	count, err := e.conn.WriteTo(frame, e.server)
	e.Logger.Debug(
		"frameSent",
		slog.Any("err", err),
		slog.String("errClass", e.ErrClassifier.Classify(err)),
		slog.Int("id", int(id)),
		slog.Int("ioBytesCount", count),
		slog.String("remoteAddr", e.server.String()),
		slog.Int("retries", retries),
		slog.Time("t", e.TimeNow()),
		slog.String("type", kind.String()),
	)
	return err
}

func (e *ReliabilityEngine) logDropped(from netip.AddrPort, id int, reason string) {
	e.Logger.Debug(
		"frameDropped",
		slog.Int("id", id),
		slog.String("reason", reason),
		slog.String("remoteAddr", from.String()),
		slog.Time("t", e.TimeNow()),
	)
}
