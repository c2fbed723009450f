// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordMessages returns the messages of the captured records.
func recordMessages(records []slog.Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Message)
	}
	return out
}

// recordAttr returns the string form of the attribute with the given key.
func recordAttr(record slog.Record, key string) (value string) {
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			value = attr.Value.String()
			return false
		}
		return true
	})
	return
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// newTestConfig returns a [*Config] whose clock is driven by clock and
// whose Sleep advances the clock instead of blocking.
func newTestConfig(clock *fakeClock) *Config {
	cfg := NewConfig()
	cfg.TimeNow = clock.Now
	cfg.Sleep = clock.Advance
	return cfg
}

// sentDatagram is a datagram written to a [*fakeDatagramConn].
type sentDatagram struct {
	data []byte
	to   netip.AddrPort
}

// fakeDatagramConn is a [DatagramConn] backed by in-memory queues.
type fakeDatagramConn struct {
	closed   bool
	closeErr error
	inbox    []Datagram
	onWrite  func(c *fakeDatagramConn, p []byte)
	readErr  error
	sent     []sentDatagram
	writeErr error
}

var _ DatagramConn = &fakeDatagramConn{}

func (c *fakeDatagramConn) deliver(from netip.AddrPort, data ...byte) {
	c.inbox = append(c.inbox, Datagram{Data: data, From: from})
}

func (c *fakeDatagramConn) TryReadFrom() (Datagram, bool, error) {
	if len(c.inbox) > 0 {
		dgram := c.inbox[0]
		c.inbox = c.inbox[1:]
		return dgram, true, nil
	}
	return Datagram{}, false, c.readErr
}

func (c *fakeDatagramConn) WriteTo(p []byte, addr netip.AddrPort) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.sent = append(c.sent, sentDatagram{data: append([]byte{}, p...), to: addr})
	if c.onWrite != nil {
		c.onWrite(c, p)
	}
	return len(p), nil
}

func (c *fakeDatagramConn) Close() error {
	c.closed = true
	return c.closeErr
}

// fakeStreamConn is a [StreamConn] backed by in-memory buffers.
type fakeStreamConn struct {
	closed   bool
	flushErr error
	flushed  []byte
	incoming []byte
	eof      bool
	written  []byte
	writeErr error
}

var _ StreamConn = &fakeStreamConn{}

func (c *fakeStreamConn) TryRead(p []byte) (int, error) {
	if len(c.incoming) <= 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	count := copy(p, c.incoming)
	c.incoming = c.incoming[count:]
	return count, nil
}

func (c *fakeStreamConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeStreamConn) Flush() error {
	if c.flushErr != nil {
		return c.flushErr
	}
	c.flushed = append(c.flushed, c.written...)
	c.written = nil
	return nil
}

func (c *fakeStreamConn) Close() error {
	c.closed = true
	return nil
}

// fakeTransport is a [Transport] recording what the session sends.
type fakeTransport struct {
	closeErr   error
	closed     int
	flushErr   error
	flushes    int
	incoming   []Message
	receiveErr error
	sendErr    error
	sendErrFor MessageType
	sent       []Message
}

var _ Transport = &fakeTransport{}

func (t *fakeTransport) Send(m Message) error {
	if t.sendErr != nil && (t.sendErrFor == 0 || t.sendErrFor == m.Type()) {
		return t.sendErr
	}
	t.sent = append(t.sent, m)
	return nil
}

func (t *fakeTransport) Flush() error {
	t.flushes++
	return t.flushErr
}

func (t *fakeTransport) TryReceive() (Message, error) {
	if len(t.incoming) > 0 {
		m := t.incoming[0]
		t.incoming = t.incoming[1:]
		return m, nil
	}
	return nil, t.receiveErr
}

func (t *fakeTransport) Close() error {
	t.closed++
	return t.closeErr
}

// transportDialer returns a dial pipeline yielding txp.
func transportDialer(txp Transport) Func[Unit, Transport] {
	return ConstFunc(txp)
}
