// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testServer        = netip.MustParseAddrPort("127.0.0.1:4567")
	testServerDynamic = netip.MustParseAddrPort("127.0.0.1:50000")
)

func newTestEngine(clock *fakeClock) (*ReliabilityEngine, *fakeDatagramConn) {
	conn := &fakeDatagramConn{}
	engine := NewReliabilityEngine(newTestConfig(clock), conn, testServer, DefaultSLogger())
	return engine, conn
}

// NewReliabilityEngine copies the protocol parameters from the config.
func TestNewReliabilityEngine(t *testing.T) {
	cfg := NewConfig()
	cfg.MaxParallel = 0
	cfg.CorrectServerIDs = false
	engine := NewReliabilityEngine(cfg, &fakeDatagramConn{}, testServer, DefaultSLogger())

	assert.Equal(t, 250*time.Millisecond, engine.ConfirmTimeout)
	assert.Equal(t, 3, engine.MaxRetries)
	assert.Equal(t, 1, engine.MaxParallel)
	assert.Equal(t, uint16(0x0300), engine.Corrector.CorrectID(0x0300, 3))
	assert.Equal(t, testServer, engine.Server())
	assert.True(t, engine.Idle())
}

// Enqueue assigns post-incremented ids and refuses CONFIRM.
func TestReliabilityEngineEnqueue(t *testing.T) {
	engine, _ := newTestEngine(newFakeClock())

	id, err := engine.Enqueue(ByeMessage{})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)

	id, err = engine.Enqueue(ByeMessage{})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)

	_, err = engine.Enqueue(ConfirmMessage{ID: 7})
	require.ErrorIs(t, err, ErrUnencodable)

	_, err = engine.Enqueue(MsgMessage{DisplayName: "a\x00b", Content: "x"})
	require.ErrorIs(t, err, ErrUnencodable)

	// failed encodings do not consume ids
	id, err = engine.Enqueue(ByeMessage{})
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, 3, engine.Queued())
}

// With a window of one, three queued messages are sent one confirmation at a time.
func TestReliabilityEngineWindow(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	for _, content := range []string{"a", "b", "c"} {
		_, err := engine.Enqueue(MsgMessage{DisplayName: "me", Content: content})
		require.NoError(t, err)
	}

	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 1)
	assert.Equal(t, []byte{0x04, 0x00, 0x00, 'm', 'e', 0, 'a', 0}, conn.sent[0].data)
	assert.Equal(t, 1, engine.InFlight())
	assert.Equal(t, 2, engine.Queued())

	// polling again without a confirmation sends nothing
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 1)

	conn.deliver(testServer, 0x00, 0x00, 0x00)
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 2)
	assert.Equal(t, uint16(1), uint16(conn.sent[1].data[1])<<8|uint16(conn.sent[1].data[2]))

	conn.deliver(testServer, 0x00, 0x00, 0x01)
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 3)

	conn.deliver(testServer, 0x00, 0x00, 0x02)
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 3)
	assert.True(t, engine.Idle())
}

// A larger window sends up to MaxParallel datagrams at once.
func TestReliabilityEngineWiderWindow(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())
	engine.MaxParallel = 2

	for range 3 {
		_, err := engine.Enqueue(ByeMessage{})
		require.NoError(t, err)
	}
	require.NoError(t, engine.Poll())
	assert.Len(t, conn.sent, 2)
	assert.Equal(t, 2, engine.InFlight())
	assert.Equal(t, 1, engine.Queued())
}

// An unconfirmed datagram is retransmitted MaxRetries times and then fails.
func TestReliabilityEngineTimeout(t *testing.T) {
	clock := newFakeClock()
	engine, conn := newTestEngine(clock)

	_, err := engine.Enqueue(ByeMessage{})
	require.NoError(t, err)
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 1)

	// not yet expired
	clock.Advance(250 * time.Millisecond)
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 1)

	for retry := 1; retry <= 3; retry++ {
		clock.Advance(time.Millisecond)
		require.NoError(t, engine.Poll())
		require.Len(t, conn.sent, 1+retry)
		assert.Equal(t, conn.sent[0].data, conn.sent[retry].data)
		clock.Advance(250 * time.Millisecond)
	}

	// total elapsed is now timeout*(retries+1) plus the small steps
	clock.Advance(time.Millisecond)
	err = engine.Poll()
	require.ErrorIs(t, err, ErrConfirmTimeout)
	assert.Len(t, conn.sent, 4)
	assert.Equal(t, 0, engine.InFlight())
}

// A retransmitted datagram confirmed late is removed from the in-flight set.
func TestReliabilityEngineLateConfirm(t *testing.T) {
	clock := newFakeClock()
	engine, conn := newTestEngine(clock)

	_, err := engine.Enqueue(ByeMessage{})
	require.NoError(t, err)
	require.NoError(t, engine.Poll())
	clock.Advance(300 * time.Millisecond)
	require.NoError(t, engine.Poll())
	require.Len(t, conn.sent, 2)

	conn.deliver(testServer, 0x00, 0x00, 0x00)
	require.NoError(t, engine.Poll())
	assert.True(t, engine.Idle())

	// confirming again is a no-op
	conn.deliver(testServer, 0x00, 0x00, 0x00)
	require.NoError(t, engine.Poll())
}

// Inbound messages are confirmed with their raw id and then delivered.
func TestReliabilityEngineConfirmsAndDelivers(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	conn.deliver(testServer, 0x04, 0x00, 0x0A, 'A', 'B', 0, 'h', 'i', 0)
	require.NoError(t, engine.Poll())

	require.Len(t, conn.sent, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0x0A}, conn.sent[0].data)

	m, ok := engine.Next()
	require.True(t, ok)
	assert.Equal(t, MsgMessage{DisplayName: "AB", Content: "hi"}, m)

	_, ok = engine.Next()
	assert.False(t, ok)
}

// A datagram with a readable header but a bad payload is confirmed and fails.
func TestReliabilityEngineMalformedPayload(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	conn.deliver(testServer, 0x04, 0x00, 0x05, 'A', 'B')
	err := engine.Poll()
	require.ErrorIs(t, err, ErrMalformedFrame)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0x05}, conn.sent[0].data)
}

// A datagram too short for a header is not confirmed.
func TestReliabilityEngineShortDatagram(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	conn.deliver(testServer, 0x04)
	err := engine.Poll()
	require.ErrorIs(t, err, ErrMalformedFrame)
	assert.Empty(t, conn.sent)
}

// The server may not send AUTH or JOIN.
func TestReliabilityEngineUnexpectedMessage(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	conn.deliver(testServer, 0x03, 0x00, 0x01, 'c', 0, 'n', 0)
	err := engine.Poll()
	require.ErrorIs(t, err, ErrUnexpectedMessage)
}

// A REPLY confirms the datagram it refers to and is delivered.
func TestReliabilityEngineReplyConfirms(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	_, err := engine.Enqueue(AuthMessage{Username: "u", DisplayName: "n", Secret: "s"})
	require.NoError(t, err)
	require.NoError(t, engine.Poll())
	require.Equal(t, 1, engine.InFlight())

	conn.deliver(testServer, 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 'o', 'k', 0)
	require.NoError(t, engine.Poll())
	assert.Equal(t, 0, engine.InFlight())

	m, ok := engine.Next()
	require.True(t, ok)
	assert.Equal(t, ReplyMessage{OK: true, Content: "ok", RefID: 0}, m)
}

// Frames arriving out of order are released in id order, duplicates once.
func TestReliabilityEngineOrdering(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	msg := func(id byte, content byte) {
		conn.deliver(testServer, 0x04, 0x00, id, 's', 0, content, 0)
	}
	msg(0, 'a')
	msg(2, 'c')
	msg(0, 'a')
	require.NoError(t, engine.Poll())

	var got []string
	for m, ok := engine.Next(); ok; m, ok = engine.Next() {
		got = append(got, m.(MsgMessage).Content)
	}
	assert.Equal(t, []string{"a"}, got)

	msg(1, 'b')
	require.NoError(t, engine.Poll())
	for m, ok := engine.Next(); ok; m, ok = engine.Next() {
		got = append(got, m.(MsgMessage).Content)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	// every inbound frame, duplicates included, was confirmed
	assert.Len(t, conn.sent, 4)
}

// Byte-swapped ids are corrected unless the correction is disabled.
func TestReliabilityEngineServerIDQuirk(t *testing.T) {
	cases := []struct {
		// name is the test case name
		name string

		// correct enables the byte swap correction
		correct bool

		// want is the number of released messages
		want int
	}{
		{name: "enabled", correct: true, want: 2},
		{name: "disabled", correct: false, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := &fakeDatagramConn{}
			cfg := newTestConfig(newFakeClock())
			cfg.CorrectServerIDs = tc.correct
			engine := NewReliabilityEngine(cfg, conn, testServer, DefaultSLogger())

			conn.deliver(testServer, 0x04, 0x00, 0x00, 's', 0, 'a', 0)
			conn.deliver(testServer, 0x04, 0x01, 0x00, 's', 0, 'b', 0)
			require.NoError(t, engine.Poll())

			count := 0
			for _, ok := engine.Next(); ok; _, ok = engine.Next() {
				count++
			}
			assert.Equal(t, tc.want, count)

			// the confirmation always carries the raw id
			require.Len(t, conn.sent, 2)
			assert.Equal(t, []byte{0x00, 0x01, 0x00}, conn.sent[1].data)
		})
	}
}

// The first inbound datagram pins the server port and other endpoints are ignored.
func TestReliabilityEnginePinsServerPort(t *testing.T) {
	clock := newFakeClock()
	logger, records := newCapturingLogger()
	conn := &fakeDatagramConn{}
	engine := NewReliabilityEngine(newTestConfig(clock), conn, testServer, logger)

	_, err := engine.Enqueue(AuthMessage{Username: "u", DisplayName: "n", Secret: "s"})
	require.NoError(t, err)
	require.NoError(t, engine.Poll())
	assert.Equal(t, testServer, conn.sent[0].to)

	// other hosts are ignored even before pinning
	conn.deliver(netip.MustParseAddrPort("10.0.0.1:4567"), 0x00, 0x00, 0x00)
	require.NoError(t, engine.Poll())
	assert.Equal(t, 1, engine.InFlight())

	conn.deliver(testServerDynamic, 0x00, 0x00, 0x00)
	require.NoError(t, engine.Poll())
	assert.Equal(t, testServerDynamic, engine.Server())

	// the original port is now ignored
	conn.deliver(testServer, 0x04, 0x00, 0x00, 's', 0, 'x', 0)
	require.NoError(t, engine.Poll())
	_, ok := engine.Next()
	assert.False(t, ok)

	// sends go to the pinned endpoint
	_, err = engine.Enqueue(ByeMessage{})
	require.NoError(t, err)
	require.NoError(t, engine.Poll())
	assert.Equal(t, testServerDynamic, conn.sent[len(conn.sent)-1].to)

	assert.Contains(t, recordMessages(*records), "frameDropped")
	assert.Contains(t, recordMessages(*records), "frameConfirmed")
}

// IPv4-mapped source addresses match an IPv4 server.
func TestReliabilityEngineMappedAddress(t *testing.T) {
	engine, conn := newTestEngine(newFakeClock())

	mapped := netip.AddrPortFrom(netip.AddrFrom16(testServer.Addr().As16()), 50000)
	conn.deliver(mapped, 0xFF, 0x00, 0x00)
	require.NoError(t, engine.Poll())

	m, ok := engine.Next()
	require.True(t, ok)
	assert.Equal(t, ByeMessage{}, m)
	assert.Equal(t, testServerDynamic, engine.Server())
}

// Socket errors are returned by Poll.
func TestReliabilityEngineSocketErrors(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		engine, conn := newTestEngine(newFakeClock())
		conn.readErr = net.ErrClosed
		require.ErrorIs(t, engine.Poll(), net.ErrClosed)
	})

	t.Run("write", func(t *testing.T) {
		engine, conn := newTestEngine(newFakeClock())
		conn.writeErr = errors.New("mocked error")
		_, err := engine.Enqueue(ByeMessage{})
		require.NoError(t, err)
		require.ErrorContains(t, engine.Poll(), "mocked error")
	})
}

// Close waits for outstanding confirmations before closing the socket.
func TestReliabilityEngineCloseDrains(t *testing.T) {
	clock := newFakeClock()
	conn := &fakeDatagramConn{}
	cfg := newTestConfig(clock)
	sleeps := 0
	cfg.Sleep = func(d time.Duration) {
		sleeps++
		clock.Advance(d)
		if sleeps == 3 {
			conn.deliver(testServer, 0x00, 0x00, 0x00)
		}
	}
	engine := NewReliabilityEngine(cfg, conn, testServer, DefaultSLogger())

	_, err := engine.Enqueue(ByeMessage{})
	require.NoError(t, err)

	require.NoError(t, engine.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, 3, sleeps)
	assert.Len(t, conn.sent, 1)
}

// Close gives up when the last datagram exhausts its retries.
func TestReliabilityEngineCloseTimeout(t *testing.T) {
	clock := newFakeClock()
	engine, conn := newTestEngine(clock)

	_, err := engine.Enqueue(ByeMessage{})
	require.NoError(t, err)

	err = engine.Close()
	require.ErrorIs(t, err, ErrConfirmTimeout)
	assert.True(t, conn.closed)
	assert.Len(t, conn.sent, 4)
}

// Close on an idle engine just closes the socket.
func TestReliabilityEngineCloseIdle(t *testing.T) {
	logger, records := newCapturingLogger()
	conn := &fakeDatagramConn{closeErr: net.ErrClosed}
	engine := NewReliabilityEngine(newTestConfig(newFakeClock()), conn, testServer, logger)

	require.ErrorIs(t, engine.Close(), net.ErrClosed)
	assert.Equal(t, []string{"closeStart", "closeDone"}, recordMessages(*records))
}
