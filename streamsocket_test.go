// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TryRead never blocks and eventually returns what the peer wrote.
func TestStreamSocketTryRead(t *testing.T) {
	client, server := net.Pipe()
	sock := NewStreamSocket(client)
	defer sock.Close()

	buf := make([]byte, 4)
	count, err := sock.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	go server.Write([]byte("BYE\r\n"))

	var got []byte
	assert.Eventually(t, func() bool {
		count, err := sock.TryRead(buf)
		if err != nil {
			return false
		}
		got = append(got, buf[:count]...)
		return len(got) >= 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, "BYE\r\n", string(got))

	server.Close()
	assert.Eventually(t, func() bool {
		_, err := sock.TryRead(buf)
		return errors.Is(err, io.EOF)
	}, time.Second, time.Millisecond)
}

// Write is buffered until Flush.
func TestStreamSocketWriteFlush(t *testing.T) {
	var written []byte
	conn := &netstub.FuncConn{
		ReadFunc: func(b []byte) (int, error) {
			return 0, io.EOF
		},
		WriteFunc: func(b []byte) (int, error) {
			written = append(written, b...)
			return len(b), nil
		},
		CloseFunc: func() error {
			return nil
		},
	}
	sock := NewStreamSocket(conn)

	count, err := sock.Write([]byte("BYE\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Empty(t, written)

	require.NoError(t, sock.Flush())
	assert.Equal(t, "BYE\r\n", string(written))

	require.NoError(t, sock.Close())
	require.ErrorIs(t, sock.Close(), net.ErrClosed)
}

// Close stops a reader blocked handing over data.
func TestStreamSocketCloseStopsReader(t *testing.T) {
	conn := &netstub.FuncConn{
		ReadFunc: func(b []byte) (int, error) {
			return copy(b, "x"), nil
		},
		CloseFunc: func() error {
			return nil
		},
	}
	sock := NewStreamSocket(conn)
	require.NoError(t, sock.Close())

	// the channel is eventually closed and drained
	buf := make([]byte, 1)
	assert.Eventually(t, func() bool {
		_, err := sock.TryRead(buf)
		return errors.Is(err, net.ErrClosed)
	}, time.Second, time.Millisecond)
}
