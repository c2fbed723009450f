// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"bufio"
	"net"
	"sync"
)

// streamChunkSize is the size of each read issued by the background reader.
const streamChunkSize = 4096

// NewStreamSocket wraps a connected [net.Conn] into a [*StreamSocket].
//
// It immediately starts a goroutine reading from conn. Close the socket to
// stop the goroutine.
func NewStreamSocket(conn net.Conn) *StreamSocket {
	s := &StreamSocket{
		chunks: make(chan []byte, 64),
		conn:   conn,
		done:   make(chan struct{}),
		writer: bufio.NewWriter(conn),
	}
	go s.readLoop()
	return s
}

// StreamSocket adapts a [net.Conn] to the non-blocking [StreamConn].
//
// Writes are buffered until Flush. Reads happen in a background goroutine
// that hands chunks over through a channel.
type StreamSocket struct {
	chunks    chan []byte
	closeOnce sync.Once
	conn      net.Conn
	done      chan struct{}
	err       error
	pending   []byte
	writer    *bufio.Writer
}

var _ StreamConn = &StreamSocket{}

func (s *StreamSocket) readLoop() {
	defer close(s.chunks)
	for {
		buf := make([]byte, streamChunkSize)
		count, err := s.conn.Read(buf)
		if count > 0 {
			select {
			case s.chunks <- buf[:count]:
			case <-s.done:
				s.err = net.ErrClosed
				return
			}
		}
		if err != nil {
			// visible to TryRead once chunks is closed
			s.err = err
			return
		}
	}
}

// TryRead implements [StreamConn].
func (s *StreamSocket) TryRead(p []byte) (int, error) {
	if len(s.pending) <= 0 {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return 0, s.err
			}
			s.pending = chunk
		default:
			return 0, nil
		}
	}
	count := copy(p, s.pending)
	s.pending = s.pending[count:]
	return count, nil
}

// Write implements [StreamConn].
func (s *StreamSocket) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

// Flush implements [StreamConn].
func (s *StreamSocket) Flush() error {
	return s.writer.Flush()
}

// Close implements [StreamConn].
//
// Subsequent calls return [net.ErrClosed].
func (s *StreamSocket) Close() (err error) {
	err = net.ErrClosed
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return
}
