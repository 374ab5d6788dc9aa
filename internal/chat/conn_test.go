package chat_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/omochice/linechat/internal/chat"
)

var errMockClosed = errors.New("mock connection closed")

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	remoteAddr string

	// block, when set, holds every Write until it is closed.
	block    chan struct{}
	writeErr error

	writtenMu sync.Mutex
	written   [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 16),
		remoteAddr: addr,
		closed:     make(chan struct{}),
	}
}

// feed queues chunks to be returned by Read.
func (m *mockConn) feed(chunks ...string) {
	for _, c := range chunks {
		m.readCh <- []byte(c)
	}
}

// hangup makes Read return io.EOF once the queued chunks are consumed.
func (m *mockConn) hangup() {
	close(m.readCh)
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, errMockClosed
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-m.closed:
			return errMockClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// frames returns everything written so far split into lines.
func (m *mockConn) frames() []string {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	var sb strings.Builder
	for _, w := range m.written {
		sb.Write(w)
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
