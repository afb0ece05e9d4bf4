package testutils

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/pior/bmemcache/binprot"
)

// Responder returns the responses the mock sends back for a request, in order.
// Returning nothing leaves the request unanswered.
type Responder func(req *binprot.Request) []*binprot.Response

// ConnectionMock is a net.Conn speaking the binary protocol in memory.
//
// Every complete request frame written is decoded, recorded and passed to the
// Responder. Reads return the encoded responses, then io.EOF.
type ConnectionMock struct {
	mu       sync.Mutex
	respond  Responder
	pending  []byte
	readBuf  bytes.Buffer
	requests []*binprot.Request
	closed   bool
}

// NewConnectionMock creates a mock answering requests with respond.
func NewConnectionMock(respond Responder) *ConnectionMock {
	return &ConnectionMock{respond: respond}
}

// NewRawConnectionMock creates a mock whose reads return data, whatever is written.
func NewRawConnectionMock(data []byte) *ConnectionMock {
	m := &ConnectionMock{}
	m.readBuf.Write(data)
	return m
}

// Reply builds the response to req with status and value, echoing its opcode and opaque.
func Reply(req *binprot.Request, status binprot.Status, value []byte) *binprot.Response {
	return &binprot.Response{
		Opcode: req.Opcode,
		Status: status,
		Value:  value,
		Opaque: req.Opaque,
	}
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}

	m.pending = append(m.pending, b...)
	for len(m.pending) >= binprot.HeaderSize {
		size := binprot.HeaderSize + int(binary.BigEndian.Uint32(m.pending[8:12]))
		if len(m.pending) < size {
			break
		}

		req, err := binprot.ReadRequest(bytes.NewReader(m.pending[:size]))
		m.pending = m.pending[size:]
		if err != nil {
			return 0, err
		}

		m.requests = append(m.requests, req)
		if m.respond == nil {
			continue
		}
		for _, resp := range m.respond(req) {
			_ = binprot.WriteResponse(&m.readBuf, resp)
		}
	}

	return len(b), nil
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *ConnectionMock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Requests returns the requests decoded so far.
func (m *ConnectionMock) Requests() []*binprot.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*binprot.Request(nil), m.requests...)
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }
