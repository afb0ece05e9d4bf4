package bmemcache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pior/bmemcache/binprot"
)

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	// StateDisconnected: not usable, either closed or never opened.
	StateDisconnected ConnState = iota
	// StateConnected: ready to send.
	StateConnected
	// StateFailed: an I/O or protocol error occurred, the connection must be discarded.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// Connection is a single connection to one server.
//
// A Connection is not safe for concurrent use: pools hand it to one caller at a time.
// It never retries; a failed connection stays failed until closed and replaced.
type Connection struct {
	net.Conn
	Reader *bufio.Reader
	Writer *bufio.Writer

	timeout time.Duration
	state   atomic.Int32
	opaque  uint32
	scratch []byte
}

// NewConnection wraps an established net.Conn.
// timeout bounds every Send/SendBatch round trip, zero means no limit besides the context.
func NewConnection(conn net.Conn, timeout time.Duration) *Connection {
	c := &Connection{
		Conn:    conn,
		Reader:  bufio.NewReader(conn),
		Writer:  bufio.NewWriter(conn),
		timeout: timeout,
	}
	c.state.Store(int32(StateConnected))
	return c
}

// State returns the current state.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Send writes req and reads its response.
//
// The request opaque is overwritten with a per-connection sequence number and
// checked against the response; a mismatch is a ProtocolError.
func (c *Connection) Send(ctx context.Context, req *binprot.Request) (*binprot.Response, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}

	c.opaque++
	req.Opaque = c.opaque

	if err := binprot.WriteRequest(c.Writer, req); err != nil {
		return nil, c.writeFailed(err)
	}
	if err := c.Writer.Flush(); err != nil {
		return nil, c.fail("write", err)
	}

	resp, err := binprot.ReadResponse(c.Reader)
	if err != nil {
		return nil, c.fail("read", err)
	}

	if resp.Opaque != req.Opaque || resp.Opcode != req.Opcode {
		return nil, c.fail("read", &binprot.ProtocolError{
			Message: fmt.Sprintf("response %s/%d does not match request %s/%d", resp.Opcode, resp.Opaque, req.Opcode, req.Opaque),
		})
	}

	return resp, nil
}

// SendBatch pipelines reqs followed by a NoOp and reads responses until the NoOp answer.
//
// Quiet requests only get a response when there is something to report, so the
// returned slice is aligned with reqs and holds nil where the server stayed silent.
// All keys are validated before anything is written.
func (c *Connection) SendBatch(ctx context.Context, reqs []*binprot.Request) ([]*binprot.Response, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}

	first := c.opaque + 1

	buf := c.scratch[:0]
	for _, req := range reqs {
		c.opaque++
		req.Opaque = c.opaque

		var err error
		buf, err = binprot.AppendRequest(buf, req)
		if err != nil {
			c.opaque = first - 1
			return nil, err
		}
	}

	c.opaque++
	noop := binprot.NewNoOpRequest()
	noop.Opaque = c.opaque
	buf, _ = binprot.AppendRequest(buf, noop)

	if cap(buf) <= maxScratchSize {
		c.scratch = buf
	}

	if _, err := c.Writer.Write(buf); err != nil {
		return nil, c.fail("write", err)
	}
	if err := c.Writer.Flush(); err != nil {
		return nil, c.fail("write", err)
	}

	responses := make([]*binprot.Response, len(reqs))
	for {
		resp, err := binprot.ReadResponse(c.Reader)
		if err != nil {
			return nil, c.fail("read", err)
		}

		if resp.Opaque == noop.Opaque && resp.Opcode == binprot.OpNoOp {
			return responses, nil
		}

		idx := resp.Opaque - first
		if idx >= uint32(len(reqs)) || reqs[idx].Opcode != resp.Opcode {
			return nil, c.fail("read", &binprot.ProtocolError{
				Message: fmt.Sprintf("unexpected %s response with opaque %d in batch", resp.Opcode, resp.Opaque),
			})
		}
		responses[idx] = resp
	}
}

// Close closes the underlying connection. Calling it more than once is safe.
func (c *Connection) Close() error {
	c.state.Store(int32(StateDisconnected))
	return c.Conn.Close()
}

const maxScratchSize = 64 << 10

func (c *Connection) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if state := c.State(); state != StateConnected {
		return &binprot.ConnectionError{Op: "send", Err: fmt.Errorf("connection is %s", state)}
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if err := c.Conn.SetDeadline(deadline); err != nil {
		return c.fail("deadline", err)
	}
	return nil
}

// writeFailed handles a WriteRequest error. Encoding errors are detected
// before anything is written and leave the connection usable.
func (c *Connection) writeFailed(err error) error {
	var encodeErr binprot.ErrorWithConnectionState
	if errors.As(err, &encodeErr) {
		return err
	}
	return c.fail("write", err)
}

// fail marks the connection as failed and classifies err.
// Protocol errors are returned as is, anything else becomes a ConnectionError.
func (c *Connection) fail(op string, err error) error {
	c.state.Store(int32(StateFailed))

	if binprot.IsProtocolError(err) {
		return err
	}
	return &binprot.ConnectionError{Op: op, Err: err}
}
