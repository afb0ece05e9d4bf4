package bmemcache

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/bmemcache/binprot"
	"github.com/pior/bmemcache/internal/testutils"
)

func TestConnection_Send(t *testing.T) {
	mock := testutils.NewConnectionMock(func(req *binprot.Request) []*binprot.Response {
		return []*binprot.Response{testutils.Reply(req, binprot.StatusSuccess, []byte("value"))}
	})
	conn := NewConnection(mock, time.Second)

	for i := range 3 {
		resp, err := conn.Send(context.Background(), binprot.NewGetRequest("key"))
		require.NoError(t, err)
		require.Equal(t, "value", string(resp.Value))
		require.Equal(t, uint32(i+1), resp.Opaque)
	}

	require.Equal(t, StateConnected, conn.State())
	require.Len(t, mock.Requests(), 3)
}

func TestConnection_Send_OpaqueMismatch(t *testing.T) {
	mock := testutils.NewConnectionMock(func(req *binprot.Request) []*binprot.Response {
		resp := testutils.Reply(req, binprot.StatusSuccess, nil)
		resp.Opaque = req.Opaque + 1
		return []*binprot.Response{resp}
	})
	conn := NewConnection(mock, time.Second)

	_, err := conn.Send(context.Background(), binprot.NewGetRequest("key"))
	require.Error(t, err)
	require.True(t, IsProtocolError(err))
	require.False(t, IsConnectionError(err))
	require.Equal(t, StateFailed, conn.State())

	_, err = conn.Send(context.Background(), binprot.NewGetRequest("key"))
	require.True(t, IsConnectionError(err), "a failed connection refuses new requests")
}

func TestConnection_Send_EOF(t *testing.T) {
	conn := NewConnection(testutils.NewConnectionMock(nil), time.Second)

	_, err := conn.Send(context.Background(), binprot.NewGetRequest("key"))
	require.True(t, IsConnectionError(err))
	require.Equal(t, StateFailed, conn.State())
}

func TestConnection_Send_TruncatedFrame(t *testing.T) {
	frame := binprot.AppendResponse(nil, &binprot.Response{Opcode: binprot.OpGet, Value: []byte("abcdef"), Opaque: 1})
	conn := NewConnection(testutils.NewRawConnectionMock(frame[:len(frame)-2]), time.Second)

	_, err := conn.Send(context.Background(), binprot.NewGetRequest("key"))
	require.True(t, IsConnectionError(err))
	require.Equal(t, StateFailed, conn.State())
}

func TestConnection_Send_MalformedFrame(t *testing.T) {
	garbage := []byte(strings.Repeat("x", binprot.HeaderSize))
	conn := NewConnection(testutils.NewRawConnectionMock(garbage), time.Second)

	_, err := conn.Send(context.Background(), binprot.NewGetRequest("key"))
	require.True(t, IsProtocolError(err))
	require.Equal(t, StateFailed, conn.State())
}

func TestConnection_Send_InvalidKey(t *testing.T) {
	mock := testutils.NewConnectionMock(echoResponder)
	conn := NewConnection(mock, time.Second)

	_, err := conn.Send(context.Background(), binprot.NewGetRequest(strings.Repeat("k", binprot.MaxKeyLength+1)))
	var keyErr *InvalidKeyError
	require.ErrorAs(t, err, &keyErr)

	require.Equal(t, StateConnected, conn.State())
	require.Empty(t, mock.Requests())
}

func TestConnection_Send_CancelledContext(t *testing.T) {
	mock := testutils.NewConnectionMock(echoResponder)
	conn := NewConnection(mock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conn.Send(ctx, binprot.NewGetRequest("key"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateConnected, conn.State())
}

func TestConnection_Send_Timeout(t *testing.T) {
	addr := createListener(t, func(conn net.Conn) {
		// Never answer
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	})

	netConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn := NewConnection(netConn, 50*time.Millisecond)
	defer conn.Close()

	start := time.Now()
	_, err = conn.Send(context.Background(), binprot.NewGetRequest("key"))
	require.True(t, IsConnectionError(err))
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, StateFailed, conn.State())
}

func TestConnection_SendBatch(t *testing.T) {
	mock := testutils.NewConnectionMock(func(req *binprot.Request) []*binprot.Response {
		switch {
		case req.Opcode == binprot.OpNoOp:
			return echoResponder(req)
		case req.Key == "hit":
			resp := testutils.Reply(req, binprot.StatusSuccess, []byte("v"))
			resp.Key = []byte(req.Key)
			return []*binprot.Response{resp}
		}
		return nil
	})
	conn := NewConnection(mock, time.Second)

	reqs := []*binprot.Request{
		binprot.NewGetKQRequest("miss1"),
		binprot.NewGetKQRequest("hit"),
		binprot.NewGetKQRequest("miss2"),
	}
	responses, err := conn.SendBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, responses, 3)
	require.Nil(t, responses[0])
	require.Equal(t, "hit", string(responses[1].Key))
	require.Nil(t, responses[2])

	written := mock.Requests()
	require.Len(t, written, 4)
	require.Equal(t, binprot.OpNoOp, written[3].Opcode)
}

func TestConnection_SendBatch_InvalidKeyWritesNothing(t *testing.T) {
	mock := testutils.NewConnectionMock(echoResponder)
	conn := NewConnection(mock, time.Second)

	reqs := []*binprot.Request{
		binprot.NewGetKQRequest("good"),
		binprot.NewGetKQRequest(""),
	}
	_, err := conn.SendBatch(context.Background(), reqs)
	var keyErr *InvalidKeyError
	require.ErrorAs(t, err, &keyErr)
	require.Empty(t, mock.Requests())
	require.Equal(t, StateConnected, conn.State())

	resp, err := conn.Send(context.Background(), binprot.NewGetRequest("good"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), resp.Opaque)
}

func TestConnection_SendBatch_UnexpectedResponse(t *testing.T) {
	mock := testutils.NewConnectionMock(func(req *binprot.Request) []*binprot.Response {
		resp := testutils.Reply(req, binprot.StatusSuccess, nil)
		resp.Opaque += 1000
		return []*binprot.Response{resp}
	})
	conn := NewConnection(mock, time.Second)

	_, err := conn.SendBatch(context.Background(), []*binprot.Request{binprot.NewGetKQRequest("k")})
	require.True(t, IsProtocolError(err))
	require.Equal(t, StateFailed, conn.State())
}

func TestConnection_Close(t *testing.T) {
	mock := testutils.NewConnectionMock(echoResponder)
	conn := NewConnection(mock, time.Second)

	require.NoError(t, conn.Close())
	require.True(t, mock.Closed())
	require.Equal(t, StateDisconnected, conn.State())

	_, err := conn.Send(context.Background(), binprot.NewNoOpRequest())
	require.True(t, IsConnectionError(err))
}

func TestConnState_String(t *testing.T) {
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "ConnState(9)", ConnState(9).String())
}
