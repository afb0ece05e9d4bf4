package bmemcache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pior/bmemcache/binprot"
	"github.com/pior/bmemcache/internal/testserver"
	"github.com/pior/bmemcache/internal/testutils"
)

// newTestClient starts a test server and returns a client connected to it.
func newTestClient(t testing.TB, config Config) (*Client, *testserver.Server) {
	t.Helper()

	server := testserver.Start(t)

	client, err := NewClient(NewStaticServers(server.Addr()), config)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client, server
}

// createListener starts a raw TCP server running handler for each connection.
func createListener(t testing.TB, handler func(conn net.Conn)) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() {
		listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	return listener.Addr().String()
}

// echoResponder answers every request with a successful empty response.
func echoResponder(req *binprot.Request) []*binprot.Response {
	return []*binprot.Response{testutils.Reply(req, binprot.StatusSuccess, nil)}
}

// mockConstructor returns a ConnectionConstructor handing out mock connections,
// sent on the returned channel as they are created.
func mockConstructor(respond testutils.Responder) (ConnectionConstructor, chan *testutils.ConnectionMock) {
	created := make(chan *testutils.ConnectionMock, 100)
	return func(ctx context.Context) (*Connection, error) {
		mock := testutils.NewConnectionMock(respond)
		created <- mock
		return NewConnection(mock, time.Second), nil
	}, created
}
