// Package bmemcache is a memcached client speaking the binary protocol.
//
// A Client routes each key to one server with a ServerSelector and keeps a pool
// of connections per server, opened lazily:
//
//	client, err := bmemcache.NewClient(bmemcache.NewStaticServers("localhost:11211"), bmemcache.Config{})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	stored, err := client.Set(ctx, "user:1", map[string]any{"name": "ann"}, time.Hour)
//	item, err := client.Get(ctx, "user:1")
//
// # Values
//
// Values are encoded by the value package and tagged in the item flags, so Get
// returns the Go type that was stored: string, []byte, bool, int, int64, or a
// map/slice tree for serialized objects.
//
// # Results and errors
//
// Cache outcomes are results, not errors: Get reports a miss with Item.Found,
// Set/Add/Replace/CompareAndSwap report a refused store by returning false,
// Delete of a missing key returns true.
//
// Errors are typed:
//   - *InvalidKeyError and *UnsupportedValueError are returned before any I/O.
//   - *ConnectionError is an I/O failure or a timeout. The connection is discarded
//     and the request retried once on a new connection (Config.MaxRetries).
//   - *ProtocolError is a malformed response or an item that can not be decoded.
//     The connection is discarded, the request is not retried.
//   - *StatusError is an unexpected server status.
//
// # Batches
//
// MultiGet, MultiSet and MultiDelete send quiet requests pipelined on one
// connection per server, terminated by a NoOp.
//
// # Lower layers
//
// ServerPool and Connection can be used directly, with Commands and BatchCommands
// providing the operations over a single server. The binprot package holds the
// wire format.
package bmemcache
