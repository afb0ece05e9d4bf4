// Package binprot implements the memcached binary protocol wire format.
//
// It only knows about frames: a fixed 24-byte header followed by extras, key
// and value sections whose lengths are announced by the header. Connections,
// pooling and value encoding live in other packages.
//
// # Core Types
//
//   - Header: the fixed frame header, see ParseHeader and AppendHeader
//   - Request: an outgoing frame, built with the New*Request constructors
//   - Response: an incoming frame
//
// # Serialization and Parsing
//
// WriteRequest serializes a request in a single Write call:
//
//	req := binprot.NewStoreRequest(binprot.OpSet, "mykey", []byte("hello"), 0, 60)
//	err := binprot.WriteRequest(conn, req)
//
// ReadResponse reads exactly one frame, never more:
//
//	resp, err := binprot.ReadResponse(bufio.NewReader(conn))
//	if err != nil {
//	    if binprot.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//
// # Pipelining
//
// Quiet opcodes (GetKQ, SetQ, DeleteQ) only answer when there is something to
// report. A NoOp sent after them marks the end of the batch:
//
//	for _, key := range keys {
//	    binprot.WriteRequest(w, binprot.NewGetKQRequest(key))
//	}
//	binprot.WriteRequest(w, binprot.NewNoOpRequest())
//
//	for {
//	    resp, err := binprot.ReadResponse(r)
//	    if err != nil || resp.Opcode == binprot.OpNoOp {
//	        break
//	    }
//	    // resp.Key identifies the hit
//	}
//
// # Error Handling
//
// Every error type implements ShouldCloseConnection:
//
//   - ProtocolError, ConnectionError: the stream is unusable, close it
//   - InvalidKeyError: nothing was written, the connection is intact
//   - StatusError: a complete frame with a non-success status was read
package binprot
