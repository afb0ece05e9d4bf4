package bmemcache

import (
	"errors"

	"github.com/pior/bmemcache/binprot"
	"github.com/pior/bmemcache/value"
)

var ErrClientClosed = errors.New("bmemcache: client closed")

// Error types returned by the client, re-exported from the packages defining them.
type (
	// ConnectionError is an I/O failure. The request was already retried on a new connection.
	ConnectionError = binprot.ConnectionError
	// ProtocolError is a malformed frame or an item this client can not decode. Never retried.
	ProtocolError = binprot.ProtocolError
	// StatusError is a server status that is not a normal outcome of the operation.
	StatusError = binprot.StatusError
	// InvalidKeyError is a key rejected before anything was sent.
	InvalidKeyError = binprot.InvalidKeyError
	// UnsupportedValueError is a value the codec has no representation for.
	UnsupportedValueError = value.UnsupportedValueError
)

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	return binprot.IsConnectionError(err)
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	return binprot.IsProtocolError(err)
}
