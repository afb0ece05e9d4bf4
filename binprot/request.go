package binprot

import (
	"encoding/binary"
	"time"
)

// Request represents a binary protocol request.
// This is a low-level container for request data without serialization logic.
type Request struct {
	Opcode Opcode

	// Key is the cache key (1-250 bytes). Empty for NoOp, Version and Flush.
	Key string

	// Extras holds the per-opcode fixed fields, e.g. flags and expiration for Set.
	Extras []byte

	// Value is the payload (Set/Add/Replace/Append/Prepend only).
	Value []byte

	// CAS is the compare-and-swap token, 0 means unconditional.
	CAS uint64

	// Opaque is echoed back unchanged by the server.
	// Connection.Send overwrites it with its own correlation id.
	Opaque uint32

	VBucket uint16
}

// NewGetRequest creates a Get request.
func NewGetRequest(key string) *Request {
	return &Request{Opcode: OpGet, Key: key}
}

// NewGetKQRequest creates a quiet Get that returns the key on hit and nothing on miss.
// Used for pipelined multi-gets terminated by a NoOp.
func NewGetKQRequest(key string) *Request {
	return &Request{Opcode: OpGetKQ, Key: key}
}

// NewStoreRequest creates a Set, Add, Replace (or their quiet variants) request.
//
// flags is stored opaquely by the server and returned with Get.
// expiration is in seconds, 0 means no expiration.
func NewStoreRequest(op Opcode, key string, value []byte, flags uint32, expiration uint32) *Request {
	extras := make([]byte, 0, StoreExtrasLength)
	extras = binary.BigEndian.AppendUint32(extras, flags)
	extras = binary.BigEndian.AppendUint32(extras, expiration)

	return &Request{
		Opcode: op,
		Key:    key,
		Extras: extras,
		Value:  value,
	}
}

// NewDeleteRequest creates a Delete request.
func NewDeleteRequest(key string) *Request {
	return &Request{Opcode: OpDelete, Key: key}
}

// NewArithmeticRequest creates an Increment or Decrement request.
//
// initial is stored when the key is missing, unless expiration is 0xffffffff
// in which case the server answers KeyNotFound instead.
func NewArithmeticRequest(op Opcode, key string, delta, initial uint64, expiration uint32) *Request {
	extras := make([]byte, 0, ArithmeticExtrasLength)
	extras = binary.BigEndian.AppendUint64(extras, delta)
	extras = binary.BigEndian.AppendUint64(extras, initial)
	extras = binary.BigEndian.AppendUint32(extras, expiration)

	return &Request{
		Opcode: op,
		Key:    key,
		Extras: extras,
	}
}

// NewTouchRequest creates a Touch request updating the expiration of key.
func NewTouchRequest(key string, expiration uint32) *Request {
	return &Request{
		Opcode: OpTouch,
		Key:    key,
		Extras: binary.BigEndian.AppendUint32(nil, expiration),
	}
}

// NewNoOpRequest creates a NoOp request, used as pipeline terminator and health check.
func NewNoOpRequest() *Request {
	return &Request{Opcode: OpNoOp}
}

// NewVersionRequest creates a Version request.
func NewVersionRequest() *Request {
	return &Request{Opcode: OpVersion}
}

// NewFlushRequest creates a Flush request. delay 0 flushes immediately.
func NewFlushRequest(delay uint32) *Request {
	req := &Request{Opcode: OpFlush}
	if delay > 0 {
		req.Extras = binary.BigEndian.AppendUint32(nil, delay)
	}
	return req
}

// Expiration converts a TTL to the protocol expiration field.
// Durations up to 30 days are relative seconds, longer ones are absolute unix times.
// Sub-second positive durations round up to one second.
func Expiration(ttl time.Duration) uint32 {
	if ttl <= 0 {
		return 0
	}

	seconds := int64((ttl + time.Second - 1) / time.Second)
	if seconds > relativeExpirationLimit {
		return uint32(time.Now().Unix() + seconds)
	}
	return uint32(seconds)
}

// memcached treats expirations above 30 days as unix timestamps.
const relativeExpirationLimit = 60 * 60 * 24 * 30

// hasKey reports whether the opcode carries a key that must be validated.
func (o Opcode) hasKey() bool {
	switch o {
	case OpNoOp, OpVersion, OpFlush, OpQuit:
		return false
	}
	return true
}
