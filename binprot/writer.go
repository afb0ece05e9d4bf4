package binprot

import (
	"io"
	"sync"
)

// Buffer pool for encoding frames
var bufferPool = sync.Pool{
	New: func() any {
		// Header plus a small key and value, larger frames grow the buffer
		b := make([]byte, 0, 256)
		return &b
	},
}

// Buffers above this size are not returned to the pool
const maxPooledBufferSize = 64 << 10

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	if cap(*b) > maxPooledBufferSize {
		return
	}
	*b = (*b)[:0]
	bufferPool.Put(b)
}

// ValidateKey checks if a key is valid for the binary protocol.
// Keys are length-prefixed raw bytes: any content is allowed, from 1 to 250 bytes.
func ValidateKey(key string) error {
	if len(key) == 0 {
		return &InvalidKeyError{Message: "key is empty"}
	}

	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Message: "key exceeds maximum length of 250 bytes"}
	}

	return nil
}

// AppendRequest appends the wire form of req to dst.
// The key is validated first; nothing is appended when it is invalid.
func AppendRequest(dst []byte, req *Request) ([]byte, error) {
	if req.Opcode.hasKey() {
		if err := ValidateKey(req.Key); err != nil {
			return dst, err
		}
	}

	if len(req.Extras) > 0xff {
		return dst, &ProtocolError{Message: "extras exceed 255 bytes"}
	}

	bodyLength := len(req.Extras) + len(req.Key) + len(req.Value)
	if bodyLength > MaxBodyLength {
		return dst, &ProtocolError{Message: "body length exceeds limit"}
	}

	h := Header{
		Magic:        MagicRequest,
		Opcode:       req.Opcode,
		KeyLength:    uint16(len(req.Key)),
		ExtrasLength: uint8(len(req.Extras)),
		Status:       Status(req.VBucket),
		BodyLength:   uint32(bodyLength),
		Opaque:       req.Opaque,
		CAS:          req.CAS,
	}

	dst = AppendHeader(dst, &h)
	dst = append(dst, req.Extras...)
	dst = append(dst, req.Key...)
	dst = append(dst, req.Value...)
	return dst, nil
}

// WriteRequest serializes req and writes it to w in a single Write call.
//
// Validation errors are returned before anything is written. Write errors are
// returned unchanged; the caller decides how to classify them.
// The writer is not flushed.
func WriteRequest(w io.Writer, req *Request) error {
	buf := getBuffer()
	defer putBuffer(buf)

	var err error
	*buf, err = AppendRequest(*buf, req)
	if err != nil {
		return err
	}

	_, err = w.Write(*buf)
	return err
}

// AppendResponse appends the wire form of resp to dst.
// Used by servers and test fixtures.
func AppendResponse(dst []byte, resp *Response) []byte {
	h := Header{
		Magic:        MagicResponse,
		Opcode:       resp.Opcode,
		KeyLength:    uint16(len(resp.Key)),
		ExtrasLength: uint8(len(resp.Extras)),
		DataType:     resp.DataType,
		Status:       resp.Status,
		BodyLength:   uint32(len(resp.Extras) + len(resp.Key) + len(resp.Value)),
		Opaque:       resp.Opaque,
		CAS:          resp.CAS,
	}

	dst = AppendHeader(dst, &h)
	dst = append(dst, resp.Extras...)
	dst = append(dst, resp.Key...)
	dst = append(dst, resp.Value...)
	return dst
}

// WriteResponse serializes resp and writes it to w.
func WriteResponse(w io.Writer, resp *Response) error {
	buf := getBuffer()
	defer putBuffer(buf)

	*buf = AppendResponse(*buf, resp)
	_, err := w.Write(*buf)
	return err
}
