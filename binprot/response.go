package binprot

import "encoding/binary"

// Response represents a parsed binary protocol response.
type Response struct {
	Opcode   Opcode
	Status   Status
	DataType uint8
	Extras   []byte
	Key      []byte
	Value    []byte
	CAS      uint64
	Opaque   uint32
}

// IsSuccess returns true for StatusSuccess.
func (r *Response) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// IsMiss returns true if the key does not exist.
func (r *Response) IsMiss() bool {
	return r.Status == StatusKeyNotFound
}

// IsRefused returns true for statuses the server uses to refuse a store
// for policy reasons: the request was understood but the item was not written.
func (r *Response) IsRefused() bool {
	switch r.Status {
	case StatusKeyExists, StatusValueTooLarge, StatusItemNotStored, StatusOutOfMemory, StatusNotSupported:
		return true
	}
	return false
}

// Flags returns the item flags carried in the extras of a Get response.
func (r *Response) Flags() uint32 {
	if len(r.Extras) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(r.Extras[:4])
}

// Counter returns the 64-bit counter carried in an Increment/Decrement response.
func (r *Response) Counter() (uint64, bool) {
	if len(r.Value) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(r.Value), true
}

// Err converts a non-success status into a *StatusError.
// The response body is used as message, servers put a description there.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &StatusError{Opcode: r.Opcode, Status: r.Status, Message: string(r.Value)}
}
