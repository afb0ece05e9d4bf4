package binprot

import "encoding/binary"

// Header is the fixed 24-byte frame header.
//
//	Byte/     0       |       1       |       2       |       3       |
//	   /              |               |               |               |
//	  |0 1 2 3 4 5 6 7|0 1 2 3 4 5 6 7|0 1 2 3 4 5 6 7|0 1 2 3 4 5 6 7|
//	  +---------------+---------------+---------------+---------------+
//	 0| Magic         | Opcode        | Key length                    |
//	  +---------------+---------------+---------------+---------------+
//	 4| Extras length | Data type     | Status / vbucket id           |
//	  +---------------+---------------+---------------+---------------+
//	 8| Total body length                                             |
//	  +---------------+---------------+---------------+---------------+
//	12| Opaque                                                        |
//	  +---------------+---------------+---------------+---------------+
//	16| CAS                                                           |
//	  |                                                               |
//	  +---------------+---------------+---------------+---------------+
type Header struct {
	Magic        Magic
	Opcode       Opcode
	KeyLength    uint16
	ExtrasLength uint8
	DataType     uint8
	// Status holds the vbucket id on requests and the status code on responses.
	Status     Status
	BodyLength uint32
	Opaque     uint32
	CAS        uint64
}

// ValueLength returns the length of the value section announced by the header.
func (h *Header) ValueLength() int {
	return int(h.BodyLength) - int(h.KeyLength) - int(h.ExtrasLength)
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h *Header) []byte {
	dst = append(dst, byte(h.Magic), byte(h.Opcode))
	dst = binary.BigEndian.AppendUint16(dst, h.KeyLength)
	dst = append(dst, h.ExtrasLength, h.DataType)
	dst = binary.BigEndian.AppendUint16(dst, uint16(h.Status))
	dst = binary.BigEndian.AppendUint32(dst, h.BodyLength)
	dst = binary.BigEndian.AppendUint32(dst, h.Opaque)
	dst = binary.BigEndian.AppendUint64(dst, h.CAS)
	return dst
}

// ParseHeader decodes a header from the first HeaderSize bytes of b.
//
// It checks the magic byte against want and that the section lengths are
// consistent with the body length, so the caller can read exactly
// BodyLength more bytes.
func ParseHeader(b []byte, want Magic) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &ProtocolError{Message: "truncated header"}
	}

	h := Header{
		Magic:        Magic(b[0]),
		Opcode:       Opcode(b[1]),
		KeyLength:    binary.BigEndian.Uint16(b[2:4]),
		ExtrasLength: b[4],
		DataType:     b[5],
		Status:       Status(binary.BigEndian.Uint16(b[6:8])),
		BodyLength:   binary.BigEndian.Uint32(b[8:12]),
		Opaque:       binary.BigEndian.Uint32(b[12:16]),
		CAS:          binary.BigEndian.Uint64(b[16:24]),
	}

	if h.Magic != want {
		return Header{}, &ProtocolError{Message: "unexpected magic byte"}
	}
	if h.BodyLength > MaxBodyLength {
		return Header{}, &ProtocolError{Message: "body length exceeds limit"}
	}
	if uint32(h.KeyLength)+uint32(h.ExtrasLength) > h.BodyLength {
		return Header{}, &ProtocolError{Message: "key and extras exceed body length"}
	}

	return h, nil
}
