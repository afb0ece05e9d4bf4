package binprot

import (
	"io"
)

// ReadResponse reads exactly one response frame from r.
//
// The header is read first; the body is then read with exactly the length the
// header announces, so a well-formed stream is never over-read.
//
// Returned errors:
//   - *ProtocolError: malformed header (bad magic, inconsistent lengths)
//   - io.EOF: the peer closed the connection before a new frame started
//   - io.ErrUnexpectedEOF and other I/O errors: the stream broke mid-frame
//
// I/O errors are returned unwrapped, the connection layer classifies them.
func ReadResponse(r io.Reader) (*Response, error) {
	h, body, err := readFrame(r, MagicResponse)
	if err != nil {
		return nil, err
	}
	return responseFromFrame(&h, body), nil
}

// DecodeResponse parses one response frame from b.
// It returns the number of bytes consumed. A short buffer is a ProtocolError.
func DecodeResponse(b []byte) (*Response, int, error) {
	h, err := ParseHeader(b, MagicResponse)
	if err != nil {
		return nil, 0, err
	}

	end := HeaderSize + int(h.BodyLength)
	if len(b) < end {
		return nil, 0, &ProtocolError{Message: "truncated body"}
	}

	body := make([]byte, h.BodyLength)
	copy(body, b[HeaderSize:end])

	return responseFromFrame(&h, body), end, nil
}

// ReadRequest reads exactly one request frame from r. Server side counterpart of ReadResponse.
func ReadRequest(r io.Reader) (*Request, error) {
	h, body, err := readFrame(r, MagicRequest)
	if err != nil {
		return nil, err
	}

	extrasEnd := int(h.ExtrasLength)
	keyEnd := extrasEnd + int(h.KeyLength)

	req := &Request{
		Opcode:  h.Opcode,
		Key:     string(body[extrasEnd:keyEnd]),
		CAS:     h.CAS,
		Opaque:  h.Opaque,
		VBucket: uint16(h.Status),
	}
	if extrasEnd > 0 {
		req.Extras = body[:extrasEnd]
	}
	if keyEnd < len(body) {
		req.Value = body[keyEnd:]
	}
	return req, nil
}

func readFrame(r io.Reader, want Magic) (Header, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Header{}, nil, err
	}

	h, err := ParseHeader(hb[:], want)
	if err != nil {
		return Header{}, nil, err
	}

	body := make([]byte, h.BodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Header{}, nil, err
	}

	return h, body, nil
}

func responseFromFrame(h *Header, body []byte) *Response {
	extrasEnd := int(h.ExtrasLength)
	keyEnd := extrasEnd + int(h.KeyLength)

	resp := &Response{
		Opcode:   h.Opcode,
		Status:   h.Status,
		DataType: h.DataType,
		CAS:      h.CAS,
		Opaque:   h.Opaque,
	}
	if extrasEnd > 0 {
		resp.Extras = body[:extrasEnd]
	}
	if keyEnd > extrasEnd {
		resp.Key = body[extrasEnd:keyEnd]
	}
	resp.Value = body[keyEnd:]
	return resp
}
