package binprot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRequest_Get(t *testing.T) {
	req := NewGetRequest("Hello")
	req.Opaque = 0xdeadbeef

	got, err := AppendRequest(nil, req)
	require.NoError(t, err)

	expected := []byte{
		0x80, 0x00, 0x00, 0x05,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x05,
		0xde, 0xad, 0xbe, 0xef,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		'H', 'e', 'l', 'l', 'o',
	}
	assert.Equal(t, expected, got)
}

func TestAppendRequest_Set(t *testing.T) {
	req := NewStoreRequest(OpSet, "Hello", []byte("World"), 0xdeadbeef, 3600)

	got, err := AppendRequest(nil, req)
	require.NoError(t, err)

	require.Len(t, got, HeaderSize+8+5+5)

	h, err := ParseHeader(got, MagicRequest)
	require.NoError(t, err)
	assert.Equal(t, OpSet, h.Opcode)
	assert.Equal(t, uint16(5), h.KeyLength)
	assert.Equal(t, uint8(8), h.ExtrasLength)
	assert.Equal(t, uint32(18), h.BodyLength)
	assert.Equal(t, 5, h.ValueLength())

	body := got[HeaderSize:]
	assert.Equal(t, uint32(0xdeadbeef), binary.BigEndian.Uint32(body[0:4]))
	assert.Equal(t, uint32(3600), binary.BigEndian.Uint32(body[4:8]))
	assert.Equal(t, "Hello", string(body[8:13]))
	assert.Equal(t, "World", string(body[13:]))
}

func TestAppendRequest_NoOpHasNoKey(t *testing.T) {
	got, err := AppendRequest(nil, NewNoOpRequest())
	require.NoError(t, err)
	require.Len(t, got, HeaderSize)
	assert.Equal(t, byte(OpNoOp), got[1])
}

func TestAppendRequest_Arithmetic(t *testing.T) {
	req := NewArithmeticRequest(OpIncrement, "counter", 1, 10, 0)
	got, err := AppendRequest(nil, req)
	require.NoError(t, err)

	body := got[HeaderSize:]
	assert.Equal(t, uint64(1), binary.BigEndian.Uint64(body[0:8]))
	assert.Equal(t, uint64(10), binary.BigEndian.Uint64(body[8:16]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(body[16:20]))
	assert.Equal(t, "counter", string(body[20:]))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"simple", "mykey", true},
		{"max length", strings.Repeat("a", MaxKeyLength), true},
		{"unicode", "clé", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxKeyLength+1), false},
		{"space", "my key", true},
		{"newline", "my\nkey", true},
		{"nul", "my\x00key", true},
		{"binary", "\xff\xfe\x7f", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				require.NoError(t, err)
				return
			}

			var keyErr *InvalidKeyError
			require.ErrorAs(t, err, &keyErr)
			assert.False(t, ShouldCloseConnection(err))
		})
	}
}

func TestWriteRequest_InvalidKeyWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRequest(&buf, NewGetRequest(""))
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestReadResponse_Get(t *testing.T) {
	frame := AppendResponse(nil, &Response{
		Opcode: OpGet,
		Extras: binary.BigEndian.AppendUint32(nil, 0x10),
		Value:  []byte("World"),
		CAS:    42,
		Opaque: 7,
	})

	resp, err := ReadResponse(bytes.NewReader(frame))
	require.NoError(t, err)

	assert.Equal(t, OpGet, resp.Opcode)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, uint32(0x10), resp.Flags())
	assert.Equal(t, []byte("World"), resp.Value)
	assert.Nil(t, resp.Key)
	assert.Equal(t, uint64(42), resp.CAS)
	assert.Equal(t, uint32(7), resp.Opaque)
}

func TestReadResponse_Miss(t *testing.T) {
	frame := AppendResponse(nil, &Response{
		Opcode: OpGet,
		Status: StatusKeyNotFound,
		Value:  []byte("Not found"),
	})

	resp, err := ReadResponse(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.True(t, resp.IsMiss())

	var statusErr *StatusError
	require.ErrorAs(t, resp.Err(), &statusErr)
	assert.Equal(t, StatusKeyNotFound, statusErr.Status)
	assert.Equal(t, "Not found", statusErr.Message)
	assert.False(t, ShouldCloseConnection(statusErr))
}

func TestReadResponse_Counter(t *testing.T) {
	frame := AppendResponse(nil, &Response{
		Opcode: OpIncrement,
		Value:  binary.BigEndian.AppendUint64(nil, 11),
	})

	resp, err := ReadResponse(bytes.NewReader(frame))
	require.NoError(t, err)

	v, ok := resp.Counter()
	require.True(t, ok)
	assert.Equal(t, uint64(11), v)
}

func TestReadResponse_ReadsExactlyOneFrame(t *testing.T) {
	var stream []byte
	stream = AppendResponse(stream, &Response{Opcode: OpGetKQ, Key: []byte("a"), Value: []byte("1")})
	stream = AppendResponse(stream, &Response{Opcode: OpGetKQ, Key: []byte("b"), Value: []byte("22")})
	stream = AppendResponse(stream, &Response{Opcode: OpNoOp})

	r := bufio.NewReader(bytes.NewReader(stream))

	first, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, "a", string(first.Key))
	assert.Equal(t, "1", string(first.Value))

	second, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, "b", string(second.Key))
	assert.Equal(t, "22", string(second.Value))

	third, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, OpNoOp, third.Opcode)

	_, err = ReadResponse(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadResponse_EmptyValue(t *testing.T) {
	frame := AppendResponse(nil, &Response{
		Opcode: OpGet,
		Extras: binary.BigEndian.AppendUint32(nil, 0),
	})

	resp, err := ReadResponse(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.NotNil(t, resp.Value)
	assert.Empty(t, resp.Value)
}

func TestReadResponse_Errors(t *testing.T) {
	valid := AppendResponse(nil, &Response{Opcode: OpGet, Value: []byte("World")})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadResponse(bytes.NewReader(valid[:10]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := ReadResponse(bytes.NewReader(valid[:len(valid)-2]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("header without body", func(t *testing.T) {
		_, err := ReadResponse(bytes.NewReader(valid[:HeaderSize]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("request magic", func(t *testing.T) {
		bad := bytes.Clone(valid)
		bad[0] = byte(MagicRequest)
		_, err := ReadResponse(bytes.NewReader(bad))
		assert.True(t, IsProtocolError(err))
		assert.True(t, ShouldCloseConnection(err))
	})

	t.Run("key longer than body", func(t *testing.T) {
		bad := bytes.Clone(valid)
		binary.BigEndian.PutUint16(bad[2:4], 100)
		_, err := ReadResponse(bytes.NewReader(bad))
		assert.True(t, IsProtocolError(err))
	})

	t.Run("body too large", func(t *testing.T) {
		bad := bytes.Clone(valid)
		binary.BigEndian.PutUint32(bad[8:12], MaxBodyLength+1)
		_, err := ReadResponse(bytes.NewReader(bad))
		assert.True(t, IsProtocolError(err))
	})
}

func TestDecodeResponse(t *testing.T) {
	frame := AppendResponse(nil, &Response{Opcode: OpDelete, Status: StatusKeyNotFound})
	frame = append(frame, 0xff, 0xff)

	resp, n, err := DecodeResponse(frame)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n)
	assert.True(t, resp.IsMiss())

	_, _, err = DecodeResponse(frame[:HeaderSize-1])
	assert.True(t, IsProtocolError(err))

	withBody := AppendResponse(nil, &Response{Opcode: OpGet, Value: []byte("abc")})
	_, _, err = DecodeResponse(withBody[:len(withBody)-1])
	assert.True(t, IsProtocolError(err))
}

func TestReadRequest_RoundTrip(t *testing.T) {
	req := NewStoreRequest(OpSet, "key", []byte("value"), 0x02, 60)
	req.CAS = 99
	req.Opaque = 3

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestReadRequest_RejectsResponseMagic(t *testing.T) {
	frame := AppendResponse(nil, &Response{Opcode: OpNoOp})
	_, err := ReadRequest(bytes.NewReader(frame))
	assert.True(t, IsProtocolError(err))
}

func TestExpiration(t *testing.T) {
	assert.Equal(t, uint32(0), Expiration(0))
	assert.Equal(t, uint32(0), Expiration(-time.Second))
	assert.Equal(t, uint32(1), Expiration(time.Millisecond))
	assert.Equal(t, uint32(60), Expiration(time.Minute))
	assert.Equal(t, uint32(relativeExpirationLimit), Expiration(30*24*time.Hour))

	abs := Expiration(31 * 24 * time.Hour)
	assert.Greater(t, abs, uint32(time.Now().Unix()))
}

func TestShouldCloseConnection(t *testing.T) {
	assert.False(t, ShouldCloseConnection(nil))
	assert.True(t, ShouldCloseConnection(&ProtocolError{Message: "x"}))
	assert.True(t, ShouldCloseConnection(&ConnectionError{Op: "read", Err: io.EOF}))
	assert.False(t, ShouldCloseConnection(&InvalidKeyError{Message: "x"}))
	assert.False(t, ShouldCloseConnection(&StatusError{Status: StatusKeyExists}))
	assert.True(t, ShouldCloseConnection(errors.New("unknown")))

	connErr := &ConnectionError{Op: "read", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, connErr, io.ErrUnexpectedEOF)
	assert.True(t, IsConnectionError(connErr))
	assert.False(t, IsProtocolError(connErr))
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "GetKQ", OpGetKQ.String())
	assert.Equal(t, "Opcode(0xfe)", Opcode(0xfe).String())
	assert.True(t, OpSetQ.IsQuiet())
	assert.False(t, OpSet.IsQuiet())
	assert.Equal(t, "key not found", StatusKeyNotFound.String())
}
