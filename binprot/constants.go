package binprot

import "fmt"

// Magic identifies the direction of a frame.
type Magic uint8

const (
	MagicRequest  Magic = 0x80
	MagicResponse Magic = 0x81
)

const (
	// HeaderSize is the fixed size of every request and response header.
	HeaderSize = 24

	// MaxKeyLength is the largest key accepted by memcached.
	MaxKeyLength = 250

	// MaxBodyLength bounds the body length a peer may announce.
	// memcached refuses items above 1MB by default; larger limits are configurable
	// server side, 20MB leaves headroom while still rejecting garbage lengths.
	MaxBodyLength = 20 << 20

	// StoreExtrasLength is the extras size of Set/Add/Replace: flags (4) + expiration (4).
	StoreExtrasLength = 8

	// ArithmeticExtrasLength is the extras size of Increment/Decrement:
	// delta (8) + initial (8) + expiration (4).
	ArithmeticExtrasLength = 20
)

// Opcode identifies the requested operation.
type Opcode uint8

const (
	OpGet       Opcode = 0x00
	OpSet       Opcode = 0x01
	OpAdd       Opcode = 0x02
	OpReplace   Opcode = 0x03
	OpDelete    Opcode = 0x04
	OpIncrement Opcode = 0x05
	OpDecrement Opcode = 0x06
	OpQuit      Opcode = 0x07
	OpFlush     Opcode = 0x08
	OpGetQ      Opcode = 0x09
	OpNoOp      Opcode = 0x0a
	OpVersion   Opcode = 0x0b
	OpGetK      Opcode = 0x0c
	OpGetKQ     Opcode = 0x0d
	OpAppend    Opcode = 0x0e
	OpPrepend   Opcode = 0x0f
	OpSetQ      Opcode = 0x11
	OpAddQ      Opcode = 0x12
	OpReplaceQ  Opcode = 0x13
	OpDeleteQ   Opcode = 0x14
	OpTouch     Opcode = 0x1c
)

var opcodeNames = map[Opcode]string{
	OpGet:       "Get",
	OpSet:       "Set",
	OpAdd:       "Add",
	OpReplace:   "Replace",
	OpDelete:    "Delete",
	OpIncrement: "Increment",
	OpDecrement: "Decrement",
	OpQuit:      "Quit",
	OpFlush:     "Flush",
	OpGetQ:      "GetQ",
	OpNoOp:      "NoOp",
	OpVersion:   "Version",
	OpGetK:      "GetK",
	OpGetKQ:     "GetKQ",
	OpAppend:    "Append",
	OpPrepend:   "Prepend",
	OpSetQ:      "SetQ",
	OpAddQ:      "AddQ",
	OpReplaceQ:  "ReplaceQ",
	OpDeleteQ:   "DeleteQ",
	OpTouch:     "Touch",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// IsQuiet reports whether the server omits the response on success
// (and, for gets, on a miss).
func (o Opcode) IsQuiet() bool {
	switch o {
	case OpGetQ, OpGetKQ, OpSetQ, OpAddQ, OpReplaceQ, OpDeleteQ:
		return true
	}
	return false
}

// Status is the response status code.
type Status uint16

const (
	StatusSuccess          Status = 0x0000
	StatusKeyNotFound      Status = 0x0001
	StatusKeyExists        Status = 0x0002
	StatusValueTooLarge    Status = 0x0003
	StatusInvalidArguments Status = 0x0004
	StatusItemNotStored    Status = 0x0005
	StatusNonNumeric       Status = 0x0006
	StatusUnknownCommand   Status = 0x0081
	StatusOutOfMemory      Status = 0x0082
	StatusNotSupported     Status = 0x0083
	StatusInternalError    Status = 0x0084
	StatusBusy             Status = 0x0085
	StatusTemporaryFailure Status = 0x0086
)

var statusNames = map[Status]string{
	StatusSuccess:          "success",
	StatusKeyNotFound:      "key not found",
	StatusKeyExists:        "key exists",
	StatusValueTooLarge:    "value too large",
	StatusInvalidArguments: "invalid arguments",
	StatusItemNotStored:    "item not stored",
	StatusNonNumeric:       "incr/decr on non-numeric value",
	StatusUnknownCommand:   "unknown command",
	StatusOutOfMemory:      "out of memory",
	StatusNotSupported:     "not supported",
	StatusInternalError:    "internal error",
	StatusBusy:             "busy",
	StatusTemporaryFailure: "temporary failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%04x", uint16(s))
}
