package protocol

// the wire format is the thrift framed binary protocol. every message is a
// 4-byte big-endian length followed by that many bytes of binary protocol
// data:
//
// <length u32><message>
//
// a message is a header followed by exactly one struct:
//
// <version|kind i32><name string><seqid i32><struct>
//
// old clients omit the version word and lead with the name; reads accept
// both forms, writes always produce the versioned form.
//
// a struct is a sequence of fields terminated by a stop byte:
//
// <type u8><id i16><value>...<0x00>
//
// absent optional fields are omitted entirely. unknown field ids and types
// are skipped, not rejected, so either side can grow new fields without
// breaking the other.
//
// a list is <elemtype u8><count i32> followed by count untagged elements. a
// string is <len i32> followed by the raw bytes.

import (
	"github.com/pkg/errors"
)

const version1 = 0x80010000
const versionMask = 0xffff0000

// max nesting for Skip. structs on this wire are shallow; anything deeper is
// garbage or an attack.
const maxSkipDepth = 64

var errBadVersion = errors.New("bad protocol version")
var errBadFrameSize = errors.New("invalid frame size")
var errFrameTooLarge = errors.New("frame exceeds max size")
var errFrameUnderflow = errors.New("read past end of frame")
var errNegativeSize = errors.New("negative size")
var errBadMessageKind = errors.New("invalid message kind")
var errSkipDepth = errors.New("skip depth exceeded")
var errUnknownType = errors.New("unknown type tag")

// MessageKind is the envelope message kind.
type MessageKind byte

// Message kinds. Call carries arguments toward the collector, Reply and
// Exception come back.
const (
	Call      MessageKind = 1
	Reply     MessageKind = 2
	Exception MessageKind = 3
)

func (k MessageKind) String() string {
	switch k {
	case Call:
		return "CALL"
	case Reply:
		return "REPLY"
	case Exception:
		return "EXCEPTION"
	default:
		return "<invalid MessageKind value>"
	}
}

func (k MessageKind) valid() bool {
	return k >= Call && k <= Exception
}

// Type is a field type tag.
type Type byte

// Field type tags. TypeStop terminates a struct.
const (
	TypeStop   Type = 0
	TypeBool   Type = 2
	TypeByte   Type = 3
	TypeDouble Type = 4
	TypeI16    Type = 6
	TypeI32    Type = 8
	TypeI64    Type = 10
	TypeString Type = 11
	TypeStruct Type = 12
	TypeMap    Type = 13
	TypeSet    Type = 14
	TypeList   Type = 15
)

func (t Type) String() string {
	switch t {
	case TypeStop:
		return "STOP"
	case TypeBool:
		return "BOOL"
	case TypeByte:
		return "BYTE"
	case TypeDouble:
		return "DOUBLE"
	case TypeI16:
		return "I16"
	case TypeI32:
		return "I32"
	case TypeI64:
		return "I64"
	case TypeString:
		return "STRING"
	case TypeStruct:
		return "STRUCT"
	case TypeMap:
		return "MAP"
	case TypeSet:
		return "SET"
	case TypeList:
		return "LIST"
	default:
		return "<invalid Type value>"
	}
}
