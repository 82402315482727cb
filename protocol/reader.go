package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/scribelog/scribec/config"
)

// Reader decodes framed binary protocol messages. ReadMessageBegin blocks
// until a full frame header is readable; subsequent reads are bounded by the
// current frame so a desynchronized decode can never run into the next
// message.
type Reader struct {
	conf *config.Config
	r    io.Reader
	rem  int
	b    [8]byte
}

// NewReader returns a new Reader that reads framed messages from r.
func NewReader(conf *config.Config, r io.Reader) *Reader {
	return &Reader{
		conf: conf,
		r:    r,
	}
}

// Reset discards any unread frame data and replaces the underlying reader.
func (r *Reader) Reset(rd io.Reader) {
	r.r = rd
	r.rem = 0
}

// ReadMessageBegin reads the next frame header and message envelope. It
// accepts both the versioned header and the old name-first form.
func (r *Reader) ReadMessageBegin() (string, MessageKind, int32, error) {
	if err := r.beginFrame(); err != nil {
		return "", 0, 0, err
	}

	head, err := r.ReadI32()
	if err != nil {
		return "", 0, 0, err
	}

	if head < 0 {
		// versioned header: version word, then name, then seqid
		if uint32(head)&versionMask != version1 {
			return "", 0, 0, errors.Wrapf(errBadVersion, "got %#08x", uint32(head))
		}
		kind := MessageKind(uint32(head) & 0xff)
		if !kind.valid() {
			return "", 0, 0, errors.Wrapf(errBadMessageKind, "got %d", kind)
		}
		name, err := r.readStringN(-1)
		if err != nil {
			return "", 0, 0, err
		}
		seq, err := r.ReadI32()
		return name, kind, seq, err
	}

	// old header: name length came first
	name, err := r.readStringN(int(head))
	if err != nil {
		return "", 0, 0, err
	}
	kindByte, err := r.readByte()
	if err != nil {
		return "", 0, 0, err
	}
	kind := MessageKind(kindByte)
	if !kind.valid() {
		return "", 0, 0, errors.Wrapf(errBadMessageKind, "got %d", kind)
	}
	seq, err := r.ReadI32()
	return name, kind, seq, err
}

// ReadMessageEnd discards whatever remains of the current frame, keeping the
// reader frame-aligned even when a struct was only partially consumed.
func (r *Reader) ReadMessageEnd() error {
	for r.rem > 0 {
		n := r.rem
		if n > len(r.b) {
			n = len(r.b)
		}
		if err := r.read(r.b[:n]); err != nil {
			return err
		}
	}
	return nil
}

// ReadFieldBegin reads a field header. It returns TypeStop when the current
// struct is terminated.
func (r *Reader) ReadFieldBegin() (Type, int16, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	typ := Type(b)
	if typ == TypeStop {
		return TypeStop, 0, nil
	}
	id, err := r.readI16()
	return typ, id, err
}

// ReadListBegin reads a list header.
func (r *Reader) ReadListBegin() (Type, int, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	n, err := r.ReadI32()
	if err != nil {
		return 0, 0, err
	}
	if n < 0 {
		return 0, 0, errors.Wrapf(errNegativeSize, "list of %d", n)
	}
	return Type(b), int(n), nil
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	return r.readStringN(-1)
}

func (r *Reader) readStringN(n int) (string, error) {
	if n < 0 {
		size, err := r.ReadI32()
		if err != nil {
			return "", err
		}
		if size < 0 {
			return "", errors.Wrapf(errNegativeSize, "string of %d", size)
		}
		n = int(size)
	}
	if n == 0 {
		return "", nil
	}
	p := make([]byte, n)
	if err := r.read(p); err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadI32 reads a big-endian 32-bit signed integer.
func (r *Reader) ReadI32() (int32, error) {
	if err := r.read(r.b[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(r.b[:4])), nil
}

func (r *Reader) readI16() (int16, error) {
	if err := r.read(r.b[:2]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(r.b[:2])), nil
}

func (r *Reader) readByte() (byte, error) {
	if err := r.read(r.b[:1]); err != nil {
		return 0, err
	}
	return r.b[0], nil
}

// Skip discards one value of the given type, recursing into containers.
// This is what makes unknown fields survivable.
func (r *Reader) Skip(typ Type) error {
	return r.skip(typ, 0)
}

func (r *Reader) skip(typ Type, depth int) error {
	if depth > maxSkipDepth {
		return errSkipDepth
	}

	switch typ {
	case TypeBool, TypeByte:
		return r.discard(1)
	case TypeI16:
		return r.discard(2)
	case TypeI32:
		return r.discard(4)
	case TypeI64, TypeDouble:
		return r.discard(8)
	case TypeString:
		size, err := r.ReadI32()
		if err != nil {
			return err
		}
		if size < 0 {
			return errors.Wrapf(errNegativeSize, "string of %d", size)
		}
		return r.discard(int(size))
	case TypeStruct:
		for {
			ftyp, _, err := r.ReadFieldBegin()
			if err != nil {
				return err
			}
			if ftyp == TypeStop {
				return nil
			}
			if err := r.skip(ftyp, depth+1); err != nil {
				return err
			}
		}
	case TypeList, TypeSet:
		elem, n, err := r.ReadListBegin()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := r.skip(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		ktypByte, err := r.readByte()
		if err != nil {
			return err
		}
		vtypByte, err := r.readByte()
		if err != nil {
			return err
		}
		n, err := r.ReadI32()
		if err != nil {
			return err
		}
		if n < 0 {
			return errors.Wrapf(errNegativeSize, "map of %d", n)
		}
		for i := int32(0); i < n; i++ {
			if err := r.skip(Type(ktypByte), depth+1); err != nil {
				return err
			}
			if err := r.skip(Type(vtypByte), depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Wrapf(errUnknownType, "tag %d", typ)
	}
}

func (r *Reader) discard(n int) error {
	for n > 0 {
		c := n
		if c > len(r.b) {
			c = len(r.b)
		}
		if err := r.read(r.b[:c]); err != nil {
			return err
		}
		n -= c
	}
	return nil
}

func (r *Reader) beginFrame() error {
	if r.rem > 0 {
		// previous message wasn't fully consumed
		if err := r.ReadMessageEnd(); err != nil {
			return err
		}
	}

	if _, err := io.ReadFull(r.r, r.b[:4]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(r.b[:4])
	if size == 0 {
		return errBadFrameSize
	}
	if int(size) > w32(r.conf.MaxFrameSize) {
		return errors.Wrapf(errFrameTooLarge, "%d > %d", size, r.conf.MaxFrameSize)
	}
	r.rem = int(size)
	return nil
}

func (r *Reader) read(p []byte) error {
	if len(p) > r.rem {
		return errors.Wrapf(errFrameUnderflow, "want %d, frame has %d", len(p), r.rem)
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		return err
	}
	r.rem -= len(p)
	return nil
}

func w32(n int) int {
	if n > 1<<31-1 {
		return 1<<31 - 1
	}
	return n
}
