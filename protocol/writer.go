package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/scribelog/scribec/config"
)

// Writer encodes framed binary protocol messages. A message is accumulated
// in an internal buffer between WriteMessageBegin and EndMessage, then
// written to the underlying writer with its length prefix in one flush.
type Writer struct {
	conf *config.Config
	w    io.Writer
	buf  bytes.Buffer
	b    [8]byte
}

// NewWriter returns a new Writer that frames messages onto w.
func NewWriter(conf *config.Config, w io.Writer) *Writer {
	return &Writer{
		conf: conf,
		w:    w,
	}
}

// Reset discards any partially written message and replaces the underlying
// writer.
func (w *Writer) Reset(wr io.Writer) {
	w.w = wr
	w.buf.Reset()
}

// WriteMessageBegin starts a new message envelope. It writes the versioned
// header form.
func (w *Writer) WriteMessageBegin(name string, kind MessageKind, seq int32) {
	w.buf.Reset()
	w.writeI32(int32(uint32(version1) | uint32(kind)))
	w.WriteString(name)
	w.writeI32(seq)
}

// EndMessage frames the buffered message and flushes it to the underlying
// writer. This is the only path that puts bytes on the wire.
func (w *Writer) EndMessage() error {
	n := w.buf.Len()
	if n > w.conf.MaxFrameSize {
		return errors.Wrapf(errFrameTooLarge, "%d > %d", n, w.conf.MaxFrameSize)
	}

	binary.BigEndian.PutUint32(w.b[:4], uint32(n))
	if _, err := w.w.Write(w.b[:4]); err != nil {
		return errors.Wrap(err, "writing frame header")
	}
	if _, err := w.w.Write(w.buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing frame")
	}
	w.buf.Reset()

	if f, ok := w.w.(flusher); ok {
		return errors.Wrap(f.Flush(), "flushing frame")
	}
	return nil
}

type flusher interface {
	Flush() error
}

// WriteFieldBegin writes a field header.
func (w *Writer) WriteFieldBegin(typ Type, id int16) {
	w.buf.WriteByte(byte(typ))
	w.writeI16(id)
}

// WriteFieldStop terminates the current struct.
func (w *Writer) WriteFieldStop() {
	w.buf.WriteByte(byte(TypeStop))
}

// WriteListBegin writes a list header. Elements follow untagged.
func (w *Writer) WriteListBegin(elem Type, n int) {
	w.buf.WriteByte(byte(elem))
	w.writeI32(int32(n))
}

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.writeI32(int32(len(s)))
	w.buf.WriteString(s)
}

// WriteI32 writes a big-endian 32-bit signed integer.
func (w *Writer) WriteI32(v int32) {
	w.writeI32(v)
}

func (w *Writer) writeI32(v int32) {
	binary.BigEndian.PutUint32(w.b[:4], uint32(v))
	w.buf.Write(w.b[:4])
}

func (w *Writer) writeI16(v int16) {
	binary.BigEndian.PutUint16(w.b[:2], uint16(v))
	w.buf.Write(w.b[:2])
}
