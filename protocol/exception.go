package protocol

import "fmt"

// Application exception codes, matching the collector's protocol library.
const (
	ExcUnknown            int32 = 0
	ExcUnknownMethod      int32 = 1
	ExcInvalidMessageKind int32 = 2
	ExcWrongMethodName    int32 = 3
	ExcBadSequenceID      int32 = 4
	ExcMissingResult      int32 = 5
)

// ApplicationException is the structured exception carried by an EXCEPTION
// message: field 1 is the message, field 2 the code.
type ApplicationException struct {
	Message string
	Code    int32
}

func (e *ApplicationException) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("application exception (code %d)", e.Code)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

const (
	excMessageField = 1
	excCodeField    = 2
)

// WriteTo encodes the exception struct onto w. The caller owns the message
// envelope.
func (e *ApplicationException) WriteTo(w *Writer) {
	if e.Message != "" {
		w.WriteFieldBegin(TypeString, excMessageField)
		w.WriteString(e.Message)
	}
	w.WriteFieldBegin(TypeI32, excCodeField)
	w.WriteI32(e.Code)
	w.WriteFieldStop()
}

// ReadApplicationException decodes an exception struct from r. Unknown
// fields are skipped.
func ReadApplicationException(r *Reader) (*ApplicationException, error) {
	e := &ApplicationException{}
	for {
		typ, id, err := r.ReadFieldBegin()
		if err != nil {
			return nil, err
		}
		if typ == TypeStop {
			return e, nil
		}

		switch {
		case id == excMessageField && typ == TypeString:
			e.Message, err = r.ReadString()
		case id == excCodeField && typ == TypeI32:
			e.Code, err = r.ReadI32()
		default:
			err = r.Skip(typ)
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteException writes a complete EXCEPTION message for seq.
func WriteException(w *Writer, name string, seq int32, e *ApplicationException) error {
	w.WriteMessageBegin(name, Exception, seq)
	e.WriteTo(w)
	return w.EndMessage()
}
