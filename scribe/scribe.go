// Package scribe implements the collector's Log method:
//
//	Log(messages: list<LogEntry>) -> ResultCode
//
// The method set is closed; adding a method means adding codec functions
// here and a dispatch arm in the client read loop, not a string-keyed
// handler table.
package scribe

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/scribelog/scribec/protocol"
)

// MethodLog is the wire name of the log submission call.
const MethodLog = "Log"

// ResultCode is the collector's reply status. Values other than OK and
// TryLater are collector-defined and opaque to this client.
type ResultCode int32

const (
	// OK means the batch was accepted.
	OK ResultCode = 0
	// TryLater means the collector is overloaded and the caller should back
	// off. This client does not retry on its own.
	TryLater ResultCode = 1
)

func (c ResultCode) String() string {
	switch c {
	case OK:
		return "OK"
	case TryLater:
		return "TRY_LATER"
	default:
		return fmt.Sprintf("ResultCode(%d)", int32(c))
	}
}

// LogEntry is one categorized log line. Batch order is emission order and is
// preserved end to end.
type LogEntry struct {
	Category string
	Message  string
}

func (e LogEntry) String() string {
	return fmt.Sprintf("LogEntry<%s: %q>", e.Category, e.Message)
}

// ErrMissingResult is returned when a reply struct arrives without its
// result field. Distinct from a collector exception: the reply was
// well-formed, just empty.
var ErrMissingResult = errors.New("log failed: unknown result")

const (
	logArgsMessagesField  = 1
	logEntryCategoryField = 1
	logEntryMessageField  = 2
	logResultSuccessField = 0
)

// WriteLogCall encodes a complete CALL message for a batch of entries and
// flushes it.
func WriteLogCall(w *protocol.Writer, seq int32, entries []LogEntry) error {
	w.WriteMessageBegin(MethodLog, protocol.Call, seq)
	w.WriteFieldBegin(protocol.TypeList, logArgsMessagesField)
	w.WriteListBegin(protocol.TypeStruct, len(entries))
	for _, e := range entries {
		writeEntry(w, e)
	}
	w.WriteFieldStop()
	return w.EndMessage()
}

func writeEntry(w *protocol.Writer, e LogEntry) {
	w.WriteFieldBegin(protocol.TypeString, logEntryCategoryField)
	w.WriteString(e.Category)
	w.WriteFieldBegin(protocol.TypeString, logEntryMessageField)
	w.WriteString(e.Message)
	w.WriteFieldStop()
}

// ReadLogArgs decodes the argument struct of a Log call. The caller has
// already consumed the message envelope. Unknown fields are skipped.
func ReadLogArgs(r *protocol.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	for {
		typ, id, err := r.ReadFieldBegin()
		if err != nil {
			return nil, err
		}
		if typ == protocol.TypeStop {
			return entries, nil
		}

		if id == logArgsMessagesField && typ == protocol.TypeList {
			entries, err = readEntries(r)
		} else {
			err = r.Skip(typ)
		}
		if err != nil {
			return nil, err
		}
	}
}

func readEntries(r *protocol.Reader) ([]LogEntry, error) {
	elem, n, err := r.ReadListBegin()
	if err != nil {
		return nil, err
	}
	entries := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		if elem != protocol.TypeStruct {
			if err := r.Skip(elem); err != nil {
				return nil, err
			}
			continue
		}
		e, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readEntry(r *protocol.Reader) (LogEntry, error) {
	var e LogEntry
	for {
		typ, id, err := r.ReadFieldBegin()
		if err != nil {
			return e, err
		}
		if typ == protocol.TypeStop {
			return e, nil
		}

		switch {
		case id == logEntryCategoryField && typ == protocol.TypeString:
			e.Category, err = r.ReadString()
		case id == logEntryMessageField && typ == protocol.TypeString:
			e.Message, err = r.ReadString()
		default:
			err = r.Skip(typ)
		}
		if err != nil {
			return e, err
		}
	}
}

// ReadLogResult decodes the result struct of a Log reply. It returns
// ErrMissingResult when the struct is well-formed but carries no result
// field. The caller has already consumed the message envelope.
func ReadLogResult(r *protocol.Reader) (ResultCode, error) {
	var code ResultCode
	present := false
	for {
		typ, id, err := r.ReadFieldBegin()
		if err != nil {
			return 0, err
		}
		if typ == protocol.TypeStop {
			break
		}

		if id == logResultSuccessField && typ == protocol.TypeI32 {
			v, rerr := r.ReadI32()
			if rerr != nil {
				return 0, rerr
			}
			code = ResultCode(v)
			present = true
		} else if err := r.Skip(typ); err != nil {
			return 0, err
		}
	}

	if !present {
		return 0, ErrMissingResult
	}
	return code, nil
}

// WriteLogReply encodes a complete REPLY message carrying a result code.
// Used by the collector side of the exchange; clients only decode replies.
func WriteLogReply(w *protocol.Writer, seq int32, code ResultCode) error {
	w.WriteMessageBegin(MethodLog, protocol.Reply, seq)
	w.WriteFieldBegin(protocol.TypeI32, logResultSuccessField)
	w.WriteI32(int32(code))
	w.WriteFieldStop()
	return w.EndMessage()
}

// WriteEmptyLogReply encodes a REPLY whose result struct has no fields.
// Decodes as a missing result; exists for collector testing.
func WriteEmptyLogReply(w *protocol.Writer, seq int32) error {
	w.WriteMessageBegin(MethodLog, protocol.Reply, seq)
	w.WriteFieldStop()
	return w.EndMessage()
}
