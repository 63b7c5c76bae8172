package output

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind distinguishes the output record variants.
type Kind int

const (
	// KindStream is text written to stdout or stderr during execution.
	KindStream Kind = iota + 1
	// KindExecuteResult is the value returned by the last expression of a cell.
	KindExecuteResult
	// KindDisplayData is rich output published via the display mechanism.
	KindDisplayData
	// KindError is an exception raised during cell execution.
	KindError
)

// String returns the wire name of the kind, matching the notebook format's
// output_type field.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindExecuteResult:
		return "execute_result"
	case KindDisplayData:
		return "display_data"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// KindFromString maps a notebook output_type to a Kind.
// Returns 0 for unrecognized types.
func KindFromString(s string) Kind {
	switch s {
	case "stream":
		return KindStream
	case "execute_result":
		return KindExecuteResult
	case "display_data":
		return KindDisplayData
	case "error":
		return KindError
	default:
		return 0
	}
}

// Record is one canonical cell output. It is a tagged variant: which fields
// are meaningful depends on Kind.
//
//   - KindStream: StreamName, Text
//   - KindExecuteResult: Data, ExecutionCount
//   - KindDisplayData: Data
//   - KindError: Ename, Evalue, Traceback
//
// Execution counts and tracebacks are carried for diagnostics only and are
// never part of output comparison.
type Record struct {
	Kind Kind

	// Stream fields.
	StreamName string
	Text       string

	// Rich data fields: mime type -> flattened textual content.
	Data           map[string]string
	ExecutionCount int

	// Error fields. Only the innermost raised exception is represented.
	Ename     string
	Evalue    string
	Traceback []string
}

// Clone returns a deep copy of the record. Comparison code mutates text
// fields during sanitization and must never alias the caller's data.
func (r Record) Clone() Record {
	out := r
	if r.Data != nil {
		out.Data = make(map[string]string, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v
		}
	}
	if r.Traceback != nil {
		out.Traceback = append([]string(nil), r.Traceback...)
	}
	return out
}

// DecodeMIMEBundle flattens a raw notebook/protocol mime bundle into
// mime type -> string content.
//
// The notebook format allows each mime value to be a plain string, a list of
// string fragments (joined with no separator), or arbitrary JSON for
// JSON-native mime types. JSON values are kept as their compact encoding.
func DecodeMIMEBundle(raw map[string]json.RawMessage) map[string]string {
	if raw == nil {
		return nil
	}
	data := make(map[string]string, len(raw))
	for mime, val := range raw {
		data[mime] = flattenJSONText(val)
	}
	return data
}

// flattenJSONText converts a raw JSON value to its textual content.
func flattenJSONText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "")
	}
	// JSON-native payload (e.g. application/json): keep compact form.
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
