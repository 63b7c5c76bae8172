package kernel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Jupyter messaging protocol message types consumed by the session loop.
// The full protocol is an external collaborator's concern; the session only
// needs "submit source, receive ordered output events, receive idle signal".
const (
	msgStatus        = "status"
	msgStream        = "stream"
	msgExecuteResult = "execute_result"
	msgDisplayData   = "display_data"
	msgError         = "error"
	msgExecuteInput  = "execute_input"
	msgExecuteReply  = "execute_reply"
)

// Message is one protocol message as seen by the session: the envelope
// fields the loop routes on, plus the undecoded content payload.
type Message struct {
	// Type is the protocol message type (status, stream, ...).
	Type string

	// ParentID correlates published output with the execute request that
	// caused it.
	ParentID string

	// Channel is the transport channel the message arrived on
	// (iopub, shell).
	Channel string

	// Content is the type-specific payload, decoded lazily per Type.
	Content json.RawMessage
}

// Typed content payloads.

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type dataContent struct {
	Data           map[string]json.RawMessage `json:"data"`
	ExecutionCount int                        `json:"execution_count"`
}

type errorContent struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// wireHeader is the outbound message header.
type wireHeader struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// wireMessage is the outbound envelope for gateway websocket transport.
type wireMessage struct {
	Header       wireHeader     `json:"header"`
	ParentHeader map[string]any `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Channel      string         `json:"channel"`
	Buffers      []any          `json:"buffers"`
}

// newExecuteRequest builds an execute_request envelope for the given source.
func newExecuteRequest(msgID, session, source string) wireMessage {
	return wireMessage{
		Header: wireHeader{
			MsgID:    msgID,
			MsgType:  "execute_request",
			Session:  session,
			Username: "nbcheck",
			Version:  "5.3",
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		ParentHeader: map[string]any{},
		Metadata:     map[string]any{},
		Content: map[string]any{
			"code":             source,
			"silent":           false,
			"store_history":    true,
			"user_expressions": map[string]any{},
			"allow_stdin":      false,
			"stop_on_error":    true,
		},
		Channel: "shell",
		Buffers: []any{},
	}
}

// NewMessageID returns a fresh protocol message id.
func NewMessageID() string {
	return uuid.NewString()
}
