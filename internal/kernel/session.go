// Package kernel owns a single kernel's execute/request lifecycle for one
// notebook. It translates raw protocol messages into the normalized
// output-event sequence each cell comparison consumes.
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbcheck/nbcheck/internal/output"
)

// Connection is the transport contract the session drives. Implementations
// own the wire protocol (gateway websocket in production, a scripted fake in
// tests).
//
// Next returns published output messages in arrival order. Arrival order is
// the comparison-relevant order for stream text.
type Connection interface {
	// Submit sends an execute request for source under the given message id.
	Submit(ctx context.Context, msgID, source string) error

	// Next blocks until the next published message arrives or ctx is done.
	Next(ctx context.Context) (Message, error)

	// Interrupt asks the kernel to interrupt the running cell, so a timed
	// out execution can still surface a traceback.
	Interrupt(ctx context.Context) error

	// Alive reports whether the kernel is believed to be running.
	Alive() bool

	// Close shuts the kernel down and releases the transport.
	Close() error
}

// Session drives cell execution against one kernel connection. A session is
// owned by a single notebook run and is not safe for concurrent use; cells
// within one notebook execute strictly in source order because execution is
// cumulative within the kernel.
type Session struct {
	conn   Connection
	logger *slog.Logger

	// cellTimeout is the wall-clock budget for one cell execution.
	cellTimeout time.Duration

	// interruptGrace is how long to keep draining output after an
	// interrupt, so the timeout failure can carry a traceback.
	interruptGrace time.Duration

	// execCount counts executions for diagnostics. Execution counts in
	// stored vs. produced output are never required to match.
	execCount int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCellTimeout sets the per-cell execution timeout.
func WithCellTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.cellTimeout = d }
}

// WithInterruptGrace sets how long output is drained after an interrupt.
func WithInterruptGrace(d time.Duration) SessionOption {
	return func(s *Session) { s.interruptGrace = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession wraps a connection with the execute/poll-until-idle loop.
func NewSession(conn Connection, opts ...SessionOption) *Session {
	s := &Session{
		conn:           conn,
		logger:         slog.Default(),
		cellTimeout:    30 * time.Second,
		interruptGrace: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExecCount returns the number of executions attempted so far.
func (s *Session) ExecCount() int {
	return s.execCount
}

// Close shuts down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Execute runs one cell's source and returns the raw output events in
// arrival order. The returned events are not yet coalesced; callers pass
// them through output.Normalize before comparison.
//
// Failure modes:
//   - CodeTimeout: the cell exceeded the wall-clock budget. The kernel is
//     interrupted and output is drained briefly so the error can carry a
//     traceback. Partial events collected so far are returned alongside.
//   - CodeDied: the connection failed or the kernel is gone. Fatal to the
//     remaining cells of the notebook.
func (s *Session) Execute(ctx context.Context, source string) ([]output.Record, error) {
	if !s.conn.Alive() {
		return nil, &Error{Code: CodeDied, Message: "kernel dead on execute"}
	}

	s.execCount++
	msgID := NewMessageID()
	s.logger.Debug("executing cell", "msg_id", msgID, "exec_count", s.execCount)

	if err := s.conn.Submit(ctx, msgID, source); err != nil {
		return nil, &Error{Code: CodeDied, Message: "submit failed", Err: err}
	}

	deadline := time.Now().Add(s.cellTimeout)
	var events []output.Record
	interrupted := false

	for {
		budget := time.Until(deadline)
		if budget <= 0 {
			if !interrupted {
				// Give the kernel a chance to surface a traceback
				// before declaring the timeout.
				interrupted = true
				if err := s.conn.Interrupt(ctx); err != nil {
					s.logger.Warn("interrupt failed", "error", err)
				}
				deadline = time.Now().Add(s.interruptGrace)
				continue
			}
			return events, &Error{
				Code:    CodeTimeout,
				Message: fmt.Sprintf("timeout of %s exceeded while executing cell", s.cellTimeout),
			}
		}

		recvCtx, cancel := context.WithTimeout(ctx, budget)
		msg, err := s.conn.Next(recvCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue // deadline handling at top of loop
			}
			if ctx.Err() != nil {
				return events, &Error{Code: CodeDied, Message: "execution cancelled", Err: ctx.Err()}
			}
			return events, &Error{Code: CodeDied, Message: "kernel connection lost", Err: err}
		}

		// Published output is correlated to this execution by parent id;
		// unrelated broadcasts are ignored.
		if msg.ParentID != msgID {
			continue
		}

		done, ev, err := s.handleMessage(msg)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		if done {
			if interrupted {
				return events, &Error{
					Code:    CodeTimeout,
					Message: fmt.Sprintf("timeout of %s exceeded while executing cell", s.cellTimeout),
				}
			}
			return events, nil
		}
	}
}

// handleMessage maps one protocol message to an output event. Returns
// done=true when the idle status for this execution is observed.
func (s *Session) handleMessage(msg Message) (done bool, ev *output.Record, err error) {
	switch msg.Type {
	case msgStatus:
		var c statusContent
		if err := json.Unmarshal(msg.Content, &c); err != nil {
			return false, nil, &Error{Code: CodeProtocol, Message: "malformed status message", Err: err}
		}
		return c.ExecutionState == "idle", nil, nil

	case msgStream:
		var c streamContent
		if err := json.Unmarshal(msg.Content, &c); err != nil {
			return false, nil, &Error{Code: CodeProtocol, Message: "malformed stream message", Err: err}
		}
		return false, &output.Record{Kind: output.KindStream, StreamName: c.Name, Text: c.Text}, nil

	case msgExecuteResult, msgDisplayData:
		var c dataContent
		if err := json.Unmarshal(msg.Content, &c); err != nil {
			return false, nil, &Error{Code: CodeProtocol, Message: "malformed data message", Err: err}
		}
		kind := output.KindExecuteResult
		if msg.Type == msgDisplayData {
			kind = output.KindDisplayData
		}
		return false, &output.Record{
			Kind:           kind,
			Data:           output.DecodeMIMEBundle(c.Data),
			ExecutionCount: c.ExecutionCount,
		}, nil

	case msgError:
		var c errorContent
		if err := json.Unmarshal(msg.Content, &c); err != nil {
			return false, nil, &Error{Code: CodeProtocol, Message: "malformed error message", Err: err}
		}
		return false, &output.Record{
			Kind:      output.KindError,
			Ename:     c.Ename,
			Evalue:    c.Evalue,
			Traceback: c.Traceback,
		}, nil

	case msgExecuteInput, msgExecuteReply:
		return false, nil, nil

	default:
		// comm_* and other broadcast types carry nothing comparable.
		s.logger.Debug("unhandled iopub message", "msg_type", msg.Type)
		return false, nil, nil
	}
}
