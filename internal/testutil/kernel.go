// Package testutil provides deterministic helpers for tests: a scripted
// kernel connection that replays canned protocol messages, and notebook
// builders.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nbcheck/nbcheck/internal/kernel"
)

// Script is the canned response to one execute request: the published
// messages emitted for that request, in order. The parent id is filled in
// with the submitted message id at replay time.
type Script struct {
	Messages []ScriptMessage

	// Hang, if true, emits the messages and then blocks until the read
	// context expires, simulating a cell that never reaches idle.
	Hang bool

	// SubmitErr, if set, fails the submit itself (transport loss).
	SubmitErr error

	// DieAfter, if true, fails the read after the messages are drained,
	// simulating a kernel crash mid-execution.
	DieAfter bool
}

// ScriptMessage is one canned published message.
type ScriptMessage struct {
	Type    string
	Content any
}

// Busy/Idle status messages bracketing an execution.
func Busy() ScriptMessage {
	return ScriptMessage{Type: "status", Content: map[string]any{"execution_state": "busy"}}
}

func Idle() ScriptMessage {
	return ScriptMessage{Type: "status", Content: map[string]any{"execution_state": "idle"}}
}

// Stream builds a stream output message.
func Stream(name, text string) ScriptMessage {
	return ScriptMessage{Type: "stream", Content: map[string]any{"name": name, "text": text}}
}

// ExecuteResult builds an execute_result message with text/plain content.
func ExecuteResult(plain string, count int) ScriptMessage {
	return ScriptMessage{Type: "execute_result", Content: map[string]any{
		"data":            map[string]any{"text/plain": plain},
		"execution_count": count,
	}}
}

// DisplayData builds a display_data message from a mime bundle.
func DisplayData(data map[string]any) ScriptMessage {
	return ScriptMessage{Type: "display_data", Content: map[string]any{"data": data}}
}

// ErrorMsg builds an error message.
func ErrorMsg(ename, evalue string, traceback ...string) ScriptMessage {
	if traceback == nil {
		traceback = []string{}
	}
	return ScriptMessage{Type: "error", Content: map[string]any{
		"ename": ename, "evalue": evalue, "traceback": traceback,
	}}
}

// RunScript is the common happy-path script: busy, the given outputs, idle.
func RunScript(messages ...ScriptMessage) Script {
	all := append([]ScriptMessage{Busy()}, messages...)
	all = append(all, Idle())
	return Script{Messages: all}
}

// ScriptedConnection replays one Script per Submit call, in order.
// Implements kernel.Connection.
type ScriptedConnection struct {
	mu      sync.Mutex
	scripts []Script

	pending    []kernel.Message
	current    *Script
	submits    int
	dead       bool
	hanging    bool
	interrupts int
}

// NewScriptedConnection builds a connection that replays the given scripts.
func NewScriptedConnection(scripts ...Script) *ScriptedConnection {
	return &ScriptedConnection{scripts: scripts}
}

// Submits returns how many execute requests were submitted.
func (c *ScriptedConnection) Submits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

// Interrupts returns how many interrupts were requested.
func (c *ScriptedConnection) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupts
}

// Submit implements kernel.Connection.
func (c *ScriptedConnection) Submit(ctx context.Context, msgID, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return fmt.Errorf("connection closed")
	}
	if len(c.scripts) == 0 {
		return fmt.Errorf("unexpected submit: no scripts left")
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]
	c.submits++

	if script.SubmitErr != nil {
		c.dead = true
		return script.SubmitErr
	}

	c.current = &script
	c.hanging = script.Hang
	c.pending = c.pending[:0]
	for _, m := range script.Messages {
		content, err := json.Marshal(m.Content)
		if err != nil {
			return fmt.Errorf("marshal scripted content: %w", err)
		}
		c.pending = append(c.pending, kernel.Message{
			Type:     m.Type,
			ParentID: msgID,
			Channel:  "iopub",
			Content:  content,
		})
	}
	return nil
}

// Next implements kernel.Connection.
func (c *ScriptedConnection) Next(ctx context.Context) (kernel.Message, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return msg, nil
	}
	if c.current != nil && c.current.DieAfter {
		c.dead = true
		c.mu.Unlock()
		return kernel.Message{}, fmt.Errorf("kernel connection reset")
	}
	hanging := c.hanging
	c.mu.Unlock()

	if hanging {
		<-ctx.Done()
		return kernel.Message{}, ctx.Err()
	}
	return kernel.Message{}, fmt.Errorf("unexpected read: script exhausted")
}

// Interrupt implements kernel.Connection. A hanging script stays hung: the
// session's grace period then expires into a timeout, which is the behavior
// timeout tests exercise.
func (c *ScriptedConnection) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
	return nil
}

// Alive implements kernel.Connection.
func (c *ScriptedConnection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

// Close implements kernel.Connection.
func (c *ScriptedConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
	return nil
}

// Kill marks the connection dead, as if the kernel process vanished.
func (c *ScriptedConnection) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
}
