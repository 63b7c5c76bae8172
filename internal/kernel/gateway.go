package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// GatewayConfig describes how to reach a Jupyter Kernel Gateway (or a plain
// Jupyter server's kernel REST API).
type GatewayConfig struct {
	// URL is the server base URL, e.g. "http://localhost:8888".
	URL string

	// Token is an optional API token appended to requests.
	Token string

	// KernelName selects the kernel spec. Empty means the gateway default
	// (callers typically pass the name stored in the notebook).
	KernelName string

	// StartupTimeout bounds kernel launch plus channel attachment.
	// Kernel startup is typically much slower than cell execution, so this
	// is separate from the per-cell timeout.
	StartupTimeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// GatewayConnection is a Connection over a kernel gateway's REST + websocket
// API. The websocket multiplexes all protocol channels; the connection
// surfaces only the published-output side the session consumes.
type GatewayConnection struct {
	cfg      GatewayConfig
	client   *http.Client
	kernelID string
	session  string

	mu   sync.Mutex // guards ws writes and the dead flag
	ws   *websocket.Conn
	dead bool
}

// StartGatewayKernel launches a kernel on the gateway and attaches to its
// channels websocket.
func StartGatewayKernel(ctx context.Context, cfg GatewayConfig) (*GatewayConnection, error) {
	if cfg.URL == "" {
		return nil, &Error{Code: CodeStartup, Message: "gateway URL is required"}
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.StartupTimeout}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	conn := &GatewayConnection{
		cfg:     cfg,
		client:  client,
		session: uuid.NewString(),
	}
	if err := conn.launch(ctx); err != nil {
		return nil, err
	}
	if err := conn.attach(ctx); err != nil {
		conn.shutdownKernel()
		return nil, err
	}
	return conn, nil
}

// launch creates the kernel via POST /api/kernels.
func (g *GatewayConnection) launch(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"name": g.cfg.KernelName})
	if err != nil {
		return &Error{Code: CodeStartup, Message: "encode launch request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL("/api/kernels"), bytes.NewReader(body))
	if err != nil {
		return &Error{Code: CodeStartup, Message: "build launch request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &Error{Code: CodeStartup, Message: "kernel launch failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{
			Code:    CodeStartup,
			Message: fmt.Sprintf("kernel launch returned %s: %s", resp.Status, strings.TrimSpace(string(msg))),
		}
	}

	var launched struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&launched); err != nil {
		return &Error{Code: CodeStartup, Message: "decode launch response", Err: err}
	}
	if launched.ID == "" {
		return &Error{Code: CodeStartup, Message: "gateway returned empty kernel id"}
	}
	g.kernelID = launched.ID
	return nil
}

// attach dials the channels websocket for the launched kernel.
func (g *GatewayConnection) attach(ctx context.Context) error {
	wsURL, err := g.channelsURL()
	if err != nil {
		return &Error{Code: CodeStartup, Message: "build channels URL", Err: err}
	}

	dialer := websocket.Dialer{HandshakeTimeout: g.cfg.StartupTimeout}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		status := ""
		if resp != nil {
			status = " (" + resp.Status + ")"
		}
		return &Error{Code: CodeStartup, Message: "channels websocket dial failed" + status, Err: err}
	}
	g.ws = ws
	return nil
}

// apiURL joins the base URL, path, and optional token query parameter.
func (g *GatewayConnection) apiURL(path string) string {
	u := strings.TrimRight(g.cfg.URL, "/") + path
	if g.cfg.Token != "" {
		u += "?token=" + url.QueryEscape(g.cfg.Token)
	}
	return u
}

// channelsURL converts the base HTTP URL to the kernel's websocket endpoint.
func (g *GatewayConnection) channelsURL() (string, error) {
	u, err := url.Parse(g.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/kernels/" + g.kernelID + "/channels"
	q := u.Query()
	q.Set("session_id", g.session)
	if g.cfg.Token != "" {
		q.Set("token", g.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Submit implements Connection.
func (g *GatewayConnection) Submit(ctx context.Context, msgID, source string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dead || g.ws == nil {
		return fmt.Errorf("connection closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		g.ws.SetWriteDeadline(deadline)
	} else {
		g.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := g.ws.WriteJSON(newExecuteRequest(msgID, g.session, source)); err != nil {
		g.dead = true
		return fmt.Errorf("write execute request: %w", err)
	}
	return nil
}

// inboundMessage is the gateway websocket envelope for received messages.
type inboundMessage struct {
	Header struct {
		MsgType string `json:"msg_type"`
	} `json:"header"`
	ParentHeader struct {
		MsgID string `json:"msg_id"`
	} `json:"parent_header"`
	Content json.RawMessage `json:"content"`
	Channel string          `json:"channel"`
}

// Next implements Connection. It surfaces iopub traffic plus shell
// execute_reply messages; other channels are skipped.
func (g *GatewayConnection) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			g.ws.SetReadDeadline(deadline)
		} else {
			g.ws.SetReadDeadline(time.Time{})
		}

		var in inboundMessage
		if err := g.ws.ReadJSON(&in); err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			g.mu.Lock()
			g.dead = true
			g.mu.Unlock()
			return Message{}, fmt.Errorf("read channel message: %w", err)
		}
		if in.Channel != "" && in.Channel != "iopub" && in.Channel != "shell" {
			continue
		}
		return Message{
			Type:     in.Header.MsgType,
			ParentID: in.ParentHeader.MsgID,
			Channel:  in.Channel,
			Content:  in.Content,
		}, nil
	}
}

// Interrupt implements Connection via POST /api/kernels/{id}/interrupt.
func (g *GatewayConnection) Interrupt(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.apiURL("/api/kernels/"+g.kernelID+"/interrupt"), nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("interrupt kernel: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("interrupt kernel: %s", resp.Status)
	}
	return nil
}

// Alive implements Connection.
func (g *GatewayConnection) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.dead && g.ws != nil
}

// Close implements Connection: tears down the websocket and deletes the
// kernel from the gateway.
func (g *GatewayConnection) Close() error {
	g.mu.Lock()
	if g.ws != nil {
		g.ws.Close()
		g.ws = nil
	}
	g.dead = true
	g.mu.Unlock()

	return g.shutdownKernel()
}

// shutdownKernel deletes the kernel resource. Best effort: the gateway
// reaps idle kernels anyway.
func (g *GatewayConnection) shutdownKernel() error {
	if g.kernelID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		g.apiURL("/api/kernels/"+g.kernelID), nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("shutdown kernel: %w", err)
	}
	resp.Body.Close()
	return nil
}
