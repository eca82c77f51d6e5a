// Package wsface implements a WebSocket façade that lets a remote client
// drive the same Orchestrator a local terminal renderer would. One
// connection maps to one session id; each connection gets its own
// read/write pump pair.
package wsface

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tcdent/codey/internal/orchestrator"
)

const (
	maxPayloadBytes = 1 << 20
	tickInterval    = 15 * time.Second
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
)

// ClientMessageType discriminates the client→server messages.
type ClientMessageType string

const (
	ClientSendMessage  ClientMessageType = "send_message"
	ClientToolDecision ClientMessageType = "tool_decision"
	ClientCancel       ClientMessageType = "cancel"
	ClientGetHistory   ClientMessageType = "get_history"
	ClientGetState     ClientMessageType = "get_state"
	ClientPing         ClientMessageType = "ping"
)

// ServerMessageType discriminates the server→client messages: Agent
// steps and Tool executor events mirrored over the wire, plus the two
// connection-lifecycle messages below.
type ServerMessageType string

const (
	ServerConnected     ServerMessageType = "connected"
	ServerPong          ServerMessageType = "pong"
	ServerAgentStep     ServerMessageType = "agent_step"
	ServerToolEvent     ServerMessageType = "tool_event"
	ServerAlert         ServerMessageType = "alert"
	ServerHistory       ServerMessageType = "history"
	ServerState         ServerMessageType = "state"
)

// ClientFrame is one client→server message.
type ClientFrame struct {
	Type            ClientMessageType `json:"type"`
	Content         string            `json:"content,omitempty"`
	CallID          string            `json:"call_id,omitempty"`
	Approved        bool              `json:"approved,omitempty"`
}

// ServerFrame is one server→client message.
type ServerFrame struct {
	Type      ServerMessageType `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Payload   any               `json:"payload,omitempty"`
}

// Connection is the wsface-facing command surface of an Orchestrator; it
// is the same contract a terminal renderer drives, so the façade and the
// local renderer never diverge in what they can ask of the core.
type Connection interface {
	EnqueueUserMessage(text string)
	Decide(callID string, approve bool)
	Cancel()
}

// Handler is an http.Handler that upgrades to a WebSocket connection,
// wiring client frames onto a Connection and relaying Orchestrator
// broadcasts back as server frames.
type Handler struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	bind     func(sessionID string) Connection

	mu    sync.Mutex
	conns map[string]*peer
}

type peer struct {
	conn *websocket.Conn
	out  chan ServerFrame
}

// NewHandler builds a Handler. bind is called once per connection to
// obtain the Connection that frame handling should drive (typically
// wrapping a per-session Orchestrator).
func NewHandler(log *slog.Logger, bind func(sessionID string) Connection) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bind:  bind,
		conns: map[string]*peer{},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("wsface: upgrade", "error", err)
		return
	}
	sessionID := uuid.NewString()
	p := &peer{conn: conn, out: make(chan ServerFrame, 64)}

	h.mu.Lock()
	h.conns[sessionID] = p
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, sessionID)
		h.mu.Unlock()
		conn.Close()
	}()

	c := h.bind(sessionID)

	conn.SetReadLimit(maxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.writePump(p)
	p.out <- ServerFrame{Type: ServerConnected, SessionID: sessionID}

	h.readPump(conn, c, p)
}

func (h *Handler) readPump(conn *websocket.Conn, c Connection, p *peer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			close(p.out)
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Warn("wsface: malformed frame", "error", err)
			continue
		}
		h.dispatch(c, p, frame)
	}
}

func (h *Handler) dispatch(c Connection, p *peer, frame ClientFrame) {
	switch frame.Type {
	case ClientSendMessage:
		c.EnqueueUserMessage(frame.Content)
	case ClientToolDecision:
		c.Decide(frame.CallID, frame.Approved)
	case ClientCancel:
		c.Cancel()
	case ClientPing:
		p.out <- ServerFrame{Type: ServerPong}
	case ClientGetHistory, ClientGetState:
		// The bound Orchestrator pushes ServerHistory/ServerState frames
		// asynchronously via Broadcast; these request types are handled
		// by the caller wiring (e.g. reading the Transcript) rather than
		// here, since wsface has no direct Transcript access.
	}
}

func (h *Handler) writePump(p *peer) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast pushes a server frame to a specific session's connection, if
// still open. Used to mirror Agent steps and Tool executor events out to
// the façade client.
func (h *Handler) Broadcast(sessionID string, frame ServerFrame) {
	h.mu.Lock()
	p, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.out <- frame:
	default:
	}
}

// orchestratorConnection adapts an *orchestrator.Orchestrator to the
// Connection contract wsface drives. Decide is best-effort: a call_id
// that isn't the one currently awaiting approval is silently dropped,
// matching the terminal renderer's own approval-gate behavior.
type orchestratorConnection struct {
	o *orchestrator.Orchestrator
	decide func(callID string, approve bool)
	cancel func()
}

func (c *orchestratorConnection) EnqueueUserMessage(text string) { c.o.EnqueueUserMessage(text) }
func (c *orchestratorConnection) Decide(callID string, approve bool) {
	if c.decide != nil {
		c.decide(callID, approve)
	}
}
func (c *orchestratorConnection) Cancel() {
	if c.cancel != nil {
		c.cancel()
	}
}

// NewOrchestratorConnection builds the Connection adapter wsface needs
// from an Orchestrator plus the two operations it doesn't expose
// directly (tool decisions and cancellation go through the terminal
// event path in the local renderer; the façade needs its own entry
// points since it has no TerminalSource of its own).
func NewOrchestratorConnection(o *orchestrator.Orchestrator, decide func(callID string, approve bool), cancel func()) Connection {
	return &orchestratorConnection{o: o, decide: decide, cancel: cancel}
}
