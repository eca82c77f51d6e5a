package ide

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// socketBridge is a Bridge backed by a newline-delimited JSON RPC
// connection over a Unix domain socket, the transport the editor
// extension's bridge process listens on.
type socketBridge struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *bufio.Scanner

	mu      sync.Mutex
	selCh   chan *Selection
	closeCh chan struct{}
}

type rpcFrame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Event  string          `json:"event,omitempty"`
}

func newSocketBridge(ctx context.Context, path string) (Bridge, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("ide: dial %s: %w", path, err)
	}
	b := &socketBridge{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		dec:     bufio.NewScanner(conn),
		selCh:   make(chan *Selection, 16),
		closeCh: make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *socketBridge) readLoop() {
	defer close(b.selCh)
	for b.dec.Scan() {
		var frame rpcFrame
		if err := json.Unmarshal(b.dec.Bytes(), &frame); err != nil {
			continue
		}
		if frame.Event != "selection_changed" {
			continue
		}
		var sel *Selection
		if len(frame.Params) > 0 && string(frame.Params) != "null" {
			var s Selection
			if err := json.Unmarshal(frame.Params, &s); err == nil {
				sel = &s
			}
		}
		select {
		case b.selCh <- sel:
		case <-b.closeCh:
			return
		}
	}
}

func (b *socketBridge) send(method string, params any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("ide: encode %s params: %w", method, err)
	}
	return b.enc.Encode(rpcFrame{Method: method, Params: payload})
}

func (b *socketBridge) ShowPreview(_ context.Context, preview ToolPreview) error {
	return b.send("show_preview", preview)
}

func (b *socketBridge) ClosePreview(_ context.Context) error {
	return b.send("close_preview", struct{}{})
}

func (b *socketBridge) Execute(_ context.Context, action Action) error {
	return b.send("execute", action)
}

func (b *socketBridge) SelectionChanges() <-chan *Selection { return b.selCh }

func (b *socketBridge) Close() error {
	close(b.closeCh)
	return b.conn.Close()
}
