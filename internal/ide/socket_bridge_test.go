package ide

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// fakeIDEServer accepts one connection on a Unix socket and echoes back
// whatever rpcFrame it receives, tagged as a request so the test can
// assert on the method/params the Bridge sent.
func fakeIDEServer(t *testing.T, path string) (accept func() rpcFrame, emit func(frame rpcFrame)) {
	t.Helper()
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		connCh <- conn
	}()

	received := make(chan rpcFrame, 8)
	var conn net.Conn

	accept = func() rpcFrame {
		if conn == nil {
			conn = <-connCh
			go func() {
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var f rpcFrame
					if json.Unmarshal(scanner.Bytes(), &f) == nil {
						received <- f
					}
				}
			}()
		}
		select {
		case f := <-received:
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
			return rpcFrame{}
		}
	}
	emit = func(frame rpcFrame) {
		if conn == nil {
			conn = <-connCh
		}
		data, _ := json.Marshal(frame)
		conn.Write(append(data, '\n'))
	}
	return accept, emit
}

func TestSocketBridgeShowPreviewSendsFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ide.sock")
	accept, _ := fakeIDEServer(t, path)

	bridge, err := newSocketBridge(context.Background(), path)
	if err != nil {
		t.Fatalf("newSocketBridge: %v", err)
	}
	defer bridge.Close()

	if err := bridge.ShowPreview(context.Background(), ToolPreview{CallID: "c1", ToolName: "echo"}); err != nil {
		t.Fatalf("ShowPreview: %v", err)
	}

	frame := accept()
	if frame.Method != "show_preview" {
		t.Fatalf("Method = %q, want show_preview", frame.Method)
	}
	var preview ToolPreview
	if err := json.Unmarshal(frame.Params, &preview); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if preview.CallID != "c1" || preview.ToolName != "echo" {
		t.Fatalf("unexpected preview: %+v", preview)
	}
}

func TestSocketBridgeDeliversSelectionChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ide.sock")
	_, emit := fakeIDEServer(t, path)

	bridge, err := newSocketBridge(context.Background(), path)
	if err != nil {
		t.Fatalf("newSocketBridge: %v", err)
	}
	defer bridge.Close()

	params, _ := json.Marshal(Selection{Path: "main.go", StartLine: 1, EndLine: 3})
	emit(rpcFrame{Event: "selection_changed", Params: params})

	select {
	case sel := <-bridge.SelectionChanges():
		if sel == nil || sel.Path != "main.go" {
			t.Fatalf("unexpected selection: %+v", sel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for selection change")
	}
}
