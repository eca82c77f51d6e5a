// Package tape provides scripted LLMProvider implementations for testing
// the agent loop without a live model call. A tape is a fixed sequence
// of turns; each turn is itself a fixed sequence of StreamEvents that a
// Replayer hands back verbatim on successive ExecChatStream calls. This
// adapts a record/replay pattern built for a chunk-based Complete call
// to this package's streaming StreamEvent-based LLMProvider, dropping
// the recording half: nothing here wraps a live provider to capture a
// tape from it, so only the replay side earns its keep.
package tape

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tcdent/codey/internal/agent"
)

// ErrTapeExhausted is returned by Replayer.ExecChatStream once every
// scripted turn has been consumed.
var ErrTapeExhausted = errors.New("tape: exhausted")

// Turn is one scripted request/response pair: the events a Replayer
// emits on one ExecChatStream call.
type Turn struct {
	// WantModel, if non-empty, is asserted against the model passed to
	// ExecChatStream; a mismatch is recorded in Replayer.Mismatches
	// rather than failing the call, so a test can assert on it directly.
	WantModel string
	Events    []agent.StreamEvent
}

// Tape is a fixed sequence of turns.
type Tape struct {
	Turns []Turn
}

// NewTape builds a Tape from the given turns.
func NewTape(turns ...Turn) *Tape {
	return &Tape{Turns: turns}
}

// TextTurn builds a Turn that streams text deltas and ends cleanly,
// the shape most agent-loop tests need.
func TextTurn(chunks ...string) Turn {
	events := make([]agent.StreamEvent, 0, len(chunks)+2)
	events = append(events, agent.StreamEvent{Kind: agent.StreamStart})
	for _, c := range chunks {
		events = append(events, agent.StreamEvent{Kind: agent.StreamChunk, Content: c})
	}
	events = append(events, agent.StreamEvent{Kind: agent.StreamEnd})
	return Turn{Events: events}
}

// ToolCallTurn builds a Turn that requests a single tool call.
func ToolCallTurn(callID, name string, args []byte) Turn {
	return Turn{Events: []agent.StreamEvent{
		{Kind: agent.StreamStart},
		{Kind: agent.StreamToolCallChunk, ToolCallID: callID, ToolCallName: name, ToolCallArgs: args},
		{Kind: agent.StreamEnd},
	}}
}

// ErrorTurn builds a Turn whose StreamEnd carries err, simulating a
// transport failure surfaced mid-stream rather than at dispatch.
func ErrorTurn(err error) Turn {
	return Turn{Events: []agent.StreamEvent{
		{Kind: agent.StreamStart},
		{Kind: agent.StreamEnd, Err: err},
	}}
}

// Mismatch records one expectation the Replayer found violated.
type Mismatch struct {
	TurnIndex int
	Field     string
	Want      string
	Got       string
}

// Replayer implements agent.LLMProvider by handing back one Tape turn
// per call, in order.
type Replayer struct {
	mu        sync.Mutex
	tape      *Tape
	next      int
	mismatches []Mismatch
}

// NewReplayer builds a Replayer over tape.
func NewReplayer(tape *Tape) *Replayer {
	return &Replayer{tape: tape}
}

func (r *Replayer) Name() string { return "tape" }

// ExecChatStream implements agent.LLMProvider, replaying the next
// scripted Turn's events on a buffered channel.
func (r *Replayer) ExecChatStream(_ context.Context, model string, _ agent.ChatRequest) (<-chan agent.StreamEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.tape.Turns) {
		return nil, ErrTapeExhausted
	}
	turn := r.tape.Turns[r.next]
	idx := r.next
	r.next++

	if turn.WantModel != "" && turn.WantModel != model {
		r.mismatches = append(r.mismatches, Mismatch{
			TurnIndex: idx, Field: "model", Want: turn.WantModel, Got: model,
		})
	}

	out := make(chan agent.StreamEvent, len(turn.Events))
	for _, ev := range turn.Events {
		out <- ev
	}
	close(out)
	return out, nil
}

// Mismatches returns every WantModel violation recorded so far.
func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch(nil), r.mismatches...)
}

// CallCount reports how many turns have been consumed.
func (r *Replayer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// FailingProvider is an agent.LLMProvider whose ExecChatStream always
// fails at dispatch time (as opposed to ErrorTurn, which fails mid
// stream), for testing the dispatch-error retry path.
type FailingProvider struct {
	Err error
}

func (f FailingProvider) Name() string { return "tape-failing" }

func (f FailingProvider) ExecChatStream(context.Context, string, agent.ChatRequest) (<-chan agent.StreamEvent, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("tape: dispatch failed")
	}
	return nil, f.Err
}
