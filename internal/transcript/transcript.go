// Package transcript implements the ordered-turns-of-blocks conversation
// log: streaming append during a live response, and save/load/rotate
// against a numbered on-disk file sequence.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tcdent/codey/pkg/models"
)

const fileExt = ".json"

// Transcript is the display log of all turns. Exactly one turn may be
// "streaming" at a time, between BeginTurn and FinishTurn; during that
// window all StreamDelta/StartBlock calls target that turn.
type Transcript struct {
	turns         []*models.Turn
	nextID        uint64
	path          string
	currentTurnID uint64
	hasCurrent    bool
}

type document struct {
	NextID uint64         `json:"next_id"`
	Turns  []*models.Turn `json:"turns"`
}

// WithPath creates an empty transcript bound to path.
func WithPath(path string) *Transcript {
	return &Transcript{path: path}
}

// Path returns the file the transcript will save to.
func (t *Transcript) Path() string { return t.path }

// Turns returns the ordered turn list.
func (t *Transcript) Turns() []*models.Turn { return t.turns }

func (t *Transcript) allocID() uint64 {
	id := t.nextID
	t.nextID++
	return id
}

// AddTurn appends a complete turn with a single block and returns its id.
func (t *Transcript) AddTurn(role models.Role, block models.Block) uint64 {
	id := t.allocID()
	turn := models.NewTurn(id, role)
	turn.AddBlock(block)
	t.turns = append(t.turns, turn)
	return id
}

// AddEmpty appends an empty turn (used for streaming) and returns its id.
func (t *Transcript) AddEmpty(role models.Role) uint64 {
	id := t.allocID()
	t.turns = append(t.turns, models.NewTurn(id, role))
	return id
}

func (t *Transcript) get(id uint64) *models.Turn {
	for _, turn := range t.turns {
		if turn.ID == id {
			return turn
		}
	}
	return nil
}

// BeginTurn opens a streaming window. It is a programmer error to call this
// while a window is already open.
func (t *Transcript) BeginTurn(role models.Role) {
	if t.hasCurrent {
		panic("transcript: cannot begin turn, previous turn not finished")
	}
	t.currentTurnID = t.AddEmpty(role)
	t.hasCurrent = true
}

func (t *Transcript) currentTurn() *models.Turn {
	if !t.hasCurrent {
		panic("transcript: no active turn - call BeginTurn first")
	}
	turn := t.get(t.currentTurnID)
	if turn == nil {
		panic("transcript: current turn id is invalid")
	}
	return turn
}

// StreamDelta appends text to the active block of the current turn if its
// kind matches; otherwise it completes the active block and starts a new
// one of kind, seeded with text. Tool blocks are never created this way.
func (t *Transcript) StreamDelta(kind models.BlockKind, text string) {
	turn := t.currentTurn()
	if turn.IsActiveBlockKind(kind) {
		turn.AppendToActive(text)
		return
	}
	var block models.Block
	switch kind {
	case models.BlockText:
		block = models.NewTextBlock(text)
	case models.BlockThinking:
		block = models.NewThinkingBlock(text)
	case models.BlockCompaction:
		block = models.NewCompactionBlock(text)
	default:
		panic("transcript: use StartBlock for tool blocks")
	}
	turn.StartBlock(block)
}

// StartBlock completes the active block (if any) and installs block as
// active. Used for tool blocks, which carry structure StreamDelta can't.
func (t *Transcript) StartBlock(block models.Block) {
	t.currentTurn().StartBlock(block)
}

// ActiveBlock returns the active block of the current turn, or nil.
func (t *Transcript) ActiveBlock() models.Block {
	if !t.hasCurrent {
		return nil
	}
	turn := t.get(t.currentTurnID)
	if turn == nil {
		return nil
	}
	return turn.ActiveBlock()
}

// FindToolBlockMut performs a linear scan for the tool block with callID.
func (t *Transcript) FindToolBlockMut(callID string) models.Block {
	for _, turn := range t.turns {
		for _, block := range turn.Content {
			if block.Kind() == models.BlockTool && block.CallID() == callID {
				return block
			}
		}
	}
	return nil
}

// MarkActiveBlock sets the status of the currently active block.
func (t *Transcript) MarkActiveBlock(status models.Status) {
	if b := t.ActiveBlock(); b != nil {
		b.SetStatus(status)
	}
}

// FinishTurn completes the active block, closes the streaming window, and
// persists the transcript to disk.
func (t *Transcript) FinishTurn() error {
	t.MarkActiveBlock(models.StatusComplete)
	if t.hasCurrent {
		t.get(t.currentTurnID).ClearActive()
	}
	t.hasCurrent = false
	return t.Save()
}

// Save persists the transcript to its path, creating parent directories as
// needed.
func (t *Transcript) Save() error {
	if t.path == "" {
		return fmt.Errorf("transcript: no path set")
	}
	if dir := filepath.Dir(t.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	doc := document{NextID: t.nextID, Turns: t.turns}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o644)
}

func transcriptsDir(workspace string) string {
	return filepath.Join(workspace, ".codey", "transcripts")
}

func transcriptPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d%s", n, fileExt))
}

func findLatest(dir string) (int, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false
	}
	best := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Load reads the highest-numbered transcript in workspace's transcripts
// directory, or creates a new one numbered 0 if none exist.
func Load(workspace string) (*Transcript, error) {
	dir := transcriptsDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	n, ok := findLatest(dir)
	if !ok {
		return WithPath(transcriptPath(dir, 0)), nil
	}
	return LoadPath(transcriptPath(dir, n))
}

// LoadPath reads a transcript from an exact on-disk path.
func LoadPath(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	sort.SliceStable(doc.Turns, func(i, j int) bool { return doc.Turns[i].ID < doc.Turns[j].ID })
	return &Transcript{turns: doc.Turns, nextID: doc.NextID, path: path}, nil
}

// NewNumbered creates a fresh transcript at the next available number.
func NewNumbered(workspace string) (*Transcript, error) {
	dir := transcriptsDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	next := 0
	if n, ok := findLatest(dir); ok {
		next = n + 1
	}
	return WithPath(transcriptPath(dir, next)), nil
}

// Rotate saves the current transcript and returns a new, empty one at the
// next numbered path. If the final block of the last turn is a Compaction
// block, it is copied as the first turn of the new transcript.
func (t *Transcript) Rotate(workspace string) (*Transcript, error) {
	if err := t.Save(); err != nil {
		return nil, err
	}
	next, err := NewNumbered(workspace)
	if err != nil {
		return nil, err
	}
	if len(t.turns) == 0 {
		return next, nil
	}
	last := t.turns[len(t.turns)-1]
	for _, block := range last.Content {
		if block.Kind() == models.BlockCompaction {
			carried := models.NewCompactionBlock(block.Text())
			carried.SetStatus(models.StatusComplete)
			next.AddTurn(models.RoleAssistant, carried)
			break
		}
	}
	return next, nil
}
