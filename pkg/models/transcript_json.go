package models

import (
	"encoding/json"
	"time"
)

// blockDoc is the on-disk discriminated-union representation of a Block.
// Every variant is flattened into one struct tagged by Type; unused fields
// are omitted on write.
type blockDoc struct {
	Type       BlockKind       `json:"type"`
	Status     Status          `json:"status"`
	Text       string          `json:"text,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
	Background bool            `json:"background,omitempty"`
}

func encodeBlock(b Block) blockDoc {
	doc := blockDoc{Type: b.Kind(), Status: b.Status()}
	switch v := b.(type) {
	case *ToolBlock:
		doc.CallID = v.CallIDValue
		doc.Name = v.NameValue
		doc.Params = v.ParamsValue
		doc.Background = v.Background
		doc.Text = v.Output
	default:
		doc.Text = b.Text()
	}
	return doc
}

func decodeBlock(doc blockDoc) Block {
	switch doc.Type {
	case BlockText:
		return &TextBlock{baseBlock{TextContent: doc.Text, StatusValue: doc.Status}}
	case BlockThinking:
		return &ThinkingBlock{baseBlock{TextContent: doc.Text, StatusValue: doc.Status}}
	case BlockCompaction:
		return &CompactionBlock{baseBlock{TextContent: doc.Text, StatusValue: doc.Status}}
	case BlockTool:
		return &ToolBlock{
			CallIDValue: doc.CallID,
			NameValue:   doc.Name,
			ParamsValue: doc.Params,
			StatusValue: doc.Status,
			Output:      doc.Text,
			Background:  doc.Background,
		}
	default:
		return &TextBlock{baseBlock{TextContent: doc.Text, StatusValue: doc.Status}}
	}
}

// turnDoc is the on-disk shape of a Turn; active_block_idx is intentionally
// not persisted, matching the source's transient streaming-window state.
type turnDoc struct {
	ID        uint64     `json:"id"`
	Role      Role       `json:"role"`
	Timestamp string     `json:"timestamp"`
	Content   []blockDoc `json:"content"`
}

// MarshalJSON implements json.Marshaler for the polymorphic block list.
func (t *Turn) MarshalJSON() ([]byte, error) {
	doc := turnDoc{
		ID:        t.ID,
		Role:      t.Role,
		Timestamp: t.Timestamp.Format(time.RFC3339Nano),
	}
	for _, b := range t.Content {
		doc.Content = append(doc.Content, encodeBlock(b))
	}
	return json.Marshal(doc)
}

// UnmarshalJSON implements json.Unmarshaler, reconstructing concrete block
// types from their discriminant tag.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var doc turnDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t.ID = doc.ID
	t.Role = doc.Role
	if ts, err := parseTimeLayout(doc.Timestamp); err == nil {
		t.Timestamp = ts
	}
	t.Content = t.Content[:0]
	for _, bd := range doc.Content {
		t.Content = append(t.Content, decodeBlock(bd))
	}
	t.hasActive = false
	return nil
}
