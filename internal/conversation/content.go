package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Block is one structured content block (text, tool call, attachment...).
// Only Type and Text are interpreted; the original JSON is kept so unknown
// block kinds pass through unchanged.
type Block struct {
	Type string
	Text string
	raw  json.RawMessage
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: "text", Text: text}
}

// UnmarshalJSON keeps the raw bytes of the block next to its type and text.
func (b *Block) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	b.Type = head.Type
	b.Text = head.Text
	b.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the original block back when there is one.
func (b Block) MarshalJSON() ([]byte, error) {
	if len(b.raw) > 0 {
		return b.raw, nil
	}
	out := map[string]string{"type": b.Type}
	if b.Type == "text" || b.Text != "" {
		out["text"] = b.Text
	}
	return json.Marshal(out)
}

// Content is either plain text or an ordered list of blocks.
// The zero value is empty text.
type Content struct {
	text    string
	blocks  []Block
	isBlock bool
}

// Text returns text content.
func Text(s string) Content {
	return Content{text: s}
}

// Blocks returns block content holding a copy of bs.
func Blocks(bs ...Block) Content {
	return Content{blocks: append([]Block(nil), bs...), isBlock: true}
}

// IsBlocks reports whether c holds blocks rather than text.
func (c Content) IsBlocks() bool { return c.isBlock }

// IsEmpty reports whether c carries nothing to merge.
func (c Content) IsEmpty() bool {
	if c.isBlock {
		return len(c.blocks) == 0
	}
	return c.text == ""
}

// String returns the text content, or the concatenated text of all text
// blocks for block content.
func (c Content) String() string {
	if !c.isBlock {
		return c.text
	}
	var sb strings.Builder
	for _, b := range c.blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// BlockList returns a copy of the blocks, or nil for text content.
func (c Content) BlockList() []Block {
	if !c.isBlock {
		return nil
	}
	return append([]Block(nil), c.blocks...)
}

// Append merges fragment onto c. Text onto text concatenates; every other
// combination boxes the text side as a text block and concatenates the
// block lists. Empty text is not boxed.
func (c Content) Append(fragment Content) Content {
	if fragment.IsEmpty() {
		return c
	}
	if !c.isBlock && !fragment.isBlock {
		return Text(c.text + fragment.text)
	}
	out := make([]Block, 0, len(c.blocks)+len(fragment.blocks)+1)
	out = append(out, c.boxed()...)
	out = append(out, fragment.boxed()...)
	return Content{blocks: out, isBlock: true}
}

func (c Content) boxed() []Block {
	if c.isBlock {
		return c.blocks
	}
	if c.text == "" {
		return nil
	}
	return []Block{TextBlock(c.text)}
}

func (c Content) clone() Content {
	if !c.isBlock {
		return c
	}
	return Content{blocks: append([]Block(nil), c.blocks...), isBlock: true}
}

// UnmarshalJSON accepts a string, an array of blocks, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*c = Content{}
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	case trimmed[0] == '[':
		var bs []Block
		if err := json.Unmarshal(trimmed, &bs); err != nil {
			return err
		}
		*c = Content{blocks: bs, isBlock: true}
		if c.blocks == nil {
			c.blocks = []Block{}
		}
		return nil
	}
	return fmt.Errorf("content must be a string or an array, got %q", trimmed[:1])
}

// MarshalJSON writes text as a JSON string and blocks as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.isBlock {
		return json.Marshal(c.text)
	}
	if c.blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.blocks)
}
