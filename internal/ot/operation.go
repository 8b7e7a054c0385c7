package ot

import (
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// OpKind identifies which variant of Operation is active. The zero kind
// is invalid, so a zero Operation never passes Validate.
type OpKind int

const (
	Insert OpKind = iota + 1
	Delete
	Retain
)

// String returns the wire name of the kind.
func (k OpKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Retain:
		return "retain"
	default:
		return "unknown"
	}
}

// Operation is a single flat-text edit. Exactly one variant is active,
// selected by Kind; the fields of the other variants are zero.
//
// Positions and lengths count runes, not bytes.
type Operation struct {
	kind OpKind

	position int    // Insert
	text     string // Insert
	start    int    // Delete
	length   int    // Delete, Retain
}

// NewInsert creates an operation inserting text at position.
func NewInsert(position int, text string) Operation {
	return Operation{kind: Insert, position: position, text: text}
}

// NewDelete creates an operation removing length runes starting at start.
func NewDelete(start, length int) Operation {
	return Operation{kind: Delete, start: start, length: length}
}

// NewRetain creates a no-op covering length runes.
func NewRetain(length int) Operation {
	return Operation{kind: Retain, length: length}
}

// Kind returns the active variant.
func (o Operation) Kind() OpKind { return o.kind }

// IsInsert returns true if this is an insert operation.
func (o Operation) IsInsert() bool { return o.kind == Insert }

// IsDelete returns true if this is a delete operation.
func (o Operation) IsDelete() bool { return o.kind == Delete }

// IsRetain returns true if this is a retain operation.
func (o Operation) IsRetain() bool { return o.kind == Retain }

// IsNoop returns true if applying the operation never changes a document.
func (o Operation) IsNoop() bool {
	switch o.kind {
	case Insert:
		return o.text == ""
	case Delete:
		return o.length == 0
	default:
		return true
	}
}

// Position returns the insert position. Zero for other kinds.
func (o Operation) Position() int { return o.position }

// Text returns the inserted text. Empty for other kinds.
func (o Operation) Text() string { return o.text }

// Start returns the first deleted rune. Zero for other kinds.
func (o Operation) Start() int { return o.start }

// Length returns the delete or retain length. Zero for inserts.
func (o Operation) Length() int { return o.length }

// End returns the exclusive end of a delete range.
func (o Operation) End() int { return o.start + o.length }

// TextLen returns the inserted text length in runes.
func (o Operation) TextLen() int { return utf8.RuneCountInString(o.text) }

// Validate rejects negative coordinates, spans whose end does not fit in
// an int, and unknown kinds.
func (o Operation) Validate() error {
	switch o.kind {
	case Insert:
		if o.position < 0 {
			return fmt.Errorf("%w: negative insert position %d", ErrInvalidOperation, o.position)
		}

		if o.position > math.MaxInt-o.TextLen() {
			return fmt.Errorf("%w: insert position %d overflows", ErrInvalidOperation, o.position)
		}
	case Delete:
		if o.start < 0 || o.length < 0 {
			return fmt.Errorf("%w: negative delete range [%d,+%d)", ErrInvalidOperation, o.start, o.length)
		}

		if o.start > math.MaxInt-o.length {
			return fmt.Errorf("%w: delete range [%d,+%d) overflows", ErrInvalidOperation, o.start, o.length)
		}
	case Retain:
		if o.length < 0 {
			return fmt.Errorf("%w: negative retain length %d", ErrInvalidOperation, o.length)
		}
	default:
		return fmt.Errorf("%w: unknown operation kind %d", ErrInvalidOperation, o.kind)
	}

	return nil
}

// String renders the operation for logs and test output.
func (o Operation) String() string {
	switch o.kind {
	case Insert:
		return fmt.Sprintf("Insert{%d,%q}", o.position, o.text)
	case Delete:
		return fmt.Sprintf("Delete{%d,%d}", o.start, o.length)
	case Retain:
		return fmt.Sprintf("Retain{%d}", o.length)
	default:
		return fmt.Sprintf("Operation{kind:%d}", o.kind)
	}
}

// wireOperation is the JSON shape of an Operation.
type wireOperation struct {
	Type     string `json:"type"`
	Position *int   `json:"position,omitempty"`
	Text     string `json:"text,omitempty"`
	Start    *int   `json:"start,omitempty"`
	Length   *int   `json:"length,omitempty"`
}

// MarshalJSON encodes the operation with its variant tag.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Type: o.kind.String()}

	switch o.kind {
	case Insert:
		w.Position = &o.position
		w.Text = o.text
	case Delete:
		w.Start = &o.start
		w.Length = &o.length
	case Retain:
		w.Length = &o.length
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %d", ErrInvalidOperation, o.kind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes a tagged operation and validates it.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var op Operation

	switch w.Type {
	case "insert":
		op = NewInsert(deref(w.Position), w.Text)
	case "delete":
		op = NewDelete(deref(w.Start), deref(w.Length))
	case "retain":
		op = NewRetain(deref(w.Length))
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, w.Type)
	}

	if err := op.Validate(); err != nil {
		return err
	}

	*o = op

	return nil
}

func deref(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}
