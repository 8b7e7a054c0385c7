package ot

import (
	"fmt"
	"math"
)

// Compose merges two operations applied in sequence by the same author into
// one operation with the same effect: applying the result equals applying
// first and then second. Positions in second refer to the document after
// first.
//
// Only pairs whose combined effect is a single contiguous edit compose.
// Anything else returns ErrInvalidOperation and the caller keeps both.
func Compose(first, second Operation) (Operation, error) {
	if err := first.Validate(); err != nil {
		return Operation{}, fmt.Errorf("compose: %w", err)
	}

	if err := second.Validate(); err != nil {
		return Operation{}, fmt.Errorf("compose: %w", err)
	}

	switch first.kind {
	case Insert:
		switch second.kind {
		case Insert:
			return composeInsertInsert(first, second)
		case Delete:
			return composeInsertDelete(first, second)
		case Retain:
		}
	case Delete:
		switch second.kind {
		case Insert:
			return composeDeleteInsert(first, second)
		case Delete:
			return composeDeleteDelete(first, second)
		case Retain:
		}
	case Retain:
		if second.kind == Retain {
			if second.length > math.MaxInt-first.length {
				return Operation{}, fmt.Errorf("%w: retain length overflows", ErrInvalidOperation)
			}

			return NewRetain(first.length + second.length), nil
		}
	}

	return Operation{}, fmt.Errorf("%w: cannot compose %s with %s", ErrInvalidOperation, first.kind, second.kind)
}

// composeInsertInsert splices the second text into the first when it lands
// within or adjacent to the first insert's span.
func composeInsertInsert(first, second Operation) (Operation, error) {
	end := first.position + first.TextLen()

	if second.position < first.position || second.position > end {
		return Operation{}, fmt.Errorf("%w: insert at %d is outside span [%d,%d]",
			ErrInvalidOperation, second.position, first.position, end)
	}

	runes := []rune(first.text)
	offset := second.position - first.position

	text := string(runes[:offset]) + second.text + string(runes[offset:])

	return NewInsert(first.position, text), nil
}

// composeInsertDelete cuts the deleted range out of freshly inserted text.
func composeInsertDelete(first, second Operation) (Operation, error) {
	if second.length == 0 {
		return first, nil
	}

	end := first.position + first.TextLen()

	if second.start < first.position || second.start > end || second.length > end-second.start {
		return Operation{}, fmt.Errorf("%w: delete [%d,%d) reaches outside inserted span [%d,%d)",
			ErrInvalidOperation, second.start, second.End(), first.position, end)
	}

	runes := []rune(first.text)
	from := second.start - first.position
	to := second.End() - first.position

	text := string(runes[:from]) + string(runes[to:])
	if text == "" {
		return NewRetain(0), nil
	}

	return NewInsert(first.position, text), nil
}

// composeDeleteInsert only merges when one side is empty; a delete followed
// by a non-empty insert is a replacement, which has no single-op form.
func composeDeleteInsert(first, second Operation) (Operation, error) {
	switch {
	case second.text == "":
		return first, nil
	case first.length == 0:
		return second, nil
	default:
		return Operation{}, fmt.Errorf("%w: delete followed by insert is a replacement",
			ErrInvalidOperation)
	}
}

// composeDeleteDelete accumulates deletes that touch: backspacing over the
// preceding runes, forward-deleting at the same start, or straddling it.
func composeDeleteDelete(first, second Operation) (Operation, error) {
	switch {
	case first.length == 0:
		return second, nil
	case second.length == 0:
		return first, nil
	}

	if second.start > first.start || second.End() < first.start {
		return Operation{}, fmt.Errorf("%w: delete [%d,%d) does not touch earlier delete at %d",
			ErrInvalidOperation, second.start, second.End(), first.start)
	}

	if second.length > math.MaxInt-first.length {
		return Operation{}, fmt.Errorf("%w: delete length overflows", ErrInvalidOperation)
	}

	return NewDelete(second.start, first.length+second.length), nil
}
