package ot

import "fmt"

// Apply returns document with op applied. The bounds are checked before
// anything is built, so on error the caller still holds the unchanged input.
func Apply(document string, op Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}

	switch op.kind {
	case Insert:
		return applyInsert(document, op)
	case Delete:
		return applyDelete(document, op)
	case Retain:
		return document, nil
	default:
		return "", fmt.Errorf("%w: unknown operation kind %d", ErrInvalidOperation, op.kind)
	}
}

// applyInsert inserts text at the operation's position.
func applyInsert(document string, op Operation) (string, error) {
	content := []rune(document)

	if op.position > len(content) {
		return "", fmt.Errorf("%w: insert position %d out of bounds (length %d)",
			ErrInvalidOperation, op.position, len(content))
	}

	chars := []rune(op.text)

	result := make([]rune, 0, len(content)+len(chars))
	result = append(result, content[:op.position]...)
	result = append(result, chars...)
	result = append(result, content[op.position:]...)

	return string(result), nil
}

// applyDelete removes the operation's range.
func applyDelete(document string, op Operation) (string, error) {
	content := []rune(document)

	if op.start > len(content) || op.length > len(content)-op.start {
		return "", fmt.Errorf("%w: delete range [%d,%d) out of bounds (length %d)",
			ErrInvalidOperation, op.start, op.End(), len(content))
	}

	result := make([]rune, 0, len(content)-op.length)
	result = append(result, content[:op.start]...)
	result = append(result, content[op.End():]...)

	return string(result), nil
}
