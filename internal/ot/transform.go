package ot

import "fmt"

// Transform takes two concurrent operations and returns transformed versions
// that can be applied in either order to achieve the same final state.
//
// Given: a and b were created against the same document state.
// Returns: a' (a transformed against b), b' (b transformed against a), so that
// applying a then b' matches applying b then a'.
//
// Bare operations carry no author identity, so inserts at the same position
// are ordered by text content. Use TransformRecords when identity is known.
func Transform(a, b Operation) (Operation, Operation, error) {
	return transform(a, b, func() bool { return a.text < b.text })
}

// TransformRecords transforms the operations of two concurrent records.
// Inserts at the same position are ordered by (AuthorID, LogicalClock), so
// TransformRecords(a, b) and TransformRecords(b, a) pick the same winner.
func TransformRecords(a, b EditRecord) (Operation, Operation, error) {
	return transform(a.Op, b.Op, func() bool { return a.Precedes(b) })
}

// transform dispatches on the variant pair. aFirst decides which of two
// same-position inserts is treated as already inserted.
func transform(a, b Operation, aFirst func() bool) (Operation, Operation, error) {
	if err := a.Validate(); err != nil {
		return Operation{}, Operation{}, fmt.Errorf("transform: %w", err)
	}

	if err := b.Validate(); err != nil {
		return Operation{}, Operation{}, fmt.Errorf("transform: %w", err)
	}

	aPrime, bPrime, err := dispatch(a, b, aFirst)
	if err != nil {
		return Operation{}, Operation{}, err
	}

	// Shifting a span near math.MaxInt can overflow
	if err := aPrime.Validate(); err != nil {
		return Operation{}, Operation{}, fmt.Errorf("transform: %w", err)
	}

	if err := bPrime.Validate(); err != nil {
		return Operation{}, Operation{}, fmt.Errorf("transform: %w", err)
	}

	return aPrime, bPrime, nil
}

func dispatch(a, b Operation, aFirst func() bool) (Operation, Operation, error) {
	switch a.kind {
	case Retain:
		return a, b, nil
	case Insert:
		switch b.kind {
		case Insert:
			aPrime, bPrime := transformInsertInsert(a, b, aFirst)

			return aPrime, bPrime, nil
		case Delete:
			aPrime, bPrime := transformInsertDelete(a, b)

			return aPrime, bPrime, nil
		case Retain:
			return a, b, nil
		}
	case Delete:
		switch b.kind {
		case Insert:
			bPrime, aPrime := transformInsertDelete(b, a)

			return aPrime, bPrime, nil
		case Delete:
			aPrime, bPrime := transformDeleteDelete(a, b)

			return aPrime, bPrime, nil
		case Retain:
			return a, b, nil
		}
	}

	// Unreachable after Validate; kept so a new kind fails loudly here.
	return Operation{}, Operation{}, fmt.Errorf("%w: cannot transform %s against %s",
		ErrInvalidOperation, a.kind, b.kind)
}

// transformInsertInsert handles two concurrent inserts.
func transformInsertInsert(a, b Operation, aFirst func() bool) (Operation, Operation) {
	switch {
	case a.position < b.position:
		// a lands before b, so b shifts right
		return a, NewInsert(b.position+a.TextLen(), b.text)
	case a.position > b.position:
		return NewInsert(a.position+b.TextLen(), a.text), b
	case aFirst():
		return a, NewInsert(b.position+a.TextLen(), b.text)
	default:
		return NewInsert(a.position+b.TextLen(), a.text), b
	}
}

// transformInsertDelete handles insert (ins) vs delete (del).
func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	switch {
	case ins.position <= del.start:
		// Insert is at or before the range; the range moves right past it
		return ins, NewDelete(del.start+ins.TextLen(), del.length)
	case ins.position < del.End():
		// Insert falls strictly inside the range: the deletion absorbs it
		return NewRetain(0), NewDelete(del.start, del.length+ins.TextLen())
	default:
		return NewInsert(ins.position-del.length, ins.text), del
	}
}

// transformDeleteDelete handles two concurrent deletes.
func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	switch {
	case a.length == 0 && b.length == 0,
		a.start == b.start && a.length == b.length:
		// Nothing to remove, or the same range already removed by the other side
		return NewRetain(0), NewRetain(0)
	case a.length == 0:
		return NewRetain(0), b
	case b.length == 0:
		return a, NewRetain(0)
	case a.End() <= b.start:
		return a, NewDelete(b.start-a.length, b.length)
	case b.End() <= a.start:
		return NewDelete(a.start-b.length, a.length), b
	default:
		// Partial overlap: both sides delete the union
		merged := mergeRanges(a, b)

		return merged, merged
	}
}

// mergeRanges returns a delete covering both ranges.
func mergeRanges(a, b Operation) Operation {
	start := min(a.start, b.start)
	end := max(a.End(), b.End())

	return NewDelete(start, end-start)
}
