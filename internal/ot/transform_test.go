package ot_test

import (
	"errors"
	"math"
	"testing"

	"github.com/serroba/textsync/internal/ot"
	"github.com/stretchr/testify/require"
)

const testDocHello = "HELLO"

func TestTransform_InsertVsInsert_DifferentPositions(t *testing.T) {
	t.Parallel()

	// op1 lands after op2, so op1 shifts right by len("World")
	op1 := ot.NewInsert(5, "Hello")
	op2 := ot.NewInsert(3, "World")

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime != ot.NewInsert(10, "Hello") {
		t.Errorf("expected Insert{10,Hello}, got %s", op1Prime)
	}

	if op2Prime != ot.NewInsert(3, "World") {
		t.Errorf("expected Insert{3,World}, got %s", op2Prime)
	}
}

func TestTransform_InsertVsInsert_EarlierShiftsLater(t *testing.T) {
	t.Parallel()

	op1 := ot.NewInsert(2, "ab")
	op2 := ot.NewInsert(5, "x")

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime.Position() != 2 {
		t.Errorf("op1 position should stay at 2, got %d", op1Prime.Position())
	}

	if op2Prime.Position() != 7 {
		t.Errorf("op2 position should shift to 7, got %d", op2Prime.Position())
	}
}

func TestTransform_InsertVsInsert_SamePosition_TextTieBreaker(t *testing.T) {
	t.Parallel()

	op1 := ot.NewInsert(2, "b")
	op2 := ot.NewInsert(2, "a")

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	// "a" < "b": op2 goes first and op1 shifts right
	if op1Prime.Position() != 3 {
		t.Errorf("op1 should shift to 3, got %d", op1Prime.Position())
	}

	if op2Prime.Position() != 2 {
		t.Errorf("op2 should stay at 2, got %d", op2Prime.Position())
	}
}

func TestTransform_InsertVsInsert_UnicodeLength(t *testing.T) {
	t.Parallel()

	op1 := ot.NewInsert(0, "🌍é")
	op2 := ot.NewInsert(1, "x")

	_, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	// Two runes, not six bytes
	if op2Prime.Position() != 3 {
		t.Errorf("expected shift by 2 runes to 3, got %d", op2Prime.Position())
	}
}

func TestTransformRecords_SamePosition_UsesIdentity(t *testing.T) {
	t.Parallel()

	alice := ot.NewEditRecord(ot.NewInsert(5, "Hello"), "alice", 1, 1)
	bob := ot.NewEditRecord(ot.NewInsert(5, "World"), "bob", 1, 1)

	alicePrime, bobPrime, err := ot.TransformRecords(alice, bob)
	require.NoError(t, err)

	// alice < bob: alice's text goes first, bob shifts past it
	if alicePrime != ot.NewInsert(5, "Hello") {
		t.Errorf("expected alice to stay at 5, got %s", alicePrime)
	}

	if bobPrime != ot.NewInsert(10, "World") {
		t.Errorf("expected bob to shift to 10, got %s", bobPrime)
	}
}

func TestTransformRecords_SamePosition_IgnoresContent(t *testing.T) {
	t.Parallel()

	// Text order would pick bob ("a" < "z"); identity must pick alice.
	alice := ot.NewEditRecord(ot.NewInsert(0, "z"), "alice", 0, 1)
	bob := ot.NewEditRecord(ot.NewInsert(0, "a"), "bob", 0, 1)

	alicePrime, bobPrime, err := ot.TransformRecords(alice, bob)
	require.NoError(t, err)

	if alicePrime.Position() != 0 || bobPrime.Position() != 1 {
		t.Errorf("expected alice first, got alice=%s bob=%s", alicePrime, bobPrime)
	}
}

func TestTransformRecords_SamePosition_SameAuthorUsesClock(t *testing.T) {
	t.Parallel()

	later := ot.NewEditRecord(ot.NewInsert(0, "a"), "alice", 0, 9)
	earlier := ot.NewEditRecord(ot.NewInsert(0, "b"), "alice", 0, 2)

	laterPrime, earlierPrime, err := ot.TransformRecords(later, earlier)
	require.NoError(t, err)

	if earlierPrime.Position() != 0 || laterPrime.Position() != 1 {
		t.Errorf("expected lower clock first, got later=%s earlier=%s", laterPrime, earlierPrime)
	}
}

func TestTransformRecords_Symmetric(t *testing.T) {
	t.Parallel()

	a := ot.NewEditRecord(ot.NewInsert(4, "aaa"), "carol", 3, 7)
	b := ot.NewEditRecord(ot.NewInsert(4, "b"), "alice", 3, 12)

	aPrime, bPrime, err := ot.TransformRecords(a, b)
	require.NoError(t, err)

	bMirror, aMirror, err := ot.TransformRecords(b, a)
	require.NoError(t, err)

	if aPrime != aMirror || bPrime != bMirror {
		t.Errorf("call order changed the result: (%s,%s) vs (%s,%s)", aPrime, bPrime, aMirror, bMirror)
	}

	// alice < carol, so b wins regardless of order
	if bPrime.Position() != 4 || aPrime.Position() != 5 {
		t.Errorf("expected alice's insert first, got a=%s b=%s", aPrime, bPrime)
	}
}

func TestTransformRecords_NonInsertPairsMatchTransform(t *testing.T) {
	t.Parallel()

	a := ot.NewEditRecord(ot.NewDelete(1, 2), "alice", 0, 1)
	b := ot.NewEditRecord(ot.NewInsert(5, "x"), "bob", 0, 1)

	recA, recB, err := ot.TransformRecords(a, b)
	require.NoError(t, err)

	opA, opB, err := ot.Transform(a.Op, b.Op)
	require.NoError(t, err)

	if recA != opA || recB != opB {
		t.Errorf("expected identical results, got (%s,%s) vs (%s,%s)", recA, recB, opA, opB)
	}
}

func TestTransform_InsertVsDelete_InsertBefore(t *testing.T) {
	t.Parallel()

	// Insert at 2, Delete [5,8): the range moves right past the insert
	op1 := ot.NewInsert(2, "xy")
	op2 := ot.NewDelete(5, 3)

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime != op1 {
		t.Errorf("insert should be unchanged, got %s", op1Prime)
	}

	if op2Prime != ot.NewDelete(7, 3) {
		t.Errorf("delete should shift to 7, got %s", op2Prime)
	}
}

func TestTransform_InsertVsDelete_InsertInside(t *testing.T) {
	t.Parallel()

	op1 := ot.NewInsert(5, "Hello")
	op2 := ot.NewDelete(3, 4)

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime != ot.NewRetain(0) {
		t.Errorf("insert inside the range should be absorbed, got %s", op1Prime)
	}

	if op2Prime != ot.NewDelete(3, 9) {
		t.Errorf("delete should grow over the inserted text, got %s", op2Prime)
	}
}

func TestTransform_InsertVsDelete_InsertAfter(t *testing.T) {
	t.Parallel()

	op1 := ot.NewInsert(9, "x")
	op2 := ot.NewDelete(2, 3)

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime.Position() != 6 {
		t.Errorf("insert should shift to 6, got %d", op1Prime.Position())
	}

	if op2Prime != op2 {
		t.Errorf("delete should be unchanged, got %s", op2Prime)
	}
}

func TestTransform_InsertVsDelete_InsertAtRangeEnd(t *testing.T) {
	t.Parallel()

	op1 := ot.NewInsert(5, "x")
	op2 := ot.NewDelete(2, 3)

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime.Position() != 2 {
		t.Errorf("insert at range end should collapse to start 2, got %d", op1Prime.Position())
	}

	if op2Prime != op2 {
		t.Errorf("delete should be unchanged, got %s", op2Prime)
	}
}

func TestTransform_DeleteVsInsert(t *testing.T) {
	t.Parallel()

	op1 := ot.NewDelete(5, 1)
	op2 := ot.NewInsert(2, "x")

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime != ot.NewDelete(6, 1) {
		t.Errorf("delete should shift to 6, got %s", op1Prime)
	}

	if op2Prime != op2 {
		t.Errorf("insert should stay at 2, got %s", op2Prime)
	}
}

func TestTransform_DeleteVsDelete_Disjoint(t *testing.T) {
	t.Parallel()

	op1 := ot.NewDelete(2, 2)
	op2 := ot.NewDelete(6, 3)

	op1Prime, op2Prime, err := ot.Transform(op1, op2)
	require.NoError(t, err)

	if op1Prime != op1 {
		t.Errorf("earlier range should be unchanged, got %s", op1Prime)
	}

	if op2Prime != ot.NewDelete(4, 3) {
		t.Errorf("later range should shift to 4, got %s", op2Prime)
	}

	// Mirrored
	op2Prime, op1Prime, err = ot.Transform(op2, op1)
	require.NoError(t, err)

	if op1Prime != op1 || op2Prime != ot.NewDelete(4, 3) {
		t.Errorf("mirrored result differs: %s, %s", op1Prime, op2Prime)
	}
}

func TestTransform_DeleteVsDelete_Identical(t *testing.T) {
	t.Parallel()

	for _, op := range []ot.Operation{ot.NewDelete(3, 1), ot.NewDelete(0, 7), ot.NewDelete(4, 0)} {
		op1Prime, op2Prime, err := ot.Transform(op, op)
		require.NoError(t, err)

		if op1Prime != ot.NewRetain(0) || op2Prime != ot.NewRetain(0) {
			t.Errorf("%s vs itself: expected Retain{0} twice, got %s, %s", op, op1Prime, op2Prime)
		}
	}
}

func TestTransform_DeleteVsDelete_EmptyRangesSymmetric(t *testing.T) {
	t.Parallel()

	a, b := ot.NewDelete(2, 0), ot.NewDelete(4, 0)

	aPrime, bPrime, err := ot.Transform(a, b)
	require.NoError(t, err)

	bMirror, aMirror, err := ot.Transform(b, a)
	require.NoError(t, err)

	require.Equal(t, ot.NewRetain(0), aPrime)
	require.Equal(t, ot.NewRetain(0), bPrime)
	require.Equal(t, aPrime, aMirror)
	require.Equal(t, bPrime, bMirror)
}

func TestTransform_RejectsShiftPastMaxInt(t *testing.T) {
	t.Parallel()

	_, _, err := ot.Transform(ot.NewInsert(0, "xy"), ot.NewDelete(math.MaxInt-1, 1))
	require.ErrorIs(t, err, ot.ErrInvalidOperation)
}

func TestTransform_DeleteVsDelete_OverlapMerges(t *testing.T) {
	t.Parallel()

	op1Prime, op2Prime, err := ot.Transform(ot.NewDelete(5, 10), ot.NewDelete(8, 7))
	require.NoError(t, err)

	want := ot.NewDelete(5, 10)

	if op1Prime != want || op2Prime != want {
		t.Errorf("expected both sides %s, got %s, %s", want, op1Prime, op2Prime)
	}
}

func TestTransform_DeleteVsDelete_MergedUnion(t *testing.T) {
	t.Parallel()

	op1Prime, op2Prime, err := ot.Transform(ot.NewDelete(2, 4), ot.NewDelete(4, 5))
	require.NoError(t, err)

	want := ot.NewDelete(2, 7)

	if op1Prime != want || op2Prime != want {
		t.Errorf("expected union %s, got %s, %s", want, op1Prime, op2Prime)
	}
}

func TestTransform_RetainPassesThrough(t *testing.T) {
	t.Parallel()

	others := []ot.Operation{
		ot.NewInsert(3, "abc"),
		ot.NewDelete(1, 2),
		ot.NewRetain(4),
	}

	for _, other := range others {
		retainPrime, otherPrime, err := ot.Transform(ot.NewRetain(7), other)
		require.NoError(t, err)

		if retainPrime != ot.NewRetain(7) || otherPrime != other {
			t.Errorf("retain vs %s: got %s, %s", other, retainPrime, otherPrime)
		}

		otherPrime, retainPrime, err = ot.Transform(other, ot.NewRetain(7))
		require.NoError(t, err)

		if retainPrime != ot.NewRetain(7) || otherPrime != other {
			t.Errorf("%s vs retain: got %s, %s", other, otherPrime, retainPrime)
		}
	}
}

func TestTransform_RejectsInvalidOperands(t *testing.T) {
	t.Parallel()

	_, _, err := ot.Transform(ot.NewInsert(-1, "x"), ot.NewDelete(0, 1))
	if !errors.Is(err, ot.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}

	_, _, err = ot.Transform(ot.NewInsert(0, "x"), ot.NewDelete(0, -2))
	if !errors.Is(err, ot.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
}

// Integration test: the HELLO walkthrough, applied in both orders.
func TestTransform_HelloExample(t *testing.T) {
	t.Parallel()

	alice := ot.NewInsert(2, "X")
	bob := ot.NewDelete(2, 1)

	alicePrime, bobPrime, err := ot.Transform(alice, bob)
	require.NoError(t, err)

	path1 := mustApply(t, mustApply(t, testDocHello, alice), bobPrime)
	path2 := mustApply(t, mustApply(t, testDocHello, bob), alicePrime)

	if path1 != path2 {
		t.Errorf("documents diverged!\nPath1: %s\nPath2: %s", path1, path2)
	}

	if path1 != "HEXLO" {
		t.Errorf("expected HEXLO, got %s", path1)
	}
}

// Every pair of operations valid against a base document converges, except
// distinct overlapping deletes, which resolve to their union instead.
func TestTransform_Convergence(t *testing.T) {
	t.Parallel()

	const doc = "abcdef"

	ops := allOperations(len([]rune(doc)))

	for _, a := range ops {
		for _, b := range ops {
			if overlappingDeletes(a, b) {
				continue
			}

			aPrime, bPrime, err := ot.Transform(a, b)
			require.NoError(t, err)

			left := mustApply(t, mustApply(t, doc, a), bPrime)
			right := mustApply(t, mustApply(t, doc, b), aPrime)

			if left != right {
				t.Fatalf("diverged for a=%s b=%s: a,b'=%q b,a'=%q (a'=%s b'=%s)",
					a, b, left, right, aPrime, bPrime)
			}
		}
	}
}

func allOperations(n int) []ot.Operation {
	ops := []ot.Operation{ot.NewRetain(0), ot.NewRetain(n)}

	for pos := 0; pos <= n; pos++ {
		ops = append(ops, ot.NewInsert(pos, "X"), ot.NewInsert(pos, "YZ"))
	}

	for start := 0; start <= n; start++ {
		for length := 0; start+length <= n; length++ {
			ops = append(ops, ot.NewDelete(start, length))
		}
	}

	return ops
}

func overlappingDeletes(a, b ot.Operation) bool {
	if !a.IsDelete() || !b.IsDelete() || a.Length() == 0 || b.Length() == 0 {
		return false
	}

	if a == b {
		return false
	}

	return a.End() > b.Start() && b.End() > a.Start()
}

func mustApply(t *testing.T, doc string, op ot.Operation) string {
	t.Helper()

	out, err := ot.Apply(doc, op)
	require.NoError(t, err, "apply %s to %q", op, doc)

	return out
}
