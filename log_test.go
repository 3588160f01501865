package loom

import "testing"

func TestLogPushCommitProcessSince(t *testing.T) {
	l := NewLog("maxTest", 8, 1)
	p := l.NewPointer()

	if err := l.Push(0, 10); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := l.Push(0, 20); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, next, err := l.ProcessSince(p)
	if err != nil {
		t.Fatalf("ProcessSince: %v", err)
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Fatalf("ProcessSince = %v, want [10 20]", got)
	}
	if next.index != 2 {
		t.Fatalf("next pointer index = %d, want 2", next.index)
	}
}

func TestLogCapacityExceededOnOverflow(t *testing.T) {
	l := NewLog("maxTest", 2, 1)
	if err := l.Push(0, 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := l.Push(0, 2); err != nil {
		t.Fatalf("Push: %v", err)
	}
	err := l.Push(0, 3)
	if err == nil {
		t.Fatal("expected LogCapacityExceededError on overflow")
	}
	if !IsCheckError(err) {
		t.Fatalf("expected a check error, got %v", err)
	}
}

func TestLogWrapsRingAndBumpsGeneration(t *testing.T) {
	l := NewLog("maxTest", 4, 1)
	p := l.NewPointer()

	for i := uint32(0); i < 4; i++ {
		if err := l.Push(0, i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if l.generation != 1 {
		t.Fatalf("generation after filling the ring exactly = %d, want 1", l.generation)
	}

	got, next, err := l.ProcessSince(p)
	if err != nil {
		t.Fatalf("ProcessSince: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("ProcessSince across the wrap returned %d entries, want 4", len(got))
	}
	if next.generation != l.generation || next.index != l.writeIndex {
		t.Fatalf("pointer after full drain should match the log's current position")
	}
}

func TestLogLappedPointerReportsCapacityExceeded(t *testing.T) {
	l := NewLog("maxTest", 2, 1)
	p := l.NewPointer()

	for i := uint32(0); i < 2; i++ {
		if err := l.Push(0, i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for i := uint32(0); i < 2; i++ {
		if err := l.Push(0, i+10); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, _, err := l.ProcessSince(p); err == nil {
		t.Fatal("expected the lapped pointer to report LogCapacityExceededError")
	}
}

func TestLogProcessAndCommitSinceSeesLateCorralEntries(t *testing.T) {
	l := NewLog("maxTest", 8, 1)
	p := l.NewPointer()

	if err := l.Push(0, 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	// entry 2 is pushed to the corral but not yet committed when
	// ProcessAndCommitSince is called; it must still be observed since the
	// helper drains, commits, then drains again.
	if err := l.Push(0, 2); err != nil {
		t.Fatalf("Push: %v", err)
	}

	var seen []uint32
	next, err := l.ProcessAndCommitSince(p, func(entries []uint32) {
		seen = append(seen, entries...)
	})
	if err != nil {
		t.Fatalf("ProcessAndCommitSince: %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("seen = %v, want [1 2]", seen)
	}
	if next.index != l.writeIndex || next.generation != l.generation {
		t.Fatalf("returned pointer should match the log's position after commit")
	}
}

func TestLogSetSortKeyBitsOrdersEntriesByComponentType(t *testing.T) {
	l := NewLog("maxTest", 8, 1)
	l.SetSortKeyBits(ComponentTypeIDBits)
	p := l.NewPointer()

	if err := l.Push(0, packShapeEvent(1, 3, false)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := l.Push(0, packShapeEvent(1, 1, false)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := l.Push(0, packShapeEvent(1, 2, false)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, _, err := l.ProcessSince(p)
	if err != nil {
		t.Fatalf("ProcessSince: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	_, t0, _ := unpackShapeEvent(got[0])
	_, t1, _ := unpackShapeEvent(got[1])
	_, t2, _ := unpackShapeEvent(got[2])
	if t0 != 1 || t1 != 2 || t2 != 3 {
		t.Fatalf("entries not sorted by component type: got types %d,%d,%d", t0, t1, t2)
	}
}
