package loom

import (
	"errors"
	"testing"
)

func TestGraphTraverseRespectsExplicitOrder(t *testing.T) {
	g := NewGraph()
	g.AddVertex("A")
	g.AddVertex("B")
	g.AddVertex("C")
	g.addEdge(g.index["A"], g.index["B"], 5)
	g.addEdge(g.index["B"], g.index["C"], 5)

	if err := g.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	ready := g.traverse(nil)
	if len(ready) != 1 || ready[0] != "A" {
		t.Fatalf("initial ready = %v, want [A]", ready)
	}
	a := "A"
	ready = g.traverse(&a)
	if len(ready) != 1 || ready[0] != "B" {
		t.Fatalf("after A, ready = %v, want [B]", ready)
	}
	b := "B"
	ready = g.traverse(&b)
	if len(ready) != 1 || ready[0] != "C" {
		t.Fatalf("after B, ready = %v, want [C]", ready)
	}
}

func TestGraphTransitiveReductionDropsImpliedEdge(t *testing.T) {
	g := NewGraph()
	g.AddVertex("A")
	g.AddVertex("B")
	g.AddVertex("C")
	g.addEdge(g.index["A"], g.index["B"], 5)
	g.addEdge(g.index["B"], g.index["C"], 5)
	g.addEdge(g.index["A"], g.index["C"], 5) // implied by A->B->C

	if err := g.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if g.weight[g.index["A"]][g.index["C"]] != 0 {
		t.Fatalf("A->C should have been transitively reduced away")
	}
}

func TestGraphCycleDetected(t *testing.T) {
	g := NewGraph()
	g.AddVertex("S1")
	g.AddVertex("S2")
	g.AddVertex("S3")
	g.addEdge(g.index["S1"], g.index["S2"], 5)
	g.addEdge(g.index["S2"], g.index["S3"], 5)
	g.addEdge(g.index["S3"], g.index["S1"], 5)

	err := g.Seal()
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	var cycleErr PrecedenceCycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected PrecedenceCycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Cycle) == 0 {
		t.Fatal("PrecedenceCycleError should name the offending systems")
	}
}

func TestGraphDenialEdgeBlocksWeakerReorder(t *testing.T) {
	g := NewGraph()
	g.AddVertex("A")
	g.AddVertex("B")
	// a weak implicit-style edge (priority 1) should not overturn an
	// existing stronger denial edge in the opposite direction.
	g.denyEdge(g.index["A"], g.index["B"], 4)
	g.addEdge(g.index["B"], g.index["A"], 1)

	if g.weight[g.index["B"]][g.index["A"]] != 0 {
		t.Fatalf("weaker edge B->A should have been rejected by the stronger A-|B denial")
	}
	if g.weight[g.index["A"]][g.index["B"]] >= 0 {
		t.Fatalf("denial edge A-|B should still be in place")
	}
}
