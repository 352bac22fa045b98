// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

// --- Waves Tests ---

func TestWaves_Diamond(t *testing.T) {
	nodes := textNodes("A", "B", "C", "D")
	edges := []Edge{edge("A", "B"), edge("A", "C"), edge("B", "D"), edge("C", "D")}

	waves, err := Waves(nodes, edges)
	if err != nil {
		t.Fatalf("Waves() error = %v", err)
	}
	want := [][]string{{"A"}, {"B", "C"}, {"D"}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("Waves() = %v, want %v", waves, want)
	}
}

func TestWaves_KeepsDeclarationOrder(t *testing.T) {
	nodes := textNodes("Z", "Y", "X")
	waves, err := Waves(nodes, nil)
	if err != nil {
		t.Fatalf("Waves() error = %v", err)
	}
	want := [][]string{{"Z", "Y", "X"}}
	if !reflect.DeepEqual(waves, want) {
		t.Errorf("Waves() = %v, want %v", waves, want)
	}
}

func TestWaves_Empty(t *testing.T) {
	waves, err := Waves(nil, nil)
	if err != nil {
		t.Fatalf("Waves() error = %v", err)
	}
	if len(waves) != 0 {
		t.Errorf("Waves() = %v, want none", waves)
	}
}

func TestWaves_PartitionProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		nodes, edges := randomDAG(r, 1+r.Intn(30), r.Float64()*0.4)

		waves, err := Waves(nodes, edges)
		if err != nil {
			t.Fatalf("iteration %d: Waves() error = %v", i, err)
		}

		waveOf := make(map[string]int)
		for w, ids := range waves {
			for _, id := range ids {
				if _, seen := waveOf[id]; seen {
					t.Fatalf("iteration %d: node %s scheduled twice", i, id)
				}
				waveOf[id] = w
			}
		}
		if len(waveOf) != len(nodes) {
			t.Fatalf("iteration %d: scheduled %d nodes, want %d", i, len(waveOf), len(nodes))
		}
		for _, e := range edges {
			if waveOf[e.Source] >= waveOf[e.Target] {
				t.Fatalf("iteration %d: edge %s->%s has waves %d >= %d",
					i, e.Source, e.Target, waveOf[e.Source], waveOf[e.Target])
			}
		}
	}
}

func TestWaves_CycleDoesNotLoop(t *testing.T) {
	nodes := textNodes("A", "B", "C")
	edges := []Edge{edge("A", "B"), edge("B", "C"), edge("C", "B")}

	_, err := Waves(nodes, edges)
	if !errors.Is(err, ErrNoProgress) {
		t.Errorf("error = %v, want ErrNoProgress", err)
	}
}

// --- Subgraph Tests ---

func TestSubgraph_UpstreamClosure(t *testing.T) {
	// A -> B -> D, C -> D, D -> E, F isolated
	nodes := textNodes("A", "B", "C", "D", "E", "F")
	edges := []Edge{edge("A", "B"), edge("B", "D"), edge("C", "D"), edge("D", "E")}

	sub, err := Subgraph([]string{"D"}, nodes, edges)
	if err != nil {
		t.Fatalf("Subgraph() error = %v", err)
	}

	if got, want := sub.NodeIDs(), []string{"A", "B", "C", "D"}; !reflect.DeepEqual(got, want) {
		t.Errorf("nodes = %v, want %v", got, want)
	}
	if len(sub.Edges) != 3 {
		t.Errorf("edges = %v, want the 3 edges inside the closure", sub.Edges)
	}
	for _, e := range sub.Edges {
		if e.Target == "E" {
			t.Errorf("edge %v leaves the closure", e)
		}
	}
}

func TestSubgraph_Root(t *testing.T) {
	nodes := textNodes("A", "B")
	sub, err := Subgraph([]string{"A"}, nodes, []Edge{edge("A", "B")})
	if err != nil {
		t.Fatalf("Subgraph() error = %v", err)
	}
	if got := sub.NodeIDs(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("nodes = %v, want [A]", got)
	}
	if len(sub.Edges) != 0 {
		t.Errorf("edges = %v, want none", sub.Edges)
	}
}

// closure computes ancestors the slow way for the property test.
func closure(selected []string, edges []Edge) map[string]bool {
	in := make(map[string]bool)
	for _, s := range selected {
		in[s] = true
	}
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			if in[e.Target] && !in[e.Source] {
				in[e.Source] = true
				changed = true
			}
		}
	}
	return in
}

func TestSubgraph_ClosureProperty(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		nodes, edges := randomDAG(r, 2+r.Intn(20), r.Float64()*0.3)

		var selected []string
		for _, n := range nodes {
			if r.Float64() < 0.2 {
				selected = append(selected, n.ID)
			}
		}
		if len(selected) == 0 {
			selected = []string{nodes[0].ID}
		}

		sub, err := Subgraph(selected, nodes, edges)
		if err != nil {
			t.Fatalf("iteration %d: Subgraph() error = %v", i, err)
		}

		want := closure(selected, edges)
		got := sub.NodeIDs()
		if len(got) != len(want) {
			sort.Strings(got)
			t.Fatalf("iteration %d: closure = %v, want %d nodes", i, got, len(want))
		}
		for _, id := range got {
			if !want[id] {
				t.Fatalf("iteration %d: %s is outside the closure", i, id)
			}
		}
		for _, e := range sub.Edges {
			if !want[e.Source] || !want[e.Target] {
				t.Fatalf("iteration %d: edge %v leaves the closure", i, e)
			}
		}
	}
}

func TestSubgraph_UnknownSelection(t *testing.T) {
	_, err := Subgraph([]string{"ghost"}, textNodes("A"), nil)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("error = %v, want ErrNodeNotFound", err)
	}
}

func TestSubgraph_EmptySelection(t *testing.T) {
	_, err := Subgraph(nil, textNodes("A"), nil)
	if !errors.Is(err, ErrEmptySelection) {
		t.Errorf("error = %v, want ErrEmptySelection", err)
	}
}
