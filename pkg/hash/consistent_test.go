package hash

import (
	"fmt"
	"math/rand"
	"testing"
)

type fakeNode struct {
	name  string
	alive bool
}

func (f *fakeNode) Alive() bool { return f.alive }

func TestSumDeterministic(t *testing.T) {
	if Sum("key1") != Sum("key1") {
		t.Error("Sum should be deterministic")
	}
	if SumPort(6060) != Sum("6060") {
		t.Error("SumPort should hash the decimal port string")
	}
	if Sum("key1") == Sum("key2") {
		t.Error("Distinct short keys should not collide")
	}
}

func TestRingStaysSorted(t *testing.T) {
	r := NewRing[*fakeNode]()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		h := uint32(rng.Intn(50))
		r.Add(h, i, &fakeNode{name: fmt.Sprint(i), alive: true})

		entries := r.Entries()
		for j := 1; j < len(entries); j++ {
			if entries[j-1].Hash > entries[j].Hash {
				t.Fatalf("Ring unsorted after %d inserts at index %d", i+1, j)
			}
		}
	}
}

func TestRingStableOnTies(t *testing.T) {
	r := NewRing[*fakeNode]()
	r.Add(10, 1, &fakeNode{name: "a", alive: true})
	r.Add(20, 2, &fakeNode{name: "b", alive: true})
	r.Add(10, 3, &fakeNode{name: "c", alive: true})
	r.Add(5, 4, &fakeNode{name: "d", alive: true})

	var got []string
	for _, e := range r.Entries() {
		got = append(got, e.Node.name)
	}
	want := []string{"d", "a", "c", "b"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
}

func TestSuccessorOf(t *testing.T) {
	a := &fakeNode{name: "a", alive: true}
	b := &fakeNode{name: "b", alive: true}
	c := &fakeNode{name: "c", alive: true}

	r := NewRing[*fakeNode]()
	r.Add(300, 3, c)
	r.Add(100, 1, a)
	r.Add(200, 2, b)

	tests := []struct {
		name  string
		hash  uint32
		alive [3]bool
		want  string
	}{
		{"before first", 50, [3]bool{true, true, true}, "a"},
		{"exact match", 100, [3]bool{true, true, true}, "a"},
		{"first gap", 150, [3]bool{true, true, true}, "b"},
		{"second gap", 250, [3]bool{true, true, true}, "c"},
		{"wrap around", 350, [3]bool{true, true, true}, "a"},
		{"skip dead successor", 150, [3]bool{true, false, true}, "c"},
		{"wrap past dead", 250, [3]bool{false, true, false}, "b"},
		{"only first alive", 250, [3]bool{true, false, false}, "a"},
		{"none alive", 150, [3]bool{false, false, false}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.alive, b.alive, c.alive = tt.alive[0], tt.alive[1], tt.alive[2]

			node, ok := r.SuccessorOf(tt.hash)
			if tt.want == "" {
				if ok {
					t.Errorf("Expected no successor, got %s", node.name)
				}
				return
			}
			if !ok {
				t.Fatalf("Expected successor %s, got none", tt.want)
			}
			if node.name != tt.want {
				t.Errorf("Expected successor %s, got %s", tt.want, node.name)
			}
		})
	}
}

func TestSuccessorByKey(t *testing.T) {
	r := NewRing[*fakeNode]()
	ports := []int{1000, 6060, 8000, 9000}
	for _, p := range ports {
		r.Add(SumPort(p), p, &fakeNode{name: fmt.Sprint(p), alive: true})
	}

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key_%d", i)
		h := Sum(key)

		var want string
		for _, e := range r.Entries() {
			if e.Hash >= h {
				want = e.Node.name
				break
			}
		}
		if want == "" {
			want = r.Entries()[0].Node.name
		}

		node, ok := r.Successor(key)
		if !ok || node.name != want {
			t.Errorf("Key %s: expected %s, got %v", key, want, node)
		}
	}
}

func TestRingStats(t *testing.T) {
	r := NewRing[*fakeNode]()
	r.Add(1, 1, &fakeNode{alive: true})
	r.Add(2, 2, &fakeNode{alive: false})

	stats := r.Stats()
	if stats["nodes"] != 2 || stats["alive"] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
	if r.Len() != 2 {
		t.Errorf("Expected Len 2, got %d", r.Len())
	}
}
