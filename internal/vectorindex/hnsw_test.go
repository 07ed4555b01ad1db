package vectorindex

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func unitVector(seed int64, dim int) []float32 {
	r := rand.New(rand.NewSource(seed))
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		f := r.Float64()*2 - 1
		v[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func TestInsertThenSearchFindsSelf(t *testing.T) {
	ix := New(8)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("doc-%d", i)
		if err := ix.Insert(id, unitVector(int64(i), 8)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	target := unitVector(7, 8)
	matches, err := ix.Search(target, ix.Size(), 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	found := false
	for _, m := range matches {
		if m.ID == "doc-7" {
			found = true
			if m.Score < 0.99 {
				t.Errorf("expected near-1.0 score for exact vector, got %f", m.Score)
			}
		}
	}
	if !found {
		t.Fatal("expected doc-7 to be found when k >= size()")
	}
}

func TestNeighborsAreBidirectional(t *testing.T) {
	ix := New(4)
	for i := 0; i < 30; i++ {
		ix.Insert(fmt.Sprintf("n%d", i), unitVector(int64(i*2+1), 4))
	}

	for id, n := range ix.nodes {
		for level, neighbors := range n.neighbors {
			for nb := range neighbors {
				other := ix.nodes[nb]
				if other == nil {
					t.Fatalf("neighbor %s of %s does not exist", nb, id)
				}
				if level >= len(other.neighbors) {
					t.Fatalf("neighbor %s of %s (level %d) has no such level", nb, id, level)
				}
				if _, back := other.neighbors[level][id]; !back {
					t.Errorf("edge %s->%s at level %d is not bidirectional", id, nb, level)
				}
			}
		}
	}
}

func TestEmptyIndexSearchReturnsEmpty(t *testing.T) {
	ix := New(4)
	matches, err := ix.Search(unitVector(1, 4), 5, 0)
	if err != nil {
		t.Fatalf("search on empty index: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestDeleteEntryPointLeavesGraphSearchable(t *testing.T) {
	ix := New(4)
	for i := 0; i < 10; i++ {
		ix.Insert(fmt.Sprintf("n%d", i), unitVector(int64(i), 4))
	}

	entry := ix.entryPoint
	ix.Delete(entry)

	if ix.entryPoint == entry {
		t.Fatal("entry point was not replaced after delete")
	}
	matches, err := ix.Search(unitVector(3, 4), 5, 0)
	if err != nil {
		t.Fatalf("search after deleting entry point: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected the remaining graph to still be searchable")
	}
	for _, m := range matches {
		if m.ID == entry {
			t.Errorf("deleted node %s still returned by search", entry)
		}
	}
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	ix := New(4)
	if err := ix.Insert("bad", []float32{1, 2, 3}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestReinsertReplacesPriorEntry(t *testing.T) {
	ix := New(4)
	ix.Insert("a", unitVector(1, 4))
	if ix.Size() != 1 {
		t.Fatalf("expected 1 node, got %d", ix.Size())
	}
	ix.Insert("a", unitVector(2, 4))
	if ix.Size() != 1 {
		t.Fatalf("expected reinsert to replace, got %d nodes", ix.Size())
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	ix := New(4)
	for i := 0; i < 12; i++ {
		ix.Insert(fmt.Sprintf("n%d", i), unitVector(int64(i), 4))
	}
	data, err := ix.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.Size() != ix.Size() {
		t.Fatalf("expected %d nodes restored, got %d", ix.Size(), restored.Size())
	}
	q := unitVector(5, 4)
	want, _ := ix.Search(q, 3, 0)
	got, _ := restored.Search(q, 3, 0)
	if len(want) != len(got) {
		t.Fatalf("expected %d matches, got %d", len(want), len(got))
	}
}
