package shelf

import (
	"fmt"
	"testing"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

func book(name string, x1, y1, x2, y2 float64) types.BookAnnotation {
	return types.BookAnnotation{Title: name, Author: "a", XYXY: []float64{x1, y1, x2, y2}}
}

func titles(s types.Shelf) []string {
	out := make([]string, len(s.Annotations))
	for i, a := range s.Annotations {
		out[i] = a.Title
	}
	return out
}

func TestGroup_OverlappingSpansShareShelf(t *testing.T) {
	shelves := Group([]types.BookAnnotation{
		book("a", 0, 0, 10, 10),
		book("b", 0, 5, 10, 15),
	})

	if len(shelves) != 1 {
		t.Fatalf("shelves: got %d, want 1", len(shelves))
	}
	if shelves[0].ShelfID != 1 || len(shelves[0].Annotations) != 2 {
		t.Errorf("got %+v", shelves[0])
	}
}

func TestGroup_DisjointSpansSplit(t *testing.T) {
	shelves := Group([]types.BookAnnotation{
		book("a", 0, 0, 10, 10),
		book("b", 0, 20, 10, 30),
	})

	if len(shelves) != 2 {
		t.Fatalf("shelves: got %d, want 2", len(shelves))
	}
	for i, s := range shelves {
		if s.ShelfID != i+1 || len(s.Annotations) != 1 {
			t.Errorf("shelf %d: got %+v", i, s)
		}
	}
}

func TestGroup_SortsByCenter(t *testing.T) {
	shelves := Group([]types.BookAnnotation{
		book("bottom", 0, 100, 10, 140),
		book("top-right", 20, 4, 30, 40),
		book("top-left", 0, 0, 10, 40),
	})

	if len(shelves) != 2 {
		t.Fatalf("shelves: got %d, want 2", len(shelves))
	}
	if got := titles(shelves[0]); fmt.Sprint(got) != "[top-left top-right]" {
		t.Errorf("first shelf: got %v", got)
	}
	if got := titles(shelves[1]); fmt.Sprint(got) != "[bottom]" {
		t.Errorf("second shelf: got %v", got)
	}
}

func TestGroup_ComparesAgainstLastBookOnly(t *testing.T) {
	// a overlaps b, b overlaps c, but a and c are disjoint: adjacency chains them
	chained := Group([]types.BookAnnotation{
		book("a", 0, 0, 0, 10),
		book("b", 0, 8, 0, 18),
		book("c", 0, 16, 0, 26),
	})
	if len(chained) != 1 {
		t.Errorf("chained books: got %d shelves, want 1", len(chained))
	}

	// c overlaps a (tall book) but not b, the last book added
	split := Group([]types.BookAnnotation{
		book("a", 0, 0, 0, 40),
		book("b", 0, 18, 0, 24),
		book("c", 0, 25, 0, 35),
	})
	if len(split) != 2 {
		t.Fatalf("split: got %d shelves, want 2", len(split))
	}
	if got := titles(split[1]); fmt.Sprint(got) != "[c]" {
		t.Errorf("second shelf: got %v", got)
	}
}

func TestGroup_EdgeCases(t *testing.T) {
	if got := Group(nil); got == nil || len(got) != 0 {
		t.Errorf("empty input: got %v", got)
	}

	one := Group([]types.BookAnnotation{book("solo", 1, 2, 3, 4)})
	if len(one) != 1 || one[0].ShelfID != 1 || len(one[0].Annotations) != 1 {
		t.Errorf("single book: got %+v", one)
	}

	touching := Group([]types.BookAnnotation{
		book("a", 0, 0, 10, 10),
		book("b", 0, 10, 10, 20),
	})
	if len(touching) != 2 {
		t.Errorf("spans that only touch must not overlap, got %d shelves", len(touching))
	}
}

func TestGroup_DegenerateBox(t *testing.T) {
	// a zero-height span has an empty intersection with every span
	inside := Group([]types.BookAnnotation{
		book("flat", 0, 5, 10, 5),
		book("tall", 0, 0, 10, 10),
	})
	if len(inside) != 2 {
		t.Errorf("zero-height span should start its own shelf, got %d", len(inside))
	}

	edge := Group([]types.BookAnnotation{
		book("tall", 0, 0, 10, 10),
		book("flat", 0, 10, 10, 10),
	})
	if len(edge) != 2 {
		t.Errorf("zero-height span on the boundary should split, got %d", len(edge))
	}
}

func TestGroup_DiscardsMalformedBoxes(t *testing.T) {
	shelves := Group([]types.BookAnnotation{
		{Title: "no box"},
		{Title: "short", XYXY: []float64{1, 2, 3}},
		book("ok", 0, 0, 1, 1),
	})
	if CountBooks(shelves) != 1 {
		t.Errorf("expected only the well-formed book, got %d", CountBooks(shelves))
	}

	if got := Group([]types.BookAnnotation{{Title: "no box"}}); len(got) != 0 {
		t.Errorf("all malformed should yield no shelves, got %d", len(got))
	}
}

func TestGroup_IDsAreSequential(t *testing.T) {
	var books []types.BookAnnotation
	for i := 9; i >= 0; i-- {
		y := float64(i * 50)
		books = append(books, book(fmt.Sprintf("b%d", i), 0, y, 10, y+20))
	}

	shelves := Group(books)
	if len(shelves) != 10 {
		t.Fatalf("shelves: got %d, want 10", len(shelves))
	}
	prev := -1.0
	for i, s := range shelves {
		if s.ShelfID != i+1 {
			t.Errorf("shelf %d has id %d", i, s.ShelfID)
		}
		top := s.Annotations[0].XYXY[1]
		if top <= prev {
			t.Errorf("shelves out of vertical order at %d", i)
		}
		prev = top
	}

	if got := len(Flatten(shelves)); got != 10 {
		t.Errorf("flatten: got %d", got)
	}
}
