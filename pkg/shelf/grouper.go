// Package shelf groups detected books into shelves by vertical position.
//
// Books are ordered by the vertical centre of their bounding box and then
// walked once from top to bottom. A book joins the current shelf when its
// vertical span overlaps the span of the last book placed on that shelf;
// otherwise the shelf is closed and a new one starts. Closed shelves are
// never reopened or merged.
package shelf

import (
	"sort"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

type span struct {
	top    float64
	bottom float64
}

func (s span) center() float64 {
	return (s.top + s.bottom) / 2
}

// overlaps reports a non-empty intersection of two vertical spans
func (s span) overlaps(o span) bool {
	return max(s.top, o.top) < min(s.bottom, o.bottom)
}

type entry struct {
	book types.BookAnnotation
	span span
}

// Group partitions books into shelves numbered from 1, top to bottom.
// Books without a well-formed [x1, y1, x2, y2] box are discarded.
func Group(books []types.BookAnnotation) []types.Shelf {
	entries := make([]entry, 0, len(books))
	for _, b := range books {
		top, bottom, ok := b.VerticalSpan()
		if !ok {
			continue
		}
		entries = append(entries, entry{book: b, span: span{top: top, bottom: bottom}})
	}

	shelves := []types.Shelf{}
	if len(entries) == 0 {
		return shelves
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].span.center() < entries[j].span.center()
	})

	current := []types.BookAnnotation{entries[0].book}
	last := entries[0].span

	for _, e := range entries[1:] {
		if last.overlaps(e.span) {
			current = append(current, e.book)
		} else {
			shelves = append(shelves, types.Shelf{ShelfID: len(shelves) + 1, Annotations: current})
			current = []types.BookAnnotation{e.book}
		}
		last = e.span
	}

	return append(shelves, types.Shelf{ShelfID: len(shelves) + 1, Annotations: current})
}

// CountBooks returns the number of books across all shelves
func CountBooks(shelves []types.Shelf) int {
	n := 0
	for _, s := range shelves {
		n += len(s.Annotations)
	}
	return n
}

// Flatten returns the books of all shelves in shelf order
func Flatten(shelves []types.Shelf) []types.BookAnnotation {
	out := make([]types.BookAnnotation, 0, CountBooks(shelves))
	for _, s := range shelves {
		out = append(out, s.Annotations...)
	}
	return out
}
