// Package window computes which rows of a long, vertically scrolled list
// have to be mounted and where each of them is positioned, so that render
// cost depends on the viewport rather than on the number of rows.
//
// All sizes and offsets are in whole pixels. Nothing in this package
// performs I/O or blocks; values are recomputed on every scroll or resize.
package window

import "sort"

// Heights describes the vertical extent of an ordered sequence of rows.
//
// Offset(i) is the top of row i and Offset(Len()) is the total height.
// Index(y) returns the row whose pixel range [Offset(i), Offset(i+1))
// contains y, clamped to the valid rows, or -1 when there are none.
type Heights interface {
	Len() int
	Size(i int) int
	Offset(i int) int
	Index(y int) int
}

// Uniform is a sequence of Count rows that are all RowSize pixels tall.
type Uniform struct {
	Count   int
	RowSize int
}

func (u Uniform) Len() int { return u.Count }

func (u Uniform) Size(int) int { return max(u.RowSize, 0) }

func (u Uniform) Offset(i int) int {
	return clamp(i, 0, u.Count) * max(u.RowSize, 0)
}

func (u Uniform) Index(y int) int {
	if u.Count == 0 {
		return -1
	}
	if u.RowSize <= 0 {
		return 0
	}
	return clamp(y/u.RowSize, 0, u.Count-1)
}

// Measured is a sequence of rows with individually known heights.
type Measured struct {
	sizes   []int
	offsets []int
}

// NewMeasured builds a Measured from per-row heights. Negative heights are
// treated as zero.
func NewMeasured(sizes []int) *Measured {
	m := &Measured{sizes: make([]int, len(sizes))}
	for i, s := range sizes {
		m.sizes[i] = max(s, 0)
	}
	m.offsets = prefixSums(m.sizes)
	return m
}

func (m *Measured) Len() int { return len(m.sizes) }

func (m *Measured) Size(i int) int { return m.sizes[i] }

func (m *Measured) Offset(i int) int { return m.offsets[clamp(i, 0, len(m.sizes))] }

func (m *Measured) Index(y int) int { return searchOffsets(m.offsets, y) }

// Layout combines an estimated row height with heights measured after the
// rows were actually rendered. Offsets are rebuilt lazily from the first
// row whose height changed. A Layout is not safe for concurrent use.
type Layout struct {
	count    int
	estimate int
	measured map[int]int
	offsets  []int
	dirty    int // first row whose offset is out of date; count+1 when clean
}

func NewLayout(count, estimate int) *Layout {
	return &Layout{
		count:    max(count, 0),
		estimate: max(estimate, 0),
		measured: make(map[int]int),
	}
}

// SetCount changes the number of rows. Measurements of rows that no longer
// exist are dropped.
func (l *Layout) SetCount(count int) {
	count = max(count, 0)
	if count == l.count {
		return
	}
	for i := range l.measured {
		if i >= count {
			delete(l.measured, i)
		}
	}
	l.dirty = min(l.dirty, min(l.count, count))
	l.count = count
}

// Measure records the rendered height of row i. It reports whether the
// layout changed, in which case total size and ranges must be recomputed.
func (l *Layout) Measure(i, size int) bool {
	if i < 0 || i >= l.count {
		return false
	}
	size = max(size, 0)
	if l.Size(i) == size {
		return false
	}
	l.measured[i] = size
	l.dirty = min(l.dirty, i)
	return true
}

func (l *Layout) Len() int { return l.count }

func (l *Layout) Size(i int) int {
	if s, ok := l.measured[i]; ok {
		return s
	}
	return l.estimate
}

func (l *Layout) Offset(i int) int {
	l.rebuild()
	return l.offsets[clamp(i, 0, l.count)]
}

func (l *Layout) Index(y int) int {
	l.rebuild()
	return searchOffsets(l.offsets, y)
}

func (l *Layout) rebuild() {
	if l.dirty > l.count && len(l.offsets) == l.count+1 {
		return
	}
	if cap(l.offsets) < l.count+1 {
		grown := make([]int, l.count+1)
		copy(grown, l.offsets)
		l.offsets = grown
	}
	l.offsets = l.offsets[:l.count+1]
	from := min(l.dirty, l.count)
	if from == 0 {
		l.offsets[0] = 0
	}
	for i := from; i < l.count; i++ {
		l.offsets[i+1] = l.offsets[i] + l.Size(i)
	}
	l.dirty = l.count + 1
}

func prefixSums(sizes []int) []int {
	offsets := make([]int, len(sizes)+1)
	for i, s := range sizes {
		offsets[i+1] = offsets[i] + s
	}
	return offsets
}

// searchOffsets finds the first row whose bottom edge lies below y. Rows of
// zero height never contain a pixel and are skipped.
func searchOffsets(offsets []int, y int) int {
	n := len(offsets) - 1
	if n <= 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return offsets[i+1] > y })
	return clamp(i, 0, n-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
