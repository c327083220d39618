package window

// Range is a half-open span [Start, End) of row indexes to mount.
// VisibleStart and VisibleEnd bound the rows that actually intersect the
// viewport; the remainder is overscan.
type Range struct {
	Start        int `json:"start"`
	End          int `json:"end"`
	VisibleStart int `json:"visible_start"`
	VisibleEnd   int `json:"visible_end"`
}

func (r Range) Len() int { return r.End - r.Start }

func (r Range) Contains(i int) bool { return i >= r.Start && i < r.End }

// ComputeVisibleRange returns every row intersecting the viewport
// [scrollOffset, scrollOffset+viewportHeight), widened by overscan rows on
// each side. The scroll offset is clamped to [0, total-viewportHeight] the
// same way a native scroll container clamps it.
func ComputeVisibleRange(scrollOffset, viewportHeight int, heights Heights, overscan int) Range {
	n := heights.Len()
	if n == 0 || viewportHeight <= 0 {
		return Range{}
	}
	total := heights.Offset(n)
	if total <= 0 {
		return Range{}
	}

	scroll := clamp(scrollOffset, 0, max(total-viewportHeight, 0))
	bottom := min(scroll+viewportHeight, total) - 1

	first := heights.Index(scroll)
	last := heights.Index(bottom)

	overscan = max(overscan, 0)
	return Range{
		Start:        max(first-overscan, 0),
		End:          min(last+1+overscan, n),
		VisibleStart: first,
		VisibleEnd:   last + 1,
	}
}

// TotalSize is the height of the scrollable content, used to size the
// scroll container so the native scrollbar matches the full list.
func TotalSize(heights Heights) int {
	return heights.Offset(heights.Len())
}
