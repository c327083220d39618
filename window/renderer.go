package window

import "fmt"

type Mode string

const (
	// ModeEmpty means there are no rows; an empty-state placeholder is shown.
	ModeEmpty Mode = "empty"
	// ModeFull means the list is short enough to mount every row.
	ModeFull Mode = "full"
	// ModeWindowed means only the rows in Plan.Range are mounted.
	ModeWindowed Mode = "windowed"
)

const (
	DefaultRowHeight = 38
	DefaultOverscan  = 5
	DefaultThreshold = 20
)

// Upper bounds for caller-supplied plan inputs. Together they cap the
// number of mounted items at MaxViewport/rowHeight + 2*MaxOverscan, or
// MaxThreshold when the whole list is mounted.
const (
	MaxOverscan  = 100
	MaxThreshold = 500
	MaxViewport  = 10000
	MaxRowHeight = 10000
	MaxCount     = 1<<31 - 1
)

type Options struct {
	RowHeight int
	Overscan  int
	// Threshold is the largest row count rendered without windowing.
	Threshold int
}

func DefaultOptions() Options {
	return Options{
		RowHeight: DefaultRowHeight,
		Overscan:  DefaultOverscan,
		Threshold: DefaultThreshold,
	}
}

// Item is one mounted row, positioned absolutely at Start so that rows
// entering or leaving the window never shift the others.
type Item struct {
	Index     int    `json:"index"`
	Start     int    `json:"start"`
	Size      int    `json:"size"`
	Transform string `json:"transform"`
}

// Plan is everything a view needs to draw one frame of the list.
type Plan struct {
	Mode      Mode   `json:"mode"`
	Count     int    `json:"count"`
	TotalSize int    `json:"total_size"`
	Range     Range  `json:"range"`
	Items     []Item `json:"items"`
}

type Renderer struct {
	heights Heights
	opts    Options
}

func NewRenderer(heights Heights, opts Options) *Renderer {
	return &Renderer{heights: heights, opts: opts}
}

// NewUniformRenderer is a Renderer over count rows of opts.RowHeight pixels.
func NewUniformRenderer(count int, opts Options) *Renderer {
	return NewRenderer(Uniform{Count: count, RowSize: opts.RowHeight}, opts)
}

func (r *Renderer) Heights() Heights { return r.heights }

// Plan decides the rendering mode and lays out the rows to mount for the
// given scroll position and viewport height.
func (r *Renderer) Plan(scrollOffset, viewportHeight int) Plan {
	n := r.heights.Len()
	plan := Plan{
		Count:     n,
		TotalSize: TotalSize(r.heights),
		Items:     []Item{},
	}

	switch {
	case n == 0:
		plan.Mode = ModeEmpty
		return plan
	case n <= r.opts.Threshold:
		plan.Mode = ModeFull
		plan.Range = Range{Start: 0, End: n, VisibleStart: 0, VisibleEnd: n}
	default:
		plan.Mode = ModeWindowed
		plan.Range = ComputeVisibleRange(scrollOffset, viewportHeight, r.heights, r.opts.Overscan)
	}

	plan.Items = make([]Item, 0, plan.Range.Len())
	for i := plan.Range.Start; i < plan.Range.End; i++ {
		start := r.heights.Offset(i)
		plan.Items = append(plan.Items, Item{
			Index:     i,
			Start:     start,
			Size:      r.heights.Size(i),
			Transform: fmt.Sprintf("translateY(%dpx)", start),
		})
	}
	return plan
}
