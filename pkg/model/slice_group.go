package model

import (
	"sort"
)

// SliceGroup owns the synchronous slices of one thread. Begin events push
// onto a stack of open slices, end events close the top of that stack.
type SliceGroup struct {
	thread *Thread

	slices     []*Slice
	openSlices []*Slice

	// mostRecentTs tracks the greatest timestamp observed by this group so
	// records that move backward in time can be rejected
	mostRecentTs    float64
	hasMostRecentTs bool
}

func NewSliceGroup(thread *Thread) *SliceGroup {
	return &SliceGroup{thread: thread}
}

func (g *SliceGroup) Slices() []*Slice {
	return g.slices
}

func (g *SliceGroup) OpenSliceCount() int {
	return len(g.openSlices)
}

// ObserveTimestamp records ts as seen, reporting false when ts precedes an
// earlier observation in this group
func (g *SliceGroup) ObserveTimestamp(ts float64) bool {
	if g.hasMostRecentTs && ts < g.mostRecentTs {
		return false
	}
	g.mostRecentTs = ts
	g.hasMostRecentTs = true
	return true
}

// BeginSlice pushes a new open slice onto the stack
func (g *SliceGroup) BeginSlice(category, title string, ts float64, args map[string]interface{}, tts *float64, colorID int, startStackFrame *StackFrame) *Slice {
	slice := &Slice{
		Category:        category,
		Title:           title,
		ColorID:         colorID,
		Start:           ts,
		Args:            args,
		ThreadStart:     tts,
		StartStackFrame: startStackFrame,
	}
	g.slices = append(g.slices, slice)
	g.openSlices = append(g.openSlices, slice)
	return slice
}

// MostRecentlyOpenedPartialSlice returns the top of the open-slice stack
func (g *SliceGroup) MostRecentlyOpenedPartialSlice() *Slice {
	if len(g.openSlices) == 0 {
		return nil
	}
	return g.openSlices[len(g.openSlices)-1]
}

// EndSlice closes the top open slice at ts; callers must check OpenSliceCount first
func (g *SliceGroup) EndSlice(ts float64, tts *float64) *Slice {
	slice := g.openSlices[len(g.openSlices)-1]
	g.openSlices = g.openSlices[:len(g.openSlices)-1]
	slice.Close(ts)
	if tts != nil {
		slice.CloseThreadTime(*tts)
	}
	return slice
}

// PushCompleteSlice adds a slice that arrives already closed
func (g *SliceGroup) PushCompleteSlice(slice *Slice) *Slice {
	g.slices = append(g.slices, slice)
	return slice
}

// AutoCloseOpenSlices closes every still-open slice at endTs, deepest first
func (g *SliceGroup) AutoCloseOpenSlices(endTs float64) {
	for i := len(g.openSlices) - 1; i >= 0; i-- {
		g.openSlices[i].Close(endTs)
	}
	g.openSlices = nil
}

// FindSliceAtTs returns the most deeply nested slice containing ts, or nil
func (g *SliceGroup) FindSliceAtTs(ts float64) *Slice {
	var found *Slice
	for _, slice := range g.slices {
		if slice.Contains(ts) {
			if found == nil || slice.Start >= found.Start {
				found = slice
			}
		}
	}
	return found
}

// FindNextSliceAfter returns the first slice starting strictly after ts, or nil
func (g *SliceGroup) FindNextSliceAfter(ts float64) *Slice {
	var found *Slice
	for _, slice := range g.slices {
		if slice.Start > ts {
			if found == nil || slice.Start < found.Start {
				found = slice
			}
		}
	}
	return found
}

// CreateSubSlices rebuilds the nesting hierarchy from the flat slice list.
// Slices are sorted by start (stable, longer first on ties) and re-parented
// by interval containment.
func (g *SliceGroup) CreateSubSlices() {
	for _, slice := range g.slices {
		slice.SubSlices = nil
	}

	ordered := make([]*Slice, len(g.slices))
	copy(ordered, g.slices)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End() > ordered[j].End()
	})

	var stack []*Slice
	for _, slice := range ordered {
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if slice.Start >= top.Start && slice.End() <= top.End() {
				break
			}
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			top.SubSlices = append(top.SubSlices, slice)
		}
		stack = append(stack, slice)
	}
}

// IsEmpty reports whether the group recorded no slices at all
func (g *SliceGroup) IsEmpty() bool {
	return len(g.slices) == 0
}

func (g *SliceGroup) updateBounds(b *Bounds) {
	for _, slice := range g.slices {
		slice.addToBounds(b)
	}
}

func (g *SliceGroup) shiftTimestampsForward(amount float64) {
	for _, slice := range g.slices {
		slice.Start += amount
	}
	g.mostRecentTs += amount
}
