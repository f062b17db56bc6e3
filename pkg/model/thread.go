package model

import "fmt"

// Thread is a single thread of execution within a process. It owns the
// thread's synchronous slice group and its async slice group.
type Thread struct {
	process *Process

	TID int64
	// Name is metadata-derived, empty until a thread_name record arrives
	Name string
	// SortIndex is metadata-derived and controls viewer ordering
	SortIndex int64

	SliceGroup      *SliceGroup
	AsyncSliceGroup *AsyncSliceGroup

	bounds Bounds
}

func NewThread(process *Process, tid int64) *Thread {
	t := &Thread{
		process: process,
		TID:     tid,
		bounds:  NewBounds(),
	}
	t.SliceGroup = NewSliceGroup(t)
	t.AsyncSliceGroup = NewAsyncSliceGroup(t)
	return t
}

func (t *Thread) Process() *Process {
	return t.process
}

// UserFriendlyName renders the thread for diagnostics
func (t *Thread) UserFriendlyName() string {
	if t.Name != "" {
		return fmt.Sprintf("%s (tid %d)", t.Name, t.TID)
	}
	return fmt.Sprintf("tid %d", t.TID)
}

// IsEmpty reports whether the thread recorded no events at all
func (t *Thread) IsEmpty() bool {
	return t.SliceGroup.IsEmpty() && t.AsyncSliceGroup.IsEmpty()
}

func (t *Thread) Bounds() Bounds {
	return t.bounds
}

// UpdateBounds recomputes the thread's time bounds from its slice groups
func (t *Thread) UpdateBounds() {
	t.bounds.Reset()
	t.SliceGroup.updateBounds(&t.bounds)
	t.AsyncSliceGroup.updateBounds(&t.bounds)
}

// ShiftTimestampsForward translates every event on the thread by amount
func (t *Thread) ShiftTimestampsForward(amount float64) {
	t.SliceGroup.shiftTimestampsForward(amount)
	t.AsyncSliceGroup.shiftTimestampsForward(amount)
}

// AutoCloseOpenSlices closes any still-open slices at endTs
func (t *Thread) AutoCloseOpenSlices(endTs float64) {
	t.SliceGroup.AutoCloseOpenSlices(endTs)
}
