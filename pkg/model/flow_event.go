package model

// FlowEvent is a directed causality link from one slice to another
type FlowEvent struct {
	Category string
	Title    string
	ColorID  int
	// ID is the flow correlation id the link was stitched from
	ID string
	// Start is the producer-side timestamp in milliseconds
	Start float64
	// Duration is the span between producer and consumer, zero until linked
	Duration float64
	// StartSlice is the producer slice
	StartSlice *Slice
	// EndSlice is the consumer slice, nil while the flow is unmatched
	EndSlice *Slice
}

func NewFlowEvent(category, id, title string, colorID int, start float64) *FlowEvent {
	return &FlowEvent{
		Category: category,
		Title:    title,
		ColorID:  colorID,
		ID:       id,
		Start:    start,
	}
}

// End returns the consumer-side timestamp
func (fe *FlowEvent) End() float64 {
	return fe.Start + fe.Duration
}

// Finish links the flow to its consumer slice at ts and wires the slice-side
// in/out lists on both ends
func (fe *FlowEvent) Finish(endSlice *Slice, ts float64) {
	fe.EndSlice = endSlice
	fe.Duration = ts - fe.Start
	if fe.StartSlice != nil {
		fe.StartSlice.OutFlowEvents = append(fe.StartSlice.OutFlowEvents, fe)
	}
	if endSlice != nil {
		endSlice.InFlowEvents = append(endSlice.InFlowEvents, fe)
	}
}
