package model

// FlowPhase classifies a slice's participation in v2 flow linking, derived
// from the flow_in/flow_out markers on the complete event that produced it
type FlowPhase int

const (
	FlowPhaseNone FlowPhase = iota
	FlowPhaseProducer
	FlowPhaseConsumer
	FlowPhaseStep
)

// Slice is a time interval on a thread. A slice with no duration yet is open;
// within a SliceGroup the open slices form a stack ordered by start.
type Slice struct {
	Category string
	Title    string
	ColorID  int
	// Start is the slice begin time in milliseconds
	Start float64
	// Duration is nil while the slice is still open
	Duration *float64
	// ThreadStart is the optional thread-clock begin time
	ThreadStart *float64
	// ThreadDuration is the optional thread-clock duration
	ThreadDuration  *float64
	Args            map[string]interface{}
	ArgsStripped    bool
	StartStackFrame *StackFrame
	EndStackFrame   *StackFrame
	// BindID is set when the slice participates in v2 flow linking
	BindID        string
	FlowPhase     FlowPhase
	OutFlowEvents []*FlowEvent
	InFlowEvents  []*FlowEvent
	SubSlices     []*Slice
}

// IsOpen reports whether the slice has not been closed yet
func (s *Slice) IsOpen() bool {
	return s.Duration == nil
}

// End returns the slice end time; an open slice ends where it starts
func (s *Slice) End() float64 {
	if s.Duration == nil {
		return s.Start
	}
	return s.Start + *s.Duration
}

// Close stamps the slice's duration, ending it at ts
func (s *Slice) Close(ts float64) {
	d := ts - s.Start
	s.Duration = &d
}

// CloseThreadTime stamps the thread-clock duration when both ends were observed
func (s *Slice) CloseThreadTime(tts float64) {
	if s.ThreadStart == nil {
		return
	}
	d := tts - *s.ThreadStart
	s.ThreadDuration = &d
}

// Contains reports whether ts falls within the slice's closed interval
func (s *Slice) Contains(ts float64) bool {
	return ts >= s.Start && ts <= s.End()
}

func (s *Slice) addToBounds(b *Bounds) {
	b.AddValue(s.Start)
	b.AddValue(s.End())
}
