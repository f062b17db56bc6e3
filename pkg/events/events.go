// events provides the raw record shapes found in Trace Event Format streams
package events

import (
	"fmt"
	"strconv"
)

// Phase is the discriminator for identifying the type of an event in a Trace Event Format stream
type Phase string

const (
	PhaseBeginDuration        Phase = "B"
	PhaseEndDuration          Phase = "E"
	PhaseComplete             Phase = "X"
	PhaseInstant              Phase = "I"
	PhaseInstantLegacy        Phase = "i"
	PhaseMark                 Phase = "R"
	PhaseCounter              Phase = "C"
	PhaseNestableAsyncBegin   Phase = "b"
	PhaseNestableAsyncEnd     Phase = "e"
	PhaseNestableAsyncInstant Phase = "n"
	PhaseLegacyAsyncBegin     Phase = "S"
	PhaseLegacyAsyncStepInto  Phase = "T"
	PhaseLegacyAsyncStepPast  Phase = "p"
	PhaseLegacyAsyncEnd       Phase = "F"
	PhaseFlowStart            Phase = "s"
	PhaseFlowStep             Phase = "t"
	PhaseFlowFinish           Phase = "f"
	PhaseMetadata             Phase = "M"
	PhaseObjectCreated        Phase = "N"
	PhaseObjectSnapshot       Phase = "O"
	PhaseObjectDeleted        Phase = "D"
	PhaseSample               Phase = "P"
	PhaseProcessMemoryDump    Phase = "v"
	PhaseGlobalMemoryDump     Phase = "V"
)

// InstantScope represents how widely an instantaneous event is relevant within a trace
type InstantScope string

const (
	// InstantScopeThread means this instant event is only relevant to one thread of a single process
	InstantScopeThread InstantScope = "t"
	// InstantScopeProcess means this instant event is relevant to one process, but across all threads in that process
	InstantScopeProcess InstantScope = "p"
	// InstantScopeGlobal means this instant event is relevant to the entire trace across all processes
	InstantScopeGlobal InstantScope = "g"
)

// ArgsStrippedSentinel is the value the tracing system substitutes for an event's
// args when they were removed before the trace was recorded
const ArgsStrippedSentinel = "__stripped__"

// TraceEvent is a single raw record from a trace event stream. It is the union of
// the fields of every recognised phase; which fields are meaningful depends on Ph.
type TraceEvent struct {
	// Name to associate with this event, often the current function for duration events
	Name string `json:"name,omitempty"`
	// Ph is the phase discriminator selecting the shape and meaning of this record
	Ph string `json:"ph"`
	// Categories is an optional comma separated list of tags to help categorise events for filtering in viewers
	Categories string `json:"cat,omitempty"`
	// ProcessID is an optional identifier for the ID of the process that output this event
	ProcessID *int64 `json:"pid,omitempty"`
	// ThreadID is an optional identifier for the ID of the thread that output this event
	ThreadID *int64 `json:"tid,omitempty"`
	// Timestamp is the event time in microseconds
	Timestamp float64 `json:"ts"`
	// Duration is the event duration in microseconds, only present on complete events
	Duration *float64 `json:"dur,omitempty"`
	// ThreadTimestamp is an optional thread-clock timestamp in microseconds
	ThreadTimestamp *float64 `json:"tts,omitempty"`
	// ThreadDuration is an optional thread-clock duration in microseconds
	ThreadDuration *float64 `json:"tdur,omitempty"`
	// Args are arbitrary values associated with the event, or the stripped sentinel string
	Args interface{} `json:"args,omitempty"`
	// ID correlates async, object and legacy flow events, appears as a string or a number
	ID interface{} `json:"id,omitempty"`
	// Scope selects how widely an instant event is relevant
	Scope string `json:"s,omitempty"`
	// BindID correlates v2 flow events, appears as a string or a number
	BindID interface{} `json:"bind_id,omitempty"`
	// FlowIn marks a complete event as a v2 flow consumer
	FlowIn bool `json:"flow_in,omitempty"`
	// FlowOut marks a complete event as a v2 flow producer
	FlowOut bool `json:"flow_out,omitempty"`
	// BindingPoint selects how a flow finish binds to slices, "e" binds to the enclosing slice
	BindingPoint string `json:"bp,omitempty"`
	// StackFrameID references an entry in the global stack frame table
	StackFrameID interface{} `json:"sf,omitempty"`
	// Stack is an inline program-counter stack trace
	Stack []string `json:"stack,omitempty"`
	// EndStackFrameID references an entry in the global stack frame table for the event's end
	EndStackFrameID interface{} `json:"esf,omitempty"`
	// EndStack is an inline program-counter stack trace for the event's end
	EndStack []string `json:"estack,omitempty"`
	// ColorName is an optional reserved color name for the event
	ColorName string `json:"cname,omitempty"`
	// UseAsyncTTS enables thread-clock timing on async slices
	UseAsyncTTS int `json:"use_async_tts,omitempty"`
}

// Phase returns the record's phase discriminator
func (e *TraceEvent) Phase() Phase {
	return Phase(e.Ph)
}

// HasStrippedArgs reports whether the record's args were replaced by the stripped sentinel
func (e *TraceEvent) HasStrippedArgs() bool {
	s, ok := e.Args.(string)
	return ok && s == ArgsStrippedSentinel
}

// ArgsMap returns the record's args as a map, or nil when absent or not an object
func (e *TraceEvent) ArgsMap() map[string]interface{} {
	m, _ := e.Args.(map[string]interface{})
	return m
}

// Pid returns the record's process id, defaulting to 0 when absent
func (e *TraceEvent) Pid() int64 {
	if e.ProcessID == nil {
		return 0
	}
	return *e.ProcessID
}

// Tid returns the record's thread id, defaulting to 0 when absent
func (e *TraceEvent) Tid() int64 {
	if e.ThreadID == nil {
		return 0
	}
	return *e.ThreadID
}

// IDKey renders the record's id as a stable string key, ids appear in the wild
// as both strings and numbers
func (e *TraceEvent) IDKey() (string, bool) {
	return idToKey(e.ID)
}

// BindIDKey renders the record's bind_id as a stable string key
func (e *TraceEvent) BindIDKey() (string, bool) {
	return idToKey(e.BindID)
}

func idToKey(id interface{}) (string, bool) {
	switch v := id.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
