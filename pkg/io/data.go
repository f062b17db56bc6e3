package io

import "github.com/omaskery/tracemodel/pkg/events"

type DisplayTimeUnit string

const (
	DisplayTimeNs DisplayTimeUnit = "ns"
	DisplayTimeMs DisplayTimeUnit = "ms"
)

// RawStackFrame is a stack frame entry from a container's stackFrames table,
// before it has been resolved into the model's frame graph
type RawStackFrame struct {
	Category string `json:"category,omitempty"`
	Name     string `json:"name"`
	Parent   string `json:"parent,omitempty"`
}

// RawSample is a sampling-profile sample from a container's samples section
type RawSample struct {
	CPU          *int64      `json:"cpu,omitempty"`
	ThreadID     int64       `json:"tid"`
	Timestamp    float64     `json:"ts"`
	Name         string      `json:"name"`
	StackFrameID interface{} `json:"sf,omitempty"`
	Weight       float64     `json:"weight,omitempty"`
}

// Metadata is a top-level container key the trace format does not recognise,
// retained verbatim for downstream consumers
type Metadata struct {
	Name  string
	Value interface{}
}

// TraceData is the decoded but not yet imported content of a trace input
type TraceData struct {
	traceEvents       []*events.TraceEvent
	displayTimeUnit   DisplayTimeUnit
	systemTraceEvents string
	battorLogAsString string
	samples           []*RawSample
	stackFrames       map[string]*RawStackFrame
	traceAnnotations  map[string]interface{}
	metadata          []Metadata
}

func (td *TraceData) Events() []*events.TraceEvent {
	return td.traceEvents
}

func (td *TraceData) DisplayTimeUnit() DisplayTimeUnit {
	return td.displayTimeUnit
}

func (td *TraceData) SystemTraceEvents() string {
	return td.systemTraceEvents
}

func (td *TraceData) BattorLogAsString() string {
	return td.battorLogAsString
}

func (td *TraceData) Samples() []*RawSample {
	return td.samples
}

func (td *TraceData) StackFrames() map[string]*RawStackFrame {
	return td.stackFrames
}

func (td *TraceData) TraceAnnotations() map[string]interface{} {
	return td.traceAnnotations
}

func (td *TraceData) Metadata() []Metadata {
	return td.metadata
}
