package io

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/omaskery/tracemodel/pkg/events"
)

var (
	ErrInvalidDisplayTimeUnit = errors.New("invalid display time unit")
	ErrUnsupportedInput       = errors.New("input is not a recognised trace form")
	ErrSyntaxError            = errors.New("file format contained a syntax error")
)

// Parse decodes a trace input into its container form. The input may be a
// serialised JSON string (or []byte), a pre-parsed event array, or a
// pre-parsed container object.
func Parse(input interface{}) (*TraceData, error) {
	switch v := input.(type) {
	case string:
		return parseString(v)
	case []byte:
		return parseString(string(v))
	case []interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to re-serialise event array: %w", err)
		}
		return parseEventArray(raw)
	case map[string]interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to re-serialise container: %w", err)
		}
		return parseContainer(raw)
	default:
		return nil, ErrUnsupportedInput
	}
}

// CanImport reports whether the input looks like a trace this package can decode
func CanImport(input interface{}) bool {
	switch v := input.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	case []byte:
		return CanImport(string(v))
	case []interface{}:
		if len(v) == 0 {
			return false
		}
		first, ok := v[0].(map[string]interface{})
		if !ok {
			return false
		}
		_, hasPhase := first["ph"]
		return hasPhase
	case map[string]interface{}:
		if traceEvents, ok := v["traceEvents"].([]interface{}); ok {
			return CanImport(traceEvents)
		}
		_, hasSamples := v["samples"]
		_, hasFrames := v["stackFrames"]
		return hasSamples && hasFrames
	default:
		return false
	}
}

func parseString(s string) (*TraceData, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		return parseEventArray([]byte(repairEventArray(trimmed)))
	}
	if strings.HasPrefix(trimmed, "{") {
		return parseContainer([]byte(trimmed))
	}
	return nil, fmt.Errorf("expected '[' or '{' at start of trace: %w", ErrSyntaxError)
}

// repairEventArray tolerates the common case of a trace that was cut off
// mid-recording, with a dangling comma and no closing bracket
func repairEventArray(s string) string {
	if strings.HasSuffix(s, "]") {
		return s
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ","))
	return s + "]"
}

func parseEventArray(raw []byte) (*TraceData, error) {
	result := newTraceData()

	var evs []*events.TraceEvent
	if err := json.Unmarshal(raw, &evs); err != nil {
		return nil, fmt.Errorf("error parsing event array JSON: %w", err)
	}
	result.traceEvents = evs
	return result, nil
}

type jsonContainer struct {
	TraceEvents       []*events.TraceEvent      `json:"traceEvents"`
	SystemTraceEvents string                    `json:"systemTraceEvents"`
	BattorLogAsString string                    `json:"battorLogAsString"`
	Samples           []*RawSample              `json:"samples"`
	StackFrames       map[string]*RawStackFrame `json:"stackFrames"`
	DisplayTimeUnit   string                    `json:"displayTimeUnit"`
	TraceAnnotations  map[string]interface{}    `json:"traceAnnotations"`
}

// recognisedContainerKeys are the top-level keys with defined meaning, every
// other key is carried through as metadata
var recognisedContainerKeys = map[string]struct{}{
	"traceEvents":       {},
	"systemTraceEvents": {},
	"battorLogAsString": {},
	"samples":           {},
	"stackFrames":       {},
	"displayTimeUnit":   {},
	"traceAnnotations":  {},
}

func parseContainer(raw []byte) (*TraceData, error) {
	var container jsonContainer
	if err := json.Unmarshal(raw, &container); err != nil {
		return nil, fmt.Errorf("JSON decode error while parsing container: %w", err)
	}

	result := newTraceData()

	switch DisplayTimeUnit(container.DisplayTimeUnit) {
	case "":
		result.displayTimeUnit = DisplayTimeMs
	case DisplayTimeMs:
		result.displayTimeUnit = DisplayTimeMs
	case DisplayTimeNs:
		result.displayTimeUnit = DisplayTimeNs
	default:
		return nil, fmt.Errorf("%q: %w", container.DisplayTimeUnit, ErrInvalidDisplayTimeUnit)
	}

	result.traceEvents = container.TraceEvents
	result.systemTraceEvents = container.SystemTraceEvents
	result.battorLogAsString = container.BattorLogAsString
	result.samples = container.Samples
	if container.StackFrames != nil {
		result.stackFrames = container.StackFrames
	}
	if container.TraceAnnotations != nil {
		result.traceAnnotations = container.TraceAnnotations
	}

	var topLevel map[string]json.RawMessage
	if err := json.Unmarshal(raw, &topLevel); err != nil {
		return nil, fmt.Errorf("JSON decode error while scanning container keys: %w", err)
	}
	extraKeys := make([]string, 0, len(topLevel))
	for key := range topLevel {
		if _, recognised := recognisedContainerKeys[key]; !recognised {
			extraKeys = append(extraKeys, key)
		}
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		var value interface{}
		if err := json.Unmarshal(topLevel[key], &value); err != nil {
			return nil, fmt.Errorf("JSON decode error in metadata key %q: %w", key, err)
		}
		result.metadata = append(result.metadata, Metadata{Name: key, Value: value})
	}

	return result, nil
}

func newTraceData() *TraceData {
	return &TraceData{
		displayTimeUnit:  DisplayTimeMs,
		stackFrames:      map[string]*RawStackFrame{},
		traceAnnotations: map[string]interface{}{},
	}
}
