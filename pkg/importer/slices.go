package importer

import (
	"fmt"
	"strings"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/model"
)

func fmtErrorUnknownScope(event *events.TraceEvent) error {
	return fmt.Errorf("instant event %q has unknown scope %q", event.Name, event.Scope)
}

func (imp *Importer) threadFor(event *events.TraceEvent) *model.Thread {
	return imp.model.GetOrCreateProcess(event.Pid()).GetOrCreateThread(event.Tid())
}

// processBeginEvent pushes a new open slice onto the thread's stack
func (imp *Importer) processBeginEvent(event *events.TraceEvent, argsStripped bool) {
	thread := imp.threadFor(event)
	group := thread.SliceGroup

	if !group.ObserveTimestamp(event.Timestamp) {
		imp.warnf(WarningDurationParse, "Timestamps are moving backward.")
		return
	}

	frame := imp.stackFrameForEvent(event, false)
	slice := group.BeginSlice(
		event.Categories,
		event.Name,
		toMs(event.Timestamp),
		model.DeepCopyArgs(event.ArgsMap()),
		threadTimeMs(event.ThreadTimestamp),
		eventColorID(event, event.Name),
		frame,
	)
	slice.ArgsStripped = argsStripped
}

// processEndEvent closes the top open slice, merging end args in and checking
// the names line up
func (imp *Importer) processEndEvent(event *events.TraceEvent) {
	thread := imp.threadFor(event)
	group := thread.SliceGroup

	if !group.ObserveTimestamp(event.Timestamp) {
		imp.warnf(WarningDurationParse, "Timestamps are moving backward.")
		return
	}
	if group.OpenSliceCount() == 0 {
		imp.warnf(WarningDurationParse, "E phase event without a matching B phase event on %s", thread.UserFriendlyName())
		return
	}

	slice := group.EndSlice(toMs(event.Timestamp), threadTimeMs(event.ThreadTimestamp))
	slice.EndStackFrame = imp.stackFrameForEvent(event, false)

	if endArgs := event.ArgsMap(); endArgs != nil {
		if slice.Args == nil {
			slice.Args = map[string]interface{}{}
		}
		for _, conflict := range model.MergeArgs(slice.Args, endArgs) {
			imp.warnf(WarningArgMerge, "arg %q of slice %q overwritten by end event", conflict, slice.Title)
		}
	}
	if event.Name != "" && slice.Title != event.Name {
		imp.warnf(WarningTitleMatch, "E phase event titled %q ended slice titled %q", event.Name, slice.Title)
	}
}

// processCompleteEvent pushes a pre-closed slice and, when a bind id is
// present, defers a v2 flow record for it
func (imp *Importer) processCompleteEvent(event *events.TraceEvent, seq int, argsStripped bool) {
	// trace machinery overhead is not part of the traced program's timeline
	if strings.Contains(event.Categories, "trace_event_overhead") {
		return
	}

	thread := imp.threadFor(event)
	group := thread.SliceGroup

	if !group.ObserveTimestamp(event.Timestamp) {
		imp.warnf(WarningDurationParse, "Timestamps are moving backward.")
		return
	}
	if event.Duration == nil {
		imp.warnf(WarningDurationParse, "X phase event %q has no duration", event.Name)
		return
	}

	duration := toMs(*event.Duration)
	slice := &model.Slice{
		Category:        event.Categories,
		Title:           event.Name,
		ColorID:         eventColorID(event, event.Name),
		Start:           toMs(event.Timestamp),
		Duration:        &duration,
		ThreadStart:     threadTimeMs(event.ThreadTimestamp),
		ThreadDuration:  threadTimeMs(event.ThreadDuration),
		Args:            model.DeepCopyArgs(event.ArgsMap()),
		ArgsStripped:    argsStripped,
		StartStackFrame: imp.stackFrameForEvent(event, false),
		EndStackFrame:   imp.stackFrameForEvent(event, true),
	}
	group.PushCompleteSlice(slice)

	bindID, hasBindID := event.BindIDKey()
	if !hasBindID {
		return
	}
	slice.BindID = bindID
	switch {
	case event.FlowIn && event.FlowOut:
		slice.FlowPhase = model.FlowPhaseStep
	case event.FlowOut:
		slice.FlowPhase = model.FlowPhaseProducer
	case event.FlowIn:
		slice.FlowPhase = model.FlowPhaseConsumer
	default:
		// a bind id with neither direction marker links nothing
		return
	}
	imp.flowEvents = append(imp.flowEvents, queuedFlow{seq: seq, event: event, thread: thread, slice: slice})
}

// processInstantEvent handles thread, process and global scoped instants.
// Unknown scopes are a programming invariant violation and abort the import.
func (imp *Importer) processInstantEvent(event *events.TraceEvent, argsStripped bool) error {
	scope := events.InstantScope(event.Scope)
	if event.Scope == "" {
		scope = events.InstantScopeThread
	}

	switch scope {
	case events.InstantScopeThread:
		thread := imp.threadFor(event)
		group := thread.SliceGroup
		if !group.ObserveTimestamp(event.Timestamp) {
			imp.warnf(WarningInstantParse, "Timestamps are moving backward.")
			return nil
		}
		duration := 0.0
		group.PushCompleteSlice(&model.Slice{
			Category:        event.Categories,
			Title:           event.Name,
			ColorID:         eventColorID(event, event.Name),
			Start:           toMs(event.Timestamp),
			Duration:        &duration,
			Args:            model.DeepCopyArgs(event.ArgsMap()),
			ArgsStripped:    argsStripped,
			StartStackFrame: imp.stackFrameForEvent(event, false),
		})
		return nil

	case events.InstantScopeProcess:
		imp.model.AddInstantEvent(&model.InstantEvent{
			Category: event.Categories,
			Title:    event.Name,
			ColorID:  eventColorID(event, event.Name),
			Start:    toMs(event.Timestamp),
			Args:     model.DeepCopyArgs(event.ArgsMap()),
			Process:  imp.model.GetOrCreateProcess(event.Pid()),
		})
		return nil

	case events.InstantScopeGlobal:
		imp.model.AddInstantEvent(&model.InstantEvent{
			Category: event.Categories,
			Title:    event.Name,
			ColorID:  eventColorID(event, event.Name),
			Start:    toMs(event.Timestamp),
			Args:     model.DeepCopyArgs(event.ArgsMap()),
		})
		return nil

	default:
		return fmtErrorUnknownScope(event)
	}
}

func threadTimeMs(tts *float64) *float64 {
	if tts == nil {
		return nil
	}
	ms := toMs(*tts)
	return &ms
}
