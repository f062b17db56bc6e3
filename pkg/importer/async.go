package importer

import (
	"fmt"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/model"
)

// createAsyncSlices drains the deferred async queue. Events are sorted by
// (timestamp, sequence) and split into the nestable and legacy dialects.
func (imp *Importer) createAsyncSlices() {
	sortQueuedEvents(imp.asyncEvents)

	nestableKeys, nestableGroups := groupQueuedEvents(imp.asyncEvents, isNestableAsync, nestableAsyncKey)
	for _, key := range nestableKeys {
		imp.createNestableAsyncSlices(key, nestableGroups[key])
	}

	legacyKeys, legacyGroups := groupQueuedEvents(imp.asyncEvents, isLegacyAsync, legacyAsyncKey)
	for _, key := range legacyKeys {
		imp.createLegacyAsyncSlices(key, legacyGroups[key])
	}
}

func isNestableAsync(event *events.TraceEvent) bool {
	switch event.Phase() {
	case events.PhaseNestableAsyncBegin, events.PhaseNestableAsyncEnd, events.PhaseNestableAsyncInstant:
		return true
	}
	return false
}

func isLegacyAsync(event *events.TraceEvent) bool {
	switch event.Phase() {
	case events.PhaseLegacyAsyncBegin, events.PhaseLegacyAsyncStepInto, events.PhaseLegacyAsyncStepPast, events.PhaseLegacyAsyncEnd:
		return true
	}
	return false
}

// nestableAsyncKey pairs nestable events by (category, id)
func nestableAsyncKey(event *events.TraceEvent) string {
	id, _ := event.IDKey()
	return event.Categories + ":" + id
}

// legacyAsyncKey pairs legacy events by (name, id)
func legacyAsyncKey(event *events.TraceEvent) string {
	id, _ := event.IDKey()
	return event.Name + ":" + id
}

// groupQueuedEvents buckets matching queue entries by key, preserving the
// order keys were first seen in
func groupQueuedEvents(queue []queuedEvent, match func(*events.TraceEvent) bool, keyOf func(*events.TraceEvent) string) ([]string, map[string][]queuedEvent) {
	var keys []string
	groups := map[string][]queuedEvent{}
	for _, entry := range queue {
		if !match(entry.event) {
			continue
		}
		key := keyOf(entry.event)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], entry)
	}
	return keys, groups
}

// nestableEntry is one nestable event together with its matching and nesting
// resolution
type nestableEntry struct {
	queued queuedEvent
	// end is the matching e event for a b entry
	end *queuedEvent
	// unmatchedEnd marks an e that found no enclosing b of its name
	unmatchedEnd bool
	// parent is the nearest b still open when this entry's event arrived
	parent *nestableEntry
	slice  *model.AsyncSlice
}

// createNestableAsyncSlices pairs b/n/e events within one (category, id)
// group. A stack of open begins is walked to match each end to the nearest
// enclosing begin of the same name; half-matched entries become slices with
// an error diagnosis.
func (imp *Importer) createNestableAsyncSlices(key string, group []queuedEvent) {
	var entries []*nestableEntry
	var stack []*nestableEntry

	top := func() *nestableEntry {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}

	for i := range group {
		queued := group[i]
		switch queued.event.Phase() {
		case events.PhaseNestableAsyncBegin:
			entry := &nestableEntry{queued: queued, parent: top()}
			entries = append(entries, entry)
			stack = append(stack, entry)

		case events.PhaseNestableAsyncInstant:
			entries = append(entries, &nestableEntry{queued: queued, parent: top()})

		case events.PhaseNestableAsyncEnd:
			matched := -1
			for j := len(stack) - 1; j >= 0; j-- {
				if stack[j].queued.event.Name == queued.event.Name {
					matched = j
					break
				}
			}
			if matched < 0 {
				entries = append(entries, &nestableEntry{queued: queued, unmatchedEnd: true, parent: top()})
				continue
			}
			end := queued
			stack[matched].end = &end
			stack = append(stack[:matched], stack[matched+1:]...)
		}
	}

	firstTs := group[0].event.Timestamp
	lastTs := group[len(group)-1].event.Timestamp
	id, _ := group[0].event.IDKey()

	for _, entry := range entries {
		event := entry.queued.event
		slice := &model.AsyncSlice{
			Category:    event.Categories,
			Title:       event.Name,
			ColorID:     eventColorID(event, event.Name),
			ID:          id,
			StartThread: entry.queued.thread,
			EndThread:   entry.queued.thread,
		}

		switch {
		case entry.unmatchedEnd:
			slice.Start = toMs(firstTs)
			slice.Duration = toMs(event.Timestamp) - toMs(firstTs)
			slice.Args = model.DeepCopyArgs(event.ArgsMap())
			slice.Error = fmt.Sprintf("Slice has no matching BEGIN. Group %s.", key)

		case event.Phase() == events.PhaseNestableAsyncInstant:
			slice.Start = toMs(event.Timestamp)
			slice.Args = model.DeepCopyArgs(event.ArgsMap())

		case entry.end != nil:
			slice.Start = toMs(event.Timestamp)
			slice.Duration = toMs(entry.end.event.Timestamp) - toMs(event.Timestamp)
			slice.EndThread = entry.end.thread
			slice.Args = concatAsyncArgs(event.ArgsMap(), entry.end.event.ArgsMap())
			if event.UseAsyncTTS != 0 {
				slice.ThreadStart = threadTimeMs(event.ThreadTimestamp)
				if slice.ThreadStart != nil && entry.end.event.ThreadTimestamp != nil {
					d := toMs(*entry.end.event.ThreadTimestamp) - *slice.ThreadStart
					slice.ThreadDuration = &d
				}
			}

		default:
			slice.Start = toMs(event.Timestamp)
			slice.Duration = toMs(lastTs) - toMs(event.Timestamp)
			slice.Args = model.DeepCopyArgs(event.ArgsMap())
			slice.Error = fmt.Sprintf("Slice has no matching END. Group %s.", key)
		}

		entry.slice = slice
		if entry.parent != nil && entry.parent.slice != nil {
			entry.parent.slice.SubSlices = append(entry.parent.slice.SubSlices, slice)
		} else {
			slice.IsTopLevel = true
			entry.queued.thread.AsyncSliceGroup.Push(slice)
		}
	}
}

// concatAsyncArgs concatenates begin and end args; the params sub-map is
// merged key-wise rather than replaced wholesale
func concatAsyncArgs(beginArgs, endArgs map[string]interface{}) map[string]interface{} {
	if beginArgs == nil && endArgs == nil {
		return nil
	}
	combined := model.DeepCopyArgs(beginArgs)
	if combined == nil {
		combined = map[string]interface{}{}
	}
	if endArgs == nil {
		return combined
	}

	beginParams, hasBeginParams := combined["params"].(map[string]interface{})
	endParams, hasEndParams := endArgs["params"].(map[string]interface{})

	model.MergeArgs(combined, endArgs)

	if hasBeginParams && hasEndParams {
		merged := model.DeepCopyArgs(beginParams)
		model.MergeArgs(merged, endParams)
		combined["params"] = merged
	}
	return combined
}

// createLegacyAsyncSlices pairs S/T/p/F events within one (name, id) group
func (imp *Importer) createLegacyAsyncSlices(key string, group []queuedEvent) {
	var open []queuedEvent
	for i := range group {
		queued := group[i]
		switch queued.event.Phase() {
		case events.PhaseLegacyAsyncBegin:
			if open != nil {
				imp.warnf(WarningAsyncSliceParse, "S phase event while %s is already started", key)
				continue
			}
			open = []queuedEvent{queued}

		case events.PhaseLegacyAsyncStepInto, events.PhaseLegacyAsyncStepPast:
			if open == nil {
				imp.warnf(WarningAsyncSliceParse, "step event for %s without an S phase event", key)
				continue
			}
			open = append(open, queued)

		case events.PhaseLegacyAsyncEnd:
			if open == nil {
				imp.warnf(WarningAsyncSliceParse, "F phase event for %s without an S phase event", key)
				continue
			}
			open = append(open, queued)
			imp.buildLegacyAsyncSlice(key, open)
			open = nil
		}
	}
	if open != nil {
		imp.warnf(WarningAsyncSliceParse, "async operation %s never finished", key)
	}
}

// buildLegacyAsyncSlice assembles one S..F sequence into an async slice on
// the start thread, with sub-slices generated between consecutive steps
func (imp *Importer) buildLegacyAsyncSlice(key string, evs []queuedEvent) {
	start := evs[0]
	end := evs[len(evs)-1]
	id, _ := start.event.IDKey()

	slice := &model.AsyncSlice{
		Category:    start.event.Categories,
		Title:       start.event.Name,
		ColorID:     eventColorID(start.event, start.event.Name),
		ID:          id,
		Start:       toMs(start.event.Timestamp),
		Duration:    toMs(end.event.Timestamp) - toMs(start.event.Timestamp),
		Args:        model.DeepCopyArgs(start.event.ArgsMap()),
		StartThread: start.thread,
		EndThread:   end.thread,
		IsTopLevel:  true,
	}
	if start.event.UseAsyncTTS != 0 {
		slice.ThreadStart = threadTimeMs(start.event.ThreadTimestamp)
		if slice.ThreadStart != nil && end.event.ThreadTimestamp != nil {
			d := toMs(*end.event.ThreadTimestamp) - *slice.ThreadStart
			slice.ThreadDuration = &d
		}
	}

	if len(evs) > 2 {
		stepType := evs[1].event.Phase()
		for j := 1; j < len(evs)-1; j++ {
			if evs[j].event.Phase() != stepType {
				imp.warnf(WarningAsyncSliceParse, "step phases of %s are inconsistent", key)
				break
			}
		}

		for j := 1; j < len(evs)-1; j++ {
			subName := evs[j].event.Name
			if step, ok := evs[j].event.ArgsMap()["step"].(string); ok {
				subName = subName + ":" + step
			}

			startIndex := j
			if stepType != events.PhaseLegacyAsyncStepInto {
				startIndex = j - 1
			}
			endIndex := startIndex + 1

			sub := &model.AsyncSlice{
				Category:    start.event.Categories,
				Title:       subName,
				ColorID:     eventColorID(evs[j].event, subName),
				ID:          id,
				Start:       toMs(evs[startIndex].event.Timestamp),
				Duration:    toMs(evs[endIndex].event.Timestamp) - toMs(evs[startIndex].event.Timestamp),
				Args:        model.DeepCopyArgs(evs[j].event.ArgsMap()),
				StartThread: evs[startIndex].thread,
				EndThread:   evs[endIndex].thread,
			}
			slice.SubSlices = append(slice.SubSlices, sub)
		}
	}

	start.thread.AsyncSliceGroup.Push(slice)
}
