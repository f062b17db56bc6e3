package importer

import (
	"sort"
	"strings"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/model"
)

// v2FlowState tracks one bind id's lifecycle: open while a producer waits for
// its first consumer, closed but remembered so extra consumers can fan out
type v2FlowState struct {
	flow     *model.FlowEvent
	producer *model.Slice
	open     bool
}

// createFlowSlices drains the deferred flow queue, stitching both the v1
// (s/t/f) and v2 (bind_id) dialects into the model's flow event list
func (imp *Importer) createFlowSlices() {
	sort.SliceStable(imp.flowEvents, func(i, j int) bool {
		if imp.flowEvents[i].event.Timestamp != imp.flowEvents[j].event.Timestamp {
			return imp.flowEvents[i].event.Timestamp < imp.flowEvents[j].event.Timestamp
		}
		return imp.flowEvents[i].seq < imp.flowEvents[j].seq
	})

	openV1 := map[string]*model.FlowEvent{}
	v2States := map[string]*v2FlowState{}

	for _, queued := range imp.flowEvents {
		if queued.slice != nil {
			imp.processV2FlowEntry(queued, v2States)
			continue
		}
		imp.processV1FlowEntry(queued, openV1)
	}

	unfinished := make([]string, 0, len(openV1))
	for id := range openV1 {
		unfinished = append(unfinished, id)
	}
	sort.Strings(unfinished)
	for _, id := range unfinished {
		imp.warnf(WarningFlowSliceParse, "flow id %s was never finished", id)
	}
}

func (imp *Importer) processV1FlowEntry(queued queuedFlow, open map[string]*model.FlowEvent) {
	event := queued.event
	id, hasID := event.IDKey()
	if !hasID {
		imp.warnf(WarningFlowSliceParse, "flow event %q has no id", event.Name)
		return
	}
	ts := toMs(event.Timestamp)

	switch event.Phase() {
	case events.PhaseFlowStart:
		slice := queued.thread.SliceGroup.FindSliceAtTs(ts)
		if slice == nil {
			imp.warnf(WarningFlowSliceStart, "no slice contains flow start %s at %v on %s", id, ts, queued.thread.UserFriendlyName())
			return
		}
		if _, exists := open[id]; exists {
			imp.warnf(WarningFlowSliceOrdering, "flow id %s restarted while still open", id)
		}
		flow := model.NewFlowEvent(event.Categories, id, event.Name, eventColorID(event, event.Name), ts)
		flow.StartSlice = slice
		open[id] = flow

	case events.PhaseFlowStep:
		flow, exists := open[id]
		if !exists {
			imp.warnf(WarningFlowSliceOrdering, "flow step for %s without an open flow", id)
			return
		}
		slice := queued.thread.SliceGroup.FindSliceAtTs(ts)
		if slice == nil {
			imp.warnf(WarningFlowSliceEnd, "no slice contains flow step %s at %v on %s", id, ts, queued.thread.UserFriendlyName())
			return
		}
		flow.Finish(slice, ts)
		imp.model.AddFlowEvent(flow)

		next := model.NewFlowEvent(event.Categories, id, event.Name, eventColorID(event, event.Name), ts)
		next.StartSlice = slice
		open[id] = next

	case events.PhaseFlowFinish:
		flow, exists := open[id]
		if !exists {
			imp.warnf(WarningFlowSliceOrdering, "flow finish for %s without an open flow", id)
			return
		}
		if event.BindingPoint != "" && event.BindingPoint != "e" {
			imp.warnf(WarningFlowSliceBindPoint, "flow finish for %s has invalid binding point %q", id, event.BindingPoint)
			return
		}
		bindToParent := event.BindingPoint == "e" ||
			strings.Contains(event.Categories, "input") ||
			strings.Contains(event.Categories, "ipc.flow")

		var slice *model.Slice
		if bindToParent {
			slice = queued.thread.SliceGroup.FindSliceAtTs(ts)
		} else {
			slice = queued.thread.SliceGroup.FindNextSliceAfter(ts)
		}
		if slice == nil {
			imp.warnf(WarningFlowSliceEnd, "no slice to bind flow finish %s at %v on %s", id, ts, queued.thread.UserFriendlyName())
			return
		}
		flow.Finish(slice, ts)
		imp.model.AddFlowEvent(flow)
		delete(open, id)
	}
}

func (imp *Importer) processV2FlowEntry(queued queuedFlow, states map[string]*v2FlowState) {
	slice := queued.slice
	id := slice.BindID
	ts := toMs(queued.event.Timestamp)
	title := queued.event.Name
	colorID := eventColorID(queued.event, title)
	category := queued.event.Categories

	consume := func() {
		state := states[id]
		if state == nil {
			imp.warnf(WarningFlowSliceOrdering, "flow consumer for bind id %s without a producer", id)
			return
		}
		if state.open {
			state.flow.Finish(slice, ts)
			imp.model.AddFlowEvent(state.flow)
			state.open = false
			return
		}
		// additional consumers fan out from the same producer slice
		extra := model.NewFlowEvent(state.flow.Category, id, state.flow.Title, state.flow.ColorID, state.flow.Start)
		extra.StartSlice = state.producer
		extra.Finish(slice, ts)
		imp.model.AddFlowEvent(extra)
	}

	produce := func() {
		if state := states[id]; state != nil && state.open {
			imp.warnf(WarningFlowSliceOrdering, "bind id %s reopened while still open", id)
			return
		}
		flow := model.NewFlowEvent(category, id, title, colorID, ts)
		flow.StartSlice = slice
		states[id] = &v2FlowState{flow: flow, producer: slice, open: true}
	}

	switch slice.FlowPhase {
	case model.FlowPhaseProducer:
		produce()
	case model.FlowPhaseConsumer:
		consume()
	case model.FlowPhaseStep:
		consume()
		produce()
	}
}
