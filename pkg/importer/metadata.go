package importer

import (
	"strings"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/io"
	"github.com/omaskery/tracemodel/pkg/model"
)

// processMetadataEvent applies the well-known metadata records to the model
// graph; unrecognised names warn and are retained as model metadata
func (imp *Importer) processMetadataEvent(event *events.TraceEvent) {
	args := event.ArgsMap()

	switch event.Name {
	case "process_name":
		name, ok := args["name"].(string)
		if !ok {
			imp.warnf(WarningMetadataParse, "process_name metadata has no name")
			return
		}
		imp.model.GetOrCreateProcess(event.Pid()).Name = name

	case "process_labels":
		labels, ok := args["labels"].(string)
		if !ok {
			imp.warnf(WarningMetadataParse, "process_labels metadata has no labels")
			return
		}
		process := imp.model.GetOrCreateProcess(event.Pid())
		process.Labels = append(process.Labels, strings.Split(labels, ",")...)

	case "process_sort_index":
		sortIndex, ok := args["sort_index"].(float64)
		if !ok {
			imp.warnf(WarningMetadataParse, "process_sort_index metadata has no sort_index")
			return
		}
		imp.model.GetOrCreateProcess(event.Pid()).SortIndex = int64(sortIndex)

	case "process_uptime_seconds":
		uptime, ok := args["uptime"].(float64)
		if !ok {
			imp.warnf(WarningMetadataParse, "process_uptime_seconds metadata has no uptime")
			return
		}
		imp.model.GetOrCreateProcess(event.Pid()).UptimeSeconds = &uptime

	case "thread_name":
		name, ok := args["name"].(string)
		if !ok {
			imp.warnf(WarningMetadataParse, "thread_name metadata has no name")
			return
		}
		imp.model.GetOrCreateProcess(event.Pid()).GetOrCreateThread(event.Tid()).Name = name

	case "thread_sort_index":
		sortIndex, ok := args["sort_index"].(float64)
		if !ok {
			imp.warnf(WarningMetadataParse, "thread_sort_index metadata has no sort_index")
			return
		}
		imp.model.GetOrCreateProcess(event.Pid()).GetOrCreateThread(event.Tid()).SortIndex = int64(sortIndex)

	case "num_cpus":
		number, ok := args["number"].(float64)
		if !ok {
			imp.warnf(WarningMetadataParse, "num_cpus metadata has no number")
			return
		}
		n := int64(number)
		imp.model.Device.NumCPUs = &n

	case "trace_buffer_overflowed":
		imp.model.TraceBufferOverflowed = true

	case "stackFrames":
		rawFrames, ok := args["stackFrames"].(map[string]interface{})
		if !ok {
			imp.warnf(WarningMetadataParse, "stackFrames metadata has no frame table")
			return
		}
		prefix := processFrameIDPrefix(event.Pid())
		imp.importStackFrames(decodeRawFrames(rawFrames), prefix, true)

	default:
		imp.warnf(WarningMetadataParse, "unrecognised metadata name %q", event.Name)
		imp.model.AddMetadata(model.Metadata{Name: event.Name, Value: model.DeepCopyArgs(args)})
	}
}

func decodeRawFrames(raw map[string]interface{}) map[string]*io.RawStackFrame {
	frames := make(map[string]*io.RawStackFrame, len(raw))
	for id, value := range raw {
		entry, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		frame := &io.RawStackFrame{}
		frame.Name, _ = entry["name"].(string)
		frame.Category, _ = entry["category"].(string)
		if parent, ok := entry["parent"].(string); ok {
			frame.Parent = parent
		} else if parent, ok := entry["parent"].(float64); ok {
			key, _ := frameIDKey(parent)
			frame.Parent = key
		}
		frames[id] = frame
	}
	return frames
}

// processSampleEvent attaches one trace sample to the model
func (imp *Importer) processSampleEvent(event *events.TraceEvent) {
	if event.ThreadID == nil {
		imp.warnf(WarningSampleImport, "sample event %q has no thread", event.Name)
		return
	}
	thread := imp.threadFor(event)
	imp.model.AddSample(&model.Sample{
		Thread:    thread,
		Title:     event.Name,
		Start:     toMs(event.Timestamp),
		LeafFrame: imp.stackFrameForEvent(event, false),
		Weight:    1,
		ColorID:   eventColorID(event, event.Name),
	})
}

// importContainerSamples imports the sampling-profile section of a container
// input against the global stack frame table
func (imp *Importer) importContainerSamples(samples []*io.RawSample) {
	for _, sample := range samples {
		if sample == nil {
			imp.warnf(WarningSampleImport, "null sample record")
			continue
		}
		var frame *model.StackFrame
		if sample.StackFrameID != nil {
			key, _ := frameIDKey(sample.StackFrameID)
			frame = imp.model.StackFrame(globalFrameIDPrefix + key)
			if frame == nil {
				imp.warnf(WarningSampleImport, "sample references missing stack frame %q", key)
				continue
			}
		}
		thread := imp.findOrCreateSampleThread(sample.ThreadID)
		weight := sample.Weight
		if weight == 0 {
			weight = 1
		}
		imp.model.AddSample(&model.Sample{
			Thread:    thread,
			Title:     sample.Name,
			Start:     toMs(sample.Timestamp),
			LeafFrame: frame,
			Weight:    weight,
			ColorID:   model.ColorIDForString(sample.Name),
		})
	}
}

// findOrCreateSampleThread resolves a container sample's tid against process
// threads first, falling back to a kernel thread for tids the event stream
// never mentioned
func (imp *Importer) findOrCreateSampleThread(tid int64) *model.Thread {
	for _, process := range imp.model.Processes() {
		for _, thread := range process.Threads() {
			if thread.TID == tid {
				return thread
			}
		}
	}
	return imp.model.Kernel.GetOrCreateThread(tid)
}
