// importer assembles raw trace event streams into a structured model: it
// matches begin/end pairs, pairs async operations, stitches flow arcs,
// materialises object snapshots and reconstructs memory dump trees
package importer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/io"
	"github.com/omaskery/tracemodel/pkg/model"
)

// ErrFatalImport wraps programming invariants that must not occur in well
// formed traces; the import is aborted when one trips
var ErrFatalImport = errors.New("fatal import error")

// WarningType classifies recoverable problems found while importing
type WarningType string

const (
	WarningDurationParse       WarningType = "duration_parse_error"
	WarningTitleMatch          WarningType = "title_match_error"
	WarningArgMerge            WarningType = "arg_merge_error"
	WarningAsyncSliceParse     WarningType = "async_slice_parse_error"
	WarningFlowSliceParse      WarningType = "flow_slice_parse_error"
	WarningFlowSliceStart      WarningType = "flow_slice_start_error"
	WarningFlowSliceEnd        WarningType = "flow_slice_end_error"
	WarningFlowSliceOrdering   WarningType = "flow_slice_ordering_error"
	WarningFlowSliceBindPoint  WarningType = "flow_slice_bind_point_error"
	WarningCounterParse        WarningType = "counter_parse_error"
	WarningObjectParse         WarningType = "object_parse_error"
	WarningObjectSnapshotParse WarningType = "object_snapshot_parse_error"
	WarningMemoryDumpParse     WarningType = "memory_dump_parse_error"
	WarningMetadataParse       WarningType = "metadata_parse_error"
	WarningStackFrameAndStack  WarningType = "stack_frame_and_stack_error"
	WarningSampleImport        WarningType = "sample_import_error"
	WarningInstantParse        WarningType = "instant_parse_error"
	WarningAnnotation          WarningType = "annotation_warning"
	WarningParse               WarningType = "parse_error"
)

// Warning is one recoverable problem found during import. Warnings are
// retained in emission order; logging deduplicates by type.
type Warning struct {
	Type    WarningType
	Message string
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %s", w.Type, w.Message)
}

type Option = func(imp *Importer)

// WithLogger routes import progress and warnings through the given logger
func WithLogger(logger logr.Logger) Option {
	return func(imp *Importer) {
		imp.logger = logger
	}
}

// WithShiftWorldToZero translates the finished model so its bounds start at zero
func WithShiftWorldToZero() Option {
	return func(imp *Importer) {
		imp.shiftWorldToZero = true
	}
}

// WithStrictWarnings makes Import return the accumulated warnings as a
// combined error alongside the model
func WithStrictWarnings() Option {
	return func(imp *Importer) {
		imp.strictWarnings = true
	}
}

// WarningHandler observes warnings as they are emitted
type WarningHandler = func(warning Warning)

// WithWarningHandler calls handler for every warning, in emission order
func WithWarningHandler(handler WarningHandler) Option {
	return func(imp *Importer) {
		imp.warningHandler = handler
	}
}

// queuedEvent is a deferred record captured at dispatch time together with
// its input-order sequence number, the tiebreak for all deferred sorts
type queuedEvent struct {
	seq    int
	event  *events.TraceEvent
	thread *model.Thread
}

// queuedFlow is a deferred flow record; v2 entries additionally carry the
// slice their complete event produced
type queuedFlow struct {
	seq    int
	event  *events.TraceEvent
	thread *model.Thread
	slice  *model.Slice
}

// Importer drives one import run over one model instance
type Importer struct {
	logger           logr.Logger
	shiftWorldToZero bool
	strictWarnings   bool
	warningHandler   WarningHandler

	model *model.Model

	warnings    []Warning
	warnedTypes map[WarningType]struct{}

	asyncEvents  []queuedEvent
	flowEvents   []queuedFlow
	objectEvents []queuedEvent

	memoryDumpsByID map[string]*memoryDumpState
	memoryDumpIDs   []string

	// snapshots accumulates explicit snapshots in creation order so the
	// implicit pass can walk them, including ones it creates itself
	snapshots []*model.ObjectSnapshot
}

// CanImport reports whether the input looks like a trace event stream
func CanImport(input interface{}) bool {
	return io.CanImport(input)
}

// Import decodes the input and assembles it into a finalized model
func Import(input interface{}, options ...Option) (*model.Model, error) {
	data, err := io.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trace input: %w", err)
	}
	return ImportTraceData(data, options...)
}

// ImportTraceData assembles an already decoded container into a finalized model
func ImportTraceData(data *io.TraceData, options ...Option) (*model.Model, error) {
	imp := &Importer{
		model:           model.NewModel(),
		warnedTypes:     map[WarningType]struct{}{},
		memoryDumpsByID: map[string]*memoryDumpState{},
	}
	for _, opt := range options {
		opt(imp)
	}

	if err := imp.importEvents(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalImport, err)
	}
	imp.finalizeImport()

	if imp.strictWarnings && len(imp.warnings) > 0 {
		var combined error
		for _, w := range imp.warnings {
			combined = multierr.Append(combined, w)
		}
		return imp.model, combined
	}
	return imp.model, nil
}

// Model returns the model under assembly
func (imp *Importer) Model() *model.Model {
	return imp.model
}

// Warnings returns every warning in emission order
func (imp *Importer) Warnings() []Warning {
	return imp.warnings
}

// DistinctWarnings returns the first warning of each type, in emission order
func (imp *Importer) DistinctWarnings() []Warning {
	seen := map[WarningType]struct{}{}
	var distinct []Warning
	for _, w := range imp.warnings {
		if _, ok := seen[w.Type]; ok {
			continue
		}
		seen[w.Type] = struct{}{}
		distinct = append(distinct, w)
	}
	return distinct
}

func (imp *Importer) warnf(kind WarningType, format string, args ...interface{}) {
	warning := Warning{Type: kind, Message: fmt.Sprintf(format, args...)}
	imp.warnings = append(imp.warnings, warning)
	if imp.warningHandler != nil {
		imp.warningHandler(warning)
	}
	if imp.logger == nil {
		return
	}
	if _, logged := imp.warnedTypes[kind]; !logged {
		imp.warnedTypes[kind] = struct{}{}
		imp.logger.Info("import warning", "type", string(kind), "message", warning.Message)
	} else {
		imp.logger.V(1).Info("import warning", "type", string(kind), "message", warning.Message)
	}
}

// toMs converts a microsecond wire timestamp into model milliseconds
func toMs(us float64) float64 {
	return us / 1000
}

func (imp *Importer) importEvents(data *io.TraceData) error {
	switch data.DisplayTimeUnit() {
	case io.DisplayTimeNs:
		imp.model.SetIntrinsicTimeUnit(model.TimeUnitNs)
	default:
		imp.model.SetIntrinsicTimeUnit(model.TimeUnitMs)
	}

	// every run records the synthetic importer clock sync marker
	imp.model.AddClockSyncRecord(&model.ClockSyncRecord{
		Name:  "ftrace_importer",
		Start: 0,
	})

	imp.importContainerStackFrames(data.StackFrames())

	for _, md := range data.Metadata() {
		imp.model.AddMetadata(model.Metadata{Name: md.Name, Value: md.Value})
	}
	imp.importAnnotations(data.TraceAnnotations())

	for seq, event := range data.Events() {
		if event == nil {
			imp.warnf(WarningParse, "null event record at index %d", seq)
			continue
		}
		if err := imp.dispatchEvent(event, seq); err != nil {
			return err
		}
	}

	imp.importContainerSamples(data.Samples())

	imp.createAsyncSlices()
	imp.createFlowSlices()
	if err := imp.createObjects(); err != nil {
		return err
	}
	imp.createMemoryDumps()
	return nil
}

func (imp *Importer) importAnnotations(annotations map[string]interface{}) {
	guids := make([]string, 0, len(annotations))
	for guid := range annotations {
		guids = append(guids, guid)
	}
	sort.Strings(guids)
	for _, guid := range guids {
		if annotations[guid] == nil {
			imp.warnf(WarningAnnotation, "annotation %q has no value", guid)
			continue
		}
		imp.model.SetAnnotation(guid, annotations[guid])
	}
}

// dispatchEvent routes one record to its phase handler. The dispatch table is
// exhaustive; unknown phases warn and are skipped.
func (imp *Importer) dispatchEvent(event *events.TraceEvent, seq int) error {
	argsStripped := false
	if event.HasStrippedArgs() {
		argsStripped = true
		event.Args = nil
	}

	switch event.Phase() {
	case events.PhaseBeginDuration:
		imp.processBeginEvent(event, argsStripped)
	case events.PhaseEndDuration:
		imp.processEndEvent(event)
	case events.PhaseComplete:
		imp.processCompleteEvent(event, seq, argsStripped)
	case events.PhaseInstant, events.PhaseInstantLegacy, events.PhaseMark:
		return imp.processInstantEvent(event, argsStripped)
	case events.PhaseNestableAsyncBegin, events.PhaseNestableAsyncEnd, events.PhaseNestableAsyncInstant,
		events.PhaseLegacyAsyncBegin, events.PhaseLegacyAsyncStepInto, events.PhaseLegacyAsyncStepPast, events.PhaseLegacyAsyncEnd:
		thread := imp.model.GetOrCreateProcess(event.Pid()).GetOrCreateThread(event.Tid())
		imp.asyncEvents = append(imp.asyncEvents, queuedEvent{seq: seq, event: event, thread: thread})
	case events.PhaseFlowStart, events.PhaseFlowStep, events.PhaseFlowFinish:
		thread := imp.model.GetOrCreateProcess(event.Pid()).GetOrCreateThread(event.Tid())
		imp.flowEvents = append(imp.flowEvents, queuedFlow{seq: seq, event: event, thread: thread})
	case events.PhaseCounter:
		imp.processCounterEvent(event)
	case events.PhaseMetadata:
		imp.processMetadataEvent(event)
	case events.PhaseObjectCreated, events.PhaseObjectSnapshot, events.PhaseObjectDeleted:
		imp.objectEvents = append(imp.objectEvents, queuedEvent{seq: seq, event: event})
	case events.PhaseSample:
		imp.processSampleEvent(event)
	case events.PhaseProcessMemoryDump:
		imp.queueMemoryDumpEvent(event, seq, false)
	case events.PhaseGlobalMemoryDump:
		imp.queueMemoryDumpEvent(event, seq, true)
	default:
		imp.warnf(WarningParse, "unknown phase %q on event %q", event.Ph, event.Name)
	}
	return nil
}

// sortQueuedEvents orders a deferred queue by timestamp, tiebroken by the
// input-order sequence number so results are stable across runs
func sortQueuedEvents(queue []queuedEvent) {
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].event.Timestamp != queue[j].event.Timestamp {
			return queue[i].event.Timestamp < queue[j].event.Timestamp
		}
		return queue[i].seq < queue[j].seq
	})
}

// eventColorID resolves the color id for an event, honouring explicit cname
// reservations
func eventColorID(event *events.TraceEvent, title string) int {
	if event.ColorName != "" {
		return model.ColorIDForReservedName(event.ColorName)
	}
	return model.ColorIDForString(title)
}
