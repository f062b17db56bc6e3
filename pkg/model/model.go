// model holds the structured, queryable form a trace event stream is
// assembled into: processes and threads, nested slices, async operations,
// flow links, counters, object lifecycles and memory dumps
package model

import (
	"errors"
	"fmt"
	"sort"
)

var ErrDuplicateStackFrame = errors.New("stack frame id already registered")

// Model is the root aggregate of an imported trace
type Model struct {
	Device *Device
	Kernel *Kernel

	processes map[int64]*Process

	instantEvents      []*InstantEvent
	flowEvents         []*FlowEvent
	alerts             []*Alert
	interactionRecords []*InteractionRecord
	samples            []*Sample
	globalMemoryDumps  []*GlobalMemoryDump
	clockSyncRecords   []*ClockSyncRecord
	annotations        map[string]interface{}

	stackFrames map[string]*StackFrame

	flowIntervalTree *IntervalTree

	intrinsicTimeUnit    TimeUnit
	intrinsicTimeUnitSet bool

	metadata []Metadata

	// TraceBufferOverflowed is set when the trace recorded that its buffer
	// wrapped before recording finished
	TraceBufferOverflowed bool

	categories []string
	bounds     Bounds

	index *EventIndex
}

func NewModel() *Model {
	m := &Model{
		processes:   map[int64]*Process{},
		annotations: map[string]interface{}{},
		stackFrames: map[string]*StackFrame{},
		bounds:      NewBounds(),
	}
	m.Device = NewDevice(m)
	m.Kernel = NewKernel(m)
	return m
}

// GetOrCreateProcess lazily creates the process for pid
func (m *Model) GetOrCreateProcess(pid int64) *Process {
	process, ok := m.processes[pid]
	if !ok {
		process = NewProcess(m, pid)
		m.processes[pid] = process
	}
	return process
}

// Processes returns the model's processes ordered by pid
func (m *Model) Processes() []*Process {
	pids := make([]int64, 0, len(m.processes))
	for pid := range m.processes {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	processes := make([]*Process, 0, len(pids))
	for _, pid := range pids {
		processes = append(processes, m.processes[pid])
	}
	return processes
}

// AllThreads returns kernel threads followed by process threads; the two sets
// are disjoint
func (m *Model) AllThreads() []*Thread {
	threads := append([]*Thread{}, m.Kernel.Threads()...)
	for _, process := range m.Processes() {
		threads = append(threads, process.Threads()...)
	}
	return threads
}

// FindAllThreadsNamed searches kernel and process threads for name
func (m *Model) FindAllThreadsNamed(name string) []*Thread {
	found := m.Kernel.FindAllThreadsNamed(name)
	for _, process := range m.Processes() {
		found = append(found, process.FindAllThreadsNamed(name)...)
	}
	return found
}

// AddStackFrame registers a frame under its fully-qualified id
func (m *Model) AddStackFrame(frame *StackFrame) error {
	if _, exists := m.stackFrames[frame.ID]; exists {
		return fmt.Errorf("%q: %w", frame.ID, ErrDuplicateStackFrame)
	}
	m.stackFrames[frame.ID] = frame
	return nil
}

// StackFrame looks a frame up by fully-qualified id
func (m *Model) StackFrame(id string) *StackFrame {
	return m.stackFrames[id]
}

func (m *Model) StackFrames() map[string]*StackFrame {
	return m.stackFrames
}

// SetIntrinsicTimeUnit records the display unit; only the first set is kept
func (m *Model) SetIntrinsicTimeUnit(u TimeUnit) bool {
	if m.intrinsicTimeUnitSet {
		return false
	}
	m.intrinsicTimeUnit = u
	m.intrinsicTimeUnitSet = true
	return true
}

func (m *Model) IntrinsicTimeUnit() TimeUnit {
	return m.intrinsicTimeUnit
}

func (m *Model) AddInstantEvent(ev *InstantEvent) {
	m.instantEvents = append(m.instantEvents, ev)
}

func (m *Model) InstantEvents() []*InstantEvent {
	return m.instantEvents
}

func (m *Model) AddFlowEvent(fe *FlowEvent) {
	m.flowEvents = append(m.flowEvents, fe)
}

func (m *Model) FlowEvents() []*FlowEvent {
	return m.flowEvents
}

func (m *Model) AddAlert(a *Alert) {
	m.alerts = append(m.alerts, a)
}

func (m *Model) Alerts() []*Alert {
	return m.alerts
}

func (m *Model) AddInteractionRecord(ir *InteractionRecord) {
	m.interactionRecords = append(m.interactionRecords, ir)
}

func (m *Model) InteractionRecords() []*InteractionRecord {
	return m.interactionRecords
}

func (m *Model) AddSample(s *Sample) {
	m.samples = append(m.samples, s)
}

func (m *Model) Samples() []*Sample {
	return m.samples
}

func (m *Model) AddGlobalMemoryDump(d *GlobalMemoryDump) {
	m.globalMemoryDumps = append(m.globalMemoryDumps, d)
}

func (m *Model) GlobalMemoryDumps() []*GlobalMemoryDump {
	return m.globalMemoryDumps
}

func (m *Model) AddClockSyncRecord(r *ClockSyncRecord) {
	m.clockSyncRecords = append(m.clockSyncRecords, r)
}

func (m *Model) ClockSyncRecords() []*ClockSyncRecord {
	return m.clockSyncRecords
}

// SetAnnotation records an annotation under its guid
func (m *Model) SetAnnotation(guid string, value interface{}) {
	m.annotations[guid] = value
}

func (m *Model) Annotations() map[string]interface{} {
	return m.annotations
}

func (m *Model) AddMetadata(md Metadata) {
	m.metadata = append(m.metadata, md)
}

func (m *Model) Metadata() []Metadata {
	return m.metadata
}

func (m *Model) Bounds() Bounds {
	return m.bounds
}

// Categories returns the sorted set of category strings seen across the model,
// built by UpdateBounds
func (m *Model) Categories() []string {
	return m.categories
}

func (m *Model) FlowIntervalTree() *IntervalTree {
	return m.flowIntervalTree
}

// SortSamples orders samples by timestamp, stably
func (m *Model) SortSamples() {
	sort.SliceStable(m.samples, func(i, j int) bool {
		return m.samples[i].Start < m.samples[j].Start
	})
}

// UpdateBounds recomputes the world bounds and rebuilds the category set
func (m *Model) UpdateBounds() {
	m.bounds.Reset()
	categories := map[string]struct{}{}

	m.Kernel.updateBounds(&m.bounds)
	for _, thread := range m.Kernel.Threads() {
		collectThreadCategories(thread, categories)
	}

	for _, process := range m.Processes() {
		process.UpdateBounds()
		m.bounds.AddBounds(process.bounds)
		for _, thread := range process.Threads() {
			collectThreadCategories(thread, categories)
		}
		for _, counter := range process.Counters() {
			if counter.Category() != "" {
				categories[counter.Category()] = struct{}{}
			}
		}
		for _, instance := range process.Objects.Instances() {
			if instance.Category != "" {
				categories[instance.Category] = struct{}{}
			}
		}
	}

	for _, ev := range m.instantEvents {
		m.bounds.AddValue(ev.Start)
		if ev.Category != "" {
			categories[ev.Category] = struct{}{}
		}
	}
	for _, s := range m.samples {
		m.bounds.AddValue(s.Start)
	}
	for _, fe := range m.flowEvents {
		m.bounds.AddValue(fe.Start)
		m.bounds.AddValue(fe.End())
	}
	for _, d := range m.globalMemoryDumps {
		m.bounds.AddValue(d.Start)
		m.bounds.AddValue(d.End())
	}

	m.categories = make([]string, 0, len(categories))
	for category := range categories {
		m.categories = append(m.categories, category)
	}
	sort.Strings(m.categories)
}

func collectThreadCategories(thread *Thread, categories map[string]struct{}) {
	for _, slice := range thread.SliceGroup.Slices() {
		if slice.Category != "" {
			categories[slice.Category] = struct{}{}
		}
	}
	for _, slice := range thread.AsyncSliceGroup.Slices() {
		if slice.Category != "" {
			categories[slice.Category] = struct{}{}
		}
	}
}

// ShiftWorldToZero translates every event so the world bounds start at zero
func (m *Model) ShiftWorldToZero() {
	if m.bounds.IsEmpty() {
		return
	}
	shift := -m.bounds.Min()
	if shift == 0 {
		return
	}
	m.Kernel.shiftTimestampsForward(shift)
	for _, process := range m.Processes() {
		process.ShiftTimestampsForward(shift)
	}
	for _, ev := range m.instantEvents {
		ev.Start += shift
	}
	for _, s := range m.samples {
		s.Start += shift
	}
	for _, fe := range m.flowEvents {
		fe.Start += shift
	}
	for _, d := range m.globalMemoryDumps {
		d.Start += shift
		for _, pd := range d.ProcessDumps() {
			pd.Start += shift
		}
	}
	for _, ir := range m.interactionRecords {
		ir.Start += shift
	}
	for _, a := range m.alerts {
		a.Start += shift
	}
	for _, cs := range m.clockSyncRecords {
		cs.Start += shift
	}
	m.UpdateBounds()
}

// AutoCloseOpenSlices closes still-open slices everywhere at the world max
func (m *Model) AutoCloseOpenSlices() {
	m.UpdateBounds()
	endTs := m.bounds.Max()
	for _, thread := range m.Kernel.Threads() {
		thread.AutoCloseOpenSlices(endTs)
	}
	for _, process := range m.Processes() {
		process.AutoCloseOpenSlices(endTs)
	}
}

// CreateSubSlices rebuilds slice nesting for every thread
func (m *Model) CreateSubSlices() {
	for _, thread := range m.AllThreads() {
		thread.SliceGroup.CreateSubSlices()
	}
}

// PruneEmptyContainers drops threads and processes that recorded nothing
func (m *Model) PruneEmptyContainers() {
	for _, process := range m.Processes() {
		process.PruneEmptyThreads()
		if process.IsEmpty() {
			delete(m.processes, process.PID)
		}
	}
}

// BuildFlowEventIntervalTree indexes every flow event by its (start, end) span
func (m *Model) BuildFlowEventIntervalTree() {
	m.flowIntervalTree = NewIntervalTree()
	for _, fe := range m.flowEvents {
		m.flowIntervalTree.Insert(fe.Start, fe.End(), fe)
	}
	m.flowIntervalTree.UpdateHighValues()
}

// CleanupUndeletedObjects closes every still-live object at the world max
func (m *Model) CleanupUndeletedObjects() {
	maxTs := m.bounds.Max()
	for _, process := range m.Processes() {
		process.Objects.AutoDeleteObjects(maxTs)
	}
}

// SortMemoryDumps orders global dumps by start time, stably
func (m *Model) SortMemoryDumps() {
	sort.SliceStable(m.globalMemoryDumps, func(i, j int) bool {
		return m.globalMemoryDumps[i].Start < m.globalMemoryDumps[j].Start
	})
}

// SortInteractionRecords orders interaction records by start time, stably
func (m *Model) SortInteractionRecords() {
	sort.SliceStable(m.interactionRecords, func(i, j int) bool {
		return m.interactionRecords[i].Start < m.interactionRecords[j].Start
	})
}

// SortAlerts orders alerts by start time, stably
func (m *Model) SortAlerts() {
	sort.SliceStable(m.alerts, func(i, j int) bool {
		return m.alerts[i].Start < m.alerts[j].Start
	})
}

// EventIndex holds the reverse indices built for downstream analysis
type EventIndex struct {
	// FlowEventsByID groups flow events by the id they were stitched on
	FlowEventsByID map[string][]*FlowEvent
	// AllocatorDumpsByGUID resolves allocator dumps across every memory dump
	AllocatorDumpsByGUID map[string]*MemoryAllocatorDump
	// SamplesByThread groups samples by the thread they were taken on
	SamplesByThread map[*Thread][]*Sample
}

// BuildEventIndices constructs the model's reverse indices
func (m *Model) BuildEventIndices() {
	index := &EventIndex{
		FlowEventsByID:       map[string][]*FlowEvent{},
		AllocatorDumpsByGUID: map[string]*MemoryAllocatorDump{},
		SamplesByThread:      map[*Thread][]*Sample{},
	}
	for _, fe := range m.flowEvents {
		index.FlowEventsByID[fe.ID] = append(index.FlowEventsByID[fe.ID], fe)
	}
	for _, global := range m.globalMemoryDumps {
		indexAllocatorDumps(&global.allocatorDumpSet, index)
		for _, pd := range global.ProcessDumps() {
			indexAllocatorDumps(&pd.allocatorDumpSet, index)
		}
	}
	for _, s := range m.samples {
		if s.Thread != nil {
			index.SamplesByThread[s.Thread] = append(index.SamplesByThread[s.Thread], s)
		}
	}
	m.index = index
}

func indexAllocatorDumps(set *allocatorDumpSet, index *EventIndex) {
	for _, name := range set.AllocatorDumpNames() {
		dump := set.AllocatorDumpByFullName(name)
		if dump.GUID() != "" {
			index.AllocatorDumpsByGUID[dump.GUID()] = dump
		}
	}
}

// Index returns the reverse indices, nil until BuildEventIndices has run
func (m *Model) Index() *EventIndex {
	return m.index
}
