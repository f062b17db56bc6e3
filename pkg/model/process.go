package model

import (
	"fmt"
	"sort"
)

// Process is one traced process. Threads, counters and objects are created
// lazily on first reference.
type Process struct {
	model *Model

	PID int64
	// Name is metadata-derived, empty until a process_name record arrives
	Name string
	// Labels are metadata-derived viewer tags
	Labels []string
	// SortIndex is metadata-derived and controls viewer ordering
	SortIndex int64
	// UptimeSeconds is metadata-derived when present
	UptimeSeconds *float64

	threads  map[int64]*Thread
	counters map[string]*Counter

	Objects *ObjectCollection

	memoryDumps []*ProcessMemoryDump

	bounds Bounds
}

func NewProcess(m *Model, pid int64) *Process {
	p := &Process{
		model:    m,
		PID:      pid,
		threads:  map[int64]*Thread{},
		counters: map[string]*Counter{},
		bounds:   NewBounds(),
	}
	p.Objects = NewObjectCollection(p)
	return p
}

func (p *Process) Model() *Model {
	return p.model
}

// UserFriendlyName renders the process for diagnostics
func (p *Process) UserFriendlyName() string {
	if p.Name != "" {
		return fmt.Sprintf("%s (pid %d)", p.Name, p.PID)
	}
	return fmt.Sprintf("pid %d", p.PID)
}

// GetOrCreateThread lazily creates the thread for tid
func (p *Process) GetOrCreateThread(tid int64) *Thread {
	thread, ok := p.threads[tid]
	if !ok {
		thread = NewThread(p, tid)
		p.threads[tid] = thread
	}
	return thread
}

// Threads returns the process's threads ordered by tid
func (p *Process) Threads() []*Thread {
	tids := make([]int64, 0, len(p.threads))
	for tid := range p.threads {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })
	threads := make([]*Thread, 0, len(tids))
	for _, tid := range tids {
		threads = append(threads, p.threads[tid])
	}
	return threads
}

// FindAllThreadsNamed returns the process's threads with the given name
func (p *Process) FindAllThreadsNamed(name string) []*Thread {
	var found []*Thread
	for _, thread := range p.Threads() {
		if thread.Name == name {
			found = append(found, thread)
		}
	}
	return found
}

// counterKey scopes counters by category and name within the process
func counterKey(category, name string) string {
	return category + "." + name
}

// GetOrCreateCounter lazily creates the counter for (category, name)
func (p *Process) GetOrCreateCounter(category, name string) *Counter {
	key := counterKey(category, name)
	counter, ok := p.counters[key]
	if !ok {
		counter = NewCounter(p, category, name)
		p.counters[key] = counter
	}
	return counter
}

// RemoveCounter drops a counter that turned out to be unusable
func (p *Process) RemoveCounter(counter *Counter) {
	delete(p.counters, counterKey(counter.Category(), counter.Name()))
}

// Counters returns the process's counters ordered by key
func (p *Process) Counters() []*Counter {
	keys := make([]string, 0, len(p.counters))
	for key := range p.counters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	counters := make([]*Counter, 0, len(keys))
	for _, key := range keys {
		counters = append(counters, p.counters[key])
	}
	return counters
}

// AddMemoryDump attaches one of the process's memory dump contributions
func (p *Process) AddMemoryDump(dump *ProcessMemoryDump) {
	p.memoryDumps = append(p.memoryDumps, dump)
}

func (p *Process) MemoryDumps() []*ProcessMemoryDump {
	return p.memoryDumps
}

// IsEmpty reports whether no thread, counter, object or dump recorded anything
func (p *Process) IsEmpty() bool {
	for _, thread := range p.threads {
		if !thread.IsEmpty() {
			return false
		}
	}
	for _, counter := range p.counters {
		if !counter.IsEmpty() {
			return false
		}
	}
	return p.Objects.IsEmpty() && len(p.memoryDumps) == 0
}

func (p *Process) Bounds() Bounds {
	return p.bounds
}

// UpdateBounds recomputes the process bounds from threads, counters and objects
func (p *Process) UpdateBounds() {
	p.bounds.Reset()
	for _, thread := range p.threads {
		thread.UpdateBounds()
		p.bounds.AddBounds(thread.bounds)
	}
	for _, counter := range p.counters {
		counter.updateBounds(&p.bounds)
	}
	p.Objects.updateBounds(&p.bounds)
	for _, dump := range p.memoryDumps {
		p.bounds.AddValue(dump.Start)
	}
}

// ShiftTimestampsForward translates every event in the process by amount
func (p *Process) ShiftTimestampsForward(amount float64) {
	for _, thread := range p.threads {
		thread.ShiftTimestampsForward(amount)
	}
	for _, counter := range p.counters {
		counter.shiftTimestampsForward(amount)
	}
	p.Objects.shiftTimestampsForward(amount)
	for _, dump := range p.memoryDumps {
		dump.Start += amount
	}
}

// AutoCloseOpenSlices closes any still-open slices on every thread
func (p *Process) AutoCloseOpenSlices(endTs float64) {
	for _, thread := range p.threads {
		thread.AutoCloseOpenSlices(endTs)
	}
}

// PruneEmptyThreads drops threads that recorded no events
func (p *Process) PruneEmptyThreads() {
	for tid, thread := range p.threads {
		if thread.IsEmpty() {
			delete(p.threads, tid)
		}
	}
}
