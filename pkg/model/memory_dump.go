package model

import (
	"sort"
	"strings"
)

// LevelOfDetail orders the detail levels a memory dump can be captured at
type LevelOfDetail int

const (
	LevelOfDetailUnspecified LevelOfDetail = iota
	LevelOfDetailLight
	LevelOfDetailDetailed
)

// ParseLevelOfDetail maps the wire strings onto the ordered levels
func ParseLevelOfDetail(s string) (LevelOfDetail, bool) {
	switch s {
	case "":
		return LevelOfDetailUnspecified, true
	case "light":
		return LevelOfDetailLight, true
	case "detailed":
		return LevelOfDetailDetailed, true
	default:
		return LevelOfDetailUnspecified, false
	}
}

func (l LevelOfDetail) String() string {
	switch l {
	case LevelOfDetailLight:
		return "light"
	case LevelOfDetailDetailed:
		return "detailed"
	default:
		return "unspecified"
	}
}

// VM region protection flag bits
const (
	VMRegionProtectionRead    = 4
	VMRegionProtectionWrite   = 2
	VMRegionProtectionExecute = 1
)

// VMRegionByteStats carries the per-region byte counters of a memory map entry
type VMRegionByteStats struct {
	PrivateCleanResident *uint64
	PrivateDirtyResident *uint64
	SharedCleanResident  *uint64
	SharedDirtyResident  *uint64
	ProportionalResident *uint64
	Swapped              *uint64
}

// VMRegion is one mapped range of a process's address space
type VMRegion struct {
	StartAddress    uint64
	SizeInBytes     uint64
	ProtectionFlags int
	MappedFile      string
	ByteStats       VMRegionByteStats
}

// MemoryDumpAttribute is a single named allocator dump measurement
type MemoryDumpAttribute struct {
	Type  string
	Units string
	Value interface{}
}

// MemoryAllocatorDump is a node in a dump's allocator tree, identified by its
// '/'-separated full name within the owning container
type MemoryAllocatorDump struct {
	fullName string
	guid     string

	// container is the global or process dump this node belongs to
	container MemoryDumpContainer

	Parent   *MemoryAllocatorDump
	Children []*MemoryAllocatorDump

	attributes map[string]*MemoryDumpAttribute

	// OwnsEdge is the at-most-one ownership edge leaving this dump
	OwnsEdge        *MemoryDumpEdge
	OwnedByEdges    []*MemoryDumpEdge
	RetainsEdges    []*MemoryDumpEdge
	RetainedByEdges []*MemoryDumpEdge
}

func NewMemoryAllocatorDump(container MemoryDumpContainer, fullName, guid string) *MemoryAllocatorDump {
	return &MemoryAllocatorDump{
		fullName:   fullName,
		guid:       guid,
		container:  container,
		attributes: map[string]*MemoryDumpAttribute{},
	}
}

func (d *MemoryAllocatorDump) FullName() string {
	return d.fullName
}

// Name is the last segment of the dump's full name
func (d *MemoryAllocatorDump) Name() string {
	idx := strings.LastIndex(d.fullName, "/")
	return d.fullName[idx+1:]
}

func (d *MemoryAllocatorDump) GUID() string {
	return d.guid
}

func (d *MemoryAllocatorDump) SetGUID(guid string) {
	d.guid = guid
}

func (d *MemoryAllocatorDump) Container() MemoryDumpContainer {
	return d.container
}

func (d *MemoryAllocatorDump) Attributes() map[string]*MemoryDumpAttribute {
	return d.attributes
}

// SetAttribute records a measurement, reporting false when the name was
// already populated
func (d *MemoryAllocatorDump) SetAttribute(name string, attr *MemoryDumpAttribute) bool {
	if _, exists := d.attributes[name]; exists {
		return false
	}
	d.attributes[name] = attr
	return true
}

// MemoryDumpEdge is a second-class ownership or retention link between two
// allocator dumps, resolved from GUID references
type MemoryDumpEdge struct {
	Source     *MemoryAllocatorDump
	Target     *MemoryAllocatorDump
	Type       string
	Importance int
}

// MemoryDumpContainer is either a global or a process memory dump, both of
// which own an allocator dump tree keyed by full name
type MemoryDumpContainer interface {
	// ContainerName names the container in diagnostics
	ContainerName() string
	// AllocatorDumpByFullName looks a node up by its '/'-path
	AllocatorDumpByFullName(fullName string) *MemoryAllocatorDump
	// PutAllocatorDump registers a node under its full name
	PutAllocatorDump(dump *MemoryAllocatorDump)
	// AllocatorDumpNames lists the registered full names sorted lexicographically
	AllocatorDumpNames() []string
	// SetRootAllocatorDumps records the inferred tree roots
	SetRootAllocatorDumps(roots []*MemoryAllocatorDump)
}

type allocatorDumpSet struct {
	byFullName map[string]*MemoryAllocatorDump
	roots      []*MemoryAllocatorDump
}

func newAllocatorDumpSet() allocatorDumpSet {
	return allocatorDumpSet{byFullName: map[string]*MemoryAllocatorDump{}}
}

func (s *allocatorDumpSet) AllocatorDumpByFullName(fullName string) *MemoryAllocatorDump {
	return s.byFullName[fullName]
}

func (s *allocatorDumpSet) PutAllocatorDump(dump *MemoryAllocatorDump) {
	s.byFullName[dump.FullName()] = dump
}

func (s *allocatorDumpSet) AllocatorDumpNames() []string {
	names := make([]string, 0, len(s.byFullName))
	for name := range s.byFullName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *allocatorDumpSet) SetRootAllocatorDumps(roots []*MemoryAllocatorDump) {
	s.roots = roots
}

func (s *allocatorDumpSet) RootAllocatorDumps() []*MemoryAllocatorDump {
	return s.roots
}

// ProcessTotals is the resident-set summary of one process dump
type ProcessTotals struct {
	ResidentBytes uint64
	// PeakResidentBytes is optional and co-required with its resettable flag
	PeakResidentBytes              *uint64
	ArePeakResidentBytesResettable bool
}

// HeapEntry is one allocation site in a heap dump
type HeapEntry struct {
	// LeafStackFrame is the innermost frame of the allocation backtrace
	LeafStackFrame *StackFrame
	SizeInBytes    uint64
}

// HeapDump is the per-allocator heap profile of one process dump
type HeapDump struct {
	ProcessDump   *ProcessMemoryDump
	AllocatorName string
	Entries       []*HeapEntry
}

// GlobalMemoryDump spans a time range covering all process dumps that share
// its dump id
type GlobalMemoryDump struct {
	allocatorDumpSet

	Start    float64
	Duration float64

	LevelOfDetail LevelOfDetail

	processDumps []*ProcessMemoryDump
}

func NewGlobalMemoryDump(start, duration float64) *GlobalMemoryDump {
	return &GlobalMemoryDump{
		allocatorDumpSet: newAllocatorDumpSet(),
		Start:            start,
		Duration:         duration,
	}
}

func (d *GlobalMemoryDump) ContainerName() string {
	return "global"
}

func (d *GlobalMemoryDump) End() float64 {
	return d.Start + d.Duration
}

func (d *GlobalMemoryDump) AddProcessDump(pd *ProcessMemoryDump) {
	d.processDumps = append(d.processDumps, pd)
}

func (d *GlobalMemoryDump) ProcessDumps() []*ProcessMemoryDump {
	return d.processDumps
}

// ProcessMemoryDump is one process's contribution to a global dump
type ProcessMemoryDump struct {
	allocatorDumpSet

	GlobalDump *GlobalMemoryDump
	process    *Process
	Start      float64

	LevelOfDetail LevelOfDetail

	Totals    *ProcessTotals
	VMRegions []*VMRegion
	HeapDumps map[string]*HeapDump
}

func NewProcessMemoryDump(global *GlobalMemoryDump, process *Process, start float64) *ProcessMemoryDump {
	return &ProcessMemoryDump{
		allocatorDumpSet: newAllocatorDumpSet(),
		GlobalDump:       global,
		process:          process,
		Start:            start,
		HeapDumps:        map[string]*HeapDump{},
	}
}

func (d *ProcessMemoryDump) ContainerName() string {
	return d.process.UserFriendlyName()
}

func (d *ProcessMemoryDump) Process() *Process {
	return d.process
}
