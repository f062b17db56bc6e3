package importer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/model"
)

// memoryDumpState buffers the raw events sharing one dump id until assembly
type memoryDumpState struct {
	global  *queuedEvent
	process []queuedEvent
}

func (imp *Importer) queueMemoryDumpEvent(event *events.TraceEvent, seq int, global bool) {
	id, hasID := event.IDKey()
	if !hasID {
		imp.warnf(WarningMemoryDumpParse, "memory dump event %q has no dump id", event.Name)
		return
	}
	state, ok := imp.memoryDumpsByID[id]
	if !ok {
		state = &memoryDumpState{}
		imp.memoryDumpsByID[id] = state
		imp.memoryDumpIDs = append(imp.memoryDumpIDs, id)
	}
	entry := queuedEvent{seq: seq, event: event}
	if global {
		if state.global != nil {
			imp.warnf(WarningMemoryDumpParse, "dump id %s has more than one global dump event", id)
			return
		}
		state.global = &entry
	} else {
		state.process = append(state.process, entry)
	}
}

// createMemoryDumps assembles the buffered dump events, one global dump per
// dump id, in the order the ids were first seen
func (imp *Importer) createMemoryDumps() {
	for _, id := range imp.memoryDumpIDs {
		imp.createMemoryDump(id, imp.memoryDumpsByID[id])
	}
}

func (imp *Importer) createMemoryDump(id string, state *memoryDumpState) {
	timeBounds := model.NewBounds()
	if state.global != nil {
		timeBounds.AddValue(toMs(state.global.event.Timestamp))
	}
	sortQueuedEvents(state.process)
	for _, entry := range state.process {
		timeBounds.AddValue(toMs(entry.event.Timestamp))
	}
	if timeBounds.IsEmpty() {
		return
	}

	global := model.NewGlobalMemoryDump(timeBounds.Min(), timeBounds.Range())
	imp.model.AddGlobalMemoryDump(global)

	assembly := &memoryDumpAssembly{
		imp:         imp,
		dumpID:      id,
		global:      global,
		dumpsByGUID: map[string]*model.MemoryAllocatorDump{},
	}

	seenPids := map[int64]struct{}{}
	for _, entry := range state.process {
		pid := entry.event.Pid()
		if _, dup := seenPids[pid]; dup {
			imp.warnf(WarningMemoryDumpParse, "dump id %s has more than one dump for pid %d", id, pid)
			continue
		}
		seenPids[pid] = struct{}{}
		assembly.addProcessDump(entry.event)
	}

	levels := make([]model.LevelOfDetail, 0, len(global.ProcessDumps()))
	for _, pd := range global.ProcessDumps() {
		levels = append(levels, pd.LevelOfDetail)
	}
	global.LevelOfDetail = maxLevelOfDetail(levels)
	for _, level := range levels {
		if level != global.LevelOfDetail {
			imp.warnf(WarningMemoryDumpParse, "dump id %s mixes levels of detail", id)
			break
		}
	}

	inferAllocatorDumpTree(global)
	for _, pd := range global.ProcessDumps() {
		inferAllocatorDumpTree(pd)
	}
	assembly.applyEdges()
}

func maxLevelOfDetail(levels []model.LevelOfDetail) model.LevelOfDetail {
	max := model.LevelOfDetailUnspecified
	for _, level := range levels {
		if level > max {
			max = level
		}
	}
	return max
}

// memoryDumpAssembly tracks the cross-process state of one dump id: the GUID
// index allocator dumps merge through and the edge entries applied at the end
type memoryDumpAssembly struct {
	imp    *Importer
	dumpID string
	global *model.GlobalMemoryDump

	dumpsByGUID map[string]*model.MemoryAllocatorDump
	rawEdges    []rawMemoryEdge
}

type rawMemoryEdge struct {
	source     string
	target     string
	edgeType   string
	importance int
}

func (a *memoryDumpAssembly) addProcessDump(event *events.TraceEvent) {
	imp := a.imp
	process := imp.model.GetOrCreateProcess(event.Pid())
	pd := model.NewProcessMemoryDump(a.global, process, toMs(event.Timestamp))
	a.global.AddProcessDump(pd)
	process.AddMemoryDump(pd)

	dumps, ok := event.ArgsMap()["dumps"].(map[string]interface{})
	if !ok {
		imp.warnf(WarningMemoryDumpParse, "dump id %s pid %d has no args.dumps", a.dumpID, event.Pid())
		return
	}

	a.parseProcessTotals(pd, dumps)
	a.parseVMRegions(pd, dumps)
	a.parseLevelOfDetail(pd, dumps)
	a.parseAllocatorDumps(pd, dumps)
	a.collectEdges(dumps)
	a.parseHeapDumps(pd, event.Pid(), dumps)
}

func (a *memoryDumpAssembly) parseProcessTotals(pd *model.ProcessMemoryDump, dumps map[string]interface{}) {
	imp := a.imp
	rawTotals, ok := dumps["process_totals"].(map[string]interface{})
	if !ok {
		imp.warnf(WarningMemoryDumpParse, "dump id %s on %s has no process totals", a.dumpID, pd.ContainerName())
		return
	}

	totals := &model.ProcessTotals{}
	resident, ok := parseHexBytes(rawTotals["resident_set_bytes"])
	if !ok {
		imp.warnf(WarningMemoryDumpParse, "dump id %s on %s has no resident set size", a.dumpID, pd.ContainerName())
		return
	}
	totals.ResidentBytes = resident

	peak, hasPeak := parseHexBytes(rawTotals["peak_resident_set_bytes"])
	resettable, hasResettable := rawTotals["is_peak_rss_resetable"].(bool)
	switch {
	case hasPeak && hasResettable:
		totals.PeakResidentBytes = &peak
		totals.ArePeakResidentBytesResettable = resettable
	case hasPeak != hasResettable:
		imp.warnf(WarningMemoryDumpParse, "dump id %s on %s has only one of peak resident size and its resettable flag", a.dumpID, pd.ContainerName())
	}
	pd.Totals = totals
}

func (a *memoryDumpAssembly) parseVMRegions(pd *model.ProcessMemoryDump, dumps map[string]interface{}) {
	mmaps, ok := dumps["process_mmaps"].(map[string]interface{})
	if !ok {
		return
	}
	rawRegions, ok := mmaps["vm_regions"].([]interface{})
	if !ok {
		return
	}

	for _, rawRegion := range rawRegions {
		region, ok := rawRegion.(map[string]interface{})
		if !ok {
			a.imp.warnf(WarningMemoryDumpParse, "dump id %s on %s has a malformed vm region", a.dumpID, pd.ContainerName())
			continue
		}
		startAddress, _ := parseHexBytes(region["sa"])
		size, _ := parseHexBytes(region["sz"])
		protection := 0
		if pf, ok := region["pf"].(float64); ok {
			protection = int(pf)
		}
		mappedFile, _ := region["mf"].(string)

		vmRegion := &model.VMRegion{
			StartAddress:    startAddress,
			SizeInBytes:     size,
			ProtectionFlags: protection,
			MappedFile:      mappedFile,
		}
		if byteStats, ok := region["bs"].(map[string]interface{}); ok {
			vmRegion.ByteStats = model.VMRegionByteStats{
				PrivateCleanResident: parseOptionalHexBytes(byteStats["pc"]),
				PrivateDirtyResident: parseOptionalHexBytes(byteStats["pd"]),
				SharedCleanResident:  parseOptionalHexBytes(byteStats["sc"]),
				SharedDirtyResident:  parseOptionalHexBytes(byteStats["sd"]),
				ProportionalResident: parseOptionalHexBytes(byteStats["pss"]),
				Swapped:              parseOptionalHexBytes(byteStats["sw"]),
			}
		}
		pd.VMRegions = append(pd.VMRegions, vmRegion)
	}
}

func (a *memoryDumpAssembly) parseLevelOfDetail(pd *model.ProcessMemoryDump, dumps map[string]interface{}) {
	raw, present := dumps["level_of_detail"]
	if !present {
		return
	}
	levelName, _ := raw.(string)
	level, ok := model.ParseLevelOfDetail(levelName)
	if !ok {
		a.imp.warnf(WarningMemoryDumpParse, "dump id %s on %s has unknown level of detail %q", a.dumpID, pd.ContainerName(), levelName)
		return
	}
	pd.LevelOfDetail = level
}

// globalAllocatorPrefix routes allocator dumps into the global dump's tree
const globalAllocatorPrefix = "global/"

func (a *memoryDumpAssembly) parseAllocatorDumps(pd *model.ProcessMemoryDump, dumps map[string]interface{}) {
	imp := a.imp
	allocators, ok := dumps["allocators"].(map[string]interface{})
	if !ok {
		return
	}

	fullNames := make([]string, 0, len(allocators))
	for fullName := range allocators {
		fullNames = append(fullNames, fullName)
	}
	sort.Strings(fullNames)

	for _, rawFullName := range fullNames {
		raw, ok := allocators[rawFullName].(map[string]interface{})
		if !ok {
			imp.warnf(WarningMemoryDumpParse, "allocator dump %q in dump id %s is malformed", rawFullName, a.dumpID)
			continue
		}

		var container model.MemoryDumpContainer = pd
		fullName := rawFullName
		if strings.HasPrefix(rawFullName, globalAllocatorPrefix) {
			container = a.global
			fullName = strings.TrimPrefix(rawFullName, globalAllocatorPrefix)
		}

		guid, _ := raw["guid"].(string)

		var dump *model.MemoryAllocatorDump
		if guid != "" {
			if existing, seen := a.dumpsByGUID[guid]; seen {
				if existing.Container() != container {
					imp.warnf(WarningMemoryDumpParse, "allocator dump guid %s appears in both %s and %s", guid, existing.Container().ContainerName(), container.ContainerName())
					continue
				}
				if existing.FullName() != fullName {
					imp.warnf(WarningMemoryDumpParse, "allocator dump guid %s renamed from %q to %q", guid, existing.FullName(), fullName)
					continue
				}
				dump = existing
			}
		}
		if dump == nil {
			dump = container.AllocatorDumpByFullName(fullName)
			if dump == nil {
				dump = model.NewMemoryAllocatorDump(container, fullName, guid)
				container.PutAllocatorDump(dump)
			} else if dump.GUID() == "" {
				dump.SetGUID(guid)
			}
			if guid != "" {
				a.dumpsByGUID[guid] = dump
			}
		}

		a.mergeAttributes(dump, raw)
	}
}

func (a *memoryDumpAssembly) mergeAttributes(dump *model.MemoryAllocatorDump, raw map[string]interface{}) {
	attrs, ok := raw["attrs"].(map[string]interface{})
	if !ok {
		return
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rawAttr, ok := attrs[name].(map[string]interface{})
		if !ok {
			a.imp.warnf(WarningMemoryDumpParse, "attribute %q of allocator dump %q is malformed", name, dump.FullName())
			continue
		}
		attrType, _ := rawAttr["type"].(string)
		units, _ := rawAttr["units"].(string)
		attr := &model.MemoryDumpAttribute{
			Type:  attrType,
			Units: units,
			Value: rawAttr["value"],
		}
		if !dump.SetAttribute(name, attr) {
			a.imp.warnf(WarningMemoryDumpParse, "attribute %q of allocator dump %q was provided more than once", name, dump.FullName())
		}
	}
}

func (a *memoryDumpAssembly) collectEdges(dumps map[string]interface{}) {
	rawGraph, ok := dumps["allocators_graph"].([]interface{})
	if !ok {
		return
	}
	for _, rawEdge := range rawGraph {
		edge, ok := rawEdge.(map[string]interface{})
		if !ok {
			a.imp.warnf(WarningMemoryDumpParse, "allocator graph entry in dump id %s is malformed", a.dumpID)
			continue
		}
		source, _ := edge["source"].(string)
		target, _ := edge["target"].(string)
		edgeType, _ := edge["type"].(string)
		importance := 0
		if value, ok := edge["importance"].(float64); ok {
			importance = int(value)
		}
		a.rawEdges = append(a.rawEdges, rawMemoryEdge{
			source:     source,
			target:     target,
			edgeType:   edgeType,
			importance: importance,
		})
	}
}

func (a *memoryDumpAssembly) applyEdges() {
	imp := a.imp
	for _, raw := range a.rawEdges {
		if raw.source == "" || raw.target == "" {
			imp.warnf(WarningMemoryDumpParse, "allocator graph edge in dump id %s is missing a guid", a.dumpID)
			continue
		}
		source := a.dumpsByGUID[raw.source]
		target := a.dumpsByGUID[raw.target]
		if source == nil || target == nil {
			imp.warnf(WarningMemoryDumpParse, "allocator graph edge in dump id %s references unknown guid", a.dumpID)
			continue
		}

		edge := &model.MemoryDumpEdge{
			Source:     source,
			Target:     target,
			Type:       raw.edgeType,
			Importance: raw.importance,
		}
		switch raw.edgeType {
		case "ownership":
			if source.OwnsEdge != nil {
				imp.warnf(WarningMemoryDumpParse, "allocator dump %q owns more than one target", source.FullName())
				continue
			}
			source.OwnsEdge = edge
			target.OwnedByEdges = append(target.OwnedByEdges, edge)
		case "retention":
			source.RetainsEdges = append(source.RetainsEdges, edge)
			target.RetainedByEdges = append(target.RetainedByEdges, edge)
		default:
			imp.warnf(WarningMemoryDumpParse, "allocator graph edge in dump id %s has unknown type %q", a.dumpID, raw.edgeType)
		}
	}
}

func (a *memoryDumpAssembly) parseHeapDumps(pd *model.ProcessMemoryDump, pid int64, dumps map[string]interface{}) {
	imp := a.imp
	heaps, ok := dumps["heaps"].(map[string]interface{})
	if !ok {
		return
	}
	allocatorNames := make([]string, 0, len(heaps))
	for name := range heaps {
		allocatorNames = append(allocatorNames, name)
	}
	sort.Strings(allocatorNames)

	prefix := processFrameIDPrefix(pid)
	for _, allocatorName := range allocatorNames {
		rawEntries, ok := heaps[allocatorName].(map[string]interface{})
		if !ok {
			imp.warnf(WarningMemoryDumpParse, "heap dump %q in dump id %s is malformed", allocatorName, a.dumpID)
			continue
		}
		entries, ok := rawEntries["entries"].([]interface{})
		if !ok {
			continue
		}

		heapDump := &model.HeapDump{ProcessDump: pd, AllocatorName: allocatorName}
		for _, rawEntry := range entries {
			entry, ok := rawEntry.(map[string]interface{})
			if !ok {
				imp.warnf(WarningMemoryDumpParse, "heap dump %q entry in dump id %s is malformed", allocatorName, a.dumpID)
				continue
			}
			size, ok := parseHexBytes(entry["size"])
			if !ok {
				imp.warnf(WarningMemoryDumpParse, "heap dump %q entry in dump id %s has no size", allocatorName, a.dumpID)
				continue
			}
			frameKey, _ := frameIDKey(entry["sf"])
			frame := imp.model.StackFrame(prefix + frameKey)
			if frame == nil {
				imp.warnf(WarningMemoryDumpParse, "heap dump %q entry references missing stack frame %q", allocatorName, frameKey)
				continue
			}
			heapDump.Entries = append(heapDump.Entries, &model.HeapEntry{
				LeafStackFrame: frame,
				SizeInBytes:    size,
			})
		}
		pd.HeapDumps[allocatorName] = heapDump
	}
}

// inferAllocatorDumpTree connects a container's allocator dumps into a tree
// by walking each full name up a path segment at a time, creating implicit
// intermediate dumps as needed. Roots are the dumps with no '/' in their name.
func inferAllocatorDumpTree(container model.MemoryDumpContainer) {
	for _, fullName := range container.AllocatorDumpNames() {
		current := container.AllocatorDumpByFullName(fullName)
		for strings.Contains(current.FullName(), "/") {
			parentName := current.FullName()[:strings.LastIndex(current.FullName(), "/")]
			parent := container.AllocatorDumpByFullName(parentName)
			if parent == nil {
				parent = model.NewMemoryAllocatorDump(container, parentName, "")
				container.PutAllocatorDump(parent)
			}
			if current.Parent == nil {
				current.Parent = parent
				parent.Children = append(parent.Children, current)
			}
			current = parent
		}
	}

	var roots []*model.MemoryAllocatorDump
	for _, fullName := range container.AllocatorDumpNames() {
		if !strings.Contains(fullName, "/") {
			roots = append(roots, container.AllocatorDumpByFullName(fullName))
		}
	}
	container.SetRootAllocatorDumps(roots)
}

func processFrameIDPrefix(pid int64) string {
	return "p" + strconv.FormatInt(pid, 10) + ":"
}

// parseHexBytes decodes the hex byte counts memory dumps carry; values appear
// as hex strings with or without a 0x prefix, or occasionally plain numbers
func parseHexBytes(v interface{}) (uint64, bool) {
	switch value := v.(type) {
	case string:
		parsed, err := strconv.ParseUint(strings.TrimPrefix(value, "0x"), 16, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case float64:
		if value < 0 {
			return 0, false
		}
		return uint64(value), true
	default:
		return 0, false
	}
}

func parseOptionalHexBytes(v interface{}) *uint64 {
	parsed, ok := parseHexBytes(v)
	if !ok {
		return nil
	}
	return &parsed
}
