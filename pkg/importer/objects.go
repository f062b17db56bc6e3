package importer

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/model"
)

// createObjects drains the deferred object queue: the explicit N/O/D records
// first, then the implicit snapshots nested inside snapshot args
func (imp *Importer) createObjects() error {
	sortQueuedEvents(imp.objectEvents)

	for _, queued := range imp.objectEvents {
		imp.processObjectEvent(queued.event)
	}
	return imp.createImplicitObjects()
}

func (imp *Importer) processObjectEvent(event *events.TraceEvent) {
	id, hasID := event.IDKey()
	if !hasID {
		imp.warnf(WarningObjectParse, "%s phase event %q has no id", event.Ph, event.Name)
		return
	}
	process := imp.model.GetOrCreateProcess(event.Pid())
	ts := toMs(event.Timestamp)

	switch event.Phase() {
	case events.PhaseObjectCreated:
		instance, err := process.Objects.IDWasCreated(id, event.Categories, event.Name, ts)
		if err != nil {
			imp.warnf(WarningObjectParse, "N phase event: %v", err)
			return
		}
		imp.applyObjectColor(event, instance)

	case events.PhaseObjectSnapshot:
		args := event.ArgsMap()
		rawSnapshot, hasSnapshot := args["snapshot"]
		if !hasSnapshot {
			imp.warnf(WarningObjectSnapshotParse, "O phase event %q has no args.snapshot", event.Name)
			return
		}

		category := event.Categories
		baseTypeName := ""
		var snapshotArgs map[string]interface{}
		if snapshotMap, ok := rawSnapshot.(map[string]interface{}); ok {
			if cat, ok := snapshotMap["cat"].(string); ok {
				category = cat
			}
			if baseType, ok := snapshotMap["base_type"].(string); ok {
				baseTypeName = baseType
			}
			snapshotArgs = model.DeepCopyArgs(snapshotMap)
			delete(snapshotArgs, "cat")
			delete(snapshotArgs, "base_type")
		} else {
			snapshotArgs = map[string]interface{}{"value": deepCopyAny(rawSnapshot)}
		}

		snapshot, err := process.Objects.AddSnapshot(id, category, event.Name, ts, snapshotArgs, baseTypeName)
		if err != nil {
			imp.warnf(WarningObjectSnapshotParse, "O phase event: %v", err)
			return
		}
		imp.applyObjectColor(event, snapshot.Instance)
		imp.snapshots = append(imp.snapshots, snapshot)

	case events.PhaseObjectDeleted:
		if _, err := process.Objects.IDWasDeleted(id, event.Categories, event.Name, ts); err != nil {
			imp.warnf(WarningObjectParse, "D phase event: %v", err)
		}
	}
}

// applyObjectColor propagates an explicit color reservation onto the instance
// when its type was just established
func (imp *Importer) applyObjectColor(event *events.TraceEvent, instance *model.ObjectInstance) {
	if event.ColorName != "" && instance.TypeName == event.Name {
		instance.ColorID = model.ColorIDForReservedName(event.ColorName)
	}
}

// implicitIDPattern is the "name/localId" shape nested object references take
var implicitIDPattern = regexp.MustCompile(`^(.+)/(.+)$`)

// createImplicitObjects walks every snapshot's args tree and lifts nested
// objects that carry an id field into instances of their own. Snapshots the
// walk creates are themselves walked.
func (imp *Importer) createImplicitObjects() error {
	for i := 0; i < len(imp.snapshots); i++ {
		snapshot := imp.snapshots[i]
		if snapshot.Args == nil {
			continue
		}
		// an id on a top-level snapshot has no containing field to rewrite
		if _, has := snapshot.Args["id"]; has {
			return fmt.Errorf("object snapshot of %s has a top-level id field", snapshot.Instance.ID)
		}
		if err := imp.walkImplicitArgs(snapshot, snapshot.Args); err != nil {
			return err
		}
	}
	return nil
}

func (imp *Importer) walkImplicitArgs(parent *model.ObjectSnapshot, args map[string]interface{}) error {
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		replacement, err := imp.liftImplicitValue(parent, args[key])
		if err != nil {
			return err
		}
		args[key] = replacement
	}
	return nil
}

// liftImplicitValue returns the value to store in place of v, materialising a
// snapshot when v is an object reference
func (imp *Importer) liftImplicitValue(parent *model.ObjectSnapshot, v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case *model.ObjectSnapshot:
		return value, nil

	case []interface{}:
		for i := range value {
			replacement, err := imp.liftImplicitValue(parent, value[i])
			if err != nil {
				return nil, err
			}
			value[i] = replacement
		}
		return value, nil

	case map[string]interface{}:
		rawID, hasID := value["id"]
		if !hasID {
			if err := imp.walkImplicitArgs(parent, value); err != nil {
				return nil, err
			}
			return value, nil
		}

		id, ok := rawID.(string)
		if !ok || !implicitIDPattern.MatchString(id) {
			return nil, fmt.Errorf("nested object id %v is not of the form name/localId", rawID)
		}
		name := implicitIDPattern.FindStringSubmatch(id)[1]

		category := parent.Instance.Category
		if cat, ok := value["cat"].(string); ok {
			category = cat
		}
		baseTypeName := ""
		if baseType, ok := value["base_type"].(string); ok {
			baseTypeName = baseType
		}

		residual := make(map[string]interface{}, len(value))
		for k, field := range value {
			switch k {
			case "id", "cat", "base_type":
			default:
				residual[k] = field
			}
		}

		snapshot, err := parent.Instance.Process().Objects.AddSnapshot(id, category, name, parent.Ts, residual, baseTypeName)
		if err != nil {
			imp.warnf(WarningObjectSnapshotParse, "implicit snapshot %s: %v", id, err)
			return value, nil
		}
		imp.snapshots = append(imp.snapshots, snapshot)
		return snapshot, nil

	default:
		return value, nil
	}
}

func deepCopyAny(v interface{}) interface{} {
	return model.DeepCopyArgs(map[string]interface{}{"v": v})["v"]
}
