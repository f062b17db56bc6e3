package importer

import (
	"sort"

	"github.com/omaskery/tracemodel/pkg/events"
	"github.com/omaskery/tracemodel/pkg/io"
	"github.com/omaskery/tracemodel/pkg/model"
)

// globalFrameIDPrefix scopes frames from the container's stackFrames table
const globalFrameIDPrefix = "g"

func (imp *Importer) importContainerStackFrames(frames map[string]*io.RawStackFrame) {
	imp.importStackFrames(frames, globalFrameIDPrefix, false)
}

// importStackFrames registers frames in two passes: first every frame under
// its fully-qualified id, then the parent links. When addRootFrame is set a
// synthetic root with the prefix as id is created and parentless frames
// attach to it.
func (imp *Importer) importStackFrames(frames map[string]*io.RawStackFrame, prefix string, addRootFrame bool) {
	if len(frames) == 0 {
		return
	}

	ids := make([]string, 0, len(frames))
	for id := range frames {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var root *model.StackFrame
	if addRootFrame {
		root = model.NewStackFrame(prefix, nil, prefix, "")
		if err := imp.model.AddStackFrame(root); err != nil {
			imp.warnf(WarningParse, "root stack frame collision: %v", err)
			root = imp.model.StackFrame(prefix)
		}
	}

	for _, id := range ids {
		raw := frames[id]
		frame := model.NewStackFrame(prefix+id, nil, raw.Name, raw.Category)
		if err := imp.model.AddStackFrame(frame); err != nil {
			imp.warnf(WarningParse, "stack frame collision: %v", err)
		}
	}

	for _, id := range ids {
		raw := frames[id]
		frame := imp.model.StackFrame(prefix + id)
		if frame == nil {
			continue
		}
		if raw.Parent == "" {
			frame.Parent = root
			continue
		}
		parent := imp.model.StackFrame(prefix + raw.Parent)
		if parent == nil {
			imp.warnf(WarningParse, "stack frame %q references missing parent %q", prefix+id, raw.Parent)
			parent = root
		}
		frame.Parent = parent
	}
}

// stackFrameForEvent resolves the frame an event references. At most one of
// the direct frame id and the inline stack may be set; having both warns and
// resolves to no frame.
func (imp *Importer) stackFrameForEvent(event *events.TraceEvent, end bool) *model.StackFrame {
	frameID := event.StackFrameID
	stack := event.Stack
	if end {
		frameID = event.EndStackFrameID
		stack = event.EndStack
	}

	if frameID != nil && stack != nil {
		imp.warnf(WarningStackFrameAndStack, "event %q has both a stack frame id and an inline stack", event.Name)
		return nil
	}
	if frameID != nil {
		key, _ := frameIDKey(frameID)
		return imp.model.StackFrame(globalFrameIDPrefix + key)
	}
	if stack != nil {
		return imp.resolveStackToStackFrame(stack)
	}
	return nil
}

// resolveStackToStackFrame is an extension point for inline program-counter
// traces; all callers tolerate a nil frame.
func (imp *Importer) resolveStackToStackFrame(stack []string) *model.StackFrame {
	return nil
}

func frameIDKey(id interface{}) (string, bool) {
	e := events.TraceEvent{ID: id}
	return e.IDKey()
}
