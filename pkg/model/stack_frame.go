package model

// StackFrame is a node in the model's frame graph. Frames are keyed by a
// fully-qualified id: process-local frames carry a "p<pid>:" prefix, frames
// from the container's global table carry "g".
type StackFrame struct {
	// ID is the fully-qualified frame id, unique across the model
	ID string
	// Parent is the calling frame, nil for roots
	Parent *StackFrame
	// Title is the symbol or description for this frame
	Title string
	// ColorID is the stable color id derived from the title
	ColorID int
	// SourceInfo optionally names where the symbol lives, usually a file
	SourceInfo string
}

func NewStackFrame(id string, parent *StackFrame, title, sourceInfo string) *StackFrame {
	return &StackFrame{
		ID:         id,
		Parent:     parent,
		Title:      title,
		ColorID:    ColorIDForString(title),
		SourceInfo: sourceInfo,
	}
}

// UserFriendlyName renders the frame with its source info when present
func (f *StackFrame) UserFriendlyName() string {
	if f.SourceInfo == "" {
		return f.Title
	}
	return f.Title + " (" + f.SourceInfo + ")"
}

// Depth counts the frames between this frame and its root, inclusive
func (f *StackFrame) Depth() int {
	depth := 0
	for frame := f; frame != nil; frame = frame.Parent {
		depth++
	}
	return depth
}
