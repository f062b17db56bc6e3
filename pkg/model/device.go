package model

// Device carries trace-wide hardware metadata
type Device struct {
	model *Model

	// NumCPUs is metadata-derived when the trace recorded it
	NumCPUs *int64
}

func NewDevice(m *Model) *Device {
	return &Device{model: m}
}
