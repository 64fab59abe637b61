package domain

// StageRecord is one completed stage in a run's trace. Records are only
// created for stages that succeeded and are never modified afterwards.
type StageRecord struct {
	StageID string `json:"id"`
	Label   string `json:"label"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	// Model is the provenance tag of the capability that produced Output.
	Model string `json:"model,omitempty"`
}

// CopyTrace returns an independent copy of trace. A nil or empty trace
// yields an empty, non-nil slice so it encodes as [] on the wire.
func CopyTrace(trace []StageRecord) []StageRecord {
	out := make([]StageRecord, len(trace))
	copy(out, trace)
	return out
}
