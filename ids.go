package celerity

// Opaque identifiers, monotonically assigned and unique within a run.
type (
	TaskID      uint64
	BufferID    uint64
	NodeID      uint64
	CommandID   uint64
	ReductionID uint64
)
