package ir

// Version constants for persisted state and the binary.
const (
	// CursorVersion is the EvaluationCursor schema version.
	CursorVersion = 1

	// BackfillCursorVersion is the BackfillCursor schema version.
	BackfillCursorVersion = 1

	// Version is the cadence release version.
	Version = "0.1.0"
)
