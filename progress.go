package jarstream

// ProgressEvent represents a progress update during Verify or Sign.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the entry currently being processed, if applicable.
	Path string

	// BytesDone is the number of uncompressed bytes processed so far.
	BytesDone uint64

	// EntriesDone is the number of entries completed.
	EntriesDone int

	// EntriesTotal is the total number of entries.
	// Zero indicates the total is unknown.
	EntriesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for verification and signing.
const (
	// StageVerifying indicates entries are being read and checked.
	StageVerifying ProgressStage = iota

	// StageDigesting indicates source entries are being read and digested.
	StageDigesting

	// StageSigning indicates the manifest and signature are being produced.
	StageSigning

	// StageWriting indicates the signed archive is being written.
	StageWriting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageVerifying:
		return "verifying"
	case StageDigesting:
		return "digesting"
	case StageSigning:
		return "signing"
	case StageWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Calls are made from the goroutine running the operation.
type ProgressFunc func(ProgressEvent)
