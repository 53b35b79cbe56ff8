package collector

// CaptureResult tells the event source what happened to a submitted
// change record.
type CaptureResult string

const (
	// CaptureAccepted: persisted and queued for merge.
	CaptureAccepted CaptureResult = "accepted"
	// CaptureDeferred: persisted but the merge queue was full; the record
	// is re-offered in the background rather than lost.
	CaptureDeferred CaptureResult = "deferred"
	// CaptureFailed: rejected, nothing persisted.
	CaptureFailed CaptureResult = "failed"
)
