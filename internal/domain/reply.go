package domain

// ReplyStatus tells how response collection ended.
type ReplyStatus int

const (
	// ReplyFound means a non-empty reply was observed.
	ReplyFound ReplyStatus = iota
	// ReplyExhausted means the polling budget ran out without non-empty text.
	ReplyExhausted
	// ReplyExtractionFailed means the budget ran out and every read failed.
	ReplyExtractionFailed
)

func (s ReplyStatus) String() string {
	switch s {
	case ReplyFound:
		return "found"
	case ReplyExhausted:
		return "exhausted"
	case ReplyExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}

// Reply is the result of waiting for the chat application to answer.
// Text is only meaningful when Status is ReplyFound.
type Reply struct {
	Status   ReplyStatus
	Text     string
	Attempts int
	// SoftFailures counts polls whose read failed and was skipped.
	SoftFailures int
	// LastErr is the most recent soft failure, if any.
	LastErr error
}

// OK reports whether the reply carries usable text.
func (r Reply) OK() bool { return r.Status == ReplyFound }
