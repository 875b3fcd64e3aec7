package segmented

import (
	"errors"
)

var (
	ErrInvalidPlan       = errors.New("invalid download plan")
	ErrUnknownSize       = errors.New("remote did not report a usable content length")
	ErrRangeNotSupported = errors.New("server does not honour range requests")
	ErrUnexpectedStatus  = errors.New("unexpected status code")
	ErrShortSegment      = errors.New("segment body ended before planned length")
	ErrStalled           = errors.New("segment response stalled")
	ErrMissingSegment    = errors.New("segment file missing at merge time")
)

// Segment is one contiguous byte range of the source. End is inclusive.
type Segment struct {
	Index int
	Start int64
	End   int64
}

func (s Segment) Length() int64 {
	return s.End - s.Start + 1
}

type EventKind int

const (
	EventPlanned EventKind = iota
	EventProgress
	EventSegmentDone
	EventSegmentFailed
	EventRetry
	EventMerged
	EventMergeGap
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventPlanned:
		return "planned"
	case EventProgress:
		return "progress"
	case EventSegmentDone:
		return "segment-done"
	case EventSegmentFailed:
		return "segment-failed"
	case EventRetry:
		return "retry"
	case EventMerged:
		return "merged"
	case EventMergeGap:
		return "merge-gap"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event is what the engine reports to presentation code. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      EventKind
	RunID     string
	Attempt   int
	Dest      string
	TotalSize int64
	Segments  []Segment
	Segment   int
	Written   int64
	Length    int64
	Err       error
}

// Percent is Written relative to Length, for progress events.
func (e Event) Percent() float64 {
	if e.Length <= 0 {
		return 0
	}
	return float64(e.Written) / float64(e.Length) * 100
}

// EventFunc receives engine events. It is called from every segment
// goroutine and must be safe for concurrent use.
type EventFunc func(Event)

func (f EventFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}
