package mirror

import (
	"errors"
	"fmt"
)

// Per-record failure reasons. They never abort a run; the affected record is
// reported through a SkippedRecord instead.
var (
	ErrMissingURL       = errors.New("missing url")
	ErrInvalidURL       = errors.New("invalid url")
	ErrInvalidScore     = errors.New("score is not numeric")
	ErrCompletionRange  = errors.New("completion_pct out of range [0,1]")
	ErrNegativeDelay    = errors.New("negative delay")
	ErrInvalidTimestamp = errors.New("invalid last_sync timestamp")
	ErrInvalidField     = errors.New("invalid field")
	ErrDuplicateURL     = errors.New("duplicate url")
	ErrUnsafeURL        = errors.New("url cannot be rendered as a directive")
)

// Skip stages.
const (
	StageParse  = "parse"
	StageFormat = "format"
)

// ParseError reports a status document whose top-level structure is not
// recognized. It is the only fatal error the pipeline produces.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse status feed: %s: %v", e.Reason, e.Err)
	}
	return "parse status feed: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// SkippedRecord describes one record dropped during parsing or formatting.
type SkippedRecord struct {
	Index int
	URL   string
	Stage string
	Err   error
}

func (s SkippedRecord) String() string {
	url := s.URL
	if url == "" {
		url = "<no url>"
	}
	return fmt.Sprintf("record %d (%s) skipped at %s: %v", s.Index, url, s.Stage, s.Err)
}
