package store

import "time"

// Run statuses
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial" // completed, but some records were skipped
	StatusFailed  = "failed"
)

// GenerationRun records one execution of the mirrorlist pipeline
type GenerationRun struct {
	ID             string // uuid
	Source         string // feed URL or file path
	Filters        string // FilterConfig.String() at run time
	StartTime      time.Time
	EndTime        time.Time
	RecordsTotal   int
	RecordsSkipped int
	RecordsMatched int
	MirrorsEmitted int
	OutputPath     string
	Status         string
	ErrorMessage   string
}

// Duration returns how long the run took, or zero while it is still running
func (r *GenerationRun) Duration() time.Duration {
	if r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// SkippedRecord is a feed entry dropped during a run
type SkippedRecord struct {
	ID          int64
	RunID       string
	RecordIndex int
	URL         string
	Stage       string // "parse" or "format"
	Reason      string
}
