package syncer

import (
	"fmt"
	"time"
)

// Status is the outcome class of a run.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusNoop           Status = "noop"
	StatusAlreadyRunning Status = "already_running"
	StatusConfigError    Status = "config_error"
	// StatusFailed is an unexpected internal failure, such as an unreadable
	// settings store or a recovered panic.
	StatusFailed Status = "failed"
)

// Mode is the kind of work a run performed.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeTargeted Mode = "targeted"
	ModeCleanup  Mode = "cleanup"
)

// Result is the structured outcome of RunSync or CleanupBeyondWindow.
// Per-calendar failures do not change Status; they are listed in Errors.
type Result struct {
	Status     Status    `json:"status"`
	Mode       Mode      `json:"mode,omitempty"`
	Summary    string    `json:"summary"`
	Created    int       `json:"created"`
	Deleted    int       `json:"deleted"`
	Errors     []string  `json:"errors,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Partial reports whether some calendars could not be processed.
func (r *Result) Partial() bool {
	return len(r.Errors) > 0
}

func (r *Result) finish(status Status, format string, args ...any) {
	r.Status = status
	r.Summary = fmt.Sprintf(format, args...)
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
