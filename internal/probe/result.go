package probe

import "github.com/hazz-dev/slotprobe/internal/evidence"

// Status is the classified outcome of a probe run.
//
// The names follow the page marker, not the slots: StatusFound means the
// "no appointments" text WAS found (nothing to book), StatusNotFound means it
// was missing and slots may be open. Downstream messages depend on this
// mapping; do not swap the names.
type Status int

const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single probe run. Detail is only set for
// StatusError. Evidence is the screenshot taken by this run, if any.
type Result struct {
	Status   Status
	Detail   string
	Evidence evidence.Artifact
}

// Found returns a result for a page showing the "no appointments" marker.
func Found() Result { return Result{Status: StatusFound} }

// NotFound returns a result for a page without the "no appointments" marker.
func NotFound() Result { return Result{Status: StatusNotFound} }

// Errored returns a result for a run that could not complete.
func Errored(detail string) Result { return Result{Status: StatusError, Detail: detail} }
