package coordinator

import (
	"fmt"
	"time"

	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
	"go.uber.org/multierr"
)

// SessionFailure records a session whose contribution was replaced by empty results.
type SessionFailure struct {
	Worker  string
	Classes types.Assignment
	Err     error
}

// ClassWarning is a per-class problem a worker reported alongside its results.
type ClassWarning struct {
	Worker string
	Class  types.ClassID
	Reason string
}

// RoundResult is the merged outcome of one round.
//
// Detections has a key for every class assigned to some available worker; a class
// whose worker failed maps to an empty slice and is listed in Failures.
type RoundResult struct {
	ID          string
	ImageID     string
	Detections  types.DetectionMap
	Assignments map[string]types.Assignment
	Declined    []string
	Failures    []SessionFailure
	Warnings    []ClassWarning
	Started     time.Time
	Finished    time.Time
}

// Err combines every session failure, or nil when all sessions reported.
func (r *RoundResult) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, fmt.Errorf("worker %s (classes %v): %w", f.Worker, f.Classes, f.Err))
	}
	return err
}

// Complete reports whether every session delivered its results.
func (r *RoundResult) Complete() bool { return len(r.Failures) == 0 }

// sessionOutcome is what one session hands to the merge step after the join.
type sessionOutcome struct {
	peer       *peer
	worker     string
	assignment types.Assignment
	classes    []protocol.ClassResult
	err        error
}

// merge folds session outcomes into the round result. Each session may only
// contribute the classes it was assigned; anything else is ignored with a warning.
func (r *RoundResult) merge(outcomes []sessionOutcome) error {
	if r.Detections == nil {
		r.Detections = make(types.DetectionMap)
	}
	if r.Assignments == nil {
		r.Assignments = make(map[string]types.Assignment)
	}

	for _, o := range outcomes {
		r.Assignments[o.worker] = o.assignment
		for _, id := range o.assignment {
			if _, dup := r.Detections[id]; dup {
				return fmt.Errorf("class %d assigned to more than one session", id)
			}
			r.Detections[id] = []types.Detection{}
		}

		if o.err != nil {
			r.Failures = append(r.Failures, SessionFailure{Worker: o.worker, Classes: o.assignment, Err: o.err})
			continue
		}

		reported := make(map[types.ClassID]bool, len(o.classes))
		for _, cr := range o.classes {
			if !o.assignment.Contains(cr.Class) {
				r.Warnings = append(r.Warnings, ClassWarning{Worker: o.worker, Class: cr.Class, Reason: "class not assigned to this worker, ignored"})
				continue
			}
			reported[cr.Class] = true
			if cr.Error != "" {
				r.Warnings = append(r.Warnings, ClassWarning{Worker: o.worker, Class: cr.Class, Reason: cr.Error})
			}
			for _, d := range cr.Detections {
				if d.Class != cr.Class || d.Confidence < 0 || d.Confidence > 1 || !d.Box.Valid() {
					r.Warnings = append(r.Warnings, ClassWarning{Worker: o.worker, Class: cr.Class, Reason: "malformed detection record dropped"})
					continue
				}
				r.Detections[cr.Class] = append(r.Detections[cr.Class], d)
			}
		}
		for _, id := range o.assignment {
			if !reported[id] {
				r.Warnings = append(r.Warnings, ClassWarning{Worker: o.worker, Class: id, Reason: "class missing from worker result"})
			}
		}
	}
	return nil
}
