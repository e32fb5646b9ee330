// Package lifecycle is the errand stage machine: the ordered stages, the
// stepper classification, the allowed transitions and what each party may do.
package lifecycle

import (
	"errors"
	"fmt"
)

type Stage string

const (
	Posted     Stage = "posted"
	Accepted   Stage = "accepted"
	InProgress Stage = "in_progress"
	Reviewing  Stage = "reviewing"
	Completed  Stage = "completed"
	Cancelled  Stage = "cancelled"
	Disputed   Stage = "disputed"
)

// Ordered is the happy path in order. Cancelled and Disputed sit outside it.
var Ordered = []Stage{Posted, Accepted, InProgress, Reviewing, Completed}

var labels = map[Stage]string{
	Posted:     "Posted",
	Accepted:   "Accepted",
	InProgress: "In Progress",
	Reviewing:  "Reviewing",
	Completed:  "Completed",
	Cancelled:  "Cancelled",
	Disputed:   "Disputed",
}

var ErrUnknownStage = errors.New("lifecycle: unknown stage")

func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if _, ok := labels[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
	return st, nil
}

func (s Stage) Label() string { return labels[s] }

// Index is the position on the happy path, or -1 for side branches.
func (s Stage) Index() int {
	for i, st := range Ordered {
		if st == s {
			return i
		}
	}
	return -1
}

// Absorbing reports whether no action can leave the stage.
func (s Stage) Absorbing() bool {
	return s == Cancelled || s == Disputed
}

// Status is the coarse errand status shown on cards and used by list filters.
type Status string

const (
	StatusNew       Status = "new"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

func (s Stage) Status() Status {
	switch s {
	case Posted:
		return StatusNew
	case Accepted, InProgress, Reviewing:
		return StatusActive
	case Completed:
		return StatusCompleted
	case Cancelled:
		return StatusCancelled
	case Disputed:
		return StatusDisputed
	default:
		return ""
	}
}

// StagesFor lists the stages that map to status.
func StagesFor(status Status) []Stage {
	var out []Stage
	for st := range labels {
		if st.Status() == status {
			out = append(out, st)
		}
	}
	sortStages(out)
	return out
}

func sortStages(stages []Stage) {
	rank := func(s Stage) int {
		if i := s.Index(); i >= 0 {
			return i
		}
		if s == Cancelled {
			return len(Ordered)
		}
		return len(Ordered) + 1
	}
	for i := 1; i < len(stages); i++ {
		for j := i; j > 0 && rank(stages[j]) < rank(stages[j-1]); j-- {
			stages[j], stages[j-1] = stages[j-1], stages[j]
		}
	}
}

type StepState string

const (
	StepDone    StepState = "done"
	StepActive  StepState = "active"
	StepPending StepState = "pending"
)

type Step struct {
	Stage Stage     `json:"stage"`
	Label string    `json:"label"`
	State StepState `json:"state" enum:"done,active,pending"`
}

// Classify returns the stepper for current. The second result is false for
// cancelled and disputed errands, which show no stepper.
func Classify(current Stage) ([]Step, bool) {
	idx := current.Index()
	if idx < 0 {
		return nil, false
	}
	steps := make([]Step, len(Ordered))
	for i, st := range Ordered {
		state := StepPending
		switch {
		case i < idx:
			state = StepDone
		case i == idx:
			state = StepActive
		}
		steps[i] = Step{Stage: st, Label: st.Label(), State: state}
	}
	return steps, true
}
