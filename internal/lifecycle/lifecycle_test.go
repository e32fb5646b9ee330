package lifecycle

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chloe7243/Errandhub/internal/session"
)

var allStages = []Stage{Posted, Accepted, InProgress, Reviewing, Completed, Cancelled, Disputed}

func genStage() gopter.Gen {
	vals := make([]interface{}, len(allStages))
	for i, s := range allStages {
		vals[i] = s
	}
	return gen.OneConstOf(vals...)
}

func genAction() gopter.Gen {
	vals := make([]interface{}, len(Actions))
	for i, a := range Actions {
		vals[i] = a
	}
	return gen.OneConstOf(vals...)
}

func genRole() gopter.Gen {
	return gen.OneConstOf(session.Unset, session.Requester, session.Helper)
}

func TestClassifyProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("exactly one active step and a done prefix", prop.ForAll(
		func(s Stage) bool {
			steps, ok := Classify(s)
			if s.Absorbing() {
				return !ok && steps == nil
			}
			if !ok || len(steps) != len(Ordered) {
				return false
			}
			active := 0
			for i, st := range steps {
				switch st.State {
				case StepActive:
					active++
					if i != s.Index() {
						return false
					}
				case StepDone:
					if i >= s.Index() {
						return false
					}
				case StepPending:
					if i <= s.Index() {
						return false
					}
				default:
					return false
				}
			}
			return active == 1
		},
		genStage(),
	))

	properties.TestingRun(t)
}

func TestTransitionProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	m := NewMachine(DefaultCancelPolicy())

	properties.Property("never moves backward on the happy path", prop.ForAll(
		func(s Stage, a Action, r session.Role) bool {
			next, err := m.Next(s, a, r)
			if err != nil {
				return next == s
			}
			if next.Index() >= 0 {
				return next.Index() == s.Index()+1
			}
			return next == Cancelled || next == Disputed
		},
		genStage(), genAction(), genRole(),
	))

	properties.Property("absorbing stages reject every action", prop.ForAll(
		func(a Action, r session.Role) bool {
			for _, s := range []Stage{Cancelled, Disputed} {
				if _, err := m.Next(s, a, r); err == nil {
					return false
				}
			}
			return true
		},
		genAction(), genRole(),
	))

	properties.TestingRun(t)
}

func TestHappyPath(t *testing.T) {
	steps := []struct {
		action Action
		role   session.Role
		want   Stage
	}{
		{ActionAccept, session.Helper, Accepted},
		{ActionStart, session.Helper, InProgress},
		{ActionSubmitProof, session.Helper, Reviewing},
		{ActionConfirm, session.Requester, Completed},
		{ActionDispute, session.Requester, Disputed},
	}
	stage := Posted
	for _, st := range steps {
		next, err := Transition(stage, st.action, st.role)
		require.NoError(t, err, "%s from %s", st.action, stage)
		assert.Equal(t, st.want, next)
		stage = next
	}
}

func TestTransitionErrors(t *testing.T) {
	_, err := Transition(Posted, ActionStart, session.Helper)
	var te TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, Posted, te.From)

	_, err = Transition(Posted, ActionAccept, session.Requester)
	var ae ActorError
	require.True(t, errors.As(err, &ae))

	_, err = Transition(Reviewing, ActionConfirm, session.Unset)
	require.True(t, errors.As(err, &ae))

	_, err = Transition(InProgress, ActionCancel, session.Requester)
	require.True(t, errors.As(err, &te))

	_, err = Transition(Posted, ActionCancel, session.Helper)
	require.True(t, errors.As(err, &ae))

	_, err = Transition(Posted, Action("teleport"), session.Helper)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestCancelPolicy(t *testing.T) {
	next, err := Transition(Accepted, ActionCancel, session.Helper)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, next)

	strict := NewMachine(CancelPolicy{Requester: []Stage{Posted}})
	_, err = strict.Next(Accepted, ActionCancel, session.Requester)
	assert.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, StatusNew, Posted.Status())
	assert.Equal(t, StatusActive, Reviewing.Status())
	assert.Equal(t, StatusDisputed, Disputed.Status())
	assert.Equal(t, []Stage{Accepted, InProgress, Reviewing}, StagesFor(StatusActive))
	assert.Equal(t, []Stage{Cancelled}, StagesFor(StatusCancelled))
}

func TestAffordances(t *testing.T) {
	m := NewMachine(DefaultCancelPolicy())
	assert.Equal(t, []Affordance{AffordCancel}, m.Affordances(Posted, session.Requester))
	assert.Equal(t, []Affordance{AffordAccept}, m.Affordances(Posted, session.Helper))
	assert.Equal(t, []Affordance{AffordChat, AffordCall, AffordMarkComplete}, m.Affordances(InProgress, session.Helper))
	assert.Equal(t, []Affordance{AffordChat, AffordCall, AffordConfirmRelease, AffordRaiseDispute}, m.Affordances(Reviewing, session.Requester))
	assert.Equal(t, []Affordance{AffordRaiseDispute}, m.Affordances(Completed, session.Requester))
	assert.Empty(t, m.Affordances(Cancelled, session.Requester))
}

func TestReviewChecks(t *testing.T) {
	assert.Equal(t, []string{"Items delivered", "No substitutions needed", "Delivered on time"}, ReviewChecks("shopping", false))
	assert.Len(t, ReviewChecks("shopping", true), 2)
	assert.Len(t, ReviewChecks("pickup", false), 3)
}
