package reflexion_test

import (
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/reflexion"
)

func TestTransitionTable(t *testing.T) {
	testCases := []struct {
		from, to reflexion.State
		allowed  bool
	}{
		{reflexion.StateExecuting, reflexion.StateEvaluating, true},
		{reflexion.StateExecuting, reflexion.StateRetrying, true},
		{reflexion.StateExecuting, reflexion.StateAccepted, false},
		{reflexion.StateEvaluating, reflexion.StateEscalated, true},
		{reflexion.StateEvaluating, reflexion.StateExecuting, false},
		{reflexion.StateAccepted, reflexion.StateTerminalSuccess, true},
		{reflexion.StateRetrying, reflexion.StateReplanning, true},
		{reflexion.StateRetrying, reflexion.StateEscalated, false},
		{reflexion.StateReplanning, reflexion.StateReplanning, true},
		{reflexion.StateReplanning, reflexion.StateEscalated, true},
		{reflexion.StateEscalated, reflexion.StateAccepted, true},
		{reflexion.StateEscalated, reflexion.StateTerminalSuccess, false},
		{reflexion.StateTerminalSuccess, reflexion.StateExecuting, false},
		{reflexion.StateTerminalFailure, reflexion.StateExecuting, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			gt.Equal(t, reflexion.CanTransition(tc.from, tc.to), tc.allowed)
		})
	}
}

func TestEpisodeRejectsInvalidTransition(t *testing.T) {
	ep := reflexion.NewEpisode(tribunal.Goal{ID: "g"}, []tribunal.StepSpec{{ID: "s1"}})
	gt.Equal(t, ep.State, reflexion.StateExecuting)

	_, err := ep.MoveTo(reflexion.StateAccepted, "skip evaluation")
	gt.True(t, errors.Is(err, reflexion.ErrInvalidTransition))
	gt.Equal(t, ep.State, reflexion.StateExecuting)
	gt.A(t, ep.History).Length(0)

	tr, err := ep.MoveTo(reflexion.StateEvaluating, "step executed")
	gt.NoError(t, err)
	gt.Equal(t, tr.From, reflexion.StateExecuting)
	gt.Equal(t, tr.StepID, "s1")
	gt.False(t, tr.At.IsZero())
	gt.A(t, ep.History).Length(1)
}

func TestTerminalStates(t *testing.T) {
	gt.True(t, reflexion.StateTerminalSuccess.Terminal())
	gt.True(t, reflexion.StateTerminalFailure.Terminal())
	gt.False(t, reflexion.StateEscalated.Terminal())
}
