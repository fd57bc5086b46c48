package reflexion

import "github.com/m-mizutani/tribunal"

func NewEpisode(goal tribunal.Goal, plan []tribunal.StepSpec) *Episode {
	return newEpisode(goal, plan)
}

func (e *Episode) MoveTo(to State, reason string) (Transition, error) {
	return e.transition(to, reason)
}
