package tribunal

import "github.com/m-mizutani/goerr/v2"

var (
	ErrInvalidAction    = goerr.New("invalid action")
	ErrInvalidJudgment  = goerr.New("invalid judgment")
	ErrInvalidDecision  = goerr.New("invalid human decision")
	ErrInvalidGoal      = goerr.New("invalid goal")
	ErrJudgeUnavailable = goerr.New("judge unavailable")

	// ErrExecution is wrapped by Worker implementations when a step fails.
	ErrExecution = goerr.New("step execution failed")
	// ErrPlanning is wrapped by Planner implementations when replanning fails.
	ErrPlanning = goerr.New("planning failed")
)
