package tribunal

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/tribunal/predicate"
)

// Result is the output of one executed step. Payload fields are addressed by
// dotted path, e.g. "response.status" or "logs.0".
type Result struct {
	ID        string         `json:"id"`
	StepID    string         `json:"step_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewResult creates a Result with a fresh time-ordered ID.
func NewResult(stepID string, payload map[string]any) *Result {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Result{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StepID:    stepID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Lookup implements predicate.Target.
func (r *Result) Lookup(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	return predicate.Lookup(r.Payload, path)
}
