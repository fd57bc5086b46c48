package config

import (
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/predicate"
	"gopkg.in/yaml.v3"
)

// GoalFile is a goal together with its initial plan.
type GoalFile struct {
	Goal tribunal.Goal
	Plan []tribunal.StepSpec
}

type goalDocument struct {
	Goal goalEntry           `yaml:"goal"`
	Plan []tribunal.StepSpec `yaml:"plan"`
}

type goalEntry struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Type        string            `yaml:"type"`
	Criteria    []criterionEntry  `yaml:"criteria"`
	Constraints []constraintEntry `yaml:"constraints"`
	Context     map[string]any    `yaml:"context"`
}

type criterionEntry struct {
	ID          string          `yaml:"id"`
	Description string          `yaml:"description"`
	Metric      string          `yaml:"metric"`
	Target      any             `yaml:"target"`
	Weight      *float64        `yaml:"weight"`
	Path        string          `yaml:"path"`
	Check       *predicate.Spec `yaml:"check"`
}

type constraintEntry struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	When        predicate.Spec `yaml:"when"`
}

// LoadGoal decodes a goal document:
//
//	goal:
//	  id: rotate-credentials
//	  type: ops
//	  criteria:
//	    - {id: done, metric: output_contains, target: rotated, weight: 2}
//	  constraints:
//	    - id: no-plaintext-password
//	      type: hard
//	      when: {field: logs, op: contains, value: "password="}
//	plan:
//	  - {id: rotate, description: rotate keys, tool: rotate_keys}
//
// Criteria without a weight weigh 1.
func LoadGoal(r io.Reader) (*GoalFile, error) {
	var doc goalDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode goal")
	}

	g := doc.Goal
	goal := tribunal.Goal{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Type:        g.Type,
		Context:     g.Context,
	}

	for _, c := range g.Criteria {
		criterion := tribunal.SuccessCriterion{
			ID:          c.ID,
			Description: c.Description,
			Metric:      tribunal.MetricKind(c.Metric),
			Target:      c.Target,
			Weight:      1,
			Path:        c.Path,
		}
		if c.Weight != nil {
			criterion.Weight = *c.Weight
		}
		if c.Check != nil {
			check, err := c.Check.Compile()
			if err != nil {
				return nil, goerr.Wrap(err, "invalid criterion check", goerr.V("criterion_id", c.ID))
			}
			criterion.Check = check
		}
		goal.Criteria = append(goal.Criteria, criterion)
	}

	for _, c := range g.Constraints {
		when, err := c.When.Compile()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid constraint predicate", goerr.V("constraint_id", c.ID))
		}
		goal.Constraints = append(goal.Constraints, tribunal.Constraint{
			ID:          c.ID,
			Description: c.Description,
			Type:        tribunal.ConstraintType(c.Type),
			Predicate:   when,
		})
	}

	if err := goal.Validate(); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, s := range doc.Plan {
		if s.ID == "" {
			return nil, goerr.Wrap(tribunal.ErrInvalidGoal, "plan step id is empty", goerr.V("goal_id", goal.ID))
		}
		if seen[s.ID] {
			return nil, goerr.Wrap(tribunal.ErrInvalidGoal, "duplicated plan step id", goerr.V("step_id", s.ID))
		}
		seen[s.ID] = true
	}

	return &GoalFile{Goal: goal, Plan: doc.Plan}, nil
}

// LoadGoalFile reads the goal document at path.
func LoadGoalFile(path string) (*GoalFile, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open goal", goerr.V("path", path))
	}
	defer f.Close()

	gf, err := LoadGoal(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load goal", goerr.V("path", path))
	}
	return gf, nil
}
