package tribunal

import (
	"strings"

	"github.com/m-mizutani/tribunal/predicate"
)

// CriterionOutcome is the deterministic assessment of one SuccessCriterion.
// Evaluated is false for criteria that only the model judge can assess.
type CriterionOutcome struct {
	ID        string     `json:"id"`
	Metric    MetricKind `json:"metric"`
	Weight    float64    `json:"weight"`
	Evaluated bool       `json:"evaluated"`
	Satisfied bool       `json:"satisfied"`
	Detail    string     `json:"detail,omitempty"`
}

// CriteriaReport summarizes the deterministic criteria of a goal for one result.
//
// Score is the weight-averaged satisfaction over evaluated criteria and
// Coverage is the share of total weight that could be evaluated without the
// model. The report is context for the judge; it never decides an action.
type CriteriaReport struct {
	Outcomes []CriterionOutcome `json:"outcomes"`
	Score    float64            `json:"score"`
	Coverage float64            `json:"coverage"`
}

// Unmet returns the evaluated criteria that were not satisfied.
func (r CriteriaReport) Unmet() []CriterionOutcome {
	var out []CriterionOutcome
	for _, o := range r.Outcomes {
		if o.Evaluated && !o.Satisfied {
			out = append(out, o)
		}
	}
	return out
}

// AssessCriteria evaluates every criterion of goal that can be checked
// without a model.
func AssessCriteria(goal Goal, result *Result) CriteriaReport {
	var (
		report          CriteriaReport
		totalWeight     float64
		evaluatedWeight float64
		satisfiedWeight float64
	)

	for _, c := range goal.Criteria {
		outcome := assessCriterion(c, result)
		report.Outcomes = append(report.Outcomes, outcome)

		totalWeight += c.Weight
		if outcome.Evaluated {
			evaluatedWeight += c.Weight
			if outcome.Satisfied {
				satisfiedWeight += c.Weight
			}
		}
	}

	if evaluatedWeight > 0 {
		report.Score = satisfiedWeight / evaluatedWeight
	}
	if totalWeight > 0 {
		report.Coverage = evaluatedWeight / totalWeight
	}
	return report
}

func assessCriterion(c SuccessCriterion, result *Result) CriterionOutcome {
	outcome := CriterionOutcome{ID: c.ID, Metric: c.Metric, Weight: c.Weight}

	path := c.Path
	if path == "" {
		path = DefaultOutputPath
	}

	switch c.Metric {
	case MetricOutputContains:
		outcome.Evaluated = true
		v, ok := result.Lookup(path)
		if !ok {
			outcome.Detail = "field not found: " + path
			return outcome
		}
		outcome.Satisfied = strings.Contains(predicate.Stringify(v), predicate.Stringify(c.Target))

	case MetricOutputEquals:
		outcome.Evaluated = true
		v, ok := result.Lookup(path)
		if !ok {
			outcome.Detail = "field not found: " + path
			return outcome
		}
		outcome.Satisfied = predicate.Equal(v, c.Target)

	case MetricCustom:
		outcome.Evaluated = true
		matched, err := predicate.Eval(c.Check, result)
		if err != nil {
			outcome.Detail = err.Error()
			return outcome
		}
		outcome.Satisfied = matched

	default:
		outcome.Detail = "assessed by the semantic judge"
	}

	return outcome
}
