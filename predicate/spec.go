package predicate

import "github.com/m-mizutani/goerr/v2"

// Spec is the declarative form of a predicate. Exactly one of Field, All,
// Any or Not must be set.
//
//	when:
//	  any:
//	    - {field: logs, op: contains, value: "password="}
//	    - {field: output, op: contains_code}
type Spec struct {
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Op    Op     `yaml:"op,omitempty" json:"op,omitempty"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`

	All []Spec `yaml:"all,omitempty" json:"all,omitempty"`
	Any []Spec `yaml:"any,omitempty" json:"any,omitempty"`
	Not *Spec  `yaml:"not,omitempty" json:"not,omitempty"`
}

// Compile validates the spec and builds its Predicate.
func (s Spec) Compile() (Predicate, error) {
	set := 0
	if s.Field != "" {
		set++
	}
	if s.All != nil {
		set++
	}
	if s.Any != nil {
		set++
	}
	if s.Not != nil {
		set++
	}
	if set != 1 {
		return nil, goerr.Wrap(ErrInvalidPredicate, "exactly one of field, all, any or not must be set", goerr.V("spec", s))
	}

	switch {
	case s.Field != "":
		if s.Op == "" {
			return nil, goerr.Wrap(ErrInvalidPredicate, "op is required", goerr.V("field", s.Field))
		}
		return Field(s.Field, s.Op, s.Value)

	case s.All != nil:
		ps, err := compileAll(s.All)
		if err != nil {
			return nil, err
		}
		return All(ps...), nil

	case s.Any != nil:
		ps, err := compileAll(s.Any)
		if err != nil {
			return nil, err
		}
		return Any(ps...), nil

	default:
		p, err := s.Not.Compile()
		if err != nil {
			return nil, err
		}
		return Not(p), nil
	}
}

func compileAll(specs []Spec) ([]Predicate, error) {
	ps := make([]Predicate, 0, len(specs))
	for _, sub := range specs {
		p, err := sub.Compile()
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}
