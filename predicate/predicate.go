// Package predicate implements the closed predicate language used by rules,
// hard constraints and custom success criteria.
//
// A predicate is evaluated against a Target, which exposes values by dotted
// path (e.g. "response.status" or "logs.0"). Predicates are built from field
// comparisons combined with All, Any and Not, either in Go code or from a
// declarative Spec loaded from YAML or JSON. Arbitrary expression strings are
// never evaluated.
package predicate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidPredicate is returned when a predicate cannot be built.
	ErrInvalidPredicate = goerr.New("invalid predicate")
	// ErrTypeMismatch is returned when an operator is applied to a value it does not support.
	ErrTypeMismatch = goerr.New("type mismatch")
	// ErrPanic is returned by Eval when a predicate panics.
	ErrPanic = goerr.New("predicate panicked")
)

// Target is anything that exposes values by dotted path.
type Target interface {
	Lookup(path string) (any, bool)
}

// Predicate is a side-effect free boolean test over a Target.
type Predicate interface {
	Match(t Target) (bool, error)
	String() string
}

// Op is a field comparison operator.
type Op string

const (
	OpEq           Op = "eq"
	OpNe           Op = "ne"
	OpGt           Op = "gt"
	OpGte          Op = "gte"
	OpLt           Op = "lt"
	OpLte          Op = "lte"
	OpContains     Op = "contains"
	OpNotContains  Op = "not_contains"
	OpMatches      Op = "matches"
	OpExists       Op = "exists"
	OpMissing      Op = "missing"
	OpContainsCode Op = "contains_code"
)

var knownOps = map[Op]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpContains: true, OpNotContains: true, OpMatches: true,
	OpExists: true, OpMissing: true, OpContainsCode: true,
}

// valueless operators ignore the comparison value
func (op Op) valueless() bool {
	return op == OpExists || op == OpMissing || op == OpContainsCode
}

type field struct {
	path  string
	op    Op
	value any
	re    *regexp.Regexp
}

// Field builds a comparison of the value at path against value.
func Field(path string, op Op, value any) (Predicate, error) {
	if path == "" {
		return nil, goerr.Wrap(ErrInvalidPredicate, "field path is empty")
	}
	if !knownOps[op] {
		return nil, goerr.Wrap(ErrInvalidPredicate, "unknown operator", goerr.V("op", op), goerr.V("path", path))
	}

	f := &field{path: path, op: op, value: value}
	if op == OpMatches {
		pattern, ok := value.(string)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidPredicate, "matches requires a string pattern", goerr.V("path", path))
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, goerr.Wrap(ErrInvalidPredicate, "invalid pattern", goerr.V("pattern", pattern), goerr.V("error", err.Error()))
		}
		f.re = re
	}
	return f, nil
}

// MustField is like Field but panics on error. Intended for statically known predicates.
func MustField(path string, op Op, value any) Predicate {
	p, err := Field(path, op, value)
	if err != nil {
		panic(err)
	}
	return p
}

func (f *field) Match(t Target) (bool, error) {
	v, ok := t.Lookup(f.path)

	switch f.op {
	case OpExists:
		return ok, nil
	case OpMissing:
		return !ok, nil
	case OpNotContains:
		if !ok {
			return true, nil
		}
		found, err := contains(v, f.value)
		return !found, err
	}

	if !ok {
		return false, nil
	}

	switch f.op {
	case OpEq:
		return Equal(v, f.value), nil
	case OpNe:
		return !Equal(v, f.value), nil
	case OpGt, OpGte, OpLt, OpLte:
		c, err := compare(v, f.value)
		if err != nil {
			return false, goerr.Wrap(err, "comparison failed", goerr.V("path", f.path), goerr.V("op", f.op))
		}
		switch f.op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpContains:
		return contains(v, f.value)
	case OpMatches:
		return f.re.MatchString(Stringify(v)), nil
	case OpContainsCode:
		return ContainsCode(Stringify(v)), nil
	}

	return false, goerr.Wrap(ErrInvalidPredicate, "unhandled operator", goerr.V("op", f.op))
}

func (f *field) String() string {
	if f.op.valueless() {
		return fmt.Sprintf("%s %s", f.path, f.op)
	}
	return fmt.Sprintf("%s %s %v", f.path, f.op, f.value)
}

func (f *field) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

type all []Predicate

// All matches when every predicate matches. An empty All matches.
func All(ps ...Predicate) Predicate { return all(ps) }

func (a all) Match(t Target) (bool, error) {
	for _, p := range a {
		ok, err := p.Match(t)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (a all) String() string { return join("all", a) }

func (a all) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

type anyOf []Predicate

// Any matches when at least one predicate matches. An empty Any does not match.
func Any(ps ...Predicate) Predicate { return anyOf(ps) }

func (a anyOf) Match(t Target) (bool, error) {
	for _, p := range a {
		ok, err := p.Match(t)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (a anyOf) String() string { return join("any", a) }

func (a anyOf) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

type not struct{ p Predicate }

// Not inverts a predicate. Errors are propagated, not inverted.
func Not(p Predicate) Predicate { return not{p: p} }

func (n not) Match(t Target) (bool, error) {
	ok, err := n.p.Match(t)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (n not) String() string { return "not(" + n.p.String() + ")" }

func (n not) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }

// Func adapts a Go function into a named Predicate.
type Func struct {
	Name string
	Fn   func(t Target) (bool, error)
}

func (f Func) Match(t Target) (bool, error) { return f.Fn(t) }

func (f Func) String() string { return f.Name }

func (f Func) MarshalJSON() ([]byte, error) { return json.Marshal(f.Name) }

// Eval runs p against t and converts a panic into ErrPanic, so that a
// faulty predicate cannot take down its caller.
func Eval(p Predicate, t Target) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = goerr.Wrap(ErrPanic, "recovered from predicate panic", goerr.V("predicate", p.String()), goerr.V("panic", fmt.Sprint(r)))
		}
	}()
	return p.Match(t)
}

func join(name string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
