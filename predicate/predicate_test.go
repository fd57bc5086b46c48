package predicate_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/tribunal/predicate"
	"gopkg.in/yaml.v3"
)

func payload() predicate.Map {
	return predicate.Map{
		"status": "ok",
		"count":  3,
		"score":  0.82,
		"logs":   []any{"start", "login user=alice password=1234", "done"},
		"response": map[string]any{
			"code": 200,
			"body": "hello world",
		},
		"tags": []string{"a", "b"},
	}
}

func TestFieldOperators(t *testing.T) {
	testCases := []struct {
		name  string
		path  string
		op    predicate.Op
		value any
		want  bool
	}{
		{"eq string", "status", predicate.OpEq, "ok", true},
		{"eq int vs float", "count", predicate.OpEq, 3.0, true},
		{"ne", "status", predicate.OpNe, "ng", true},
		{"gt", "score", predicate.OpGt, 0.8, true},
		{"gte equal", "count", predicate.OpGte, 3, true},
		{"lt", "count", predicate.OpLt, 3, false},
		{"lte", "response.code", predicate.OpLte, 200, true},
		{"contains substring", "response.body", predicate.OpContains, "world", true},
		{"contains list line", "logs", predicate.OpContains, "password=1234", true},
		{"contains typed list", "tags", predicate.OpContains, "b", true},
		{"contains map key", "response", predicate.OpContains, "code", true},
		{"not_contains", "logs", predicate.OpNotContains, "secret", true},
		{"not_contains missing field", "nothing", predicate.OpNotContains, "x", true},
		{"matches", "response.body", predicate.OpMatches, `^hello\s`, true},
		{"matches list", "logs", predicate.OpMatches, `password=\d+`, true},
		{"exists", "response.code", predicate.OpExists, nil, true},
		{"exists index", "logs.1", predicate.OpExists, nil, true},
		{"missing", "response.headers", predicate.OpMissing, nil, true},
		{"missing field never compares", "nothing", predicate.OpEq, nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := predicate.Field(tc.path, tc.op, tc.value)
			gt.NoError(t, err).Required()

			got, err := p.Match(payload())
			gt.NoError(t, err)
			gt.Equal(t, got, tc.want)
		})
	}
}

func TestFieldValidation(t *testing.T) {
	t.Run("unknown operator", func(t *testing.T) {
		_, err := predicate.Field("status", predicate.Op("like"), "x")
		gt.True(t, errors.Is(err, predicate.ErrInvalidPredicate))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := predicate.Field("", predicate.OpEq, "x")
		gt.True(t, errors.Is(err, predicate.ErrInvalidPredicate))
	})

	t.Run("broken pattern", func(t *testing.T) {
		_, err := predicate.Field("status", predicate.OpMatches, "([")
		gt.True(t, errors.Is(err, predicate.ErrInvalidPredicate))
	})

	t.Run("ordering across types", func(t *testing.T) {
		p := predicate.MustField("status", predicate.OpGt, 1)
		_, err := p.Match(payload())
		gt.True(t, errors.Is(err, predicate.ErrTypeMismatch))
	})
}

func TestCombinators(t *testing.T) {
	ok := predicate.MustField("status", predicate.OpEq, "ok")
	ng := predicate.MustField("status", predicate.OpEq, "ng")

	testCases := []struct {
		name string
		p    predicate.Predicate
		want bool
	}{
		{"all true", predicate.All(ok, ok), true},
		{"all false", predicate.All(ok, ng), false},
		{"empty all", predicate.All(), true},
		{"any true", predicate.Any(ng, ok), true},
		{"empty any", predicate.Any(), false},
		{"not", predicate.Not(ng), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.p.Match(payload())
			gt.NoError(t, err)
			gt.Equal(t, got, tc.want)
		})
	}

	gt.Equal(t, predicate.Not(predicate.All(ok, ng)).String(), "not(all(status eq ok, status eq ng))")
}

func TestEvalRecoversPanic(t *testing.T) {
	p := predicate.Func{
		Name: "explode",
		Fn: func(predicate.Target) (bool, error) {
			panic("boom")
		},
	}

	matched, err := predicate.Eval(p, payload())
	gt.False(t, matched)
	gt.True(t, errors.Is(err, predicate.ErrPanic))
}

func TestSpecCompile(t *testing.T) {
	doc := `
any:
  - field: logs
    op: contains
    value: "password="
  - all:
      - {field: response.code, op: gte, value: 500}
      - not: {field: status, op: eq, value: degraded}
`
	var spec predicate.Spec
	gt.NoError(t, yaml.Unmarshal([]byte(doc), &spec)).Required()

	p, err := spec.Compile()
	gt.NoError(t, err).Required()

	matched, err := p.Match(payload())
	gt.NoError(t, err)
	gt.True(t, matched)

	t.Run("ambiguous spec", func(t *testing.T) {
		_, err := predicate.Spec{Field: "a", Op: predicate.OpExists, Not: &predicate.Spec{Field: "b", Op: predicate.OpExists}}.Compile()
		gt.True(t, errors.Is(err, predicate.ErrInvalidPredicate))
	})

	t.Run("missing op", func(t *testing.T) {
		_, err := predicate.Spec{Field: "a"}.Compile()
		gt.True(t, errors.Is(err, predicate.ErrInvalidPredicate))
	})
}

func TestContainsCode(t *testing.T) {
	filler := strings.Repeat("This is a perfectly normal document. ", 200)

	testCases := []struct {
		name string
		text string
		want bool
	}{
		{"plain prose", filler, false},
		{"code fence", "see below\n```\nx = 1\n```", true},
		{"python def", "def handler(event):\n    return event", true},
		{"python import", "notes\nimport os\n", true},
		{"hidden at end", filler + "class HiddenClass:\n    pass", true},
		{"javascript function", "function run(a, b) { return a + b }", true},
		{"javascript require", `const fs = require("fs")`, true},
		{"arrow function", "const f = (x) => x * 2", true},
		{"script tag", "<SCRIPT>alert(1)</SCRIPT>", true},
		{"sql drop", "please DROP TABLE users;", true},
		{"sql select", "SELECT id, name FROM users", true},
		{"english select", "Select the best option from the list below", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, predicate.ContainsCode(tc.text), tc.want)
		})
	}

	t.Run("as operator", func(t *testing.T) {
		p := predicate.MustField("output", predicate.OpContainsCode, nil)
		matched, err := p.Match(predicate.Map{"output": filler + "eval(payload)"})
		gt.NoError(t, err)
		gt.True(t, matched)
	})
}
