package rule

import (
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/predicate"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description"`
	Priority    int            `yaml:"priority"`
	Action      string         `yaml:"action"`
	When        predicate.Spec `yaml:"when"`
}

// LoadYAML decodes a rule set document:
//
//	rules:
//	  - id: http-5xx
//	    priority: 10
//	    action: RETRY
//	    when: {field: response.code, op: gte, value: 500}
func LoadYAML(r io.Reader) ([]Rule, error) {
	var file ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to decode rule set")
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		action, err := tribunal.ParseAction(entry.Action)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid rule action", goerr.V("rule_id", entry.ID))
		}

		when, err := entry.When.Compile()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid rule predicate", goerr.V("rule_id", entry.ID))
		}

		rules = append(rules, Rule{
			ID:          entry.ID,
			Description: entry.Description,
			Priority:    entry.Priority,
			Action:      action,
			When:        when,
		})
	}
	return rules, nil
}

// LoadFile reads a rule set from path and builds an Engine.
func LoadFile(path string) (*Engine, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open rule set", goerr.V("path", path))
	}
	defer f.Close()

	rules, err := LoadYAML(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load rule set", goerr.V("path", path))
	}
	return New(rules...)
}
