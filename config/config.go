// Package config loads the tribunal configuration and goal files from YAML.
package config

import (
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/escalation"
	"github.com/m-mizutani/tribunal/evaluator"
	"github.com/m-mizutani/tribunal/reflexion"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = goerr.New("invalid config")

// Config is the root of a configuration file.
//
//	evaluation:
//	  confidence_threshold: 0.8
//	  thresholds: {deploy: 0.9}
//	  rule_set: rules.yaml
//	reflexion:
//	  max_retries_per_step: 3
//	  max_replans_per_episode: 2
//	escalation:
//	  timeout: 30m
//	  timeout_fallback: ABORT
type Config struct {
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Reflexion  ReflexionConfig  `yaml:"reflexion"`
	Escalation EscalationConfig `yaml:"escalation"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	Worker     WorkerConfig     `yaml:"worker"`
	Trace      TraceConfig      `yaml:"trace"`
}

type EvaluationConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// Thresholds overrides ConfidenceThreshold per goal type.
	Thresholds map[string]float64 `yaml:"thresholds"`
	RuleSet    string             `yaml:"rule_set"`
}

type ReflexionConfig struct {
	MaxRetriesPerStep    int `yaml:"max_retries_per_step"`
	MaxReplansPerEpisode int `yaml:"max_replans_per_episode"`
	// Concurrency bounds how many episodes run at once.
	Concurrency int `yaml:"concurrency"`
}

type EscalationConfig struct {
	// Timeout of zero waits for a human indefinitely.
	Timeout         time.Duration   `yaml:"timeout"`
	TimeoutFallback tribunal.Action `yaml:"timeout_fallback"`
}

type StorageConfig struct {
	// SQLitePath holds the decision log and pending escalations. Empty keeps
	// both in memory.
	SQLitePath string `yaml:"sqlite_path"`
}

type LLMConfig struct {
	// Provider is one of claude, openai or gemini. Empty disables the judge.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	// Project and Location select Vertex AI for gemini, and for claude when
	// no API key is given.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
}

type WorkerConfig struct {
	MCP MCPConfig `yaml:"mcp"`
}

type MCPConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     []string          `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

type TraceConfig struct {
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	OTel   bool   `yaml:"otel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Evaluation: EvaluationConfig{
			ConfidenceThreshold: evaluator.DefaultConfidenceThreshold,
		},
		Reflexion: ReflexionConfig{
			MaxRetriesPerStep:    reflexion.DefaultMaxRetries,
			MaxReplansPerEpisode: reflexion.DefaultMaxReplans,
			Concurrency:          1,
		},
		Escalation: EscalationConfig{
			TimeoutFallback: escalation.DefaultFallback,
		},
	}
}

// Load decodes a configuration document on top of the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, goerr.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the configuration at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open config", goerr.V("path", path))
	}
	defer f.Close()

	cfg, err := Load(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load config", goerr.V("path", path))
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !validThreshold(c.Evaluation.ConfidenceThreshold) {
		return goerr.Wrap(ErrInvalidConfig, "confidence_threshold must be in [0, 1]",
			goerr.V("value", c.Evaluation.ConfidenceThreshold))
	}
	for goalType, th := range c.Evaluation.Thresholds {
		if !validThreshold(th) {
			return goerr.Wrap(ErrInvalidConfig, "threshold must be in [0, 1]",
				goerr.V("goal_type", goalType), goerr.V("value", th))
		}
	}

	if c.Reflexion.MaxRetriesPerStep < 0 {
		return goerr.Wrap(ErrInvalidConfig, "max_retries_per_step is negative")
	}
	if c.Reflexion.MaxReplansPerEpisode < 0 {
		return goerr.Wrap(ErrInvalidConfig, "max_replans_per_episode is negative")
	}
	if c.Reflexion.Concurrency < 1 {
		return goerr.Wrap(ErrInvalidConfig, "concurrency must be at least 1")
	}

	if c.Escalation.Timeout < 0 {
		return goerr.Wrap(ErrInvalidConfig, "escalation timeout is negative")
	}
	switch c.Escalation.TimeoutFallback {
	case tribunal.ActionAbort, tribunal.ActionRetry, tribunal.ActionReplan:
	default:
		return goerr.Wrap(ErrInvalidConfig, "timeout_fallback must be ABORT, RETRY or REPLAN",
			goerr.V("value", c.Escalation.TimeoutFallback))
	}

	switch c.LLM.Provider {
	case "", "claude", "openai", "gemini":
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown llm provider", goerr.V("provider", c.LLM.Provider))
	}

	if c.Worker.MCP.Command != "" && c.Worker.MCP.URL != "" {
		return goerr.Wrap(ErrInvalidConfig, "mcp worker needs either command or url, not both")
	}
	return nil
}

// EvaluatorOptions converts the thresholds into evaluator options.
func (c *Config) EvaluatorOptions() []evaluator.Option {
	opts := []evaluator.Option{
		evaluator.WithDefaultThreshold(c.Evaluation.ConfidenceThreshold),
	}
	for goalType, th := range c.Evaluation.Thresholds {
		opts = append(opts, evaluator.WithThreshold(goalType, th))
	}
	return opts
}

// ReflexionOptions converts the loop bounds into controller options.
func (c *Config) ReflexionOptions() []reflexion.Option {
	return []reflexion.Option{
		reflexion.WithMaxRetries(c.Reflexion.MaxRetriesPerStep),
		reflexion.WithMaxReplans(c.Reflexion.MaxReplansPerEpisode),
	}
}

// EscalationOptions converts the timeout settings into manager options.
func (c *Config) EscalationOptions() []escalation.Option {
	return []escalation.Option{
		escalation.WithTimeout(c.Escalation.Timeout),
		escalation.WithFallback(c.Escalation.TimeoutFallback),
	}
}

func validThreshold(v float64) bool {
	return v >= 0 && v <= 1
}
