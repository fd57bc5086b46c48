// Package llm defines the minimal text-completion contract the judge and the
// planner depend on. Provider clients live in the claude, openai and gemini
// subpackages.
package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNoJSON is returned by ExtractJSON when the text holds no JSON object.
	ErrNoJSON = goerr.New("no JSON object found")
	// ErrEmptyResponse is returned by clients when the model produced no text.
	ErrEmptyResponse = goerr.New("empty response from model")
)

// Request is a single-turn completion request.
type Request struct {
	System string
	Prompt string
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function into a Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
