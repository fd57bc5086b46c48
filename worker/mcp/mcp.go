// Package mcp provides a Worker that executes plan steps as MCP tool calls.
// A step's Tool names the MCP tool and its Args become the call arguments.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	DefaultClientName    = "tribunal"
	DefaultClientVersion = "0.1.0"
)

// Worker runs steps on one MCP server. It connects lazily on first use and
// is safe for concurrent use.
type Worker struct {
	// local server
	path    string
	args    []string
	envVars []string

	// remote server
	baseURL string
	headers map[string]string

	name    string
	version string

	client     *client.Client
	initResult *mcp.InitializeResult
	initMutex  sync.Mutex
}

// StdioOption configures a Worker for a local MCP executable.
type StdioOption func(*Worker)

// WithEnvVars appends environment variables passed to the MCP server process.
func WithEnvVars(envVars []string) StdioOption {
	return func(w *Worker) {
		w.envVars = append(w.envVars, envVars...)
	}
}

// WithStdioClientInfo sets the client name and version sent on initialize.
func WithStdioClientInfo(name, version string) StdioOption {
	return func(w *Worker) {
		w.name = name
		w.version = version
	}
}

// NewStdio creates a Worker for a local MCP server started as path with args.
func NewStdio(path string, args []string, opts ...StdioOption) *Worker {
	w := &Worker{
		path:    path,
		args:    args,
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SSEOption configures a Worker for a remote MCP server.
type SSEOption func(*Worker)

// WithHeaders replaces the HTTP headers sent to the server.
func WithHeaders(headers map[string]string) SSEOption {
	return func(w *Worker) {
		w.headers = headers
	}
}

// WithSSEClientInfo sets the client name and version sent on initialize.
func WithSSEClientInfo(name, version string) SSEOption {
	return func(w *Worker) {
		w.name = name
		w.version = version
	}
}

// NewSSE creates a Worker for a remote MCP server reachable over HTTP SSE.
func NewSSE(baseURL string, opts ...SSEOption) *Worker {
	w := &Worker{
		baseURL: baseURL,
		headers: map[string]string{},
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start connects to the server and runs the initialize handshake. It is
// called by RunStep and Tools when needed.
func (w *Worker) Start(ctx context.Context) error {
	w.initMutex.Lock()
	defer w.initMutex.Unlock()

	if w.initResult != nil {
		return nil
	}

	var tp transport.Interface
	switch {
	case w.path != "":
		tp = transport.NewStdio(w.path, w.envVars, w.args...)
	case w.baseURL != "":
		sse, err := transport.NewSSE(w.baseURL, transport.WithHeaders(w.headers))
		if err != nil {
			return goerr.Wrap(err, "failed to create SSE transport", goerr.V("url", w.baseURL))
		}
		tp = sse
	default:
		return goerr.New("no MCP transport configured")
	}

	w.client = client.NewClient(tp)
	if err := w.client.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start MCP client")
	}

	var req mcp.InitializeRequest
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    w.name,
		Version: w.version,
	}

	resp, err := w.client.Initialize(ctx, req)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize MCP client")
	}
	w.initResult = resp

	ctxlog.From(ctx).Debug("MCP worker initialized",
		"server", resp.ServerInfo.Name,
		"server_version", resp.ServerInfo.Version,
	)
	return nil
}

// Tools lists the tool names the server offers.
func (w *Worker) Tools(ctx context.Context) ([]string, error) {
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := w.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tools")
	}

	names := make([]string, len(resp.Tools))
	for i, t := range resp.Tools {
		names[i] = t.Name
	}
	return names, nil
}

// RunStep implements tribunal.Worker. Every failure wraps
// tribunal.ErrExecution, including tool results flagged as errors.
func (w *Worker) RunStep(ctx context.Context, step tribunal.StepSpec, sc tribunal.StepContext) (*tribunal.Result, error) {
	if step.Tool == "" {
		return nil, goerr.Wrap(tribunal.ErrExecution, "step has no tool", goerr.V("step_id", step.ID))
	}
	if err := w.Start(ctx); err != nil {
		return nil, goerr.Wrap(tribunal.ErrExecution, "MCP server unavailable",
			goerr.V("step_id", step.ID),
			goerr.V("error", err.Error()),
		)
	}

	ctxlog.From(ctx).Debug("call MCP tool",
		"step_id", step.ID,
		"tool", step.Tool,
		"attempt", sc.Attempt,
		"args", step.Args,
	)

	var req mcp.CallToolRequest
	req.Params.Name = step.Tool
	req.Params.Arguments = maps.Clone(step.Args)

	resp, err := w.client.CallTool(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(tribunal.ErrExecution, "failed to call tool",
			goerr.V("step_id", step.ID),
			goerr.V("tool", step.Tool),
			goerr.V("error", err.Error()),
		)
	}

	payload := contentToMap(resp.Content)
	if resp.IsError {
		return nil, goerr.Wrap(tribunal.ErrExecution, "tool reported an error",
			goerr.V("step_id", step.ID),
			goerr.V("tool", step.Tool),
			goerr.V("output", payload[tribunal.DefaultOutputPath]),
		)
	}

	return tribunal.NewResult(step.ID, payload), nil
}

// Close stops the MCP client.
func (w *Worker) Close() error {
	w.initMutex.Lock()
	defer w.initMutex.Unlock()

	if w.client == nil {
		return nil
	}
	if err := w.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	w.client = nil
	w.initResult = nil
	return nil
}

// contentToMap turns tool output into a result payload. A single JSON object
// becomes the payload itself; other text lands under "output".
func contentToMap(contents []mcp.Content) map[string]any {
	var texts []string
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			texts = append(texts, v.Text)
		case *mcp.TextContent:
			texts = append(texts, v.Text)
		}
	}

	switch len(texts) {
	case 0:
		return map[string]any{}
	case 1:
		var v any
		if err := json.Unmarshal([]byte(texts[0]), &v); err == nil {
			if obj, ok := v.(map[string]any); ok {
				return obj
			}
			return map[string]any{tribunal.DefaultOutputPath: v}
		}
		return map[string]any{tribunal.DefaultOutputPath: texts[0]}
	}

	payload := map[string]any{
		tribunal.DefaultOutputPath: strings.Join(texts, "\n"),
	}
	for i, t := range texts {
		payload[fmt.Sprintf("content_%d", i+1)] = t
	}
	return payload
}
