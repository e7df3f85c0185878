// Package registry maps tool names to schema-validated handlers and
// dispatches structured invocations to them.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/notewire/mcp-gateway/internal/logctx"
	"github.com/notewire/mcp-gateway/internal/mcp"
)

// Handler executes one tool invocation against raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// Tool pairs a descriptor with its handler. Build one with NewTool.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for best-effort output schema warnings.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// Registry is the append-only tool table. Registration happens at startup;
// after boot the set is immutable and reads take the shared lock only.
type Registry struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]Handler
	log      *slog.Logger
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Register adds a tool. A reused name yields a DuplicateToolError.
func (r *Registry) Register(t Tool) error {
	name := t.Descriptor.Name
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools = append(r.tools, t.Descriptor)
	r.handlers[name] = t.Handler
	return nil
}

// MustRegister is Register for startup wiring, where a duplicate name is a
// programming error worth crashing on.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Snapshot returns a copy of the registered tool descriptors in registration
// order.
func (r *Registry) Snapshot() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Dispatch validates args against the named tool's input schema and invokes
// its handler. Failures come back as UnknownToolError, ValidationError, or
// HandlerError; a panicking handler is recovered into a HandlerError rather
// than crashing the dispatcher.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (res *mcp.CallToolResult, err error) {
	r.mu.RLock()
	h := r.handlers[name]
	r.mu.RUnlock()
	if h == nil {
		return nil, &UnknownToolError{Name: name}
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &HandlerError{Tool: name, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()

	res, err = h(ctx, args)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, err
		}
		return nil, &HandlerError{Tool: name, Cause: err}
	}

	r.checkOutput(ctx, name, res)
	return res, nil
}

// checkOutput sanity-checks a result against the tool's declared output
// schema. The output schema is a documentation contract, not a runtime gate:
// a mismatch is logged and the result returned unchanged.
func (r *Registry) checkOutput(ctx context.Context, name string, res *mcp.CallToolResult) {
	if res == nil || res.StructuredContent == nil {
		return
	}
	r.mu.RLock()
	var schema *mcp.ToolOutputSchema
	for _, t := range r.tools {
		if t.Name == name {
			schema = t.OutputSchema
			break
		}
	}
	r.mu.RUnlock()
	if schema == nil || schema.Type != "object" || len(schema.Required) == 0 {
		return
	}
	b, err := json.Marshal(res.StructuredContent)
	if err != nil {
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return
	}
	for _, field := range schema.Required {
		if _, ok := obj[field]; !ok {
			r.log.WarnContext(ctx, "tool.output.schema.mismatch",
				slog.String("missing_field", field))
		}
	}
}
