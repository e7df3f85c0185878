package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/notewire/mcp-gateway/internal/mcp"
)

type echoArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type echoResult struct {
	Echo string `json:"echo"`
}

func echoTool() Tool {
	return NewTool("echo", func(ctx context.Context, args echoArgs) (echoResult, error) {
		return echoResult{Echo: args.Query}, nil
	}, WithDescription("echo the query back"))
}

func TestRegisterDuplicateName(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := r.Register(echoTool())
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateToolError, got %v", err)
	}
	if dup.Name != "echo" {
		t.Fatalf("unexpected name in error: %q", dup.Name)
	}
	if got := len(r.Snapshot()); got != 1 {
		t.Fatalf("duplicate must not be listed, have %d tools", got)
	}
}

func TestSnapshotReflectsSchemas(t *testing.T) {
	r := New()
	r.MustRegister(echoTool())

	tools := r.Snapshot()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	tool := tools[0]
	if tool.Name != "echo" || tool.Description != "echo the query back" {
		t.Fatalf("unexpected descriptor: %#v", tool)
	}
	if tool.InputSchema.Type != "object" {
		t.Fatalf("input schema type %q", tool.InputSchema.Type)
	}
	if prop, ok := tool.InputSchema.Properties["query"]; !ok || prop.Type != "string" {
		t.Fatalf("query property missing or wrong: %#v", tool.InputSchema.Properties)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "query" {
		t.Fatalf("unexpected required list: %v", tool.InputSchema.Required)
	}
	if tool.OutputSchema == nil || tool.OutputSchema.Type != "object" {
		t.Fatalf("expected object output schema, got %#v", tool.OutputSchema)
	}
	if _, ok := tool.OutputSchema.Properties["echo"]; !ok {
		t.Fatalf("echo property missing: %#v", tool.OutputSchema.Properties)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := New()
	_, err := r.Dispatch(context.Background(), "nope", nil)
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if unknown.Name != "nope" {
		t.Fatalf("unexpected tool name: %q", unknown.Name)
	}
}

func TestDispatchMissingRequiredField(t *testing.T) {
	r := New()
	r.MustRegister(echoTool())

	_, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "query" || verr.Want != "string" {
		t.Fatalf("unexpected validation error: %#v", verr)
	}
}

func TestDispatchUnknownField(t *testing.T) {
	r := New()
	r.MustRegister(echoTool())

	_, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"query":"q","bogus":1}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "bogus" {
		t.Fatalf("unexpected field: %#v", verr)
	}
}

func TestDispatchWrongFieldType(t *testing.T) {
	r := New()
	r.MustRegister(echoTool())

	_, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"query":"q","limit":"ten"}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "limit" {
		t.Fatalf("unexpected field: %#v", verr)
	}
}

func TestDispatchNonObjectArgs(t *testing.T) {
	r := New()
	r.MustRegister(echoTool())

	_, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`[1,2]`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Want != "object" {
		t.Fatalf("unexpected want: %#v", verr)
	}
}

func TestDispatchSuccessCarriesTextAndStructured(t *testing.T) {
	r := New()
	r.MustRegister(echoTool())

	res, err := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"query":"hi"}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("unexpected content: %#v", res.Content)
	}
	var decoded echoResult
	if err := json.Unmarshal([]byte(res.Content[0].Text), &decoded); err != nil {
		t.Fatalf("text block is not the serialized result: %v", err)
	}
	if decoded.Echo != "hi" {
		t.Fatalf("unexpected echo: %q", decoded.Echo)
	}
	out, ok := res.StructuredContent.(echoResult)
	if !ok || out.Echo != "hi" {
		t.Fatalf("unexpected structured content: %#v", res.StructuredContent)
	}
}

func TestDispatchHandlerErrorWrapped(t *testing.T) {
	sentinel := errors.New("backend down")
	r := New()
	r.MustRegister(NewTool("broken", func(ctx context.Context, args struct{}) (struct{}, error) {
		return struct{}{}, sentinel
	}))

	_, err := r.Dispatch(context.Background(), "broken", json.RawMessage(`{}`))
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}
	if herr.Tool != "broken" {
		t.Fatalf("unexpected tool: %q", herr.Tool)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("cause not preserved: %v", err)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := New()
	r.MustRegister(Tool{
		Descriptor: mcp.Tool{Name: "panics", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		Handler: func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
			panic("boom")
		},
	})

	res, err := r.Dispatch(context.Background(), "panics", nil)
	if res != nil {
		t.Fatalf("expected nil result, got %#v", res)
	}
	var herr *HandlerError
	if !errors.As(err, &herr) {
		t.Fatalf("expected HandlerError, got %v", err)
	}

	// The registry survives the panic.
	if _, err := r.Dispatch(context.Background(), "panics", nil); err == nil {
		t.Fatal("expected second dispatch to fail the same way")
	}
}
