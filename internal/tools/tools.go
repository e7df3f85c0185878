// Package tools provides the gateway's built-in tool bodies. Each body is
// business logic behind the registry's dispatch contract; the gateway core
// only sees their schemas and handlers.
package tools

import (
	"fmt"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/registry"
)

// previewLen bounds text previews in summaries and transcripts.
const previewLen = 120

// RegisterAll registers every built-in tool against reg. Registration order
// is the order tools/list will report.
func RegisterAll(reg *registry.Registry, store docstore.Store) error {
	for _, t := range []registry.Tool{
		newSearchTool(store),
		newFetchTool(store),
		newSummarizeTool(store),
		newTranscribeTool(store),
	} {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Descriptor.Name, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
