package tools

import (
	"context"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/registry"
)

// defaultTopK is the result count when the caller does not pass top_k.
const defaultTopK = 5

type searchArgs struct {
	Query string `json:"query" jsonschema:"description=Search query matched against document text"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of results (default 5)"`
}

func newSearchTool(store docstore.Store) registry.Tool {
	return registry.NewTool("search",
		func(ctx context.Context, args searchArgs) ([]docstore.SearchHit, error) {
			topK := args.TopK
			if topK <= 0 {
				topK = defaultTopK
			}
			return store.Search(ctx, args.Query, topK)
		},
		registry.WithDescription("Search indexed transcripts and notes. Returns ids and snippets."),
	)
}
