package tools

import (
	"context"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/registry"
)

type fetchArgs struct {
	IDs []string `json:"ids" jsonschema:"description=Document ids to fetch"`
}

func newFetchTool(store docstore.Store) registry.Tool {
	return registry.NewTool("fetch",
		func(ctx context.Context, args fetchArgs) ([]docstore.Document, error) {
			// Missing ids are filtered by the store; a shorter list is the
			// contract, not an error.
			return store.Get(ctx, args.IDs)
		},
		registry.WithDescription("Fetch full documents by id."),
	)
}
