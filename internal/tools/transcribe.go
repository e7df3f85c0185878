package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/registry"
)

type transcribeArgs struct {
	AudioURL string         `json:"audio_url" jsonschema:"description=Public or signed URL to audio"`
	UploadID string         `json:"upload_id,omitempty" jsonschema:"description=Optional id to store the transcript under"`
	Meta     map[string]any `json:"meta,omitempty" jsonschema:"description=Metadata stored with the transcript"`
}

type transcribeResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TextPreview string `json:"text_preview,omitempty"`
}

func newTranscribeTool(store docstore.Store) registry.Tool {
	return registry.NewTool("transcribe",
		func(ctx context.Context, args transcribeArgs) (transcribeResult, error) {
			if args.AudioURL == "" {
				return transcribeResult{}, errors.New("audio_url is required")
			}

			// TODO: call the real STT backend; for now the transcript is a
			// placeholder so the document pipeline can be exercised end to end.
			transcript := fmt.Sprintf("TRANSCRIPT for %s (replace with real STT)", args.AudioURL)
			id := args.UploadID
			if id == "" {
				id = uuid.NewString()
			}
			if err := store.Put(ctx, id, transcript, args.Meta); err != nil {
				return transcribeResult{}, err
			}

			return transcribeResult{
				ID:          id,
				Status:      "ok",
				TextPreview: truncate(transcript, previewLen),
			}, nil
		},
		registry.WithDescription("Transcribe an audio file via an upstream STT. Returns a document id."),
	)
}
