package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/registry"
)

// maxSummarySentences caps how many leading sentences become bullets after
// the preview line.
const maxSummarySentences = 3

type summarizeArgs struct {
	ID    string `json:"id,omitempty" jsonschema:"description=Id of a stored document to summarize"`
	Text  string `json:"text,omitempty" jsonschema:"description=Raw text to summarize instead of a stored document"`
	Style string `json:"style,omitempty" jsonschema:"enum=exec,enum=actions,description=Summary style"`
}

type summarizeResult struct {
	Bullets     []string `json:"bullets"`
	Decisions   []string `json:"decisions"`
	NextActions []string `json:"next_actions"`
}

func newSummarizeTool(store docstore.Store) registry.Tool {
	return registry.NewTool("summarize",
		func(ctx context.Context, args summarizeArgs) (summarizeResult, error) {
			content := strings.TrimSpace(args.Text)
			if content == "" && args.ID != "" {
				docs, err := store.Get(ctx, []string{args.ID})
				if err != nil {
					return summarizeResult{}, err
				}
				if len(docs) == 0 || docs[0].Text == "" {
					return summarizeResult{}, errors.New("document not found")
				}
				content = strings.TrimSpace(docs[0].Text)
			}
			if content == "" {
				return summarizeResult{}, errors.New("id or text is required")
			}

			preview := firstLine(content)
			bullets := []string{"Summary preview: " + truncate(preview, previewLen)}
			for _, s := range headSentences(content, maxSummarySentences) {
				bullets = append(bullets, "• "+s)
			}

			res := summarizeResult{
				Bullets:     bullets,
				Decisions:   []string{},
				NextActions: []string{},
			}
			if args.Style == "actions" {
				res.NextActions = append(res.NextActions,
					"Identify owners and due dates for key items.",
					"Share summary with attendees and track follow-ups.",
				)
			}
			return res, nil
		},
		registry.WithDescription("Summarize a transcript by id or direct text. Returns a structured summary."),
	)
}

// firstLine returns the first non-blank line of content, or its leading
// slice when every line is blank.
func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return truncate(content, previewLen)
}

// headSentences collapses whitespace and returns up to n leading sentences.
// A sentence ends at ., ! or ? followed by a space; a trailing fragment
// without terminal punctuation still counts.
func headSentences(content string, n int) []string {
	collapsed := strings.Join(strings.Fields(content), " ")
	var out []string
	start := 0
	for i := 0; i < len(collapsed) && len(out) < n; i++ {
		c := collapsed[i]
		if (c == '.' || c == '!' || c == '?') && (i+1 == len(collapsed) || collapsed[i+1] == ' ') {
			if s := strings.TrimSpace(collapsed[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if len(out) < n {
		if s := strings.TrimSpace(collapsed[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}
