// Package docstore defines the document store contract backing the gateway's
// tools: an unordered id->document map with linear-scan search. The search is
// an explicit placeholder for a real index.
package docstore

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrEmptyID is returned when a caller attempts to store a document without
// an id. The store never contains an entry with an empty id.
var ErrEmptyID = errors.New("document id must not be empty")

// snippetLen bounds the snippet returned by Search.
const snippetLen = 300

// Document is an opaque text document with caller-supplied metadata.
type Document struct {
	ID   string         `json:"id"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	ID      string `json:"id"`
	Score   int    `json:"score"`
	Snippet string `json:"snippet"`
}

// Store is the document store contract.
//
// Put upserts: re-storing an id fully overwrites the prior document. Get
// returns the subset of documents found; missing ids are silently dropped.
// Search ranks every stored document by case-insensitive occurrence count of
// query within its text, descending, ties broken by insertion order, and
// returns up to limit hits.
type Store interface {
	Put(ctx context.Context, id, text string, meta map[string]any) error
	Get(ctx context.Context, ids []string) ([]Document, error)
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Close() error
}

// Rank scores docs against query and returns up to limit hits. Backends share
// this so ordering semantics cannot drift between them: score is the
// case-insensitive occurrence count, order is score-descending with insertion
// order (the order of docs) breaking ties. Zero-score documents still rank.
func Rank(docs []Document, query string, limit int) []SearchHit {
	if limit <= 0 {
		return nil
	}
	q := strings.ToLower(query)
	hits := make([]SearchHit, 0, len(docs))
	for _, d := range docs {
		score := 0
		if q != "" {
			score = strings.Count(strings.ToLower(d.Text), q)
		}
		hits = append(hits, SearchHit{ID: d.ID, Score: score, Snippet: Snippet(d.Text)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Snippet returns the leading slice of text used in search results.
func Snippet(text string) string {
	if len(text) > snippetLen {
		return text[:snippetLen]
	}
	return text
}
