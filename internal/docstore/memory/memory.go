// Package memory provides the in-memory document store backend. Mutation is
// guarded by a RWMutex so the store stays race-free when the HTTP server
// handles connections in parallel.
package memory

import (
	"context"
	"sync"

	"github.com/notewire/mcp-gateway/internal/docstore"
)

// Store implements docstore.Store with a map plus an insertion-order index.
// The index is what gives Search its deterministic tie-break.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]docstore.Document
	order []string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]docstore.Document)}
}

// Put upserts a document. A re-stored id keeps its original insertion slot.
func (s *Store) Put(ctx context.Context, id, text string, meta map[string]any) error {
	if id == "" {
		return docstore.ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[id]; !exists {
		s.order = append(s.order, id)
	}
	s.docs[id] = docstore.Document{ID: id, Text: text, Meta: meta}
	return nil
}

// Get returns the subset of documents found, in the order the ids were asked
// for. Missing ids are not an error.
func (s *Store) Get(ctx context.Context, ids []string) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Search linear-scans every document in insertion order and ranks by
// occurrence count.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]docstore.SearchHit, error) {
	s.mu.RLock()
	docs := make([]docstore.Document, 0, len(s.order))
	for _, id := range s.order {
		docs = append(docs, s.docs[id])
	}
	s.mu.RUnlock()
	return docstore.Rank(docs, query, limit), nil
}

// Close releases nothing; it exists to satisfy docstore.Store.
func (s *Store) Close() error { return nil }

var _ docstore.Store = (*Store)(nil)
