// Package redisstore provides a Redis-backed document store so ingested
// documents survive gateway restarts. Documents are stored as JSON strings
// under a key prefix, with a list tracking insertion order for search
// tie-breaks.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/notewire/mcp-gateway/internal/docstore"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Addr like "localhost:6379".
	Addr string
	// KeyPrefix for all keys. Default: "gateway:docs:"
	KeyPrefix string
}

// Store implements docstore.Store on a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gateway:docs:"
	}
	cl := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: cl, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *Store) docKey(id string) string { return s.keyPrefix + "doc:" + id }
func (s *Store) orderKey() string        { return s.keyPrefix + "order" }

// Put upserts a document. First-time ids are appended to the order list;
// overwrites keep their original slot.
func (s *Store) Put(ctx context.Context, id, text string, meta map[string]any) error {
	if id == "" {
		return docstore.ErrEmptyID
	}
	b, err := json.Marshal(docstore.Document{ID: id, Text: text, Meta: meta})
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", id, err)
	}
	set, err := s.client.SetNX(ctx, s.docKey(id), b, 0).Result()
	if err != nil {
		return fmt.Errorf("store document %s: %w", id, err)
	}
	if set {
		if err := s.client.RPush(ctx, s.orderKey(), id).Err(); err != nil {
			return fmt.Errorf("index document %s: %w", id, err)
		}
		return nil
	}
	if err := s.client.Set(ctx, s.docKey(id), b, 0).Err(); err != nil {
		return fmt.Errorf("store document %s: %w", id, err)
	}
	return nil
}

// Get returns the subset of documents found; ids without a key are dropped.
func (s *Store) Get(ctx context.Context, ids []string) ([]docstore.Document, error) {
	out := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.docKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get document %s: %w", id, err)
		}
		var d docstore.Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("unmarshal document %s: %w", id, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Search loads every document in insertion order and ranks in process. Linear
// scan matches the contract; the store is a placeholder for a real index.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]docstore.SearchHit, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	docs, err := s.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	return docstore.Rank(docs, query, limit), nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

var _ docstore.Store = (*Store)(nil)
