// Package vector implements the vector store capability on Typesense with an
// auto-embedding collection, so ingestion and search work on raw text.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"github.com/zenhq/zen/common/id"
	"github.com/zenhq/zen/core/config"
)

const embeddingModel = "ts/all-MiniLM-L12-v2"

// Hit is one vector search result. Distance is cosine distance in [0, 2].
type Hit struct {
	ID       string
	Content  string
	Title    string
	Metadata map[string]any
	Distance float64
}

// Document is one unit of ingested knowledge.
type Document struct {
	ID       string
	Title    string
	Content  string
	Metadata map[string]any
}

type Store struct {
	client     *typesense.Client
	collection string
}

func NewStore(cfg config.VectorConfig) *Store {
	return &Store{
		client: typesense.NewClient(
			typesense.WithServer(cfg.URL),
			typesense.WithAPIKey(cfg.APIKey),
		),
		collection: cfg.Collection,
	}
}

// EnsureCollection creates the knowledge collection if it does not exist.
// The embedding field is populated by Typesense from the content field, so
// callers never deal with vectors directly.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if _, err := s.client.Collection(s.collection).Retrieve(ctx); err == nil {
		return nil
	}

	embed := &api.FieldEmbed{
		From: []string{"content"},
	}
	embed.ModelConfig.ModelName = embeddingModel

	schema := &api.CollectionSchema{
		Name: s.collection,
		Fields: []api.Field{
			{Name: "title", Type: "string", Optional: pointer.True()},
			{Name: "content", Type: "string"},
			{Name: "metadata", Type: "string", Optional: pointer.True(), Index: pointer.False()},
			{Name: "embedding", Type: "float[]", Embed: embed},
		},
	}

	if _, err := s.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("creating collection %q: %w", s.collection, err)
	}
	slog.InfoContext(ctx, "knowledge collection created", "collection", s.collection)
	return nil
}

// AddDocuments upserts documents into the collection. Documents without an
// id get a generated one.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = strconv.FormatInt(id.New(), 10)
		}
		metadata := ""
		if doc.Metadata != nil {
			raw, err := json.Marshal(doc.Metadata)
			if err != nil {
				return fmt.Errorf("encoding metadata for %s: %w", doc.ID, err)
			}
			metadata = string(raw)
		}
		payload := map[string]any{
			"id":       doc.ID,
			"title":    doc.Title,
			"content":  doc.Content,
			"metadata": metadata,
		}
		if _, err := s.client.Collection(s.collection).Documents().Upsert(ctx, payload, &api.DocumentIndexParameters{}); err != nil {
			return fmt.Errorf("upserting document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search runs a semantic query over the embedding field and returns the top
// k hits with their cosine distances.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	result, err := s.client.Collection(s.collection).Documents().Search(ctx, &api.SearchCollectionParams{
		Q:             pointer.String(query),
		QueryBy:       pointer.String("embedding"),
		PerPage:       pointer.Int(k),
		ExcludeFields: pointer.String("embedding"),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	hits := make([]Hit, 0, len(*result.Hits))
	for _, h := range *result.Hits {
		if h.Document == nil {
			continue
		}
		doc := *h.Document
		hit := Hit{
			ID:      stringField(doc, "id"),
			Title:   stringField(doc, "title"),
			Content: stringField(doc, "content"),
		}
		if raw := stringField(doc, "metadata"); raw != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(raw), &meta); err == nil {
				hit.Metadata = meta
			}
		}
		if h.VectorDistance != nil {
			hit.Distance = float64(*h.VectorDistance)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}
