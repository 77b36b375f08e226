package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CollNotes is the Qdrant collection holding CRM note snippets.
const CollNotes = "crm_notes"

// minScore drops hits too distant from the query to be worth prompt space.
const minScore = 0.35

// Searcher embeds queries and searches the notes collection, scoped to one
// user's data.
type Searcher struct {
	embedder Embedder
	qdrant   *QdrantClient
	logger   *zap.Logger
}

// NewSearcher creates a Searcher over the given embedder and Qdrant client.
func NewSearcher(embedder Embedder, qdrant *QdrantClient, logger *zap.Logger) *Searcher {
	return &Searcher{embedder: embedder, qdrant: qdrant, logger: logger}
}

// Init ensures the notes collection exists.
func (s *Searcher) Init(ctx context.Context) error {
	dim := uint64(s.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := s.qdrant.EnsureCollection(ctx, CollNotes, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", CollNotes, err)
	}
	return nil
}

// Search embeds the query and returns the content of the closest notes
// belonging to the user, best match first.
func (s *Searcher) Search(ctx context.Context, userID, query string, limit int) ([]string, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := s.qdrant.Search(ctx, CollNotes, vectors[0], uint64(limit), map[string]string{"user_id": userID})
	if err != nil {
		return nil, err
	}

	var snippets []string
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		if content := h.Payload["content"]; content != "" {
			snippets = append(snippets, content)
		}
	}
	s.logger.Debug("note search",
		zap.String("user_id", userID),
		zap.Int("hits", len(hits)),
		zap.Int("kept", len(snippets)))
	return snippets, nil
}

// Index embeds the note and upserts it tagged with the owning user.
func (s *Searcher) Index(ctx context.Context, userID, content string, metadata map[string]string) error {
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("empty embedding result")
	}

	payload := make(map[string]string, len(metadata)+3)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["user_id"] = userID
	payload["content"] = content
	payload["indexed_at"] = time.Now().UTC().Format(time.RFC3339)

	return s.qdrant.Upsert(ctx, CollNotes, uuid.New().String(), vectors[0], payload)
}
