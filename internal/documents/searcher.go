package documents

import (
	"context"
	"errors"
	"fmt"

	"foodflow/copilot/pkg/llm"
	"foodflow/copilot/pkg/logging"
)

// NotIndexedMessage is what search_documents reports while the document
// pipeline is not wired for a deployment.
const NotIndexedMessage = "RAG document search is not yet implemented. Documents have not been indexed."

const defaultSearchLimit = 5

// SearchResult is the chunk shape handed back to the model.
type SearchResult struct {
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// Searcher embeds a query and runs nearest-neighbour retrieval for one
// tenant. Both collaborators are required; wiring passes a nil *Searcher to
// the degradable adapter when either is unconfigured.
type Searcher struct {
	store    *Store
	embedder llm.EmbeddingClient
	logger   logging.Logger
}

func NewSearcher(store *Store, embedder llm.EmbeddingClient, logger logging.Logger) (*Searcher, error) {
	if store == nil {
		return nil, errors.New("documents: store is required")
	}
	if embedder == nil {
		return nil, errors.New("documents: embedder is required")
	}
	return &Searcher{store: store, embedder: embedder, logger: logger}, nil
}

func (s *Searcher) Search(ctx context.Context, tenantID, query string, limit int) ([]SearchResult, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("embedder returned no vectors")
	}

	chunks, err := s.store.Search(ctx, tenantID, vectors[0], limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		results = append(results, SearchResult{
			Title:   chunk.SourceTitle,
			Source:  chunk.SourceURL,
			Excerpt: chunk.Text,
			Score:   chunk.Similarity,
		})
	}
	if s.logger != nil {
		s.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"results":   len(results),
		}).Debug("Document search completed")
	}
	return results, nil
}
