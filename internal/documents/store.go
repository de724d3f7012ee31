// Package documents backs the search_documents capability: tenant-scoped
// document chunks with pgvector embeddings in copilot.copilot_documents.
package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type Chunk struct {
	ID          string
	TenantID    string
	SourceURL   string
	SourceTitle string
	Text        string
	Index       int
	Embedding   []float32
	Metadata    map[string]any
	Similarity  float64
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Search returns the tenant's chunks nearest to the query embedding, most
// similar first.
func (s *Store) Search(ctx context.Context, tenantID string, embedding []float32, limit int) ([]Chunk, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			tenant_id,
			source_url,
			source_title,
			chunk_text,
			chunk_index,
			metadata,
			1 - (embedding <=> $2) AS similarity
		FROM copilot.copilot_documents
		WHERE tenant_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, tenantID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		var title sql.NullString
		var metadataBytes []byte
		if err := rows.Scan(
			&chunk.ID,
			&chunk.TenantID,
			&chunk.SourceURL,
			&title,
			&chunk.Text,
			&chunk.Index,
			&metadataBytes,
			&chunk.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scan document chunk: %w", err)
		}
		chunk.SourceTitle = title.String
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &chunk.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document chunks: %w", err)
	}

	return chunks, nil
}

// Upsert replaces each source's chunks atomically: delete by (tenant,
// source_url), then insert the new chunk set in one transaction.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	bySource := make(map[string]string)
	for _, chunk := range chunks {
		if chunk.TenantID == "" {
			return errors.New("tenant id is required for chunk")
		}
		if chunk.SourceURL == "" {
			return errors.New("source url is required for chunk")
		}
		bySource[chunk.SourceURL] = chunk.TenantID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for sourceURL, tenantID := range bySource {
		if _, execErr := tx.ExecContext(ctx, `
			DELETE FROM copilot.copilot_documents
			WHERE tenant_id = $1 AND source_url = $2
		`, tenantID, sourceURL); execErr != nil {
			return fmt.Errorf("delete existing chunks: %w", execErr)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO copilot.copilot_documents (
			id,
			tenant_id,
			source_url,
			source_title,
			chunk_text,
			chunk_index,
			embedding,
			metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = uuid.New().String()
		}
		metadataBytes, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(
			ctx,
			id,
			chunk.TenantID,
			chunk.SourceURL,
			chunk.SourceTitle,
			chunk.Text,
			chunk.Index,
			pgvector.NewVector(chunk.Embedding),
			metadataBytes,
		); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// DeleteBySource removes a source's chunks for one tenant.
func (s *Store) DeleteBySource(ctx context.Context, tenantID, sourceURL string) error {
	if tenantID == "" {
		return errors.New("tenant id is required")
	}
	if sourceURL == "" {
		return errors.New("source url is required")
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM copilot.copilot_documents
		WHERE tenant_id = $1 AND source_url = $2
	`, tenantID, sourceURL); err != nil {
		return fmt.Errorf("delete by source: %w", err)
	}
	return nil
}
