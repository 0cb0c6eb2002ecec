// Package ingest chunks memory texts and pushes them into the vector
// store so retrieval can find them later.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/novanahq/novana/internal/retrieval"
	"github.com/novanahq/novana/internal/store"
)

// chunkChars is the chunk size for memory bodies.
const chunkChars = 750

// Indexer chunks memories, records the chunks, and indexes them.
type Indexer struct {
	store     *store.Store
	retriever retrieval.Retriever
	logger    *slog.Logger
}

// New builds an indexer. retriever may be nil, in which case chunks are
// recorded but not indexed.
func New(st *store.Store, retriever retrieval.Retriever, logger *slog.Logger) *Indexer {
	return &Indexer{store: st, retriever: retriever, logger: logger}
}

// IndexMemory chunks one memory's body, replaces its recorded chunks,
// and adds them to the vector store.
func (ix *Indexer) IndexMemory(ctx context.Context, m store.Memory) error {
	chunks := retrieval.ChunkText(m.Body, chunkChars)
	if err := ix.store.ReplaceChunks(ctx, m.ID, chunks); err != nil {
		return err
	}
	if ix.retriever == nil || len(chunks) == 0 {
		return nil
	}

	docs := make([]retrieval.Document, 0, len(chunks))
	for i, text := range chunks {
		docs = append(docs, retrieval.Document{
			ID:   retrieval.ChunkID(m.ID, i),
			Text: text,
			Meta: retrieval.Metadata{
				PersonID:   m.PersonID,
				MemoryID:   m.ID,
				ChunkIndex: i,
			},
		})
	}
	if err := ix.retriever.Add(ctx, docs); err != nil {
		return fmt.Errorf("index memory %d: %w", m.ID, err)
	}

	ix.logger.Debug("memory indexed", "memory_id", m.ID, "chunks", len(chunks))
	return nil
}

// Reindex rebuilds the vector store from every memory in the database
// and returns how many memories it processed.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	memories, err := ix.store.ListAllMemories(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range memories {
		if err := ix.IndexMemory(ctx, m); err != nil {
			return 0, err
		}
	}
	return len(memories), nil
}
