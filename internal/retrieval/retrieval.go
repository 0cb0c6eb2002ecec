// Package retrieval looks up memory-text chunks relevant to a message,
// scoped to one person. Retrieval is supplementary: callers go through
// SafeQuery, which converts any backend failure into an empty result so
// a reply can still be generated without snippets.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Metadata ties a chunk back to the memory it was cut from.
type Metadata struct {
	PersonID   int64 `json:"person_id"`
	MemoryID   int64 `json:"memory_id"`
	ChunkIndex int   `json:"chunk_index"`
}

// Hit is one retrieved chunk, in backend relevance order.
type Hit struct {
	ID   string
	Text string
	Meta Metadata
}

// Document is a chunk to index.
type Document struct {
	ID   string
	Text string
	Meta Metadata
}

// Retriever is the vector store contract. Query returns at most the
// configured top-K hits for the person, best match first.
type Retriever interface {
	Query(ctx context.Context, personID int64, text string) ([]Hit, error)
	Add(ctx context.Context, docs []Document) error
}

// SafeQuery runs a query and swallows any failure: the error is logged
// at warn level and an empty slice returned. Retrieval is never retried
// and never fails the request that asked for it.
func SafeQuery(ctx context.Context, r Retriever, personID int64, text string, logger *slog.Logger) []Hit {
	if r == nil {
		return nil
	}
	hits, err := r.Query(ctx, personID, text)
	if err != nil {
		logger.Warn("retrieval failed, continuing without snippets",
			"person_id", personID, "error", err)
		return nil
	}
	return hits
}

// ChunkText splits whitespace-normalized text into chunks of at most
// maxChars characters. Used when indexing memories.
func ChunkText(text string, maxChars int) []string {
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 750
	}

	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// ChunkID builds the stable embedding key for a memory chunk.
func ChunkID(memoryID int64, index int) string {
	return fmt.Sprintf("mem_%d_c%d", memoryID, index)
}
