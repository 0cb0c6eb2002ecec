package retrieval

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"github.com/novanahq/novana/internal/embeddings"
)

// Embedded is a Retriever backed by chromem-go, an in-process vector
// store. It needs no external chroma server; embeddings come from the
// Ollama embedding API.
type Embedded struct {
	col  *chromem.Collection
	topK int
}

// NewEmbedded opens (or creates) a chromem collection. An empty path
// keeps the store in memory, which the tests rely on.
func NewEmbedded(path, collection string, topK int, embedder *embeddings.Client) (*Embedded, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	}

	embedFn := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Generate(ctx, text)
	})

	col, err := db.GetOrCreateCollection(collection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", collection, err)
	}

	if topK <= 0 {
		topK = 3
	}
	return &Embedded{col: col, topK: topK}, nil
}

func (e *Embedded) Query(ctx context.Context, personID int64, text string) ([]Hit, error) {
	// chromem rejects nResults larger than the collection.
	n := e.topK
	if count := e.col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	where := map[string]string{"person_id": strconv.FormatInt(personID, 10)}
	results, err := e.col.Query(ctx, text, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:   r.ID,
			Text: r.Content,
			Meta: metaFromStrings(r.Metadata),
		})
	}
	return hits, nil
}

func (e *Embedded) Add(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		err := e.col.AddDocument(ctx, chromem.Document{
			ID:      d.ID,
			Content: d.Text,
			Metadata: map[string]string{
				"person_id":   strconv.FormatInt(d.Meta.PersonID, 10),
				"memory_id":   strconv.FormatInt(d.Meta.MemoryID, 10),
				"chunk_index": strconv.Itoa(d.Meta.ChunkIndex),
			},
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", d.ID, err)
		}
	}
	return nil
}

// metaFromStrings decodes the string-typed metadata chromem stores.
func metaFromStrings(m map[string]string) Metadata {
	var meta Metadata
	meta.PersonID, _ = strconv.ParseInt(m["person_id"], 10, 64)
	meta.MemoryID, _ = strconv.ParseInt(m["memory_id"], 10, 64)
	meta.ChunkIndex, _ = strconv.Atoi(m["chunk_index"])
	return meta
}
