package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/novanahq/novana/internal/httpkit"
)

// Chroma is a Retriever backed by a chroma server's v1 REST API. The
// server computes embeddings itself from query_texts, so no embedding
// client is needed on this path.
type Chroma struct {
	baseURL    string
	collection string
	topK       int
	client     *http.Client

	mu           sync.Mutex
	collectionID string
}

// NewChroma builds a client for the chroma server at baseURL.
func NewChroma(baseURL, collection string, topK int) *Chroma {
	if topK <= 0 {
		topK = 3
	}
	return &Chroma{
		baseURL:    baseURL,
		collection: collection,
		topK:       topK,
		client:     httpkit.NewClient(httpkit.WithTimeout(10 * time.Second)),
	}
}

// ensureCollection resolves and caches the collection id, creating the
// collection on first use.
func (c *Chroma) ensureCollection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.collectionID != "" {
		return c.collectionID, nil
	}

	var out struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/api/v1/collections", map[string]any{
		"name":          c.collection,
		"get_or_create": true,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("get or create collection %q: %w", c.collection, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("collection %q: server returned no id", c.collection)
	}
	c.collectionID = out.ID
	return out.ID, nil
}

func (c *Chroma) Query(ctx context.Context, personID int64, text string) ([]Hit, error) {
	id, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"query_texts": []string{text},
		"n_results":   c.topK,
		"where":       map[string]any{"person_id": personID},
		"include":     []string{"documents", "metadatas"},
	}

	// Chroma nests results one list per query text.
	var out struct {
		IDs       [][]string   `json:"ids"`
		Documents [][]string   `json:"documents"`
		Metadatas [][]Metadata `json:"metadatas"`
	}
	if err := c.post(ctx, "/api/v1/collections/"+id+"/query", req, &out); err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	if len(out.IDs) == 0 {
		return nil, nil
	}

	ids := out.IDs[0]
	hits := make([]Hit, 0, len(ids))
	for i, hitID := range ids {
		h := Hit{ID: hitID}
		if len(out.Documents) > 0 && i < len(out.Documents[0]) {
			h.Text = out.Documents[0][i]
		}
		if len(out.Metadatas) > 0 && i < len(out.Metadatas[0]) {
			h.Meta = out.Metadatas[0][i]
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (c *Chroma) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	id, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	metas := make([]Metadata, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		texts[i] = d.Text
		metas[i] = d.Meta
	}

	req := map[string]any{
		"ids":       ids,
		"documents": texts,
		"metadatas": metas,
	}
	if err := c.post(ctx, "/api/v1/collections/"+id+"/add", req, nil); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

func (c *Chroma) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("chroma returned status %d: %s", resp.StatusCode, errBody)
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 4096)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
