package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newChromaServer fakes the chroma v1 REST surface the client uses.
func newChromaServer(t *testing.T, queryBody string) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch {
		case r.URL.Path == "/api/v1/collections":
			var req map[string]any
			json.NewDecoder(r.Body).Decode(&req)
			if req["name"] != "novana_memories" || req["get_or_create"] != true {
				t.Errorf("collection request = %v", req)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "col-1"})
		case strings.HasSuffix(r.URL.Path, "/query"):
			w.Write([]byte(queryBody))
		case strings.HasSuffix(r.URL.Path, "/add"):
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestChromaQuery(t *testing.T) {
	body := `{
		"ids": [["mem_7_c0", "mem_9_c2"]],
		"documents": [["she grew roses", "sunday dinners"]],
		"metadatas": [[
			{"person_id": 3, "memory_id": 7, "chunk_index": 0},
			{"person_id": 3, "memory_id": 9, "chunk_index": 2}
		]]
	}`
	srv, paths := newChromaServer(t, body)

	c := NewChroma(srv.URL, "novana_memories", 3)
	hits, err := c.Query(context.Background(), 3, "what did she grow")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	want := Hit{ID: "mem_7_c0", Text: "she grew roses", Meta: Metadata{PersonID: 3, MemoryID: 7, ChunkIndex: 0}}
	if hits[0] != want {
		t.Errorf("hit[0] = %+v, want %+v", hits[0], want)
	}
	if hits[1].Meta.ChunkIndex != 2 {
		t.Errorf("hit[1] meta = %+v", hits[1].Meta)
	}

	t.Run("collection id cached", func(t *testing.T) {
		if _, err := c.Query(context.Background(), 3, "again"); err != nil {
			t.Fatalf("Query: %v", err)
		}
		creates := 0
		for _, p := range *paths {
			if p == "/api/v1/collections" {
				creates++
			}
		}
		if creates != 1 {
			t.Errorf("collection created %d times, want 1", creates)
		}
	})
}

func TestChromaQueryEmpty(t *testing.T) {
	srv, _ := newChromaServer(t, `{"ids": [[]], "documents": [[]], "metadatas": [[]]}`)

	c := NewChroma(srv.URL, "novana_memories", 3)
	hits, err := c.Query(context.Background(), 3, "anything")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestChromaAdd(t *testing.T) {
	srv, paths := newChromaServer(t, "{}")

	c := NewChroma(srv.URL, "novana_memories", 3)
	err := c.Add(context.Background(), []Document{
		{ID: "mem_1_c0", Text: "chunk text", Meta: Metadata{PersonID: 2, MemoryID: 1}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	found := false
	for _, p := range *paths {
		if strings.HasSuffix(p, "/col-1/add") {
			found = true
		}
	}
	if !found {
		t.Errorf("add endpoint never hit: %v", *paths)
	}

	t.Run("no docs is a no-op", func(t *testing.T) {
		before := len(*paths)
		if err := c.Add(context.Background(), nil); err != nil {
			t.Fatalf("Add(nil): %v", err)
		}
		if len(*paths) != before {
			t.Error("empty Add made a request")
		}
	})
}

func TestChromaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChroma(srv.URL, "novana_memories", 3)
	if _, err := c.Query(context.Background(), 1, "hello"); err == nil {
		t.Error("Query expected error from 500")
	}
}
