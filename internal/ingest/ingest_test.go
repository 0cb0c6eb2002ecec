package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/novanahq/novana/internal/retrieval"
	"github.com/novanahq/novana/internal/store"
)

type recordingRetriever struct {
	docs []retrieval.Document
}

func (r *recordingRetriever) Query(ctx context.Context, personID int64, text string) ([]retrieval.Hit, error) {
	return nil, nil
}

func (r *recordingRetriever) Add(ctx context.Context, docs []retrieval.Document) error {
	r.docs = append(r.docs, docs...)
	return nil
}

func setup(t *testing.T) (*store.Store, int64) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	userID, err := st.CreateUser(ctx, "maria", "maria@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	personID, err := st.CreatePerson(ctx, store.Person{UserID: userID, Name: "Rosa"})
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	return st, personID
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndexMemory(t *testing.T) {
	st, personID := setup(t)
	ctx := context.Background()

	// Long enough to need two chunks at the 750-char chunk size.
	body := strings.Repeat("she grew roses every spring and told stories ", 25)
	memID, err := st.CreateMemory(ctx, store.Memory{PersonID: personID, Body: body})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	mem, err := st.GetMemory(ctx, memID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}

	r := &recordingRetriever{}
	ix := New(st, r, testLogger())
	if err := ix.IndexMemory(ctx, *mem); err != nil {
		t.Fatalf("IndexMemory: %v", err)
	}

	if len(r.docs) != 2 {
		t.Fatalf("indexed %d docs, want 2", len(r.docs))
	}
	if r.docs[0].ID != "mem_1_c0" || r.docs[1].ID != "mem_1_c1" {
		t.Errorf("doc ids = %q, %q", r.docs[0].ID, r.docs[1].ID)
	}
	for i, d := range r.docs {
		if d.Meta.PersonID != personID || d.Meta.MemoryID != memID || d.Meta.ChunkIndex != i {
			t.Errorf("doc %d meta = %+v", i, d.Meta)
		}
	}

	chunks, err := st.ListChunks(ctx, memID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("recorded %d chunks, want 2", len(chunks))
	}
}

func TestIndexMemoryNilRetriever(t *testing.T) {
	st, personID := setup(t)
	ctx := context.Background()

	memID, err := st.CreateMemory(ctx, store.Memory{PersonID: personID, Body: "short memory"})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	mem, _ := st.GetMemory(ctx, memID)

	ix := New(st, nil, testLogger())
	if err := ix.IndexMemory(ctx, *mem); err != nil {
		t.Fatalf("IndexMemory without retriever: %v", err)
	}

	chunks, err := st.ListChunks(ctx, memID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("recorded %d chunks, want 1", len(chunks))
	}
}

func TestReindex(t *testing.T) {
	st, personID := setup(t)
	ctx := context.Background()

	for _, body := range []string{"first memory", "second memory", "third memory"} {
		if _, err := st.CreateMemory(ctx, store.Memory{PersonID: personID, Body: body}); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	r := &recordingRetriever{}
	ix := New(st, r, testLogger())
	n, err := ix.Reindex(ctx)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if n != 3 {
		t.Errorf("Reindex = %d memories, want 3", n)
	}
	if len(r.docs) != 3 {
		t.Errorf("indexed %d docs, want 3", len(r.docs))
	}
}
