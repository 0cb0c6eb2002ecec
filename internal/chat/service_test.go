package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/novanahq/novana/internal/generate"
	"github.com/novanahq/novana/internal/ollama"
	"github.com/novanahq/novana/internal/retrieval"
	"github.com/novanahq/novana/internal/store"
)

type fakeGenerator struct {
	result   *generate.Result
	err      error
	messages []ollama.Message
}

func (f *fakeGenerator) Reply(ctx context.Context, messages []ollama.Message) (*generate.Result, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRetriever struct {
	hits []retrieval.Hit
	err  error
}

func (f *fakeRetriever) Query(ctx context.Context, personID int64, text string) ([]retrieval.Hit, error) {
	return f.hits, f.err
}

func (f *fakeRetriever) Add(ctx context.Context, docs []retrieval.Document) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *store.Store
	userID   int64
	personID int64
}

func setup(t *testing.T, birthDate, deathDate string) fixture {
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
	personID, err := st.CreatePerson(ctx, store.Person{
		UserID:    userID,
		Name:      "Rosa",
		BirthDate: birthDate,
		DeathDate: deathDate,
	})
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}
	return fixture{store: st, userID: userID, personID: personID}
}

func newService(fx fixture, r retrieval.Retriever, gen Generator) *Service {
	return New(fx.store, r, gen, Settings{}, testLogger())
}

func TestRespondHappyPath(t *testing.T) {
	fx := setup(t, "1945-03-01", "")
	gen := &fakeGenerator{result: &generate.Result{Text: "She loved her garden.", Model: "llama3:8b"}}
	r := &fakeRetriever{hits: []retrieval.Hit{{
		ID:   "mem_7_c0",
		Text: "roses every spring",
		Meta: retrieval.Metadata{MemoryID: 7, ChunkIndex: 0},
	}}}
	svc := newService(fx, r, gen)

	reply, err := svc.Respond(context.Background(), fx.userID, fx.personID, "What did she grow?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "She loved her garden." || reply.Model != "llama3:8b" {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.Citations) != 1 || reply.Citations[0].MemoryID != 7 || reply.Citations[0].ChunkIndex != 0 {
		t.Errorf("citations = %+v, want one for memory 7 chunk 0", reply.Citations)
	}

	// The generator must see one system message first, carrying the
	// persona and the retrieved snippet.
	if len(gen.messages) == 0 || gen.messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system first", gen.messages)
	}
	sys := gen.messages[0].Content
	if !strings.Contains(sys, "Rosa") || !strings.Contains(sys, "roses every spring") {
		t.Errorf("system message missing persona or snippet: %q", sys)
	}
	// The just-appended user turn must be in history.
	last := gen.messages[len(gen.messages)-1]
	if last.Role != "user" || last.Content != "What did she grow?" {
		t.Errorf("last message = %+v, want the new user turn", last)
	}

	// Both turns persisted.
	history, err := fx.store.History(context.Background(), fx.personID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history roles = %q, %q", history[0].Role, history[1].Role)
	}
	if history[1].Model != "llama3:8b" {
		t.Errorf("assistant model = %q", history[1].Model)
	}
}

func TestRespondSanitizesReply(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{result: &generate.Result{
		Text:  "Thank you for sharing. She  loved   her garden.",
		Model: "llama3:8b",
	}}
	svc := newService(fx, nil, gen)

	reply, err := svc.Respond(context.Background(), fx.userID, fx.personID, "Tell me about her")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "She loved her garden." {
		t.Errorf("reply = %q, want sanitized text", reply.Text)
	}
}

func TestRespondAgeQuestionSkipsGeneration(t *testing.T) {
	fx := setup(t, "1945-03-01", "")
	gen := &fakeGenerator{result: &generate.Result{Text: "should not run", Model: "llama3:8b"}}
	svc := newService(fx, nil, gen)

	reply, err := svc.Respond(context.Background(), fx.userID, fx.personID, "How old would she be?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Model != "rule" {
		t.Errorf("model = %q, want rule", reply.Model)
	}
	if len(reply.Citations) != 0 {
		t.Errorf("citations = %+v, want none for a rule answer", reply.Citations)
	}
	if !strings.Contains(reply.Text, "born 1945-03-01") {
		t.Errorf("reply = %q, want deterministic age answer", reply.Text)
	}
	if gen.messages != nil {
		t.Error("generator was called for an age question")
	}
}

func TestRespondAgeAnswerIsSanitized(t *testing.T) {
	fx := setup(t, "", "")
	ctx := context.Background()

	// A person name with raw newlines and padding must not flow into the
	// reply unsanitized.
	personID, err := fx.store.CreatePerson(ctx, store.Person{
		UserID: fx.userID,
		Name:   "Rosa\n   Lee",
	})
	if err != nil {
		t.Fatalf("CreatePerson: %v", err)
	}

	svc := newService(fx, nil, &fakeGenerator{})
	reply, err := svc.Respond(ctx, fx.userID, personID, "When was she born?")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Model != "rule" {
		t.Errorf("model = %q, want rule", reply.Model)
	}
	if want := "I don't have Rosa Lee's birth date yet."; reply.Text != want {
		t.Errorf("reply = %q, want %q", reply.Text, want)
	}

	history, err := fx.store.History(ctx, personID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || strings.Contains(history[1].Content, "\n") {
		t.Errorf("persisted turn = %+v, want sanitized assistant reply", history)
	}
}

func TestRespondRetrievalFailureStillReplies(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{result: &generate.Result{Text: "A reply without snippets.", Model: "llama3:8b"}}
	r := &fakeRetriever{err: errors.New("chroma down")}
	svc := newService(fx, r, gen)

	reply, err := svc.Respond(context.Background(), fx.userID, fx.personID, "Tell me about her")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "A reply without snippets." {
		t.Errorf("reply = %q", reply.Text)
	}
	if strings.Contains(gen.messages[0].Content, "Relevant snippets") {
		t.Errorf("system message has a snippet block despite retrieval failure: %q", gen.messages[0].Content)
	}
}

func TestRespondExhaustionSendsApology(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{err: &generate.ExhaustionError{Attempts: []string{"a:500", "b:deadline"}}}
	svc := newService(fx, nil, gen)

	reply, err := svc.Respond(context.Background(), fx.userID, fx.personID, "Tell me about her")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != Apology {
		t.Errorf("reply = %q, want apology", reply.Text)
	}
	if reply.Model != "none" {
		t.Errorf("model = %q, want none", reply.Model)
	}

	// The user turn and the apology are both durable.
	history, err := fx.store.History(context.Background(), fx.personID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[1].Content != Apology || history[1].Model != "none" {
		t.Errorf("history = %+v", history)
	}
}

func TestRespondUserTurnPersistedOnGeneratorError(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{err: errors.New("unexpected failure")}
	svc := newService(fx, nil, gen)

	_, err := svc.Respond(context.Background(), fx.userID, fx.personID, "Tell me about her")
	if err == nil {
		t.Fatal("Respond expected error")
	}

	history, err := fx.store.History(context.Background(), fx.personID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Role != "user" {
		t.Errorf("history = %+v, want the user turn alone", history)
	}
}

func TestRespondValidation(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{result: &generate.Result{Text: "x", Model: "m"}}
	svc := newService(fx, nil, gen)
	ctx := context.Background()

	t.Run("empty message", func(t *testing.T) {
		if _, err := svc.Respond(ctx, fx.userID, fx.personID, "   "); err == nil {
			t.Error("expected error for blank message")
		}
	})

	t.Run("unknown person", func(t *testing.T) {
		_, err := svc.Respond(ctx, fx.userID, fx.personID+99, "hello")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestHistoryScopedToOwner(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{result: &generate.Result{Text: "reply", Model: "m"}}
	svc := newService(fx, nil, gen)
	ctx := context.Background()

	if _, err := svc.Respond(ctx, fx.userID, fx.personID, "hello"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	got, err := svc.History(ctx, fx.userID, fx.personID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("history rows = %d, want 2", len(got))
	}

	otherID, err := fx.store.CreateUser(ctx, "jon", "jon@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.History(ctx, otherID, fx.personID, 0); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("another user could read history: %v", err)
	}
}

func TestRespondHistoryWindow(t *testing.T) {
	fx := setup(t, "", "")
	gen := &fakeGenerator{result: &generate.Result{Text: "reply", Model: "m"}}
	svc := New(fx.store, nil, gen, Settings{HistoryTurns: 4}, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Respond(ctx, fx.userID, fx.personID, "hello there"); err != nil {
			t.Fatalf("Respond %d: %v", i, err)
		}
	}

	// One system message plus at most four history turns.
	if len(gen.messages) != 5 {
		t.Errorf("prompt carried %d messages, want 5", len(gen.messages))
	}
}
