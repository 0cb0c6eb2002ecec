// Package chat implements the reply pipeline: persist the user turn,
// try the deterministic age rule, gather snippets and history, run
// generation, sanitize, and persist the assistant turn. A dead model
// backend degrades to an apology; it never loses the user's message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/novanahq/novana/internal/agerule"
	"github.com/novanahq/novana/internal/generate"
	"github.com/novanahq/novana/internal/ollama"
	"github.com/novanahq/novana/internal/prompt"
	"github.com/novanahq/novana/internal/retrieval"
	"github.com/novanahq/novana/internal/store"
)

// Apology is the reply of last resort, recorded with model "none".
const Apology = "Sorry, I had trouble generating a reply. Could you rephrase that?"

// Generator produces reply text for a composed message list.
type Generator interface {
	Reply(ctx context.Context, messages []ollama.Message) (*generate.Result, error)
}

// Settings are the prompt-shaping knobs.
type Settings struct {
	MaxContextChars int
	HistoryTurns    int
	MaxReplyWords   int
}

// Citation points a reply back at the memory chunk that informed it.
type Citation struct {
	MemoryID   int64 `json:"memory_id"`
	ChunkIndex int   `json:"chunk_index"`
}

// Reply is what the pipeline hands back to the API layer.
type Reply struct {
	Text      string
	Model     string
	Citations []Citation
}

// Service runs the reply pipeline.
type Service struct {
	store     *store.Store
	retriever retrieval.Retriever
	gen       Generator
	settings  Settings
	logger    *slog.Logger
	now       func() time.Time
}

// New builds a chat service. retriever may be nil, in which case
// replies are generated without snippets.
func New(st *store.Store, retriever retrieval.Retriever, gen Generator, settings Settings, logger *slog.Logger) *Service {
	if settings.MaxContextChars <= 0 {
		settings.MaxContextChars = 900
	}
	if settings.HistoryTurns <= 0 {
		settings.HistoryTurns = 12
	}
	if settings.MaxReplyWords <= 0 {
		settings.MaxReplyWords = 120
	}
	return &Service{
		store:     st,
		retriever: retriever,
		gen:       gen,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// Respond handles one user message about a person and returns the
// assistant reply. The user turn is persisted before anything that can
// fail downstream; store errors are the only ones that surface.
func (s *Service) Respond(ctx context.Context, userID, personID int64, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("empty message")
	}

	person, err := s.store.GetPerson(ctx, userID, personID)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.AppendTurn(ctx, store.ChatMessage{
		PersonID: personID,
		UserID:   userID,
		Role:     "user",
		Content:  message,
	}); err != nil {
		return nil, err
	}

	subject := &agerule.Subject{
		Name:      person.Name,
		BirthDate: person.BirthDate,
		DeathDate: person.DeathDate,
	}
	if answer, ok := agerule.Answer(message, subject, s.now()); ok {
		// Rule answers embed user-entered data, so they go through the
		// same sanitizer as generated text.
		return s.finish(ctx, userID, personID, prompt.Sanitize(answer, s.settings.MaxReplyWords), "rule", nil)
	}

	hits := retrieval.SafeQuery(ctx, s.retriever, personID, message, s.logger)
	texts := make([]string, 0, len(hits))
	citations := make([]Citation, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
		citations = append(citations, Citation{MemoryID: h.Meta.MemoryID, ChunkIndex: h.Meta.ChunkIndex})
	}

	history, err := s.store.RecentTurns(ctx, personID, s.settings.HistoryTurns)
	if err != nil {
		return nil, err
	}

	messages := prompt.Compose(
		prompt.System(person.Name),
		prompt.ContextBlock(texts, s.settings.MaxContextChars),
		toOllama(history),
	)

	result, err := s.gen.Reply(ctx, messages)
	if err != nil {
		var exhausted *generate.ExhaustionError
		if errors.As(err, &exhausted) {
			s.logger.Error("generation exhausted, sending apology",
				"person_id", personID, "attempts", exhausted.Attempts)
			return s.finish(ctx, userID, personID, Apology, "none", citations)
		}
		return nil, err
	}

	text := prompt.Sanitize(result.Text, s.settings.MaxReplyWords)
	if text == "" {
		return s.finish(ctx, userID, personID, Apology, "none", citations)
	}

	return s.finish(ctx, userID, personID, text, result.Model, citations)
}

// finish persists the assistant turn and packages the reply.
func (s *Service) finish(ctx context.Context, userID, personID int64, text, model string, citations []Citation) (*Reply, error) {
	if _, err := s.store.AppendTurn(ctx, store.ChatMessage{
		PersonID: personID,
		UserID:   userID,
		Role:     "assistant",
		Content:  text,
		Model:    model,
	}); err != nil {
		return nil, err
	}
	return &Reply{Text: text, Model: model, Citations: citations}, nil
}

// History returns a person's conversation in chronological order. A
// positive limit selects the most recent turns; zero means everything.
func (s *Service) History(ctx context.Context, userID, personID int64, limit int) ([]store.ChatMessage, error) {
	if _, err := s.store.GetPerson(ctx, userID, personID); err != nil {
		return nil, err
	}
	if limit > 0 {
		return s.store.RecentTurns(ctx, personID, limit)
	}
	return s.store.History(ctx, personID, 0)
}

// toOllama maps persisted turns to wire messages, keeping only roles
// the backend understands.
func toOllama(history []store.ChatMessage) []ollama.Message {
	out := make([]ollama.Message, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		out = append(out, ollama.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
