// Package generate turns a composed prompt into reply text against an
// unreliable Ollama backend. It walks a ladder of models and call
// shapes, records every failed attempt, and only gives up when the
// whole ladder is exhausted.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/novanahq/novana/internal/ollama"
	"github.com/novanahq/novana/internal/prompt"
)

// tagsTimeout bounds the availability probe. A slow or dead tags
// endpoint must not eat into the generation deadline.
const tagsTimeout = 4 * time.Second

// Backend is the slice of the Ollama client the orchestrator uses.
type Backend interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, opts ollama.Options) (string, error)
	Complete(ctx context.Context, model, promptText string, opts ollama.Options) (string, error)
	ListModels(ctx context.Context) (map[string]bool, error)
}

// Result is a successful generation: the raw text and the model that
// produced it.
type Result struct {
	Text  string
	Model string
}

// ExhaustionError reports that every model and call shape failed. Each
// attempt is encoded as "model:code" ("model-missing:name" for models
// absent from the backend).
type ExhaustionError struct {
	Attempts []string
}

func (e *ExhaustionError) Error() string {
	return fmt.Sprintf("all generation attempts failed: %s", strings.Join(e.Attempts, ", "))
}

// Orchestrator runs the model/strategy ladder.
type Orchestrator struct {
	backend   Backend
	models    []string
	deadline  time.Duration
	maxTokens int
	logger    *slog.Logger
}

// New builds an orchestrator. models is the preference order, primary
// first.
func New(backend Backend, models []string, deadline time.Duration, maxTokens int, logger *slog.Logger) *Orchestrator {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 120
	}
	return &Orchestrator{
		backend:   backend,
		models:    models,
		deadline:  deadline,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// strategy is one call shape on the ladder, from full chat down to a
// bare completion with a tighter token budget.
type strategy struct {
	name string
	run  func(ctx context.Context, model string, messages []ollama.Message) (string, error)
}

func (o *Orchestrator) strategies() []strategy {
	return []strategy{
		{
			name: "chat",
			run: func(ctx context.Context, model string, messages []ollama.Message) (string, error) {
				return o.backend.Chat(ctx, model, messages, ollama.Options{
					Temperature:   0.6,
					TopP:          0.9,
					TopK:          40,
					RepeatPenalty: 1.1,
					NumPredict:    o.maxTokens,
				})
			},
		},
		{
			name: "chat-reduced",
			run: func(ctx context.Context, model string, messages []ollama.Message) (string, error) {
				return o.backend.Chat(ctx, model, messages, ollama.Options{
					Temperature:   0.5,
					TopP:          0.9,
					TopK:          40,
					RepeatPenalty: 1.1,
					NumPredict:    max(48, o.maxTokens/2),
				})
			},
		},
		{
			name: "completion",
			run: func(ctx context.Context, model string, messages []ollama.Message) (string, error) {
				return o.backend.Complete(ctx, model, prompt.Flatten(messages), ollama.Options{
					Temperature:   0.5,
					TopP:          0.9,
					TopK:          40,
					RepeatPenalty: 1.1,
					NumPredict:    max(40, o.maxTokens/3),
				})
			},
		},
	}
}

// Reply walks models in preference order and, per model, the strategy
// ladder. The first non-empty text wins. Retryable failures fall
// through to the next rung; a non-retryable failure abandons the model
// outright. When everything fails the returned ExhaustionError carries
// exactly one code per model: "fatal"/"fatal2" for an early abort, or
// the last rung's failure code.
func (o *Orchestrator) Reply(ctx context.Context, messages []ollama.Message) (*Result, error) {
	available := o.probeModels(ctx)

	var attempts []string
	strategies := o.strategies()

	for _, model := range o.models {
		if !available[model] {
			attempts = append(attempts, "model-missing:"+model)
			continue
		}

		for i, st := range strategies {
			last := i == len(strategies)-1
			text, err := o.call(ctx, st, model, messages)
			if err == nil {
				if strings.TrimSpace(text) != "" {
					o.logger.Debug("generation succeeded",
						"model", model, "strategy", st.name)
					return &Result{Text: text, Model: model}, nil
				}
				// Empty output escalates like a retryable failure.
				if last {
					attempts = append(attempts, model+":empty")
				}
				o.logger.Warn("generation produced no text",
					"model", model, "strategy", st.name)
				continue
			}

			if last {
				attempts = append(attempts, model+":"+ollama.ShortCode(err))
				o.logger.Warn("generation attempt failed",
					"model", model, "strategy", st.name, "error", err)
				continue
			}

			if !ollama.IsRetryable(err) {
				code := "fatal"
				if i > 0 {
					code = "fatal2"
				}
				attempts = append(attempts, model+":"+code)
				o.logger.Warn("generation failed, abandoning model",
					"model", model, "strategy", st.name, "error", err)
				break
			}

			o.logger.Warn("generation attempt failed, escalating",
				"model", model, "strategy", st.name, "error", err)
		}
	}

	return nil, &ExhaustionError{Attempts: attempts}
}

func (o *Orchestrator) call(ctx context.Context, st strategy, model string, messages []ollama.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()
	return st.run(callCtx, model, messages)
}

// probeModels asks the backend which models exist. A failed probe
// returns an empty set: every candidate is then skipped as missing, so
// a dead backend costs the probe timeout rather than a full ladder of
// doomed generation calls.
func (o *Orchestrator) probeModels(ctx context.Context) map[string]bool {
	probeCtx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()

	models, err := o.backend.ListModels(probeCtx)
	if err != nil {
		o.logger.Warn("model availability probe failed, skipping generation", "error", err)
		return map[string]bool{}
	}
	return models
}
