package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/prompts"
)

// ChatCompleter produces a single non-streamed chat completion.
type ChatCompleter interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// agenticSelectorPrompt names the system prompt that instructs the model
// to propose chunk boundaries.
const agenticSelectorPrompt = "agentic_chunk_selector.md"

// AgenticChunker asks the chat model to propose chunk boundaries and
// validates the result. Any upstream or parse failure degrades to the
// deterministic chunker; cancellation does not.
type AgenticChunker struct {
	chat    ChatCompleter
	prompts *prompts.Loader
	logger  *logrus.Logger
}

func NewAgenticChunker(chat ChatCompleter, loader *prompts.Loader, logger *logrus.Logger) *AgenticChunker {
	if logger == nil {
		logger = logrus.New()
	}
	return &AgenticChunker{
		chat:    chat,
		prompts: loader,
		logger:  logger,
	}
}

// Chunk returns model-proposed chunks for text, falling back to
// deterministic chunking when the model cannot deliver a usable
// proposal. Fallback chunks are marked by their rationale.
func (a *AgenticChunker) Chunk(ctx context.Context, text, model string, opts ChunkOptions) ([]domain.ChunkProposal, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Cancelledf("Chunking interrupted by user request.")
	}

	proposals, err := a.propose(ctx, text, model, opts)
	if err == nil {
		return proposals, nil
	}
	if domain.IsCancelled(err) || ctx.Err() != nil {
		return nil, err
	}

	a.logger.WithError(err).WithFields(logrus.Fields{
		"model":      model,
		"text_chars": len(text),
	}).Warn("Agentic chunking failed, falling back to deterministic chunker")

	fallback, fbErr := ChunkDeterministic(text, opts)
	if fbErr != nil {
		return nil, fbErr
	}
	for i := range fallback {
		fallback[i].Rationale = rationaleFallback
	}
	return fallback, nil
}

func (a *AgenticChunker) propose(ctx context.Context, text, model string, opts ChunkOptions) ([]domain.ChunkProposal, error) {
	systemPrompt, err := a.prompts.Load(agenticSelectorPrompt)
	if err != nil {
		return nil, err
	}
	userPrompt := fmt.Sprintf(
		`Return JSON with this schema: {"chunks":[{"text":"...","rationale":"..."}]}. `+
			"Constraints: max_chunk_chars=%d, min_chunk_chars=%d.\n\nTEXT:\n%s",
		opts.MaxChunkChars, opts.MinChunkChars, text,
	)

	completion, err := a.chat.Complete(ctx, model, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	payload, err := ExtractJSONObject(completion)
	if err != nil {
		return nil, err
	}
	rawChunks, ok := payload["chunks"].([]interface{})
	if !ok || len(rawChunks) == 0 {
		return nil, domain.Validationf("Agentic chunking did not return any chunks")
	}

	source := []rune(text)
	proposals := make([]domain.ChunkProposal, 0, len(rawChunks))
	cursor := 0
	for index, rawChunk := range rawChunks {
		entry, ok := rawChunk.(map[string]interface{})
		if !ok {
			return nil, domain.Validationf("Agentic chunk entry is malformed")
		}
		textValue, ok := entry["text"].(string)
		if !ok || strings.TrimSpace(textValue) == "" {
			return nil, domain.Validationf("Agentic chunk text is missing")
		}
		chunkText := strings.TrimSpace(textValue)

		rationale := rationaleAgentic
		if r, ok := entry["rationale"].(string); ok {
			rationale = r
		}

		start, end := locateChunk(source, chunkText, cursor)
		proposals = append(proposals, domain.ChunkProposal{
			ChunkIndex: index,
			StartChar:  start,
			EndChar:    end,
			Text:       chunkText,
			Rationale:  rationale,
		})
		cursor = end
	}
	return proposals, nil
}
