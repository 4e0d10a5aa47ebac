package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/prompts"
)

// contextualHeaderPrompt names the system prompt for llm-mode headers.
const contextualHeaderPrompt = "contextual_chunk_header.md"

// HeaderGenerator produces the contextual header for each chunk, either
// by asking the chat model (mode "llm") or from a deterministic
// template. Headers situate a chunk within its document so retrieval
// works on self-describing text.
type HeaderGenerator struct {
	chat    ChatCompleter
	prompts *prompts.Loader
	logger  *logrus.Logger
}

func NewHeaderGenerator(chat ChatCompleter, loader *prompts.Loader, logger *logrus.Logger) *HeaderGenerator {
	if logger == nil {
		logger = logrus.New()
	}
	return &HeaderGenerator{
		chat:    chat,
		prompts: loader,
		logger:  logger,
	}
}

// Contextualize returns one enriched chunk per proposal, preserving
// order and offsets. The contextualized text is the header joined to the
// chunk text by a blank line. Cancellation is honored between chunks;
// the chat client honors it in-flight.
func (g *HeaderGenerator) Contextualize(
	ctx context.Context,
	documentName string,
	fullDocumentText string,
	chunks []domain.ChunkProposal,
	mode string,
	model string,
) ([]domain.ContextualizedChunk, error) {
	contextualized := make([]domain.ContextualizedChunk, 0, len(chunks))

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, domain.Cancelledf("Operation interrupted by user request.")
		}

		var header string
		if mode == domain.ContextualizationLLM {
			generated, err := g.llmHeader(ctx, model, documentName, fullDocumentText, chunk.Text)
			if err != nil {
				return nil, err
			}
			header = generated
		} else {
			header = templateHeader(documentName, chunk.ChunkIndex)
		}

		contextualized = append(contextualized, domain.ContextualizedChunk{
			ChunkIndex:         chunk.ChunkIndex,
			StartChar:          chunk.StartChar,
			EndChar:            chunk.EndChar,
			Rationale:          chunk.Rationale,
			ChunkText:          chunk.Text,
			ContextHeader:      header,
			ContextualizedText: strings.TrimSpace(header + "\n\n" + chunk.Text),
		})
	}

	return contextualized, nil
}

func (g *HeaderGenerator) llmHeader(ctx context.Context, model, documentName, fullDocumentText, chunkText string) (string, error) {
	systemPrompt, err := g.prompts.Load(contextualHeaderPrompt)
	if err != nil {
		return "", err
	}
	userPrompt := fmt.Sprintf(
		"DOCUMENT NAME: %s\n\nFULL DOCUMENT:\n%s\n\nTARGET CHUNK:\n%s\n\nReturn only the contextual header sentence(s).",
		documentName, fullDocumentText, chunkText,
	)

	response, err := g.chat.Complete(ctx, model, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return StripThinking(response), nil
}

func templateHeader(documentName string, chunkIndex int) string {
	return fmt.Sprintf("Document '%s', chunk %d.", documentName, chunkIndex+1)
}
