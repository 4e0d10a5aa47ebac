package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
	"dev.ragsuite.platform/internal/prompts"
)

// Prompt templates loaded once at startup. The user template carries
// {question} and {retrieved_context} placeholders.
const (
	systemPromptFile = "hybrid_rag_system.md"
	userPromptFile   = "hybrid_rag_user.md"
)

// GraphState flows through the retrieve and generate nodes. The chat
// service seeds the inputs; each node fills in its outputs.
type GraphState struct {
	Mode      string
	SessionID string

	ProjectID   string
	DocumentIDs []string

	TopK                 int
	DenseTopK            int
	SparseTopK           int
	DenseWeight          float64
	RerankCandidateCount int

	EmbeddingModel string
	RerankModel    string
	ChatModel      string
	HistoryWindow  int

	Messages []domain.ChatMessage

	// Node outputs.
	Query            string
	RetrievalContext string
	HybridCandidates []domain.RankedSource
	Sources          []domain.RankedSource
	Documents        []domain.SourceDocument
	Answer           string
}

func (s *GraphState) retrievalOptions(query string) RetrievalOptions {
	return RetrievalOptions{
		ProjectID:      s.ProjectID,
		Query:          query,
		DocumentIDs:    s.DocumentIDs,
		TopK:           s.TopK,
		DenseTopK:      s.DenseTopK,
		SparseTopK:     s.SparseTopK,
		DenseWeight:    s.DenseWeight,
		EmbeddingModel: s.EmbeddingModel,
	}
}

// Graph is the retrieve→generate pipeline behind both chat variants.
// The reranked variant carries a RerankedRetriever, the plain variant a
// hybrid Retriever. Session threads persist through the checkpoint
// store with one serialized writer per thread id.
type Graph struct {
	retriever   *Retriever
	reranked    *RerankedRetriever
	generator   Generator
	checkpoints CheckpointStore

	threadPrefix       string
	systemPrompt       string
	userPromptTemplate string

	mu      sync.Mutex
	threads map[string]*sync.Mutex

	logger *logrus.Logger
}

// NewHybridGraph wires the dense+sparse variant. Prompt templates are
// read once here; a missing file fails construction.
func NewHybridGraph(retriever *Retriever, generator Generator, checkpoints CheckpointStore, loader *prompts.Loader, logger *logrus.Logger) (*Graph, error) {
	return newGraph(retriever, nil, generator, checkpoints, "hybrid", loader, logger)
}

// NewRerankedGraph wires the cross-encoder variant.
func NewRerankedGraph(reranked *RerankedRetriever, generator Generator, checkpoints CheckpointStore, loader *prompts.Loader, logger *logrus.Logger) (*Graph, error) {
	return newGraph(nil, reranked, generator, checkpoints, "reranked", loader, logger)
}

func newGraph(retriever *Retriever, reranked *RerankedRetriever, generator Generator, checkpoints CheckpointStore, prefix string, loader *prompts.Loader, logger *logrus.Logger) (*Graph, error) {
	if logger == nil {
		logger = logrus.New()
	}

	systemPrompt, err := loader.Load(systemPromptFile)
	if err != nil {
		return nil, err
	}
	userTemplate, err := loader.Load(userPromptFile)
	if err != nil {
		return nil, err
	}

	return &Graph{
		retriever:          retriever,
		reranked:           reranked,
		generator:          generator,
		checkpoints:        checkpoints,
		threadPrefix:       prefix,
		systemPrompt:       systemPrompt,
		userPromptTemplate: userTemplate,
		threads:            make(map[string]*sync.Mutex),
		logger:             logger,
	}, nil
}

func (g *Graph) rerankEnabled() bool { return g.reranked != nil }

// ThreadID is the checkpoint key for one session conversation. The
// variant prefix keeps hybrid and reranked histories apart.
func (g *Graph) ThreadID(projectID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", g.threadPrefix, projectID, sessionID)
}

// Invoke runs retrieve→generate over a prepared state.
func (g *Graph) Invoke(ctx context.Context, state *GraphState) error {
	if err := g.retrieveNode(ctx, state); err != nil {
		return err
	}
	return g.generateNode(ctx, state)
}

// MergeThreadHistory prepends the persisted thread messages so the
// current question sits last, the same shape the thread will replay on
// the next call. Reads do not take the thread write lock.
func (g *Graph) MergeThreadHistory(ctx context.Context, state *GraphState) error {
	threadID := g.ThreadID(state.ProjectID, state.SessionID)
	history, err := g.checkpoints.History(ctx, threadID)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		state.Messages = append(history, state.Messages...)
	}
	return nil
}

// PrepareStream runs the retrieve node and returns the generation
// messages, so the caller can emit stream metadata before the first
// token arrives.
func (g *Graph) PrepareStream(ctx context.Context, state *GraphState) ([]domain.ChatMessage, error) {
	if err := g.retrieveNode(ctx, state); err != nil {
		return nil, err
	}
	return g.buildGenerationMessages(state), nil
}

// StreamGeneration forwards generation deltas in upstream order and
// returns the concatenated answer.
func (g *Graph) StreamGeneration(ctx context.Context, model string, messages []domain.ChatMessage, onDelta func(content string) error) (string, error) {
	return g.generator.ChatStream(ctx, GenerationRequest{Model: model, Messages: messages}, onDelta)
}

// PersistTurn appends one user/assistant exchange to the session thread.
// An empty user message skips the append entirely; writes on the same
// thread serialize behind a per-thread lock.
func (g *Graph) PersistTurn(ctx context.Context, projectID, sessionID, userContent, assistantContent string) error {
	userContent = strings.TrimSpace(userContent)
	assistantContent = strings.TrimSpace(assistantContent)
	if userContent == "" {
		return nil
	}

	threadID := g.ThreadID(projectID, sessionID)
	lock := g.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()
	return g.checkpoints.AppendTurn(ctx, threadID, userContent, assistantContent)
}

func (g *Graph) threadLock(threadID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		g.threads[threadID] = lock
	}
	return lock
}

// retrieveNode resolves the current question, runs the configured
// retrieval stage, and renders the XML context for generation.
func (g *Graph) retrieveNode(ctx context.Context, state *GraphState) error {
	query, err := latestUserQuery(state.Messages)
	if err != nil {
		return err
	}
	state.Query = query

	if g.reranked != nil {
		result, err := g.reranked.Retrieve(ctx, RerankOptions{
			RetrievalOptions:     state.retrievalOptions(query),
			RerankModel:          state.RerankModel,
			RerankCandidateCount: state.RerankCandidateCount,
		})
		if err != nil {
			return err
		}
		state.HybridCandidates = result.HybridCandidates
		state.Sources = result.Sources
		state.Documents = result.Documents
	} else {
		result, err := g.retriever.Retrieve(ctx, state.retrievalOptions(query))
		if err != nil {
			return err
		}
		state.Sources = result.Sources
		state.Documents = result.Documents
	}

	state.RetrievalContext = BuildSourceContext(state.Sources)
	return nil
}

// generateNode asks the chat model for a grounded answer and records the
// assistant turn on the running message list.
func (g *Graph) generateNode(ctx context.Context, state *GraphState) error {
	messages := g.buildGenerationMessages(state)
	answer, err := g.generator.Chat(ctx, GenerationRequest{Model: state.ChatModel, Messages: messages})
	if err != nil {
		return err
	}

	state.Answer = answer
	state.Messages = append(state.Messages, domain.ChatMessage{Role: domain.RoleAssistant, Content: answer})
	return nil
}

// buildGenerationMessages composes [system, history window, user prompt].
// The trailing user message is the current question and never counts
// against the history window; a window of zero drops all carryover.
func (g *Graph) buildGenerationMessages(state *GraphState) []domain.ChatMessage {
	query := strings.TrimSpace(state.Query)
	history := conversationHistory(state.Messages)
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser {
		if current := history[n-1].Content; current != "" {
			query = current
		}
		history = history[:n-1]
	}
	state.Query = query

	window := state.HistoryWindow
	if window < 0 {
		window = 0
	}
	if window == 0 {
		history = nil
	} else if len(history) > window {
		history = history[len(history)-window:]
	}

	retrievalContext := state.RetrievalContext
	if retrievalContext == "" {
		retrievalContext = emptySourceSet
	}
	userPrompt := strings.NewReplacer(
		"{question}", query,
		"{retrieved_context}", retrievalContext,
	).Replace(g.userPromptTemplate)

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: g.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: userPrompt})
	return messages
}

// latestUserQuery resolves the question driving retrieval: the most
// recent user message with non-blank content.
func latestUserQuery(messages []domain.ChatMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != domain.RoleUser {
			continue
		}
		if content := strings.TrimSpace(messages[i].Content); content != "" {
			return content, nil
		}
	}
	return "", domain.Validationf("Conversation has no user message to answer")
}

// conversationHistory filters a raw thread down to the non-empty
// user/assistant/system rows the LLM accepts, contents trimmed.
func conversationHistory(messages []domain.ChatMessage) []domain.ChatMessage {
	rows := make([]domain.ChatMessage, 0, len(messages))
	for _, message := range messages {
		content := strings.TrimSpace(message.Content)
		if content == "" {
			continue
		}
		switch message.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
			rows = append(rows, domain.ChatMessage{Role: message.Role, Content: content})
		}
	}
	return rows
}
