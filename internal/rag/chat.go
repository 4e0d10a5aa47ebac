package rag

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/domain"
)

// ChatDefaults are the config-driven fallbacks applied to blank or
// omitted request fields.
type ChatDefaults struct {
	ChatModel            string
	EmbeddingModel       string
	RerankModel          string
	TopK                 int
	DenseTopK            int
	SparseTopK           int
	DenseWeight          float64
	RerankCandidateCount int
	HistoryWindow        int
}

// ChatRequest is the payload shared by the four chat endpoints of one
// variant. Zero-valued tuning fields take the service defaults; the
// pointer fields distinguish an explicit zero from an omitted one where
// zero is meaningful.
type ChatRequest struct {
	ProjectID   string   `json:"project_id"`
	Message     string   `json:"message"`
	DocumentIDs []string `json:"document_ids,omitempty"`

	TopK        int      `json:"top_k,omitempty"`
	DenseTopK   int      `json:"dense_top_k,omitempty"`
	SparseTopK  int      `json:"sparse_top_k,omitempty"`
	DenseWeight *float64 `json:"dense_weight,omitempty"`

	RerankModel          string `json:"rerank_model,omitempty"`
	RerankCandidateCount int    `json:"rerank_candidate_count,omitempty"`

	EmbeddingModel        string `json:"embedding_model,omitempty"`
	ChatModel             string `json:"chat_model,omitempty"`
	HistoryWindowMessages *int   `json:"history_window_messages,omitempty"`

	// SessionID is honored by the session endpoints only. Blank means
	// start a fresh session under a generated id.
	SessionID string `json:"session_id,omitempty"`
}

// StreamEmitter writes one downstream SSE event. The chat service calls
// it strictly in meta, delta*, done order.
type StreamEmitter func(event string, data any) error

// streamMeta is the first event of every stream.
type streamMeta struct {
	Mode           string `json:"mode"`
	SessionID      string `json:"session_id"`
	ProjectID      string `json:"project_id"`
	Query          string `json:"query"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
	RerankModel    string `json:"rerank_model,omitempty"`
}

// streamDelta carries one upstream token chunk.
type streamDelta struct {
	Content string `json:"content"`
}

// ChatService answers grounded questions over one graph variant and
// keeps UI-facing session records in step with the conversation. The
// session store is optional; without one only the checkpoint thread
// carries memory.
type ChatService struct {
	graph    *Graph
	sessions SessionWriter
	defaults ChatDefaults
	logger   *logrus.Logger
}

func NewChatService(graph *Graph, sessions SessionWriter, defaults ChatDefaults, logger *logrus.Logger) *ChatService {
	if logger == nil {
		logger = logrus.New()
	}
	if defaults.HistoryWindow < 0 {
		defaults.HistoryWindow = 0
	}
	return &ChatService{
		graph:    graph,
		sessions: sessions,
		defaults: defaults,
		logger:   logger,
	}
}

// Chat answers one question in batch mode. Session mode merges the
// thread history before the pipeline and persists the new turn after it.
func (s *ChatService) Chat(ctx context.Context, mode string, req ChatRequest) (*domain.ChatResponse, error) {
	resolved, err := s.resolveRequest(req)
	if err != nil {
		return nil, err
	}

	state := s.buildState(resolved, mode)
	if mode == domain.ModeSession {
		if err := s.graph.MergeThreadHistory(ctx, state); err != nil {
			return nil, err
		}
	}

	if err := s.graph.Invoke(ctx, state); err != nil {
		return nil, err
	}

	response := s.buildResponse(state)
	if mode == domain.ModeSession {
		if err := s.persistTurn(ctx, state, resolved, response); err != nil {
			return nil, err
		}
	}
	return response, nil
}

// ChatStream answers one question over SSE: one meta event, a delta per
// upstream token chunk, then the full response envelope as done. The
// caller converts a returned error into the stream's single error event.
func (s *ChatService) ChatStream(ctx context.Context, mode string, req ChatRequest, emit StreamEmitter) error {
	resolved, err := s.resolveRequest(req)
	if err != nil {
		return err
	}

	state := s.buildState(resolved, mode)
	if mode == domain.ModeSession {
		if err := s.graph.MergeThreadHistory(ctx, state); err != nil {
			return err
		}
	}

	messages, err := s.graph.PrepareStream(ctx, state)
	if err != nil {
		return err
	}

	meta := streamMeta{
		Mode:           state.Mode,
		SessionID:      state.SessionID,
		ProjectID:      state.ProjectID,
		Query:          state.Query,
		ChatModel:      state.ChatModel,
		EmbeddingModel: state.EmbeddingModel,
		RerankModel:    state.RerankModel,
	}
	if err := emit("meta", meta); err != nil {
		return err
	}

	answer, err := s.graph.StreamGeneration(ctx, state.ChatModel, messages, func(content string) error {
		if content == "" {
			return nil
		}
		return emit("delta", streamDelta{Content: content})
	})
	if err != nil {
		return err
	}

	state.Answer = answer
	response := s.buildResponse(state)
	if mode == domain.ModeSession {
		if err := s.persistTurn(ctx, state, resolved, response); err != nil {
			return err
		}
	}
	return emit("done", response)
}

// resolveRequest fills defaults into blank fields and validates the
// result. Session ids are trimmed; a blank one gets a generated uuid.
func (s *ChatService) resolveRequest(req ChatRequest) (ChatRequest, error) {
	if req.TopK == 0 {
		req.TopK = s.defaults.TopK
	}
	if req.DenseTopK == 0 {
		req.DenseTopK = s.defaults.DenseTopK
	}
	if req.SparseTopK == 0 {
		req.SparseTopK = s.defaults.SparseTopK
	}
	if req.DenseWeight == nil {
		weight := s.defaults.DenseWeight
		req.DenseWeight = &weight
	}
	if strings.TrimSpace(req.EmbeddingModel) == "" {
		req.EmbeddingModel = s.defaults.EmbeddingModel
	}
	if strings.TrimSpace(req.ChatModel) == "" {
		req.ChatModel = s.defaults.ChatModel
	}

	window := s.defaults.HistoryWindow
	if req.HistoryWindowMessages != nil && *req.HistoryWindowMessages >= 0 {
		window = *req.HistoryWindowMessages
	}
	req.HistoryWindowMessages = &window

	if s.graph.rerankEnabled() {
		if strings.TrimSpace(req.RerankModel) == "" {
			req.RerankModel = s.defaults.RerankModel
		}
		if req.RerankCandidateCount == 0 {
			req.RerankCandidateCount = s.defaults.RerankCandidateCount
		}
	} else {
		req.RerankModel = ""
		req.RerankCandidateCount = 0
	}

	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	return req, s.validateRequest(req)
}

func (s *ChatService) validateRequest(req ChatRequest) error {
	if strings.TrimSpace(req.ProjectID) == "" {
		return domain.Validationf("project_id must not be empty")
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.Validationf("message must not be empty")
	}
	if req.TopK < 1 || req.TopK > 50 {
		return domain.Validationf("top_k must be between 1 and 50")
	}
	if req.DenseTopK < 1 || req.DenseTopK > 100 {
		return domain.Validationf("dense_top_k must be between 1 and 100")
	}
	if req.SparseTopK < 1 || req.SparseTopK > 100 {
		return domain.Validationf("sparse_top_k must be between 1 and 100")
	}
	if *req.DenseWeight < 0 || *req.DenseWeight > 1 {
		return domain.Validationf("dense_weight must be between 0.0 and 1.0")
	}
	if *req.HistoryWindowMessages > 40 {
		return domain.Validationf("history_window_messages must not exceed 40")
	}
	if s.graph.rerankEnabled() && (req.RerankCandidateCount < 1 || req.RerankCandidateCount > 100) {
		return domain.Validationf("rerank_candidate_count must be between 1 and 100")
	}
	return nil
}

func (s *ChatService) buildState(req ChatRequest, mode string) *GraphState {
	sessionID := ""
	if mode == domain.ModeSession {
		sessionID = req.SessionID
	}
	return &GraphState{
		Mode:                 mode,
		SessionID:            sessionID,
		ProjectID:            req.ProjectID,
		DocumentIDs:          req.DocumentIDs,
		TopK:                 req.TopK,
		DenseTopK:            req.DenseTopK,
		SparseTopK:           req.SparseTopK,
		DenseWeight:          *req.DenseWeight,
		RerankCandidateCount: req.RerankCandidateCount,
		EmbeddingModel:       req.EmbeddingModel,
		RerankModel:          req.RerankModel,
		ChatModel:            req.ChatModel,
		HistoryWindow:        *req.HistoryWindowMessages,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: req.Message},
		},
	}
}

// buildResponse extracts citations from the raw answer against the
// offered source ids, then strips the inline markers.
func (s *ChatService) buildResponse(state *GraphState) *domain.ChatResponse {
	rawAnswer := strings.TrimSpace(state.Answer)
	available := make(map[string]bool, len(state.Sources))
	for _, source := range state.Sources {
		available[source.SourceID] = true
	}

	response := &domain.ChatResponse{
		Mode:           state.Mode,
		SessionID:      state.SessionID,
		ProjectID:      state.ProjectID,
		Query:          state.Query,
		Answer:         CleanAnswer(rawAnswer),
		ChatModel:      state.ChatModel,
		EmbeddingModel: state.EmbeddingModel,
		RerankModel:    state.RerankModel,
		Sources:        state.Sources,
		Documents:      state.Documents,
		CitationsUsed:  ExtractCitations(rawAnswer, available),
		CreatedAt:      time.Now().UTC(),
	}
	if s.graph.rerankEnabled() {
		response.HybridCandidates = state.HybridCandidates
	}
	return response
}

// persistTurn checkpoints the conversation thread and snapshots the
// exchange onto the UI session record.
func (s *ChatService) persistTurn(ctx context.Context, state *GraphState, req ChatRequest, response *domain.ChatResponse) error {
	if err := s.graph.PersistTurn(ctx, state.ProjectID, state.SessionID, req.Message, response.Answer); err != nil {
		return err
	}
	if s.sessions == nil {
		return nil
	}
	return s.sessions.AppendTurn(ctx, SessionTurn{
		SessionID:           state.SessionID,
		ProjectID:           state.ProjectID,
		UserMessage:         req.Message,
		AssistantMessage:    response.Answer,
		SelectedDocumentIDs: req.DocumentIDs,
		LatestResponse:      response,
	})
}
