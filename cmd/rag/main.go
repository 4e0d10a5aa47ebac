// The rag service orchestrates retrieval-augmented answering over the
// other three: hybrid dense+sparse retrieval, optional cross-encoder
// reranking, grounded generation, and persisted sessions. It listens on
// port 8030.
package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/config"
	"dev.ragsuite.platform/internal/database"
	"dev.ragsuite.platform/internal/handlers"
	"dev.ragsuite.platform/internal/inference"
	"dev.ragsuite.platform/internal/prompts"
	"dev.ragsuite.platform/internal/rag"
	"dev.ragsuite.platform/internal/router"
	"dev.ragsuite.platform/internal/vectorstore"
)

const serviceName = "rag-suite-rag"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("RAG orchestrator failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	// The orchestrator reads the control-plane database for retrieval
	// candidates and keeps its own databases for sessions and per-thread
	// conversation memory.
	controlDB, err := database.Open(ctx, cfg.Ingestion.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer controlDB.Close()

	store, err := database.NewStore(ctx, controlDB, logger)
	if err != nil {
		return err
	}

	sessionsDB, err := database.Open(ctx, cfg.Orchestrator.SessionsPath, logger)
	if err != nil {
		return err
	}
	defer sessionsDB.Close()

	sessions, err := database.NewSessionStore(ctx, sessionsDB, logger)
	if err != nil {
		return err
	}

	// Both chat variants share one checkpoint store; thread ids carry a
	// hybrid/reranked prefix so their histories never mix.
	memoryDB, err := database.Open(ctx, cfg.Orchestrator.CheckpointPath, logger)
	if err != nil {
		return err
	}
	defer memoryDB.Close()

	memory, err := database.NewCheckpointStore(ctx, memoryDB, logger)
	if err != nil {
		return err
	}

	qdrantCfg, err := vectorstore.ParseURL(cfg.Qdrant.URL)
	if err != nil {
		return err
	}
	vectors, err := vectorstore.New(qdrantCfg, logger)
	if err != nil {
		return err
	}
	defer vectors.Close()

	gateway := inference.NewClient(cfg.Orchestrator.InferenceAPIURL, cfg.Orchestrator.InferenceTimeout, logger)
	loader := prompts.NewLoader(cfg.Orchestrator.PromptsDir)

	retriever := rag.NewRetriever(store, gateway, vectors, logger)
	reranked := rag.NewRerankedRetriever(retriever, gateway, logger)

	hybridGraph, err := rag.NewHybridGraph(retriever, gateway, memory, loader, logger)
	if err != nil {
		return err
	}
	rerankedGraph, err := rag.NewRerankedGraph(reranked, gateway, memory, loader, logger)
	if err != nil {
		return err
	}

	defaults := rag.ChatDefaults{
		ChatModel:            cfg.Orchestrator.ChatModel,
		EmbeddingModel:       cfg.Orchestrator.EmbeddingModel,
		RerankModel:          cfg.Orchestrator.RerankModel,
		TopK:                 cfg.Orchestrator.TopK,
		DenseTopK:            cfg.Orchestrator.DenseTopK,
		SparseTopK:           cfg.Orchestrator.SparseTopK,
		DenseWeight:          cfg.Orchestrator.DenseWeight,
		RerankCandidateCount: cfg.Orchestrator.RerankCandidateCount,
		HistoryWindow:        cfg.Orchestrator.HistoryWindow,
	}

	chatHandler := handlers.NewRAGHandler(
		rag.NewChatService(hybridGraph, sessions, defaults, logger),
		rag.NewChatService(rerankedGraph, sessions, defaults, logger),
		logger,
	)
	sessionHandler := handlers.NewSessionHandler(sessions, logger)

	server := router.New(serviceName, cfg.Server, logger, func(engine *gin.Engine) {
		engine.GET("/v1/health", handlers.HealthRoute(serviceName))
		v1 := engine.Group("/v1")
		chatHandler.RegisterRoutes(v1)
		sessionHandler.RegisterRoutes(v1)
	})

	return router.Run(server, cfg.Server.Addr(cfg.Orchestrator.Port))
}
