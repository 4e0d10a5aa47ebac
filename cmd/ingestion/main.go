// The ingestion service is the control plane of the suite: project
// namespaces, the normalize/chunk/contextualize pipeline, and document
// ingest into SQLite plus Qdrant. It listens on port 8000.
package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/config"
	"dev.ragsuite.platform/internal/database"
	"dev.ragsuite.platform/internal/handlers"
	"dev.ragsuite.platform/internal/inference"
	"dev.ragsuite.platform/internal/ingestion"
	"dev.ragsuite.platform/internal/operations"
	"dev.ragsuite.platform/internal/pipeline"
	"dev.ragsuite.platform/internal/prompts"
	"dev.ragsuite.platform/internal/router"
	"dev.ragsuite.platform/internal/vectorstore"
)

const serviceName = "rag-suite-ingestion"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Ingestion service failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	db, err := database.Open(ctx, cfg.Ingestion.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := database.NewStore(ctx, db, logger)
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

	ollama := inference.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.KeepAlive, cfg.Ollama.Timeout, logger)
	loader := prompts.NewLoader(cfg.Ingestion.PromptsDir)

	service := ingestion.NewService(
		store,
		vectors,
		ollama,
		pipeline.NewAgenticChunker(ollama, loader, logger),
		pipeline.NewHeaderGenerator(ollama, loader, logger),
		ingestion.ServiceOptions{
			DefaultChatModel:      cfg.Ollama.ChatModel,
			DefaultEmbeddingModel: cfg.Ollama.EmbeddingModel,
			Versions: ingestion.PipelineVersions{
				Normalization:     cfg.Ingestion.NormalizationVersion,
				Chunking:          cfg.Ingestion.ChunkingVersion,
				Contextualization: cfg.Ingestion.ContextualizationVersion,
			},
		},
		logger,
	)
	projects := ingestion.NewProjectService(store, vectors, cfg.Qdrant.CollectionPrefix, logger)
	handler := handlers.NewIngestionHandler(service, projects, operations.NewManager(logger), logger)

	server := router.New(serviceName, cfg.Server, logger, func(engine *gin.Engine) {
		engine.GET("/v1/health", handlers.HealthRoute(serviceName))
		handler.RegisterRoutes(engine.Group("/v1"))
	})

	return router.Run(server, cfg.Server.Addr(cfg.Ingestion.Port))
}
