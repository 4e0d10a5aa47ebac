// The inference service is the OpenAI-compatible gateway in front of
// Ollama and the reranker backend. It listens on port 8010.
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/cache"
	"dev.ragsuite.platform/internal/config"
	"dev.ragsuite.platform/internal/handlers"
	"dev.ragsuite.platform/internal/inference"
	"dev.ragsuite.platform/internal/router"
)

const serviceName = "rag-suite-inference"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Inference gateway failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ollama := inference.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.KeepAlive, cfg.Ollama.Timeout, logger)
	rerankerClient := inference.NewRerankerClient(cfg.Gateway.RerankerURL, cfg.Gateway.RerankerTimeout, logger)

	// The embed cache is optional; a nil interface degrades every call
	// to a miss inside the service.
	var embedCache inference.EmbedCache
	if cfg.Gateway.EmbedCacheEnabled {
		redisCache := cache.NewEmbeddingCache(cfg.Redis, cfg.Gateway.EmbedCacheTTL, logger)
		defer redisCache.Close()
		embedCache = redisCache
	}

	service := inference.NewService(ollama, rerankerClient, embedCache, logger)
	handler := handlers.NewGatewayHandler(service, logger)

	server := router.New(serviceName, cfg.Server, logger, func(engine *gin.Engine) {
		engine.GET("/v1/health", handlers.HealthRoute(serviceName))
		handler.RegisterRoutes(engine.Group("/v1"))
	})

	return router.Run(server, cfg.Server.Addr(cfg.Gateway.Port))
}
