// The reranker service scores query-document pairs with ONNX
// cross-encoder models. It listens on port 8020.
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.ragsuite.platform/internal/config"
	"dev.ragsuite.platform/internal/handlers"
	"dev.ragsuite.platform/internal/reranker"
	"dev.ragsuite.platform/internal/router"
)

const serviceName = "rag-suite-reranker"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Reranker service failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	if err := reranker.InitRuntime(); err != nil {
		return err
	}
	defer reranker.ShutdownRuntime()

	device := reranker.ResolveDevice(cfg.Reranker.Device)
	logger.WithField("device", device).Info("Reranker compute device resolved")

	registry, err := reranker.LoadRegistry(cfg.Reranker.ModelsConfigPath, cfg.Reranker.ModelDir, cfg.Reranker.DefaultModel)
	if err != nil {
		return err
	}

	service := reranker.NewService(registry, reranker.ServiceOptions{
		Device:             device,
		MaxLength:          cfg.Reranker.MaxLength,
		BatchSize:          cfg.Reranker.BatchSize,
		UseFP16:            cfg.Reranker.UseFP16,
		UnloadAfterRequest: cfg.Reranker.UnloadAfterRequest,
	}, logger)
	defer service.UnloadAll()

	handler := handlers.NewRerankerHandler(service, logger)

	server := router.New(serviceName, cfg.Server, logger, func(engine *gin.Engine) {
		handler.RegisterRoutes(engine.Group("/v1"))
	})

	return router.Run(server, cfg.Server.Addr(cfg.Reranker.Port))
}
