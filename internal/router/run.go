package router

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// shutdownGrace bounds how long in-flight requests may drain on stop.
const shutdownGrace = 30 * time.Second

// Run serves on addr until SIGINT or SIGTERM, then shuts down
// gracefully. A listener failure surfaces immediately.
func Run(server *Server, addr string) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := server.Start(addr); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(ctx)
}
