// Command api serves the Task Orchestrator's HTTP surface: task creation,
// status, and cancellation, plus the worker's dispatch callback. Wiring
// and graceful shutdown follow the teacher's examples/weather-tool-v2
// entry point shape, adapted from core.NewFramework's Tool/Agent lifecycle
// to Orchestrator's own http.Server since it is neither.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/deepauras/auroraflow/bootstrap"
)

func main() {
	cfg := bootstrap.LoadFromEnv()

	port := cfg.Orchestrator.Port
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("api: failed to wire runtime: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: rt.Server,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("api: shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("api: shutdown error: %v", err)
		}
	}()

	log.Printf("api: listening on :%d\n", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("api: server error: %v", err)
	}
	log.Println("api: shutdown complete")
}
