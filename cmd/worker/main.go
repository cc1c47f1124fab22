// Command worker runs the Task Orchestrator's dispatch loop: it drains the
// Work Queue and, for each delivery, compiles and runs the target
// template's executor, following the teacher's graceful-shutdown shape
// (examples/weather-tool-v2) around the BRPOP consumer loop that
// orchestration/redis_task_queue.go established.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deepauras/auroraflow/bootstrap"
	"github.com/deepauras/auroraflow/orchestrator"
)

func main() {
	cfg := bootstrap.LoadFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("worker: failed to wire runtime: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("worker: shutting down gracefully...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()

		select {
		case <-shutdownCtx.Done():
			log.Println("worker: shutdown timeout exceeded")
			os.Exit(1)
		case <-time.After(1 * time.Second):
		}

		log.Println("worker: shutdown complete")
		os.Exit(0)
	}()

	log.Printf("worker: dispatch loop starting (redis=%s, poll_timeout=%s)\n", cfg.RedisURL, cfg.Orchestrator.DispatchPollTimeout)
	orchestrator.DispatchLoop(ctx, rt.Orchestrator, rt.WorkQueue, cfg.Orchestrator.DispatchPollTimeout, rt.Logger)
	log.Println("worker: dispatch loop stopped")
}
