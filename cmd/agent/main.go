package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tokosync/backend/internal/config"
	"tokosync/backend/internal/localstore"
	"tokosync/backend/internal/outbox"
	"tokosync/backend/internal/syncclient"
)

func main() {
	cfg := config.LoadAgent()

	store, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		log.Fatalf("open local store %s: %v", cfg.LocalDBPath, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close local store: %v", err)
		}
	}()

	queue := outbox.New(store, cfg.MaxAttempts)
	client := syncclient.New(queue, store, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("sync agent %s draining to %s every %s", cfg.TerminalID, cfg.ServerURL, cfg.SyncInterval)

	// Catch up immediately on startup, then settle into the loop.
	if summary, err := client.SyncOnce(ctx); err != nil {
		log.Printf("[agent] WARN: initial sync: %v", err)
	} else {
		log.Printf("initial sync: %s", summary.Message)
	}

	client.Run(ctx)

	log.Println("agent stopped")
}
