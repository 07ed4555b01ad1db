package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oscillatelabsllc/memoria/internal/config"
	"github.com/oscillatelabsllc/memoria/internal/conversation"
	"github.com/oscillatelabsllc/memoria/internal/embedding"
	"github.com/oscillatelabsllc/memoria/internal/indexsvc"
	"github.com/oscillatelabsllc/memoria/internal/llm"
	"github.com/oscillatelabsllc/memoria/internal/mcpserver"
	"github.com/oscillatelabsllc/memoria/internal/notify"
	"github.com/oscillatelabsllc/memoria/internal/objectstore"
	"github.com/oscillatelabsllc/memoria/internal/reflection"
	"github.com/oscillatelabsllc/memoria/internal/reminder"
	"github.com/oscillatelabsllc/memoria/internal/sandbox"
	"github.com/oscillatelabsllc/memoria/internal/scheduler"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := objectstore.NewDuckDBStore(cfg.ObjectStorePath)
	if err != nil {
		log.Fatalf("object store: %v", err)
	}
	defer store.Close()

	embedder := embedding.NewClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)

	index, err := indexsvc.NewService(ctx, cfg.IndexStorePath, embedder)
	if err != nil {
		log.Fatalf("index service: %v", err)
	}
	defer index.Close()

	reminders := reminder.NewScheduler(store)
	conversations := conversation.NewIndexer(store, index)
	sbox := sandbox.New(sandbox.NewStoreMemory(store))
	staging := reflection.NewStaging(store)

	primaryClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.PrimaryModel)
	fastClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.FastModel)
	notifier := notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookAuthKey, cfg.WebhookSpaceID)

	reflectionController := reflection.NewController(
		store, index, reflection.IndexSearcher{Service: index}, staging, notifier, fastClient, primaryClient, cfg.UseAgenticReflection,
	)

	sched := scheduler.New(reflectionController)
	go sched.Start(ctx)
	defer sched.Stop()

	server := mcpserver.NewServer(mcpserver.Deps{
		Store:         store,
		Index:         index,
		Reminders:     reminders,
		Conversations: conversations,
		Sandbox:       sbox,
		Staging:       staging,
		Reflection:    reflectionController,
		AuthToken:     cfg.AuthToken,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	fmt.Fprintf(os.Stderr, "===================================\n")
	fmt.Fprintf(os.Stderr, "memoriad starting...\n")
	fmt.Fprintf(os.Stderr, "Listening: %s\n", cfg.ListenAddr)
	fmt.Fprintf(os.Stderr, "Object store: %s\n", cfg.ObjectStorePath)
	fmt.Fprintf(os.Stderr, "Index store: %s\n", cfg.IndexStorePath)
	fmt.Fprintf(os.Stderr, "Embedding model: %s (%s)\n", cfg.EmbeddingModel, cfg.EmbeddingBaseURL)
	fmt.Fprintf(os.Stderr, "LLM: primary=%s fast=%s (%s)\n", cfg.PrimaryModel, cfg.FastModel, cfg.LLMBaseURL)
	fmt.Fprintf(os.Stderr, "Agentic reflection: %v\n", cfg.UseAgenticReflection)
	fmt.Fprintf(os.Stderr, "===================================\n")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http server shutdown: %v", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}
