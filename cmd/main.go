package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/stablewatch/ingest/internal/classify"
	"github.com/stablewatch/ingest/internal/config"
	"github.com/stablewatch/ingest/internal/content"
	"github.com/stablewatch/ingest/internal/ingest"
	"github.com/stablewatch/ingest/internal/model"
	"github.com/stablewatch/ingest/internal/notifier"
	"github.com/stablewatch/ingest/internal/server"
	"github.com/stablewatch/ingest/internal/source"
	"github.com/stablewatch/ingest/internal/storage"
	"github.com/stablewatch/ingest/internal/summary"
)

func main() {
	cfg := config.Get()

	db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
	if err != nil {
		log.Printf("failed to connect to database: %v", err)
		return
	}
	defer db.Close()

	var (
		sourceStorage  = storage.NewSourcePostgresStorage(db)
		articleStorage = storage.NewArticlePostgresStorage(db)
		issueStorage   = storage.NewIssuePostgresStorage(db)
		logStorage     = storage.NewIngestLogPostgresStorage(db)

		feedClient = source.NewClient(cfg.FetchTimeout, cfg.UserAgent)
	)

	var feedParser source.FeedParser = source.NewPatternParser()
	if cfg.FeedParser == "strict" {
		feedParser = source.NewStrictParser()
	}

	opts := ingest.Options{
		Budget:     cfg.RunBudget(),
		Lookback:   cfg.IssueLookback(),
		HashWindow: cfg.HashDedupWindow(),
		URLBatch:   cfg.URLDedupBatch,
	}
	if cfg.OpenAIKey != "" {
		opts.Summarizer = summary.NewOpenAISummarizer(cfg.OpenAIKey, cfg.OpenAIPrompt)
	}
	if cfg.FetchArticleContent {
		opts.Extractor = content.NewExtractor(cfg.FetchTimeout, cfg.UserAgent)
	}

	runner := ingest.NewRunner(
		sourceStorage,
		articleStorage,
		issueStorage,
		logStorage,
		classify.NewDefault(),
		func(src model.Source) ingest.Feed {
			return source.NewFeedSource(src, feedClient, feedParser)
		},
		opts,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Self-scheduled ingest worker, for deployments without an external
	// cron. The HTTP trigger below works either way.
	if cfg.FetchInterval > 0 {
		go func(ctx context.Context) {
			if err := runner.Start(ctx, cfg.FetchInterval); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("[ERROR] ingest worker stopped: %v", err)
					return
				}
				log.Println("ingest worker stopped")
			}
		}(ctx)
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChannelID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Printf("failed to create bot: %v", err)
			return
		}

		articleNotifier := notifier.New(
			articleStorage,
			botAPI,
			cfg.NotificationInterval,
			2*cfg.NotificationInterval,
			cfg.NotifyMinScore,
			cfg.TelegramChannelID,
		)

		go func(ctx context.Context) {
			if err := articleNotifier.Start(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("[ERROR] notifier stopped: %v", err)
					return
				}
				log.Println("notifier stopped")
			}
		}(ctx)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(cfg.CronSecret, runner).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[ERROR] server shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[ERROR] server stopped: %v", err)
	}
}
