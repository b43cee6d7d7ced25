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

	"market-quorum/internal/advisor"
	"market-quorum/internal/artifact"
	"market-quorum/internal/bot"
	"market-quorum/internal/cache"
	"market-quorum/internal/config"
	"market-quorum/internal/db"
	"market-quorum/internal/ensemble"
	"market-quorum/internal/evaluator"
	"market-quorum/internal/features"
	"market-quorum/internal/handler"
	"market-quorum/internal/job"
	"market-quorum/internal/ledger"
	"market-quorum/internal/predictor"
	"market-quorum/internal/provider"
	"market-quorum/internal/replay"
	"market-quorum/internal/repository"
	"market-quorum/internal/service"
	"market-quorum/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc        = godotenv.Load
	loadConfigFunc     = config.Load
	initPostgresFunc   = db.InitPostgres
	initRedisFunc      = cache.InitRedis
	initTracerFunc     = tracing.InitTracer
	newBarProviderFunc = func(tracer trace.Tracer) service.BarProvider {
		return provider.NewYahooProvider(tracer)
	}
	startJobFunc         = func(start func(context.Context), ctx context.Context) { go start(ctx) }
	startTelegramBotFunc = bot.StartTelegramBot
	newRouterFunc        = gin.Default
	setupSignalNotify    = signal.Notify
	waitForSignalFunc    = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc  = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServer   = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Repositories and stores
	priceRepo := repository.NewPriceRepository(db.Pool, tracer)
	ledgerRepo := ledger.NewRepository(db.Pool, tracer)
	artifactStore := artifact.NewStore(db.Pool, tracer)
	convRepo := repository.NewConversationRepository(db.Pool, tracer)
	if db.Pool != nil {
		for _, migrate := range []func(context.Context) error{
			priceRepo.RunMigrations,
			ledgerRepo.RunMigrations,
			artifactStore.RunMigrations,
			convRepo.RunMigrations,
		} {
			if err := migrate(ctx); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
	}

	// Domain services
	barProvider := newBarProviderFunc(tracer)
	ingestService := service.NewIngestService(tracer, barProvider, priceRepo)

	assembler := features.NewAssembler(priceRepo, tracer)
	bank := predictor.NewBank(artifactStore, tracer, cfg.MinTrainRows)
	ensembleService := ensemble.NewService(assembler, bank, tracer)

	evaluatorService := evaluator.NewService(ledgerRepo, priceRepo, evaluator.Thresholds{
		MAE:              cfg.MAEThreshold,
		StdError:         cfg.StdErrorThreshold,
		BuyAccuracyFloor: cfg.BuyAccuracyFloor,
		MinPredictions:   cfg.ReportMinPredictions,
	}, tracer)

	replayDriver := replay.NewDriver(ensembleService, ledgerRepo, priceRepo, cfg.PredictionDateOffsetDays, tracer)

	predictionCache := cache.NewPredictionCache(cache.Client, time.Duration(cfg.PredictionTTLSecs)*time.Second)
	predictionService := service.NewPredictionService(
		tracer, ensembleService, ledgerRepo, priceRepo, artifactStore, assembler, bank,
		predictionCache, cfg.Symbols, cfg.PredictionDateOffsetDays, cfg.KeepLatestArtifacts,
	)

	// Advisor (optional)
	var advisorSvc *advisor.AdvisorService
	if cfg.OpenAIAPIKey != "" {
		llmClient := advisor.NewOpenAIClient(cfg.OpenAIAPIKey)
		advisorSvc = advisor.NewAdvisorService(tracer, llmClient, predictionService,
			evaluatorService, convRepo, cfg.OpenAIModel, 20, cfg.ReportWindowDays)
		log.Println("Advisor service enabled")
	}

	// Background jobs, stopped by ctx cancel
	ingestPoller := job.NewIngestPoller(tracer, ingestService, cfg.Symbols, "1mo", cfg.IngestPollSecs)
	predictJob := job.NewPredictJob(tracer, predictionService, cfg.PredictHourUTC)
	validateJob := job.NewValidateJob(tracer, predictionService, cfg.ValidateHourUTC)
	if db.Pool != nil {
		startJobFunc(ingestPoller.Start, ctx)
		startJobFunc(predictJob.Start, ctx)
		startJobFunc(validateJob.Start, ctx)
	}

	// Telegram bot
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	startTelegramBotFunc(predictionService, evaluatorService, advisorSvc)

	// HTTP surface
	h := handler.New(tracer, predictionService, ingestService, evaluatorService, replayDriver,
		cfg.ReportWindowDays, cfg.RetrainWindowDays, cfg.RetrainMinPreds)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("market-quorum"))
	r.Use(handler.APIKeyAuth(cfg.APIKey))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServer(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
