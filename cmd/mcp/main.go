package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"market-quorum/internal/artifact"
	"market-quorum/internal/cache"
	"market-quorum/internal/config"
	"market-quorum/internal/db"
	"market-quorum/internal/domain"
	"market-quorum/internal/ensemble"
	"market-quorum/internal/evaluator"
	"market-quorum/internal/features"
	"market-quorum/internal/ledger"
	"market-quorum/internal/predictor"
	"market-quorum/internal/replay"
	"market-quorum/internal/repository"
	"market-quorum/internal/service"
	"market-quorum/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer
	runServerFunc    = func(ctx context.Context, server *mcp.Server) error {
		return server.Run(ctx, &mcp.StdioTransport{})
	}
)

type symbolInput struct {
	Symbol string `json:"symbol" jsonschema:"instrument symbol, for example ^IBEX"`
}

type retrainInput struct {
	Symbol string `json:"symbol" jsonschema:"instrument symbol, for example ^IBEX"`
	Tune   bool   `json:"tune,omitempty" jsonschema:"run the hyperparameter search for every variant before fitting"`
}

type reportInput struct {
	Symbol     string `json:"symbol" jsonschema:"instrument symbol"`
	WindowDays int    `json:"window_days,omitempty" jsonschema:"lookback window in days, default 30"`
}

type retrainCheckInput struct {
	Symbol       string  `json:"symbol" jsonschema:"instrument symbol"`
	MAEThreshold float64 `json:"mae_threshold,omitempty" jsonschema:"average MAE above which a retrain is advised, defaults to the configured threshold"`
}

type replayInput struct {
	Symbol string `json:"symbol" jsonschema:"instrument symbol"`
	From   string `json:"from" jsonschema:"start date YYYY-MM-DD"`
	To     string `json:"to" jsonschema:"end date YYYY-MM-DD"`
}

type validateInput struct {
	Date string `json:"date,omitempty" jsonschema:"prediction date YYYY-MM-DD, defaults to yesterday"`
}

type signalOutput struct {
	Symbol string        `json:"symbol"`
	Signal domain.Signal `json:"signal"`
}

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	priceRepo := repository.NewPriceRepository(db.Pool, tracer)
	ledgerRepo := ledger.NewRepository(db.Pool, tracer)
	artifactStore := artifact.NewStore(db.Pool, tracer)

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

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "market-quorum",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "predict",
		Description: "Produce today's ensemble trading call for a symbol and record it in the ledger.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input symbolInput) (*mcp.CallToolResult, domain.EnsembleCall, error) {
		call, err := predictionService.Predict(ctx, input.Symbol)
		if err != nil {
			return nil, domain.EnsembleCall{}, err
		}
		return nil, call, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "simple_signal",
		Description: "Evaluate the rule-only moving-average signal for a symbol; no models run and nothing is recorded.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input symbolInput) (*mcp.CallToolResult, signalOutput, error) {
		signal, err := predictionService.SimpleSignal(ctx, input.Symbol)
		if err != nil {
			return nil, signalOutput{}, err
		}
		return nil, signalOutput{Symbol: input.Symbol, Signal: signal}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retrain",
		Description: "Force-retrain every model variant for a symbol on the latest stored history, reporting retrained and pruned counts.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input retrainInput) (*mcp.CallToolResult, domain.RetrainResult, error) {
		result, err := predictionService.Retrain(ctx, input.Symbol, input.Tune)
		if err != nil {
			return nil, domain.RetrainResult{}, err
		}
		return nil, result, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "report",
		Description: "Summarize per-model prediction accuracy for a symbol over a lookback window.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input reportInput) (*mcp.CallToolResult, domain.PerformanceSummary, error) {
		window := input.WindowDays
		if window <= 0 {
			window = cfg.ReportWindowDays
		}
		summary, err := evaluatorService.Report(ctx, input.Symbol, window, time.Now().UTC())
		if err != nil {
			return nil, domain.PerformanceSummary{}, err
		}
		return nil, summary, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "retrain_check",
		Description: "Advise whether a symbol's models should be retrained based on recent accuracy.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input retrainCheckInput) (*mcp.CallToolResult, domain.RetrainAdvice, error) {
		advice, err := evaluatorService.ShouldRetrain(ctx, input.Symbol, cfg.RetrainWindowDays, cfg.RetrainMinPreds, input.MAEThreshold, time.Now().UTC())
		if err != nil {
			return nil, domain.RetrainAdvice{}, err
		}
		return nil, advice, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "replay",
		Description: "Replay the daily prediction flow over stored history between two dates, grading each step.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input replayInput) (*mcp.CallToolResult, replay.Result, error) {
		from, err := time.Parse("2006-01-02", input.From)
		if err != nil {
			return nil, replay.Result{}, fmt.Errorf("invalid from date: %w", err)
		}
		to, err := time.Parse("2006-01-02", input.To)
		if err != nil {
			return nil, replay.Result{}, fmt.Errorf("invalid to date: %w", err)
		}
		if to.Before(from) {
			return nil, replay.Result{}, fmt.Errorf("to date precedes from date")
		}
		result, err := replayDriver.Run(ctx, input.Symbol, from, to)
		if err != nil {
			return nil, replay.Result{}, err
		}
		return nil, result, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate",
		Description: "Fill realized closes into pending ledger rows for a prediction date.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input validateInput) (*mcp.CallToolResult, domain.ValidationResult, error) {
		if input.Date == "" {
			result, err := predictionService.ValidateYesterday(ctx)
			if err != nil {
				return nil, domain.ValidationResult{}, err
			}
			return nil, result, nil
		}
		date, err := time.Parse("2006-01-02", input.Date)
		if err != nil {
			return nil, domain.ValidationResult{}, fmt.Errorf("invalid date: %w", err)
		}
		result, err := predictionService.Validate(ctx, date)
		if err != nil {
			return nil, domain.ValidationResult{}, err
		}
		return nil, result, nil
	})

	log.Println("MCP server listening on stdio")
	if err := runServerFunc(ctx, server); err != nil {
		log.Fatalf("MCP server stopped: %v", err)
	}
}
