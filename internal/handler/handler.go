package handler

import (
	"context"
	"time"

	"market-quorum/internal/domain"
	"market-quorum/internal/replay"
	"market-quorum/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Evaluator interface {
	Report(ctx context.Context, symbol string, windowDays int, now time.Time) (domain.PerformanceSummary, error)
	ShouldRetrain(ctx context.Context, symbol string, windowDays, minPredictions int, maeThreshold float64, now time.Time) (domain.RetrainAdvice, error)
}

type ReplayRunner interface {
	Run(ctx context.Context, symbol string, from, to time.Time) (replay.Result, error)
}

type Handler struct {
	tracer      trace.Tracer
	predictions *service.PredictionService
	ingest      *service.IngestService
	evaluator   Evaluator
	replayer    ReplayRunner

	reportWindowDays  int
	retrainWindowDays int
	retrainMinPreds   int
}

func New(
	tracer trace.Tracer,
	predictions *service.PredictionService,
	ingest *service.IngestService,
	evaluator Evaluator,
	replayer ReplayRunner,
	reportWindowDays, retrainWindowDays, retrainMinPreds int,
) *Handler {
	return &Handler{
		tracer:            tracer,
		predictions:       predictions,
		ingest:            ingest,
		evaluator:         evaluator,
		replayer:          replayer,
		reportWindowDays:  reportWindowDays,
		retrainWindowDays: retrainWindowDays,
		retrainMinPreds:   retrainMinPreds,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/symbols", h.Symbols)
	r.GET("/api/predict/:symbol", h.Predict)
	r.GET("/api/signal/:symbol", h.SimpleSignal)
	r.POST("/api/retrain/:symbol", h.Retrain)
	r.POST("/api/validate", h.Validate)
	r.GET("/api/report/:symbol", h.Report)
	r.GET("/api/retrain-check/:symbol", h.RetrainCheck)
	r.POST("/api/tune/:symbol/:variant", h.Tune)
	r.GET("/api/artifacts/:symbol", h.Artifacts)
	r.POST("/api/replay/:symbol", h.Replay)
	r.POST("/api/ingest/:symbol", h.Ingest)
}
