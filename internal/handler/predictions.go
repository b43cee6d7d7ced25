package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"market-quorum/internal/service"

	"github.com/gin-gonic/gin"
)

// Predict godoc
// @Summary      Daily ensemble prediction for one instrument
// @Description  Returns every model's forecast, the rule signals, and the majority vote; cached calls are served within the TTL
// @Tags         predictions
// @Produce      json
// @Param        symbol  path  string  true  "Instrument symbol, e.g. ^IBEX"
// @Success      200  {object}  domain.EnsembleCall
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/predict/{symbol} [get]
func (h *Handler) Predict(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.predict")
	defer span.End()

	call, err := h.predictions.Predict(ctx, c.Param("symbol"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnsupportedSymbol) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, call)
}

// SimpleSignal godoc
// @Summary      Rule-only directional signal for one instrument
// @Description  Evaluates the moving-average rule on the latest indicator row; no models run and nothing is recorded
// @Tags         predictions
// @Produce      json
// @Param        symbol  path  string  true  "Instrument symbol"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/signal/{symbol} [get]
func (h *Handler) SimpleSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.simple-signal")
	defer span.End()

	signal, err := h.predictions.SimpleSignal(ctx, c.Param("symbol"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnsupportedSymbol) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "signal": signal})
}

// Symbols godoc
// @Summary      Supported instruments
// @Tags         predictions
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/symbols [get]
func (h *Handler) Symbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": h.predictions.Symbols()})
}

// Retrain godoc
// @Summary      Force a full retrain for one instrument
// @Description  Refits every model on the full history, refreshes the cached call, and prunes stale artifacts
// @Tags         models
// @Produce      json
// @Param        symbol  path   string  true   "Instrument symbol"
// @Param        tune    query  bool    false  "Run the hyperparameter search for every variant first"
// @Success      200  {object}  domain.RetrainResult
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/retrain/{symbol} [post]
func (h *Handler) Retrain(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.retrain")
	defer span.End()

	tune := false
	if raw := c.Query("tune"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tune must be a boolean"})
			return
		}
		tune = parsed
	}

	result, err := h.predictions.Retrain(ctx, c.Param("symbol"), tune)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnsupportedSymbol) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type validateRequest struct {
	Date string `json:"date"`
}

// Validate godoc
// @Summary      Grade pending predictions against realized closes
// @Description  Fills outcomes for the given date; omit the date to grade yesterday
// @Tags         predictions
// @Accept       json
// @Produce      json
// @Param        request  body  validateRequest  false  "Target date, YYYY-MM-DD"
// @Success      200  {object}  domain.ValidationResult
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/validate [post]
func (h *Handler) Validate(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.validate")
	defer span.End()

	var req validateRequest
	_ = c.ShouldBindJSON(&req)

	var (
		result interface{}
		err    error
	)
	if req.Date == "" {
		result, err = h.predictions.ValidateYesterday(ctx)
	} else {
		date, parseErr := time.Parse("2006-01-02", req.Date)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		result, err = h.predictions.Validate(ctx, date)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNoOutcomeData) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Report godoc
// @Summary      Windowed performance report per model
// @Tags         performance
// @Produce      json
// @Param        symbol  path   string  true   "Instrument symbol"
// @Param        window  query  int     false  "Trailing window in days"
// @Success      200  {object}  domain.PerformanceSummary
// @Failure      400  {object}  map[string]string
// @Router       /api/report/{symbol} [get]
func (h *Handler) Report(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.report")
	defer span.End()

	window := h.reportWindowDays
	if raw := c.Query("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive integer"})
			return
		}
		window = parsed
	}

	summary, err := h.evaluator.Report(ctx, c.Param("symbol"), window, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RetrainCheck godoc
// @Summary      Retrain recommendation for one instrument
// @Description  Inspects the recent graded window and says whether a retrain is warranted
// @Tags         performance
// @Produce      json
// @Param        symbol         path   string  true   "Instrument symbol"
// @Param        mae_threshold  query  number  false  "Average MAE above which a retrain is advised"
// @Success      200  {object}  domain.RetrainAdvice
// @Router       /api/retrain-check/{symbol} [get]
func (h *Handler) RetrainCheck(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.retrain-check")
	defer span.End()

	maeThreshold := 0.0
	if raw := c.Query("mae_threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mae_threshold must be a positive number"})
			return
		}
		maeThreshold = parsed
	}

	advice, err := h.evaluator.ShouldRetrain(ctx, c.Param("symbol"),
		h.retrainWindowDays, h.retrainMinPreds, maeThreshold, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, advice)
}

// Tune godoc
// @Summary      Hyperparameter search for one model variant
// @Description  Runs a seeded random search with chronological cross-validation and persists the winning parameters
// @Tags         models
// @Produce      json
// @Param        symbol   path  string  true  "Instrument symbol"
// @Param        variant  path  string  true  "Model variant name"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/tune/{symbol}/{variant} [post]
func (h *Handler) Tune(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.tune")
	defer span.End()

	hp, score, err := h.predictions.Tune(ctx, c.Param("symbol"), c.Param("variant"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnsupportedSymbol) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":  c.Param("symbol"),
		"variant": c.Param("variant"),
		"params":  hp,
		"cv_mae":  score,
	})
}

// Artifacts godoc
// @Summary      Stored model artifacts for one instrument
// @Tags         models
// @Produce      json
// @Param        symbol  path  string  true  "Instrument symbol"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/artifacts/{symbol} [get]
func (h *Handler) Artifacts(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.artifacts")
	defer span.End()

	infos, err := h.predictions.Artifacts(ctx, c.Param("symbol"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUnsupportedSymbol) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "artifacts": infos})
}

// Replay godoc
// @Summary      Replay the daily flow over stored history
// @Description  Walks each trading date in the range with that date as cutoff, recording and grading as it goes
// @Tags         replay
// @Produce      json
// @Param        symbol  path   string  true  "Instrument symbol"
// @Param        from    query  string  true  "Start date, YYYY-MM-DD"
// @Param        to      query  string  true  "End date, YYYY-MM-DD"
// @Success      200  {object}  replay.Result
// @Failure      400  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/replay/{symbol} [post]
func (h *Handler) Replay(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.replay")
	defer span.End()

	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must not precede from"})
		return
	}

	result, err := h.replayer.Run(ctx, c.Param("symbol"), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Ingest godoc
// @Summary      Pull daily bars for one instrument and rebuild indicators
// @Tags         ingest
// @Produce      json
// @Param        symbol  path   string  true   "Instrument symbol"
// @Param        range   query  string  false  "Trailing range, e.g. 1y or max"
// @Success      200  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ingest/{symbol} [post]
func (h *Handler) Ingest(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ingest")
	defer span.End()

	rangeSpec := c.DefaultQuery("range", "1y")
	if err := h.ingest.Refresh(ctx, c.Param("symbol"), rangeSpec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "symbol": c.Param("symbol")})
}
