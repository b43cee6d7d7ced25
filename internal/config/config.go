package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL      string
	RedisURL         string
	TelegramBotToken string

	HTTPPort       int
	SSHPort        int
	SSHHostKeyPath string
	APIKey         string

	OpenAIAPIKey string
	OpenAIModel  string

	Symbols []string

	// PredictionDateOffsetDays maps a live run date to the date whose close
	// the forecast targets: 0 means same-day close, 1 means next session.
	PredictionDateOffsetDays int

	PredictHourUTC    int
	ValidateHourUTC   int
	IngestPollSecs    int
	PredictionTTLSecs int

	KeepLatestArtifacts int
	MinTrainRows        int

	ReportWindowDays     int
	ReportMinPredictions int
	RetrainWindowDays    int
	RetrainMinPreds      int
	MAEThreshold         float64
	StdErrorThreshold    float64
	BuyAccuracyFloor     float64
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}

	cfg.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	cfg.HTTPPort = intEnv("HTTP_PORT", 8080)
	cfg.SSHPort = intEnv("SSH_PORT", 2222)
	cfg.SSHHostKeyPath = strings.TrimSpace(os.Getenv("SSH_HOST_KEY_PATH"))
	if cfg.SSHHostKeyPath == "" {
		cfg.SSHHostKeyPath = ".ssh/market_quorum_ed25519"
	}

	cfg.OpenAIModel = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}

	cfg.Symbols = []string{"^IBEX", "^GSPC", "^N225"}
	if v := strings.TrimSpace(os.Getenv("SYMBOLS")); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Symbols = symbols
		}
	}

	cfg.PredictionDateOffsetDays = intEnv("PREDICTION_DATE_OFFSET_DAYS", 0)
	cfg.PredictHourUTC = hourEnv("PREDICT_HOUR_UTC", 18)
	cfg.ValidateHourUTC = hourEnv("VALIDATE_HOUR_UTC", 7)
	cfg.IngestPollSecs = intEnv("INGEST_POLL_SECS", 3600)
	cfg.PredictionTTLSecs = intEnv("PREDICTION_TTL_SECS", 600)

	cfg.KeepLatestArtifacts = intEnv("KEEP_LATEST_ARTIFACTS", 7)
	cfg.MinTrainRows = intEnv("MIN_TRAIN_ROWS", 50)

	cfg.ReportWindowDays = intEnv("REPORT_WINDOW_DAYS", 30)
	cfg.ReportMinPredictions = intEnv("REPORT_MIN_PREDICTIONS", 3)
	cfg.RetrainWindowDays = intEnv("RETRAIN_WINDOW_DAYS", 7)
	cfg.RetrainMinPreds = intEnv("RETRAIN_MIN_PREDICTIONS", 2)
	cfg.MAEThreshold = floatEnv("MAE_THRESHOLD", 200)
	cfg.StdErrorThreshold = floatEnv("STD_ERROR_THRESHOLD", 150)
	cfg.BuyAccuracyFloor = floatEnv("BUY_ACCURACY_FLOOR", 40)

	return cfg
}

func intEnv(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func hourEnv(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 23 {
			return n
		}
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
