package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"market-quorum/internal/domain"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

var (
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
	parseRedisURL = redis.ParseURL
)

func InitRedis(ctx context.Context) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}

	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := parseRedisURL(addr)
		if err != nil {
			log.Fatalf("failed to parse REDIS_URL: %v", err)
		}
		opts = parsed
	}

	Client = newRedisClient(opts)
	if err := pingRedis(ctx, Client); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")
}

// PredictionCache holds recent live ensemble calls keyed by instrument so
// repeated reads within the TTL do not re-run the predictor bank.
type PredictionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPredictionCache(client *redis.Client, ttl time.Duration) *PredictionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PredictionCache{client: client, ttl: ttl}
}

func (c *PredictionCache) Get(ctx context.Context, symbol string) (*domain.EnsembleCall, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, predictionKey(symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("prediction cache read failed for %s: %v", symbol, err)
		}
		return nil, false
	}
	var call domain.EnsembleCall
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, false
	}
	return &call, true
}

func (c *PredictionCache) Set(ctx context.Context, call *domain.EnsembleCall) {
	if c == nil || c.client == nil || call == nil {
		return
	}
	raw, err := json.Marshal(call)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, predictionKey(call.Symbol), raw, c.ttl).Err(); err != nil {
		log.Printf("prediction cache write failed for %s: %v", call.Symbol, err)
	}
}

// Invalidate drops the cached call after a retrain so the next read reflects
// the new artifacts.
func (c *PredictionCache) Invalidate(ctx context.Context, symbol string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, predictionKey(symbol)).Err(); err != nil {
		log.Printf("prediction cache invalidate failed for %s: %v", symbol, err)
	}
}

func predictionKey(symbol string) string {
	return "prediction:" + symbol
}
