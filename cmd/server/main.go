package main

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hferrand/chatstream/internal/ai"
	"github.com/hferrand/chatstream/internal/chat"
	"github.com/hferrand/chatstream/internal/config"
	"github.com/hferrand/chatstream/internal/db"
	"github.com/hferrand/chatstream/internal/httpapi"
	"github.com/hferrand/chatstream/internal/store/rabbitmq"
)

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(
			cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

func main() {
	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect")
	}
	repo := chat.NewRepo(gdb)

	var cache *chat.HistoryCache
	if cfg.RedisAddr != "" {
		cache = chat.NewHistoryCache(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}))
	}

	provider, err := newRegistry(cfg).Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("ai provider")
	}

	svc := chat.NewService(repo, provider, cache)

	var jobs *rabbitmq.Publisher
	if cfg.RabbitURL != "" {
		jobs, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn().Err(err).Msg("job queue unavailable, async chat disabled")
			jobs = nil
		} else {
			defer jobs.Close()
		}
	}

	r := httpapi.NewRouter(svc, jobs)
	log.Info().Str("addr", cfg.HTTPAddr).Str("provider", cfg.AIProvider).Msg("server listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
