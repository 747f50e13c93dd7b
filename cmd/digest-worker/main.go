package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tri-star/chase-light-sub000/internal/adapters/repo"
	summarizeradapter "github.com/tri-star/chase-light-sub000/internal/adapters/summarizer"
	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/config"
	"github.com/tri-star/chase-light-sub000/internal/infra/db"
	applog "github.com/tri-star/chase-light-sub000/internal/infra/log"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
	openaiinfra "github.com/tri-star/chase-light-sub000/internal/infra/openai"
	"github.com/tri-star/chase-light-sub000/internal/infra/queue"
	"github.com/tri-star/chase-light-sub000/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	var runQueue domain.RunQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitRunQueue(cfg.RabbitURL, cfg.Queues.DigestRuns)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		runQueue = rabbit
	} else {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		runQueue = queue.NewRedisRunQueue(redisClient, cfg.Queues.DigestRuns)
	}

	repoAdapter := repo.NewPostgres(pool)
	var groupSummarizer domain.GroupSummarizer
	if cfg.OpenAI.APIKey != "" {
		client := openaiinfra.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		groupSummarizer = summarizeradapter.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	} else {
		logger.Warn().Msg("worker: OPENAI_API_KEY не задан, используется детерминированный суммаризатор")
		groupSummarizer = summarizeradapter.NewFallback()
	}

	digestService := digest.NewService(repoAdapter, repoAdapter, repoAdapter, groupSummarizer,
		logger.With().Str("component", "digest").Logger(), digest.Options{
			LookbackDays:       cfg.Digest.LookbackDays,
			MaxEntriesPerGroup: cfg.Digest.MaxEntriesPerGroup,
			DefaultLimit:       cfg.Digest.DefaultLimit,
			Concurrency:        cfg.Digest.Concurrency,
			Locale:             cfg.Digest.Locale,
		})

	logger.Info().Str("queue", cfg.Queues.DigestRuns).Msg("worker: старт")

	for {
		job, ack, err := runQueue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("worker: остановка")
				return
			}
			logger.Error().Err(err).Msg("worker: ошибка чтения очереди")
			continue
		}

		result, err := digestService.Run(ctx, digest.RunParams{
			Limit:  job.Limit,
			DryRun: job.DryRun,
			Since:  job.Since,
			Until:  job.Until,
			UserID: job.UserID,
		})
		if err != nil {
			logger.Error().Err(err).Str("job", job.ID).Msg("worker: прогон не удался")
			if ackErr := ack(false); ackErr != nil {
				logger.Error().Err(ackErr).Str("job", job.ID).Msg("worker: не удалось вернуть задачу в очередь")
			}
			continue
		}

		logger.Info().
			Str("job", job.ID).
			Str("cause", string(job.Cause)).
			Int("created", result.Created).
			Int("skipped", result.SkippedByConflict).
			Int("processed_users", result.ProcessedUsers).
			Int("failed_users", result.FailedUsers).
			Msg("worker: прогон завершён")
		if ackErr := ack(true); ackErr != nil {
			logger.Error().Err(ackErr).Str("job", job.ID).Msg("worker: не удалось подтвердить задачу")
		}
	}
}
