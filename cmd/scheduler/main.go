package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tri-star/chase-light-sub000/internal/adapters/repo"
	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/cache"
	"github.com/tri-star/chase-light-sub000/internal/infra/config"
	"github.com/tri-star/chase-light-sub000/internal/infra/db"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
	"github.com/tri-star/chase-light-sub000/internal/infra/queue"
	"github.com/tri-star/chase-light-sub000/internal/usecase/digest"
	"github.com/tri-star/chase-light-sub000/internal/usecase/schedule"
)

const slotDedupeTTL = 2 * time.Minute

func main() {
	cfg := config.Load()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	slotCache := cache.NewRedis(redisClient)

	var runQueue domain.RunQueue
	if cfg.RabbitURL != "" {
		rabbit, err := queue.NewRabbitRunQueue(cfg.RabbitURL, cfg.Queues.DigestRuns)
		if err != nil {
			log.Fatal().Err(err).Msg("scheduler: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		runQueue = rabbit
	} else {
		runQueue = queue.NewRedisRunQueue(redisClient, cfg.Queues.DigestRuns)
	}

	repoAdapter := repo.NewPostgres(pool)

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	c := cron.New()
	if _, err := c.AddFunc("* * * * *", func() {
		tick(ctx, repoAdapter, repoAdapter, slotCache, runQueue)
	}); err != nil {
		log.Fatal().Err(err).Msg("scheduler: не удалось зарегистрировать задачу")
	}
	c.Start()
	log.Info().Msg("scheduler: старт")

	<-ctx.Done()
	log.Info().Msg("scheduler: остановка")
	<-c.Stop().Done()
}

// tick проверяет наступившие слоты доставки всех получателей и ставит задачи
// на прогон. Дедупликация двухуровневая: быстрый Redis-ключ отсекает повторы
// внутри инстанса, запись в БД защищает от гонки между инстансами.
func tick(ctx context.Context, recipients domain.RecipientRepo, tasks domain.ScheduleTaskRepo, slotCache domain.Cache, runQueue domain.RunQueue) {
	now := time.Now().UTC().Truncate(time.Minute)

	list, err := recipients.ListDigestRecipients(ctx, 0)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: ошибка выборки получателей")
		return
	}

	for _, recipient := range list {
		resolved := digest.ResolveRecipientDigest(recipient)
		if !resolved.Enabled {
			continue
		}
		loc, err := time.LoadLocation(resolved.Timezone)
		if err != nil {
			log.Warn().Str("user", recipient.ID).Str("tz", resolved.Timezone).Msg("scheduler: неизвестный часовой пояс")
			continue
		}
		slot, ok := schedule.SlotMatches(now, resolved.Times, loc)
		if !ok {
			continue
		}

		key := fmt.Sprintf("digest:slot:%s:%s:%s", recipient.ID, now.Format("2006-01-02T15:04"), slot)
		userID := recipient.ID
		err = slotCache.Once(ctx, key, slotDedupeTTL, func() error {
			acquired, err := tasks.Acquire(ctx, userID, now)
			if err != nil {
				return err
			}
			if !acquired {
				return nil
			}
			job := domain.DigestRunJob{
				ID:          uuid.NewString(),
				UserID:      userID,
				RequestedAt: now,
				Cause:       domain.DigestCauseScheduled,
			}
			if err := runQueue.Enqueue(ctx, job); err != nil {
				return err
			}
			log.Info().Str("user", userID).Str("slot", slot).Msg("scheduler: прогон поставлен в очередь")
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("user", userID).Msg("scheduler: не удалось запланировать прогон")
		}
	}
}
