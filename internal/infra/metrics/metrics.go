package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DigestRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_run_seconds",
		Help:    "Длительность одного прогона пайплайна дайджестов",
		Buckets: prometheus.DefBuckets,
	})

	DigestRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_runs_total",
		Help: "Количество прогонов пайплайна дайджестов",
	}, []string{"status"})

	DigestRecipientsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_recipients_total",
		Help: "Количество обработанных получателей по исходам",
	}, []string{"outcome"})

	DigestNotificationsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digest_notifications_created_total",
		Help: "Количество созданных уведомлений-дайджестов",
	})

	SummarizerFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "summarizer_fallback_groups_total",
		Help: "Количество групп, деградировавших до фолбэка",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 120, 300, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DigestRunSeconds,
		DigestRunsTotal,
		DigestRecipientsTotal,
		DigestNotificationsCreatedTotal,
		SummarizerFallbackTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveDigestRun записывает итог одного прогона пайплайна.
func ObserveDigestRun(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DigestRunSeconds.Observe(time.Since(start).Seconds())
	DigestRunsTotal.WithLabelValues(status).Inc()
}

// IncDigestRecipients увеличивает счётчик получателей с указанным исходом.
func IncDigestRecipients(outcome string) {
	DigestRecipientsTotal.WithLabelValues(outcome).Inc()
}

// AddDigestNotificationsCreated увеличивает счётчик созданных дайджестов.
func AddDigestNotificationsCreated(count int) {
	if count > 0 {
		DigestNotificationsCreatedTotal.Add(float64(count))
	}
}

// IncSummarizerFallback увеличивает счётчик групп, ушедших в фолбэк.
func IncSummarizerFallback() {
	SummarizerFallbackTotal.Inc()
}
