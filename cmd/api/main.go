package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tri-star/chase-light-sub000/internal/adapters/repo"
	summarizeradapter "github.com/tri-star/chase-light-sub000/internal/adapters/summarizer"
	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/config"
	"github.com/tri-star/chase-light-sub000/internal/infra/db"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
	openaiinfra "github.com/tri-star/chase-light-sub000/internal/infra/openai"
	"github.com/tri-star/chase-light-sub000/internal/usecase/digest"
)

func main() {
	cfg := config.Load()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	var groupSummarizer domain.GroupSummarizer
	if cfg.OpenAI.APIKey != "" {
		client := openaiinfra.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		groupSummarizer = summarizeradapter.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	} else {
		log.Warn().Msg("api: OPENAI_API_KEY не задан, используется детерминированный суммаризатор")
		groupSummarizer = summarizeradapter.NewFallback()
	}

	digestService := digest.NewService(repoAdapter, repoAdapter, repoAdapter, groupSummarizer,
		log.With().Str("component", "digest").Logger(), digest.Options{
			LookbackDays:       cfg.Digest.LookbackDays,
			MaxEntriesPerGroup: cfg.Digest.MaxEntriesPerGroup,
			DefaultLimit:       cfg.Digest.DefaultLimit,
			Concurrency:        cfg.Digest.Concurrency,
			Locale:             cfg.Digest.Locale,
		})

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Post("/api/v1/digests/run", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req runDigestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must not be negative")
			return
		}
		result, err := digestService.Run(r.Context(), digest.RunParams{
			Limit:       req.Limit,
			DryRun:      req.DryRun,
			Since:       req.Since,
			Until:       req.Until,
			ActivityIDs: req.ActivityIDs,
			UserID:      req.UserID,
		})
		if err != nil {
			log.Error().Err(err).Msg("api: прогон дайджестов не удался")
			writeError(w, http.StatusInternalServerError, "digest run failed")
			return
		}
		writeJSON(w, result)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type runDigestRequest struct {
	UserID      string     `json:"user_id,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	DryRun      bool       `json:"dry_run,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
	ActivityIDs []string   `json:"activity_ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
