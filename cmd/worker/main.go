package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oakmart/backend-store/internal/app"
	"github.com/oakmart/backend-store/internal/checkout"
	"github.com/oakmart/backend-store/internal/config"
	"github.com/oakmart/backend-store/internal/events"
	"github.com/oakmart/backend-store/internal/obs"
	"github.com/oakmart/backend-store/internal/promotion"
	"github.com/oakmart/backend-store/internal/queue"
	"github.com/oakmart/backend-store/internal/repo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "store"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger, app.Options{AppName: "store-worker"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close(logger)

	notifiers := []events.Notifier{
		events.LogNotifier{Logger: logger},
		events.MetricsNotifier{},
	}
	if cfg.EventWebhookURL != "" {
		notifiers = append(notifiers, events.NewWebhookNotifier(cfg.EventWebhookURL, logger))
	}
	bus := &events.Bus{
		Store:     repo.Events{DB: deps.DB},
		Notifiers: notifiers,
	}
	settler := &promotion.Service{
		Q:   repo.Promotions{DB: deps.DB},
		Bus: bus,
	}

	settleWorker := queue.Worker{
		R:                 deps.Redis,
		Prefix:            "store",
		Kind:              checkout.TaskPromotionSettle,
		Concurrency:       4,
		VisibilityTimeout: 30 * time.Second,
		SoftDeadline:      20 * time.Second,
		RetryBase:         time.Second,
		RetryJitter:       0.2,
		Store:             queue.NewStore(deps.DB),
		Logger:            &logger,
		Handler: func(jobCtx context.Context, task queue.Task) error {
			return handleSettle(jobCtx, settler, task.Payload)
		},
	}

	go rollMembershipPeriods(ctx, repo.Memberships{DB: deps.DB}, bus, logger)

	logger.Info().Msg("worker starting")
	if err := settleWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func handleSettle(ctx context.Context, settler *promotion.Service, payload []byte) error {
	var p checkout.SettlePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode settle payload: %w", err)
	}
	var userID *uuid.UUID
	if p.UserID != uuid.Nil {
		userID = &p.UserID
	}
	return settler.RecordUsage(ctx, p.Code, userID, p.OrderID, p.DiscountAmount, p.OrderTotal)
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

// rollMembershipPeriods advances expired billing periods once an hour so
// allocation counters reset without manual intervention.
func rollMembershipPeriods(ctx context.Context, members repo.Memberships, bus *events.Bus, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rolled, err := members.RollExpiredPeriods(ctx, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("roll membership periods")
			continue
		}
		if rolled == 0 {
			continue
		}
		logger.Info().Int64("memberships", rolled).Msg("membership periods rolled")
		_, _ = bus.Emit(ctx, events.TopicAllocationReset, uuid.New(), map[string]any{
			"memberships_rolled": rolled,
			"rolled_at":          time.Now().UTC(),
		})
	}
}
