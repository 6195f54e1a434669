package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"challenge-bot/internal/cache"
	"challenge-bot/internal/config"
	"challenge-bot/internal/funnel"
	"challenge-bot/internal/handlers"
	"challenge-bot/internal/httpserver"
	"challenge-bot/internal/ledger"
	"challenge-bot/internal/lib/sl"
	"challenge-bot/internal/messages"
	"challenge-bot/internal/metrics"
	"challenge-bot/internal/models"
	"challenge-bot/internal/scheduler"
	"challenge-bot/internal/storage"
	"challenge-bot/internal/utils"
	"challenge-bot/internal/yookassa"
)

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)
	log.Info("starting challenge bot", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	utils.Must(err)
	tariffs, err := cfg.LedgerTariffs()
	utils.Must(err)

	db, err := storage.New(cfg.StoragePath)
	utils.Must(err)
	defer db.Close()

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	utils.Must(err)
	log.Info("authorized", slog.String("bot", bot.Self.UserName))

	clock := clockwork.NewRealClock()
	m := metrics.New(prometheus.DefaultRegisterer)

	funnelSvc := funnel.New(log, db, clock, cfg.FunnelConfig(), m)
	gateway := yookassa.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.APIURL, cfg.YooKassa.Timeout)
	led := ledger.New(log, db, gateway, tariffs, clock, cfg.LedgerConfig(), m)

	err = led.SavePromo(ctx, models.PromoCode{
		Code:            cfg.Promo.Code,
		DiscountPercent: cfg.Promo.Discount,
		ValidHours:      cfg.Promo.Hours,
		Description:     "Скидка за прохождение челленджа",
	})
	utils.Must(err)

	// Telegram allows about 30 messages per second per bot.
	transport := messages.NewTransport(bot, log, rate.NewLimiter(rate.Limit(25), 5))
	notifier := messages.NewNotifier(transport, tariffs.Funnel(), messages.PromoTerms{
		Code:     ledger.NormalizePromo(cfg.Promo.Code),
		Discount: cfg.Promo.Discount,
		Hours:    cfg.Promo.Hours,
	})

	debounce := newDebouncer(ctx, log, cfg.Redis, clock)

	h := &handlers.Handler{
		Log:       log,
		Transport: transport,
		Notifier:  notifier,
		Funnel:    funnelSvc,
		Ledger:    led,
		DB:        db,
		Debounce:  debounce,
		Clock:     clock,
		Settings: handlers.Settings{
			AdminIDs:      cfg.Admins,
			ClubChannelID: cfg.ClubChannelID,
		},
	}

	dispatcher := scheduler.NewDispatcher(log, db, notifier,
		scheduler.DefaultPolicy(cfg.Funnel.Days, loc), clock,
		rate.NewLimiter(rate.Every(cfg.Schedule.SendEvery), 1),
		scheduler.WithPromo(led, cfg.Promo.Code),
		scheduler.WithRecorder(m),
	)
	sched, err := scheduler.Start(ctx, log, dispatcher, scheduler.Config{
		MorningAt: cfg.Schedule.MorningAt,
		EveningAt: cfg.Schedule.EveningAt,
	}, clock)
	utils.Must(err)

	srv := httpserver.New(httpserver.Config{
		Address:      cfg.HTTPServer.Address,
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}, httpserver.NewRouter(log, h, prometheus.DefaultGatherer, cfg.YooKassa.WebhookSecret))
	go func() {
		log.Info("http server started", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := bot.GetUpdatesChan(updateConfig)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			h.Handle(ctx, upd)
		}
	}

	log.Info("shutting down")
	bot.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", sl.Err(err))
	}
	if err := sched.Shutdown(); err != nil {
		log.Error("scheduler shutdown failed", sl.Err(err))
	}
	if c, ok := debounce.(*cache.Redis); ok {
		_ = c.Close()
	}
	log.Info("stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case config.EnvLocal:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return log
}

// newDebouncer prefers Redis and falls back to process memory when it is not
// configured or not reachable.
func newDebouncer(ctx context.Context, log *slog.Logger, cfg config.Redis, clock clockwork.Clock) cache.Debouncer {
	if cfg.Address == "" {
		return cache.NewMemory(clock, cfg.DebounceTTL)
	}
	r, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		Timeout:     cfg.Timeout,
	}, cfg.DebounceTTL)
	if err != nil {
		log.Warn("redis unavailable, using in-memory debounce", sl.Err(err))
		return cache.NewMemory(clock, cfg.DebounceTTL)
	}
	return r
}
