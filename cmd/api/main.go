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

	"consult-platform/internal/audit"
	"consult-platform/internal/auth"
	"consult-platform/internal/config"
	"consult-platform/internal/consult"
	"consult-platform/internal/httpapi"
	"consult-platform/internal/invoice"
	"consult-platform/internal/messaging"
	"consult-platform/internal/metrics"
	"consult-platform/internal/participant"
	"consult-platform/internal/presence"
	"consult-platform/internal/pricing"
	"consult-platform/internal/realtime"
	"consult-platform/internal/reporting"
	"consult-platform/internal/telephony"
	"consult-platform/internal/video"
	"consult-platform/internal/wallet"
	"consult-platform/pkg/logger"
	"consult-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Persistence
	store := consult.NewPostgresStore(db)
	participants := participant.NewPostgresRepo(db)
	wallets := wallet.NewService(wallet.NewPostgresRepo(db))
	auditLog := audit.NewService(audit.NewPostgresRepo(db))

	rec := metrics.New()
	registry := presence.NewRegistry(participants, log)
	arena := consult.NewTaskArena(log)

	// The ledger is built after the invoice worker it feeds; attach goes through the closure.
	var ledger *consult.Ledger
	invoices := invoice.NewWorker(
		invoice.Config{Workers: cfg.Invoice.Workers, MaxAttempts: cfg.Invoice.MaxAttempts},
		invoice.URLRenderer{BaseURL: cfg.Invoice.BaseURL, Transactions: store},
		invoice.AttachFunc(func(ctx context.Context, transactionID, ref string) error {
			return ledger.AttachInvoice(ctx, transactionID, ref)
		}),
		rec,
		log,
	)

	deps := consult.Deps{
		Store:        store,
		Participants: participants,
		Wallets:      wallets,
		Pricing:      pricing.NewService(),
		Notifier:     registry,
		Scheduler:    arena,

		Slots:        utils.NewProviderSlots(rdb, cfg.Meter.ProviderSlotTTL),
		Invoices:     invoices,
		Audit:        auditLog,
		Metrics:      rec,
		Capabilities: capabilities(cfg, log),

		Log: log,
	}
	opts := consult.Options{
		TickInterval:    cfg.Meter.TickInterval,
		RequestTTL:      cfg.Meter.RequestTTL,
		DisconnectGrace: cfg.Meter.DisconnectGrace,
	}
	ledger = consult.NewLedger(deps)
	meter := consult.NewMeter(deps, ledger, opts)
	broker := consult.NewBroker(deps, meter, opts)
	registry.Subscribe(meter)

	messages := messaging.NewService(messaging.NewPostgresStore(db), store, participants, registry, time.Now, log)
	dispatcher := realtime.NewDispatcher(broker, meter, messages, log)

	// rootCtx is already cancelled when Stop drains the queue; Start detaches from it.
	invoices.Start(rootCtx)
	meter.WatchOrphans()

	if cfg.Auth.ServiceKey == "" {
		log.Warn("AUTH_SERVICE_KEY not set; token issuance and wallet credits are disabled")
	}

	app := application{
		auth:       authManager,
		serviceKey: cfg.Auth.ServiceKey,
		api: httpapi.Handlers{
			Auth:         authManager,
			Participants: participants,
			Wallet:       wallets,
			Sessions:     store,
			Messages:     messages,
			Reports:      reporting.NewService(reporting.NewPostgresRepo(db)),
		},
		ws: realtime.NewHandler(registry, dispatcher, cfg.App.AllowedOrigins, log),
		twilio: telephony.TwilioStatusHandler{
			Recorder:  auditLog,
			AuthToken: cfg.Twilio.AuthToken,
			PublicURL: cfg.Twilio.StatusCallbackURL,
		},
		metrics: rec,
		health: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(corsMiddleware(cfg.App.AllowedOrigins))
	registerRoutes(r, app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	// Hijacked websocket connections are not closed by Shutdown.
	registry.Close()
	meter.Stop()
	arena.Stop()
	if err := invoices.Stop(shutdownCtx); err != nil {
		log.Warn("invoice worker did not drain", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// capabilities picks the carrier and RTC token issuer from config.
func capabilities(cfg config.Config, log *slog.Logger) map[participant.Modality]consult.Capability {
	var calls telephony.CallPlacer = &telephony.NoopProvider{}
	if cfg.Twilio.AccountSID != "" {
		calls = telephony.NewTwilioProvider(telephony.TwilioConfig{
			AccountSID:        cfg.Twilio.AccountSID,
			AuthToken:         cfg.Twilio.AuthToken,
			FromNumber:        cfg.Twilio.FromNumber,
			BaseURL:           cfg.Twilio.APIBaseURL,
			StatusCallbackURL: cfg.Twilio.StatusCallbackURL,
		}, &http.Client{Timeout: 10 * time.Second})
	} else {
		log.Warn("twilio not configured; voice sessions use the noop carrier")
	}

	videoCap := consult.VideoCapability{}
	issuer, err := video.NewIssuer(cfg.Video.AppID, cfg.Video.AppCertificate, cfg.Video.TokenTTL)
	switch {
	case err == nil:
		videoCap.Tokens = issuer
	case errors.Is(err, video.ErrNotConfigured):
		log.Warn("video not configured; video sessions will report setup failure")
	default:
		log.Error("video issuer init failed", "err", err)
	}

	return map[participant.Modality]consult.Capability{
		participant.ModalityChat:  consult.ChatCapability{},
		participant.ModalityVoice: consult.VoiceCapability{Calls: calls},
		participant.ModalityVideo: videoCap,
	}
}
