package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"crisisengine/internal/analytics"
	"crisisengine/internal/audit"
	"crisisengine/internal/channels"
	"crisisengine/internal/config"
	"crisisengine/internal/crypto"
	"crisisengine/internal/detector"
	"crisisengine/internal/dispatcher"
	"crisisengine/internal/escalation"
	"crisisengine/internal/handler"
	"crisisengine/internal/metrics"
	"crisisengine/internal/pipeline"
	"crisisengine/internal/recorder"
	"crisisengine/internal/repository"
	"crisisengine/internal/rules"
	"crisisengine/internal/server"
	"crisisengine/internal/service"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yml"
	}
	cfgStore, err := config.NewStore(cfgPath, logger)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	cfg := cfgStore.Current()

	metrics.Init(logger)

	// Database connection
	db, err := repository.NewPostgresDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.MigrateDB(db, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Excerpt encryption key comes from the environment, never config
	cipher, err := crypto.NewExcerptCipher()
	if err != nil {
		logger.Fatal("Failed to initialize excerpt cipher", zap.Error(err))
	}

	// Audit trail is append-only and separate from operational logs
	auditSink, err := audit.NewSink(cfg.Audit.Path)
	if err != nil {
		logger.Fatal("Failed to open audit sink", zap.Error(err))
	}

	// Initialize repositories
	ruleRepo := repository.NewRuleRepository(db, logger)
	detectionRepo := repository.NewDetectionRepository(db, logger)
	escalationRepo := repository.NewEscalationRepository(db, logger)
	contactRepo := repository.NewContactRepository(db, logger)
	reviewerRepo := repository.NewReviewerRepository(db, logger)
	resourceRepo := repository.NewResourceRepository(db, logger)
	planRepo := repository.NewSafetyPlanRepository(db, logger)
	snapshotRepo := repository.NewSnapshotRepository(db, logger)

	// Compile the active rule set
	library, err := rules.NewLibrary(ruleRepo, logger)
	if err != nil {
		logger.Fatal("Failed to load keyword rules", zap.Error(err))
	}

	// Outbound channels. Users are reached over push, SMS and email;
	// staff alerts go to Telegram when configured.
	userChans := []channels.Channel{
		channels.NewHTTPChannel("push", cfg.Channels.PushURL),
		channels.NewHTTPChannel("sms", cfg.Channels.SMSURL),
		channels.NewHTTPChannel("email", cfg.Channels.EmailURL),
	}
	if cfg.Channels.AMQP.URL != "" {
		userChans = append(userChans, channels.NewAMQPChannel(cfg.Channels.AMQP.URL, cfg.Channels.AMQP.Exchange, logger))
	}

	var staffChan channels.Channel
	if cfg.Channels.Telegram.Enabled {
		tg, err := channels.NewTelegramChannel(cfg.Channels.Telegram.BotToken, cfg.Channels.Telegram.ChatID, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram channel", zap.Error(err))
		}
		if tg != nil {
			staffChan = tg
		}
	}

	disp := dispatcher.New(cfgStore, userChans, staffChan, contactRepo, detectionRepo, resourceRepo, auditSink, logger)
	orchestrator := escalation.NewOrchestrator(cfgStore, escalationRepo, detectionRepo, reviewerRepo, planRepo, disp, auditSink, logger)
	rec := recorder.New(cfgStore, detectionRepo, orchestrator, cipher, auditSink, logger)

	extractor := detector.NewExtractor(logger)
	pipe := pipeline.New(cfgStore, library, extractor, rec, logger)

	aggregator := analytics.New(cfgStore, detectionRepo, escalationRepo, snapshotRepo, ruleRepo, logger)

	authService := service.NewAuthService(reviewerRepo, logger)

	deps := server.Deps{
		Ingest:    handler.NewIngestHandler(pipe, logger),
		Cases:     handler.NewCaseHandler(orchestrator, escalationRepo, detectionRepo, contactRepo, reviewerRepo, planRepo, cipher, logger),
		Rules:     handler.NewRuleHandler(ruleRepo, library, logger),
		Analytics: handler.NewAnalyticsHandler(aggregator, snapshotRepo, logger),
		Resources: handler.NewResourceHandler(resourceRepo, logger),
		Auth:      handler.NewAuthHandler(authService, logger),
	}
	srv := server.NewServer(deps, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go pipe.Run(ctx)
	go orchestrator.Start(ctx)
	go aggregator.Run(ctx)

	go func() {
		if err := srv.Run(cfg.Server.Port); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
}
