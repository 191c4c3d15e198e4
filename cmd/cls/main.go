package main

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/custodia/cls/internal/application/bridge"
	"github.com/custodia/cls/internal/application/reconciliation"
	"github.com/custodia/cls/internal/domain/interfaces"
	"github.com/custodia/cls/internal/infrastructure/cache"
	"github.com/custodia/cls/internal/infrastructure/database"
	"github.com/custodia/cls/internal/infrastructure/events"
	"github.com/custodia/cls/internal/infrastructure/http/clients"
	"github.com/custodia/cls/internal/registry"
	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
	"github.com/custodia/cls/internal/server"
	"github.com/custodia/cls/internal/server/websocket"
	"github.com/custodia/cls/pkg/config"
	"github.com/custodia/cls/pkg/logger"
)

func main() {
	logger := logger.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.ShutDown()

	balanceRepo := balancerepo.New(db.Db, logger)
	ledgerRepo := ledgerrepo.New(db.Db, logger)

	var dedupe interfaces.DedupeStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		dedupe = cache.NewRedisDedupeStore(rdb, cfg.Redis.DedupeTTL)
	} else {
		logger.Warn().Msg("Redis not configured, webhook dedupe runs in-process only")
		dedupe = cache.NewMemoryDedupeStore()
	}

	var publisher interfaces.EventsPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		logger.Warn().Msg("Kafka not configured, lifecycle events will not be published")
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	chainRegistry := registry.New(cfg.Chains)
	custodyClient := clients.NewCustodyClient(cfg.Custody, logger)
	attestationClient := clients.NewAttestationClient(cfg.Attestation, logger)

	wsHub := websocket.NewWsHub(logger)
	go wsHub.Run()

	bridgeService := bridge.NewBridgeService(
		ledgerRepo,
		balanceRepo,
		chainRegistry,
		custodyClient,
		attestationClient,
		publisher,
		wsHub,
		cfg.Bridge,
		logger,
	)

	intakeService := reconciliation.NewIntakeService(ledgerRepo, balanceRepo, bridgeService, dedupe, logger)

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	poller := bridge.NewPoller(bridgeService, ledgerRepo, cfg.Bridge, logger)
	go poller.Run(pollCtx)

	srv := server.New(cfg, bridgeService, intakeService, balanceRepo, ledgerRepo, logger, wsHub)
	srv.Start(cancelPoll)
}
