// Package main implements the minter service.
// It searches every round of the token contract for an admissible secret and
// mints with it, forever, until told to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bardlex/gomint/internal/config"
	"github.com/bardlex/gomint/internal/database"
	"github.com/bardlex/gomint/internal/database/influx"
	"github.com/bardlex/gomint/internal/database/postgres"
	"github.com/bardlex/gomint/internal/database/redis"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/messaging"
	"github.com/bardlex/gomint/internal/miner"
	"github.com/bardlex/gomint/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting minter",
		"version", cfg.Version,
		"rpc_url", cfg.LedgerRPCURL,
		"contract", cfg.ContractAddress,
	)

	identity, err := ledger.NewIdentity(cfg.MinerPrivateKey, cfg.MinerAddress)
	if err != nil {
		logger.WithError(err).Error("failed to load miner identity")
		os.Exit(1)
	}
	logger.Info("loaded miner identity", "miner", identity)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	client, err := ledger.NewClient(dialCtx, ledger.ClientConfig{
		RPCURL:      cfg.LedgerRPCURL,
		Contract:    common.HexToAddress(cfg.ContractAddress),
		ChainID:     cfg.ChainID,
		CallTimeout: cfg.CallTimeout,
	}, identity, logger)
	dialCancel()
	if err != nil {
		logger.WithError(err).Error("failed to connect to ledger")
		os.Exit(1)
	}
	defer client.Close()
	logger.Info("connected to ledger")

	var reporters miner.MultiReporter
	var claimer miner.Claimer

	var manager *database.Manager
	if dbCfg := storesConfig(cfg); dbCfg != nil {
		manager, err = database.NewManager(ctx, dbCfg, identity.Address, logger)
		if err != nil {
			logger.WithError(err).Error("failed to connect to stores")
			os.Exit(1)
		}
		defer func() {
			if err := manager.Close(); err != nil {
				logger.WithError(err).Warn("failed to close stores")
			}
		}()
		manager.StartPeriodicTasks(ctx)
		reporters = append(reporters, manager)
		claimer = manager
	}

	topics := messaging.NewTopics(cfg.KafkaTopicPrefix)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
		defer func() {
			if err := kafkaClient.Close(); err != nil {
				logger.WithError(err).Warn("failed to close Kafka client")
			}
		}()
		reporters = append(reporters, messaging.NewEventReporter(kafkaClient, topics, identity.Address, logger))
	}
	if cfg.ZMQPublishAddr != "" {
		zmqPublisher, err := messaging.NewZMQPublisher(cfg.ZMQPublishAddr, logger)
		if err != nil {
			logger.WithError(err).Error("failed to start ZMQ publisher")
			os.Exit(1)
		}
		defer func() { _ = zmqPublisher.Close() }()
		reporters = append(reporters, messaging.NewEventReporter(zmqPublisher, topics, identity.Address, logger))
	}

	m := NewMinter(cfg, logger, client, identity.Address, claimer, reporters)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- m.Start(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
		cancel()
		<-done
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("minter stopped unexpectedly")
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	m.Shutdown(shutdownCtx, manager)
	logger.Info("minter stopped")
}

// Minter wires the mining loop to the ledger and the optional sinks
type Minter struct {
	cfg    *config.Config
	logger *log.Logger
	engine *miner.Engine
	loop   *miner.Loop
}

// NewMinter builds the fetch, search and submit stages around l
func NewMinter(cfg *config.Config, logger *log.Logger, l ledger.Ledger, minerAddr common.Address,
	claimer miner.Claimer, reporter miner.Reporter) *Minter {
	logger = logger.WithComponent("minter")

	fetcher := ledger.NewFetcher(l, cfg.FetchTimeout, cfg.FetchRateLimit)
	engine := miner.NewEngine(miner.EngineConfig{
		Workers:          cfg.SearchWorkers,
		BatchSize:        cfg.SearchBatchSize,
		LivenessInterval: cfg.LivenessInterval,
	}, nil, logger)
	watcher := miner.NewRoundWatcher(l, cfg.StaleCheckInterval, logger)
	submitter := miner.NewSubmitter(l, minerAddr, claimer, miner.SubmitterConfig{
		SubmitTimeout:  cfg.SubmitTimeout,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, logger)

	loop := miner.NewLoop(fetcher, engine, submitter, watcher, reporter, minerAddr, miner.LoopConfig{
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
	}, logger)

	return &Minter{
		cfg:    cfg,
		logger: logger,
		engine: engine,
		loop:   loop,
	}
}

// Start runs the mining loop until ctx is cancelled
func (m *Minter) Start(ctx context.Context) error {
	m.logger.Info("mining loop starting", "workers", m.engine.Workers())
	return m.loop.Run(ctx)
}

// Shutdown logs what this run achieved and, when stores are enabled, the
// miner's recorded history.
func (m *Minter) Shutdown(ctx context.Context, manager *database.Manager) {
	stats := m.loop.Stats()
	m.logger.Info("mining loop summary",
		"cycles", stats.Cycles,
		"minted", stats.Minted,
		"fetch_failures", stats.FetchFailures,
		"search_failures", stats.SearchFailures,
		"submit_failures", stats.SubmitFailures,
		"stale_rounds", stats.StaleRounds,
		"total_trials", stats.TotalTrials,
	)

	if manager == nil {
		return
	}
	summary, err := manager.Summary(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read mint history")
		return
	}
	m.logger.Info("mint history",
		"accepted", summary.Accepted,
		"rejected", summary.Rejected,
		"cached_mint_count", summary.CachedMintCount,
		"average_hashrate", summary.AverageHashrate,
	)
}

// storesConfig maps the sink settings onto the store manager; nil means
// no store is configured.
func storesConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{
		ClaimTTL: cfg.RoundClaimTTL,
		Workers:  cfg.SearchWorkers,
	}
	enabled := false

	if cfg.PostgresURL != "" {
		dbCfg.Postgres = &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 5,
			MaxIdleConns: 2,
			MaxLifetime:  30 * time.Minute,
		}
		enabled = true
	}
	if cfg.RedisURL != "" {
		dbCfg.Redis = &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     4,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}
		enabled = true
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
		enabled = true
	}

	if !enabled {
		return nil
	}
	return dbCfg
}
