// Package database coordinates the optional minter sinks: PostgreSQL mint
// history, Redis round claims and caches, and InfluxDB metrics. Any of them
// may be disabled; the mining loop never depends on what they store.
package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bardlex/gomint/internal/database/influx"
	"github.com/bardlex/gomint/internal/database/postgres"
	"github.com/bardlex/gomint/internal/database/redis"
	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/miner"
	"github.com/bardlex/gomint/pkg/circuit"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
	"github.com/bardlex/gomint/pkg/retry"
)

const (
	snapshotTTL    = time.Hour
	hashrateWindow = time.Hour
)

// Manager fans cycle events out to the enabled stores and hands out round
// claims. It implements miner.Reporter and miner.Claimer.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	Mints *postgres.MintRepository

	miner    common.Address
	owner    string
	claimTTL time.Duration
	workers  int

	mu   sync.Mutex
	last *found

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	logger         *log.Logger
}

type found struct {
	snap ledger.RoundSnapshot
	cand miner.Candidate
}

var (
	_ miner.Reporter = (*Manager)(nil)
	_ miner.Claimer  = (*Manager)(nil)
)

// Config holds configuration for all database systems; a nil entry
// disables that store.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config

	ClaimTTL time.Duration
	// Workers is the search worker count tagged on search metrics.
	Workers int
	// Owner identifies this process in round claims; empty uses host:pid.
	Owner string
}

// NewManager connects the configured stores
func NewManager(ctx context.Context, cfg *Config, minerAddr common.Address, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		miner:    minerAddr,
		owner:    cfg.Owner,
		claimTTL: cfg.ClaimTTL,
		workers:  cfg.Workers,
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "database",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			IsFailure:       errors.IsRetryable,
		}),
		retryConfig: retry.DatabaseConfig(),
		logger:      logger.WithComponent("database"),
	}
	if m.owner == "" {
		m.owner = defaultOwner()
	}

	if cfg.Postgres != nil {
		pg, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database")
		}
		m.Postgres = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_schema",
				"failed to create mint history schema"))
		}
		m.Mints = postgres.NewMintRepository(pg.DB())
	}

	if cfg.Redis != nil {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database"))
		}
		m.Redis = rc
	}

	if cfg.Influx != nil {
		ic, err := influx.NewClient(cfg.Influx)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database"))
		}
		m.Influx = ic
	}

	return m, nil
}

// abort closes what was opened so far and returns err with any close failure attached
func (m *Manager) abort(err *errors.ServiceError) error {
	if closeErr := m.Close(); closeErr != nil {
		return err.WithContext("cleanup_error", closeErr.Error())
	}
	return err
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + ":" + strconv.Itoa(os.Getpid())
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of the enabled stores
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// ClaimRound implements miner.Claimer. Without Redis every claim succeeds.
func (m *Manager) ClaimRound(ctx context.Context, round uint64, minerAddr common.Address) (bool, error) {
	if m.Redis == nil {
		return true, nil
	}
	ok, err := m.Redis.ClaimRound(ctx, minerAddr.Hex(), round, m.owner, m.claimTTL)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeDatabase, "claim_round", "round claim failed").
			WithContext("round", round)
	}
	if !ok {
		m.logger.Info("round claimed by another minter", "round", round)
	}
	return ok, nil
}

// SnapshotFetched implements miner.Reporter
func (m *Manager) SnapshotFetched(ctx context.Context, snap ledger.RoundSnapshot) {
	if m.Redis != nil {
		if err := m.Redis.SetLastSnapshot(ctx, m.miner.Hex(), snapshotRecord(snap), snapshotTTL); err != nil {
			m.warn("redis_snapshot_cache", err)
		}
	}

	if m.Influx != nil {
		m.Influx.WriteSnapshotMetric(snap.Round, snap.Threshold.BitLen(), snap.LastMintedAt)
	}
}

// CandidateFound implements miner.Reporter
func (m *Manager) CandidateFound(ctx context.Context, snap ledger.RoundSnapshot, cand miner.Candidate) {
	m.mu.Lock()
	m.last = &found{snap: snap, cand: cand}
	m.mu.Unlock()

	if m.Influx != nil {
		m.Influx.WriteSearchMetric(m.miner.Hex(), cand.Round, cand.Trials, cand.Elapsed, m.workers)
	}

	if m.Redis != nil {
		if err := m.Redis.SetHashrate(ctx, m.miner.Hex(), cand.Hashrate(), hashrateWindow); err != nil {
			m.warn("redis_hashrate_update", err)
		}
	}
}

// Submitted implements miner.Reporter. The history row is the only write
// that is retried.
func (m *Manager) Submitted(ctx context.Context, res *miner.SubmissionResult) {
	m.mu.Lock()
	last := m.last
	m.last = nil
	m.mu.Unlock()

	if last != nil && (last.cand.Round != res.Round || last.cand.Secret != res.Secret) {
		last = nil
	}

	if m.Mints != nil {
		if err := m.RecordMint(ctx, mintRecord(m.miner, res, last)); err != nil {
			m.warn("record_mint", err)
		}
	}

	if m.Influx != nil {
		var latency time.Duration
		if !res.SubmittedAt.IsZero() && !res.ConfirmedAt.IsZero() {
			latency = res.ConfirmedAt.Sub(res.SubmittedAt)
		}
		m.Influx.WriteSubmissionMetric(m.miner.Hex(), res.Round, res.Accepted, res.GasUsed, res.DeltaT, latency)
	}

	if m.Redis != nil && res.Accepted {
		if _, err := m.Redis.IncrementCounter(ctx, redis.MintCounterKey(m.miner.Hex()), 0); err != nil {
			m.warn("redis_mint_counter", err)
		}
	}
}

// CycleFailed implements miner.Reporter
func (m *Manager) CycleFailed(_ context.Context, stage miner.Stage, err error) {
	if m.Influx != nil {
		m.Influx.WriteFailureMetric(m.miner.Hex(), string(stage), errorType(err))
	}
}

// RecordMint stores a history row with retries behind the breaker
func (m *Manager) RecordMint(ctx context.Context, mint *postgres.Mint) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Mints.CreateMint(ctx, mint); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_mint",
					"failed to store mint in PostgreSQL").
					WithContext("round", mint.Round).
					WithContext("secret", mint.Secret)
			}
			return nil
		})
	})
}

// Summary is a point-in-time view of this miner's history
type Summary struct {
	Accepted        int64
	Rejected        int64
	CachedMintCount int64
	AverageHashrate float64
}

// Summary reads what the enabled stores know about the miner; missing
// stores leave their fields zero.
func (m *Manager) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{}

	if m.Mints != nil {
		stats, err := m.Mints.GetMintStats(ctx, m.miner.Hex())
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "mint_summary", "failed to read mint stats")
		}
		s.Accepted = stats.Accepted
		s.Rejected = stats.Rejected
	}

	if m.Redis != nil {
		if n, err := m.Redis.GetCounter(ctx, redis.MintCounterKey(m.miner.Hex())); err == nil {
			s.CachedMintCount = n
		}
		if rate, err := m.Redis.GetAverageHashrate(ctx, m.miner.Hex(), hashrateWindow); err == nil {
			s.AverageHashrate = rate
		}
	} else if m.Influx != nil {
		if rate, err := m.Influx.GetAverageHashrate(ctx, m.miner.Hex(), hashrateWindow); err == nil {
			s.AverageHashrate = rate
		}
	}

	return s, nil
}

// StartPeriodicTasks flushes metrics and surfaces async write errors until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	go func() {
		errs := m.Influx.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				m.warn("influx_write", err)
			}
		}
	}()
}

func (m *Manager) warn(operation string, err error) {
	m.logger.Warn("sink write failed (non-critical)", "operation", operation, "error", err)
}

func snapshotRecord(snap ledger.RoundSnapshot) *redis.SnapshotRecord {
	threshold := ""
	if snap.Threshold != nil {
		threshold = snap.Threshold.String()
	}
	return &redis.SnapshotRecord{
		Round:        snap.Round,
		PrevHash:     snap.PrevHash.Hex(),
		Threshold:    threshold,
		LastMintedAt: snap.LastMintedAt,
		FetchedAt:    snap.FetchedAt,
	}
}

// mintRecord builds the history row for res; last adds the search details
// when it belongs to the same candidate.
func mintRecord(minerAddr common.Address, res *miner.SubmissionResult, last *found) *postgres.Mint {
	mint := &postgres.Mint{
		Miner:    minerAddr.Hex(),
		Round:    strconv.FormatUint(res.Round, 10),
		Secret:   strconv.FormatUint(res.Secret, 10),
		Digest:   res.Digest.Hex(),
		Accepted: res.Accepted,
	}

	if res.TxHash != (common.Hash{}) {
		mint.TxHash = ptr(res.TxHash.Hex())
	}
	if res.BlockNumber > 0 {
		mint.BlockNumber = ptr(int64(res.BlockNumber))
		mint.GasUsed = ptr(int64(res.GasUsed))
	}
	if res.RejectionReason != "" {
		mint.RejectionReason = ptr(res.RejectionReason)
	}
	if res.Accepted {
		mint.LastMintedAt = ptr(int64(res.LastMintedAt))
		mint.DeltaT = ptr(res.DeltaT)
	}
	if res.NewBalance != nil {
		mint.NewBalance = ptr(res.NewBalance.String())
	}
	if !res.SubmittedAt.IsZero() {
		mint.SubmittedAt = ptr(res.SubmittedAt)
	}
	if !res.ConfirmedAt.IsZero() {
		mint.ConfirmedAt = ptr(res.ConfirmedAt)
	}

	if last != nil {
		if last.snap.Threshold != nil {
			mint.Threshold = ptr(last.snap.Threshold.String())
		}
		mint.PrevHash = ptr(last.snap.PrevHash.Hex())
		mint.Trials = ptr(strconv.FormatUint(last.cand.Trials, 10))
		mint.SearchMillis = ptr(last.cand.Elapsed.Milliseconds())
	}

	return mint
}

func errorType(err error) string {
	var se *errors.ServiceError
	if stderrors.As(err, &se) {
		return string(se.Type)
	}
	return "unknown"
}

func ptr[T any](v T) *T {
	return &v
}
