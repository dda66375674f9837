// Package influx provides the InfluxDB client for minter metrics.
// It records search throughput, submission outcomes and cycle failures.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := checkHealth(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	return &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the client
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	return checkHealth(ctx, c.client)
}

func checkHealth(ctx context.Context, client influxdb2.Client) error {
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return nil
}

// Errors returns asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Minting metrics

// WriteSearchMetric records one finished search
func (c *Client) WriteSearchMetric(miner string, round, trials uint64, elapsed time.Duration, workers int) {
	c.writeAPI.WritePoint(searchPoint(miner, round, trials, elapsed, workers, time.Now()))
}

// WriteSubmissionMetric records a submission outcome
func (c *Client) WriteSubmissionMetric(miner string, round uint64, accepted bool, gasUsed uint64, deltaT int64, latency time.Duration) {
	c.writeAPI.WritePoint(submissionPoint(miner, round, accepted, gasUsed, deltaT, latency, time.Now()))
}

// WriteFailureMetric records a failed cycle
func (c *Client) WriteFailureMetric(miner, stage, errorType string) {
	c.writeAPI.WritePoint(failurePoint(miner, stage, errorType, time.Now()))
}

// WriteSnapshotMetric records the round parameters at fetch time
func (c *Client) WriteSnapshotMetric(round uint64, thresholdBits int, lastMintedAt uint64) {
	fields := map[string]any{
		"round":          strconv.FormatUint(round, 10),
		"threshold_bits": thresholdBits,
		"last_minted_at": int64(lastMintedAt),
	}
	c.writeAPI.WritePoint(write.NewPoint("snapshots", map[string]string{}, fields, time.Now()))
}

func searchPoint(miner string, round, trials uint64, elapsed time.Duration, workers int, at time.Time) *write.Point {
	var hashrate float64
	if elapsed > 0 {
		hashrate = float64(trials) / elapsed.Seconds()
	}

	tags := map[string]string{
		"miner": strings.ToLower(miner),
	}
	fields := map[string]any{
		"round":      strconv.FormatUint(round, 10),
		"trials":     trials,
		"elapsed_ms": elapsed.Milliseconds(),
		"hashrate":   hashrate,
		"workers":    workers,
	}
	return write.NewPoint("searches", tags, fields, at)
}

func submissionPoint(miner string, round uint64, accepted bool, gasUsed uint64, deltaT int64, latency time.Duration, at time.Time) *write.Point {
	tags := map[string]string{
		"miner":    strings.ToLower(miner),
		"accepted": strconv.FormatBool(accepted),
	}
	fields := map[string]any{
		"round":      strconv.FormatUint(round, 10),
		"gas_used":   gasUsed,
		"delta_t":    deltaT,
		"latency_ms": latency.Milliseconds(),
		"count":      1,
	}
	return write.NewPoint("submissions", tags, fields, at)
}

func failurePoint(miner, stage, errorType string, at time.Time) *write.Point {
	tags := map[string]string{
		"miner":      strings.ToLower(miner),
		"stage":      stage,
		"error_type": errorType,
	}
	fields := map[string]any{
		"count": 1,
	}
	return write.NewPoint("cycle_failures", tags, fields, at)
}

// Query methods

// GetAverageHashrate returns the mean search hashrate of a miner over duration
func (c *Client) GetAverageHashrate(ctx context.Context, miner string, duration time.Duration) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "searches")
		|> filter(fn: (r) => r.miner == "%s")
		|> filter(fn: (r) => r._field == "hashrate")
		|> mean()
	`, c.bucket, duration.String(), strings.ToLower(miner))

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query hashrate: %w", err)
	}
	defer func() { _ = result.Close() }()

	if result.Next() {
		if hashrate, ok := result.Record().Value().(float64); ok {
			return hashrate, nil
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return 0, nil
}
