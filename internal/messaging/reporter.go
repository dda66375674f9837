package messaging

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/internal/miner"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

// Sink accepts encoded events. KafkaClient and ZMQPublisher both satisfy it.
type Sink interface {
	Publish(ctx context.Context, topic, key string, msg proto.Message) error
}

var _ miner.Reporter = (*EventReporter)(nil)

// EventReporter turns loop notifications into events on a sink. Events are
// keyed by round so a partitioned topic keeps one round in order.
type EventReporter struct {
	sink   Sink
	topics Topics
	miner  string
	logger *log.Logger
	now    func() time.Time
}

// NewEventReporter creates a reporter publishing to sink
func NewEventReporter(sink Sink, topics Topics, minerAddr common.Address, logger *log.Logger) *EventReporter {
	return &EventReporter{
		sink:   sink,
		topics: topics,
		miner:  minerAddr.Hex(),
		logger: logger.WithComponent("events"),
		now:    time.Now,
	}
}

// SnapshotFetched publishes the snapshot on the snapshots topic
func (r *EventReporter) SnapshotFetched(ctx context.Context, snap ledger.RoundSnapshot) {
	ev := SnapshotEvent{
		Miner:        r.miner,
		Round:        snap.Round,
		PrevHash:     snap.PrevHash.Hex(),
		LastMintedAt: snap.LastMintedAt,
		FetchedAt:    snap.FetchedAt,
	}
	if snap.Threshold != nil {
		ev.Threshold = snap.Threshold.String()
	}
	r.publish(ctx, r.topics.Snapshots, snap.Round, ev)
}

// CandidateFound publishes the candidate on the candidates topic
func (r *EventReporter) CandidateFound(ctx context.Context, _ ledger.RoundSnapshot, cand miner.Candidate) {
	r.publish(ctx, r.topics.Candidates, cand.Round, CandidateEvent{
		Miner:     r.miner,
		Round:     cand.Round,
		Secret:    cand.Secret,
		Digest:    cand.Digest.Hex(),
		Trials:    cand.Trials,
		ElapsedMs: cand.Elapsed.Milliseconds(),
		Hashrate:  cand.Hashrate(),
	})
}

// Submitted publishes the outcome on the mints topic
func (r *EventReporter) Submitted(ctx context.Context, res *miner.SubmissionResult) {
	if res == nil {
		return
	}
	ev := MintEvent{
		Miner:           r.miner,
		Round:           res.Round,
		Secret:          res.Secret,
		Accepted:        res.Accepted,
		BlockNumber:     res.BlockNumber,
		LastMintedAt:    res.LastMintedAt,
		DeltaT:          res.DeltaT,
		RejectionReason: res.RejectionReason,
		ConfirmedAt:     res.ConfirmedAt,
	}
	if res.TxHash != (common.Hash{}) {
		ev.TxHash = res.TxHash.Hex()
	}
	if res.NewBalance != nil {
		ev.NewBalance = res.NewBalance.String()
	}
	r.publish(ctx, r.topics.Mints, res.Round, ev)
}

// CycleFailed publishes the failure on the failures topic
func (r *EventReporter) CycleFailed(ctx context.Context, stage miner.Stage, err error) {
	ev := FailureEvent{
		Miner:     r.miner,
		Stage:     string(stage),
		ErrorType: "unknown",
		At:        r.now(),
	}
	if err != nil {
		ev.Message = err.Error()
		var se *errors.ServiceError
		if stderrors.As(err, &se) {
			ev.ErrorType = string(se.Type)
		}
	}
	r.publish(ctx, r.topics.Failures, 0, ev)
}

func (r *EventReporter) publish(ctx context.Context, topic string, round uint64, ev Event) {
	msg, err := ev.Proto()
	if err != nil {
		r.logger.Warn("failed to encode event", "topic", topic, "error", err)
		return
	}

	key := r.miner
	if round > 0 {
		key += ":" + strconv.FormatUint(round, 10)
	}

	if err := r.sink.Publish(ctx, topic, key, msg); err != nil {
		r.logger.Warn("failed to publish event", "topic", topic, "key", key, "error", err)
	}
}
