package messaging

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Events are encoded as google.protobuf.Struct so consumers need no
// generated code. Integers wider than 2^53 travel as decimal strings.

// SnapshotEvent is published when a round snapshot is fetched
type SnapshotEvent struct {
	Miner        string
	Round        uint64
	PrevHash     string
	Threshold    string
	LastMintedAt uint64
	FetchedAt    time.Time
}

// CandidateEvent is published when an admissible secret is found
type CandidateEvent struct {
	Miner     string
	Round     uint64
	Secret    uint64
	Digest    string
	Trials    uint64
	ElapsedMs int64
	Hashrate  float64
}

// MintEvent is published for every submission outcome
type MintEvent struct {
	Miner           string
	Round           uint64
	Secret          uint64
	Accepted        bool
	TxHash          string
	BlockNumber     uint64
	LastMintedAt    uint64
	DeltaT          int64
	NewBalance      string
	RejectionReason string
	ConfirmedAt     time.Time
}

// FailureEvent is published when a cycle fails
type FailureEvent struct {
	Miner     string
	Stage     string
	ErrorType string
	Message   string
	At        time.Time
}

// Proto encodes e as a Struct message
func (e SnapshotEvent) Proto() (proto.Message, error) {
	return structpb.NewStruct(map[string]any{
		"type":           "snapshot",
		"miner":          e.Miner,
		"round":          u64(e.Round),
		"prev_hash":      e.PrevHash,
		"threshold":      e.Threshold,
		"last_minted_at": u64(e.LastMintedAt),
		"fetched_at":     ts(e.FetchedAt),
	})
}

// Proto encodes e as a Struct message
func (e CandidateEvent) Proto() (proto.Message, error) {
	return structpb.NewStruct(map[string]any{
		"type":       "candidate",
		"miner":      e.Miner,
		"round":      u64(e.Round),
		"secret":     u64(e.Secret),
		"digest":     e.Digest,
		"trials":     u64(e.Trials),
		"elapsed_ms": e.ElapsedMs,
		"hashrate":   e.Hashrate,
	})
}

// Proto encodes e as a Struct message
func (e MintEvent) Proto() (proto.Message, error) {
	fields := map[string]any{
		"type":         "mint",
		"miner":        e.Miner,
		"round":        u64(e.Round),
		"secret":       u64(e.Secret),
		"accepted":     e.Accepted,
		"tx_hash":      e.TxHash,
		"block_number": u64(e.BlockNumber),
	}
	if e.Accepted {
		fields["last_minted_at"] = u64(e.LastMintedAt)
		fields["delta_t"] = e.DeltaT
		fields["new_balance"] = e.NewBalance
		fields["confirmed_at"] = ts(e.ConfirmedAt)
	} else {
		fields["rejection_reason"] = e.RejectionReason
	}
	return structpb.NewStruct(fields)
}

// Proto encodes e as a Struct message
func (e FailureEvent) Proto() (proto.Message, error) {
	return structpb.NewStruct(map[string]any{
		"type":       "failure",
		"miner":      e.Miner,
		"stage":      e.Stage,
		"error_type": e.ErrorType,
		"message":    e.Message,
		"at":         ts(e.At),
	})
}

// Event is anything that encodes to a proto message
type Event interface {
	Proto() (proto.Message, error)
}

// DecodeEvent parses a published payload back into a field map
func DecodeEvent(data []byte) (map[string]any, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return s.AsMap(), nil
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
