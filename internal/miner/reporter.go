package miner

import (
	"context"

	"github.com/bardlex/gomint/internal/ledger"
)

// Reporter receives cycle events. Calls are synchronous on the loop
// goroutine under a bounded context; implementations must not assume they
// can block the loop, and their failures never affect it.
type Reporter interface {
	SnapshotFetched(ctx context.Context, snap ledger.RoundSnapshot)
	CandidateFound(ctx context.Context, snap ledger.RoundSnapshot, cand Candidate)
	Submitted(ctx context.Context, res *SubmissionResult)
	CycleFailed(ctx context.Context, stage Stage, err error)
}

// NopReporter ignores every event.
type NopReporter struct{}

// SnapshotFetched implements Reporter
func (NopReporter) SnapshotFetched(context.Context, ledger.RoundSnapshot) {}

// CandidateFound implements Reporter
func (NopReporter) CandidateFound(context.Context, ledger.RoundSnapshot, Candidate) {}

// Submitted implements Reporter
func (NopReporter) Submitted(context.Context, *SubmissionResult) {}

// CycleFailed implements Reporter
func (NopReporter) CycleFailed(context.Context, Stage, error) {}

// MultiReporter fans events out in order.
type MultiReporter []Reporter

// SnapshotFetched forwards to every reporter
func (m MultiReporter) SnapshotFetched(ctx context.Context, snap ledger.RoundSnapshot) {
	for _, r := range m {
		r.SnapshotFetched(ctx, snap)
	}
}

// CandidateFound forwards to every reporter
func (m MultiReporter) CandidateFound(ctx context.Context, snap ledger.RoundSnapshot, cand Candidate) {
	for _, r := range m {
		r.CandidateFound(ctx, snap, cand)
	}
}

// Submitted forwards to every reporter
func (m MultiReporter) Submitted(ctx context.Context, res *SubmissionResult) {
	for _, r := range m {
		r.Submitted(ctx, res)
	}
}

// CycleFailed forwards to every reporter
func (m MultiReporter) CycleFailed(ctx context.Context, stage Stage, err error) {
	for _, r := range m {
		r.CycleFailed(ctx, stage, err)
	}
}
