package miner

import (
	"context"
	"time"

	"github.com/bardlex/gomint/internal/ledger"
	"github.com/bardlex/gomint/pkg/errors"
	"github.com/bardlex/gomint/pkg/log"
)

// RoundWatcher polls the ledger round while a search runs and cancels the
// search once the round moves past the snapshot.
type RoundWatcher struct {
	reader   ledger.Reader
	interval time.Duration
	logger   *log.Logger
}

// NewRoundWatcher returns a watcher polling every interval. A nil watcher
// or interval <= 0 disables watching.
func NewRoundWatcher(reader ledger.Reader, interval time.Duration, logger *log.Logger) *RoundWatcher {
	return &RoundWatcher{
		reader:   reader,
		interval: interval,
		logger:   logger.WithComponent("round_watcher"),
	}
}

func (w *RoundWatcher) enabled() bool {
	return w != nil && w.interval > 0
}

// Watch blocks until ctx is done or the round differs from round, in which
// case cancel is called with a stale error. Read failures are logged and
// ignored; the search keeps running on the snapshot it has.
func (w *RoundWatcher) Watch(ctx context.Context, round uint64, cancel context.CancelCauseFunc) {
	if !w.enabled() {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := w.reader.Round(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("round poll failed", "round", round, "error", err)
			}
			continue
		}
		if current != round {
			w.logger.Info("round advanced during search",
				"expected_round", round,
				"current_round", current,
			)
			cancel(errors.Stale("watch_round", round, current))
			return
		}
	}
}
