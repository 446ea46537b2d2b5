package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/session counter.
var Stats = &stats{}

type stats struct {
	SignalsSent atomic.Int64 // envelopes broadcast since process start
	SignalsRecv atomic.Int64 // envelopes received since process start
	Reconnects  atomic.Int64 // connection restarts (automatic and manual)
}

func (s *stats) AddSent()      { s.SignalsSent.Add(1) }
func (s *stats) AddRecv()      { s.SignalsRecv.Add(1) }
func (s *stats) AddReconnect() { s.Reconnects.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session statistics
// every 10 seconds, skipping intervals with no activity. It stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevRetry int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.SignalsSent.Load()
				recv := Stats.SignalsRecv.Load()
				retry := Stats.Reconnects.Load()

				if sent != prevSent || recv != prevRecv || retry != prevRetry {
					LogInfo("%s", formatStats(sent-prevSent, recv-prevRecv, retry))
				}

				prevSent = sent
				prevRecv = recv
				prevRetry = retry

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display.
func formatStats(sent, recv, retryTotal int64) string {
	return fmt.Sprintf("Signals: %2d↑ %2d↓ | Reconnects: %d", sent, recv, retryTotal)
}
