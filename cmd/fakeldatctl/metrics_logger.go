package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fakeldat/go-fakeldat/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_frames", snap.SerialFrames,
					"commands", snap.CommandsSent,
					"checksum_failures", snap.ChecksumFailures,
					"decode_faults", snap.DecodeFaults,
					"reports", snap.Reports,
					"reopens", snap.Reopens,
					"feed_tx", snap.FeedTx,
					"feed_controls", snap.FeedControls,
					"hub_drops", snap.HubDrops,
					"csv_rows", snap.CSVRows,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
