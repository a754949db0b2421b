package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/K4HVH/mav-lite/internal/metrics"
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
					"rx_tcp", snap.RxTCP,
					"rx_uart", snap.RxUART,
					"drops_tcp", snap.DropsTCP,
					"drops_uart", snap.DropsUART,
					"discovery_adoptions", snap.Adoptions,
					"discovery_rejections", snap.Rejections,
					"active_endpoints", snap.Endpoints,
					"sysid_table_size", snap.Sysids,
					"last_fanout", snap.Fanout,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
