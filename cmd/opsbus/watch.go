package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/opsbus/internal/archive"
	"github.com/gyaneshwarpardhi/opsbus/internal/dispatch"
)

// cmdWatch runs trigger-driven sweeps until interrupted: a filesystem watch
// on the pending queue plus a fixed interval as backstop, and a periodic
// archiver pass. Sweeps stay one-pass; this command is only their invoker
// for hosts that have no external scheduler.
func cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfgPath, root, verbose := commonFlags(fs)
	metricsAddr := fs.String("metrics", "", "address for the /metrics endpoint (overrides config)")
	fs.Parse(args)

	a, err := setup(*cfgPath, *root, *verbose)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := dispatch.New(a.lay, a.q, a.reg)
	sweep := func() {
		if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sweep failed", "err", err)
		}
	}

	var wg sync.WaitGroup
	triggers := []dispatch.Trigger{
		dispatch.WatchTrigger{Dir: a.lay.PendingDir()},
		dispatch.IntervalTrigger{Every: time.Duration(a.cfg.Watch.SweepIntervalSeconds) * time.Second},
	}
	for _, tr := range triggers {
		wg.Add(1)
		go func(tr dispatch.Trigger) {
			defer wg.Done()
			if err := tr.Run(ctx, sweep); err != nil {
				slog.Error("trigger stopped", "err", err)
			}
		}(tr)
	}

	arch := archive.New(a.cfg, a.q)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(a.cfg.Watch.ArchiveIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if sum, err := arch.Run(ctx, archive.ModeFull, false); err != nil {
					slog.Error("archiver pass failed", "err", err)
				} else if sum.Failed() {
					slog.Warn("archiver pass had partition errors", "errors", len(sum.Errors))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	addr := *metricsAddr
	if addr == "" {
		addr = a.cfg.Watch.MetricsAddr
	}
	var srv *http.Server
	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second}
		go func() {
			slog.Info("metrics endpoint up", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	slog.Info("watching", "root", a.cfg.Root,
		"sweep_interval_s", a.cfg.Watch.SweepIntervalSeconds,
		"archive_interval_m", a.cfg.Watch.ArchiveIntervalMinutes)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	cancel()
	if srv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}
	wg.Wait()
	fmt.Fprintln(os.Stderr, "opsbus: watch stopped")
	return exitOK
}
