// Command txgraphd is the task-graph daemon: it loads configuration, opens
// the embedded SQLite store, starts the reaper tick loop, and serves the
// HTTP API until a termination signal arrives. Startup sequencing
// (config -> db -> subsystems -> serve -> signal-driven graceful
// shutdown) is grounded on cmd/cliaimonitor/main.go's boot order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/txgraph/internal/anchors"
	"github.com/txgraph/internal/claims"
	"github.com/txgraph/internal/config"
	"github.com/txgraph/internal/context"
	"github.com/txgraph/internal/embedprovider"
	"github.com/txgraph/internal/feedback"
	"github.com/txgraph/internal/httpapi"
	"github.com/txgraph/internal/learning"
	"github.com/txgraph/internal/notifybus"
	"github.com/txgraph/internal/ratelimit"
	"github.com/txgraph/internal/retrieval"
	"github.com/txgraph/internal/runs"
	"github.com/txgraph/internal/storage"
	"github.com/txgraph/internal/taskgraph"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	pidFile := flag.String("pid-file", "txgraphd.pid", "Path to write the daemon's PID")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database %s: %v\n", cfg.DBPath, err)
		os.Exit(1)
	}
	defer db.Close()

	engine := taskgraph.NewEngine(db)
	scheduler := taskgraph.NewScheduler(db)
	claimsMgr := claims.NewManager(db, cfg.Claims.PoolCapacity, cfg.Claims.HeartbeatInterval, cfg.Claims.MissedThreshold)
	runStore := runs.NewStore(db)
	reaper := runs.NewReaper(db, claimsMgr, engine)
	ls := learning.NewStore(db)
	fb := feedback.NewTracker(db)
	pipeline := retrieval.NewPipeline(ls, embedprovider.NoopProvider{}, fb)
	assembler := context.NewAssembler(engine, pipeline)
	anchorStore := anchors.NewStore(db)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window, cfg.RateLimit.TrustProxyHeader)
	}

	var bus *notifybus.Bus
	if cfg.NATS.URL != "" {
		bus, err = notifybus.Connect(cfg.NATS.URL)
		if err != nil {
			log.Printf("[TXGRAPHD] notify bus unavailable, continuing without it: %v", err)
		} else {
			defer bus.Close()
		}
	}

	api := httpapi.NewServer(engine, scheduler, ls, pipeline, fb, assembler, runStore, limiter)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("[TXGRAPHD] listening on %s", cfg.Server.Addr)
		serverErr <- httpSrv.ListenAndServe()
	}()

	reaperDone := make(chan struct{})
	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	go runReaperLoop(reaperCtx, reaper, cfg, bus, reaperDone)

	pruneDone := make(chan struct{})
	pruneCtx, cancelPrune := context.WithCancel(context.Background())
	go runAnchorPruneLoop(pruneCtx, anchorStore, cfg, pruneDone)

	if err := writePIDFile(*pidFile); err != nil {
		log.Printf("[TXGRAPHD] warning: failed to write pid file: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[TXGRAPHD] server error: %v", err)
		}
	case <-shutdown:
		log.Println("[TXGRAPHD] shutting down (signal received)")
	}

	cancelReaper()
	<-reaperDone
	cancelPrune()
	<-pruneDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[TXGRAPHD] shutdown error: %v", err)
	}

	if err := os.Remove(*pidFile); err != nil && !os.IsNotExist(err) {
		log.Printf("[TXGRAPHD] warning: failed to remove pid file: %v", err)
	}
	log.Println("[TXGRAPHD] stopped")
}

// writePIDFile records the daemon's PID as a plain one-PID-per-line text
// file rather than internal/instance's Windows-only JSON PID file (see
// DESIGN.md).
func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// runReaperLoop ticks ReapStalled at cfg.Reaper.TickInterval until ctx is
// canceled, publishing a RunReapedEvent per result to bus (if connected)
// and logging each pass's result count.
func runReaperLoop(ctx context.Context, reaper *runs.Reaper, cfg *config.Config, bus *notifybus.Bus, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.Reaper.TickInterval)
	defer ticker.Stop()

	idleSeconds := int(cfg.Reaper.IdleTimeout.Seconds())
	lagSeconds := int(cfg.Reaper.HeartbeatLag.Seconds())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := reaper.ReapStalled(runs.ReapOptions{
				TranscriptIdleSeconds: &idleSeconds,
				HeartbeatLagSeconds:   &lagSeconds,
				ResetTask:             true,
			})
			if err != nil {
				log.Printf("[TXGRAPHD] reaper tick failed: %v", err)
				continue
			}
			for _, result := range results {
				if err := bus.PublishRunReaped(notifybus.RunReapedEvent{
					RunID:             result.RunID,
					TaskID:            result.TaskID,
					ProcessTerminated: result.ProcessTerminated,
					TaskReset:         result.TaskReset,
					Timestamp:         time.Now().UTC(),
				}); err != nil {
					log.Printf("[TXGRAPHD] failed to publish run-reaped event for %s: %v", result.RunID, err)
				}
			}
			if len(results) > 0 {
				log.Printf("[TXGRAPHD] reaped %d stalled run(s)", len(results))
			}
		}
	}
}

// runAnchorPruneLoop deletes invalid, non-pinned anchors older than
// cfg.Anchors.PruneAge once every four reaper tick intervals.
func runAnchorPruneLoop(ctx context.Context, store *anchors.Store, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.Reaper.TickInterval * 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := anchors.Prune(store, time.Now().UTC().Add(-cfg.Anchors.PruneAge))
			if err != nil {
				log.Printf("[TXGRAPHD] anchor prune failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[TXGRAPHD] pruned %d anchor(s)", n)
			}
		}
	}
}
