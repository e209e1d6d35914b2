// Command lifecycled is the Task Lifecycle Engine daemon: it wires the
// task store, workspace materializer, message bus, deadlock detector,
// archival engine, and lifecycle monitor together behind a small set of
// cobra subcommands for serving, or running a single sweep manually.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/swarmguard/lifecycle-engine/internal/agentlog"
	"github.com/swarmguard/lifecycle-engine/internal/archival"
	"github.com/swarmguard/lifecycle-engine/internal/auditlog"
	"github.com/swarmguard/lifecycle-engine/internal/lifecycle"
	"github.com/swarmguard/lifecycle-engine/internal/messagebus"
	"github.com/swarmguard/lifecycle-engine/internal/monitor"
	"github.com/swarmguard/lifecycle-engine/internal/natsbus"
	"github.com/swarmguard/lifecycle-engine/internal/orgdirectory"
	"github.com/swarmguard/lifecycle-engine/internal/pathresolver"
	"github.com/swarmguard/lifecycle-engine/internal/taskstore"
	"github.com/swarmguard/lifecycle-engine/internal/telemetry"
	"github.com/swarmguard/lifecycle-engine/internal/workspace"
)

// deps bundles everything a subcommand needs after wiring; serve keeps it
// running under a cron-driven monitor, the one-shot commands invoke one
// sweep step directly and exit.
type deps struct {
	cfg             Config
	log             *slog.Logger
	store           *taskstore.Store
	resolver        *pathresolver.Resolver
	bus             *messagebus.Bus
	archiver        *archival.Engine
	monitor         *monitor.Monitor
	coord           *lifecycle.Coordinator
	audit           *auditlog.Log
	agentLogs       *agentlog.Writers
	shutdownTrace   func(context.Context) error
	shutdownMetrics func(context.Context) error
}

func main() {
	root := &cobra.Command{
		Use:   "lifecycled",
		Short: "Task Lifecycle Engine daemon for hierarchical autonomous agents",
	}
	bindConfigFlags(root.PersistentFlags())

	root.AddCommand(serveCmd(), sweepCmd(), archiveCmd(), compactCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the daemon: drives the periodic sweep under a cron schedule and serves /health and /debug/stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := wire(cmd)
			if err != nil {
				return err
			}
			defer d.close()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := d.monitor.Start(ctx, d.cfg.SweepCron); err != nil {
				return fmt.Errorf("start monitor: %w", err)
			}

			debugSrv := d.debugServer()
			go func() {
				if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					d.log.Error("debug server error", "error", err)
				}
			}()
			d.log.Info("lifecycle engine started", "root_dir", d.cfg.RootDir, "sweep_cron", d.cfg.SweepCron, "debug_addr", d.cfg.DebugAddr)

			<-ctx.Done()
			d.log.Info("shutdown initiated")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = debugSrv.Shutdown(stopCtx)
			if err := d.monitor.Stop(stopCtx); err != nil {
				d.log.Warn("monitor stop did not complete cleanly", "error", err)
			}
			d.log.Info("shutdown complete")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "run one archive+compact+deadlock sweep and exit, for cron-outside-the-binary deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := wire(cmd)
			if err != nil {
				return err
			}
			defer d.close()

			report, err := d.monitor.Tick(context.Background())
			d.log.Info("sweep complete",
				"archived", report.Archived,
				"compressed", report.Compressed,
				"deadlocks_detected", report.DeadlocksDetected,
				"notifications_sent", report.NotificationsSent,
			)
			return err
		},
	}
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "run archive_old only and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := wire(cmd)
			if err != nil {
				return err
			}
			defer d.close()
			count, err := d.archiver.ArchiveOld(context.Background(), d.cfg.ArchiveDays)
			d.log.Info("archive_old complete", "archived", count)
			return err
		},
	}
}

func compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "run compress_old only and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := wire(cmd)
			if err != nil {
				return err
			}
			defer d.close()
			count, err := d.archiver.CompressOld(context.Background(), d.cfg.CompressDays)
			d.log.Info("compress_old complete", "compressed", count)
			return err
		},
	}
}

// wire constructs every component from the bound configuration. It is
// shared by every subcommand so serve and the one-shot commands see
// identical wiring.
func wire(cmd *cobra.Command) (*deps, error) {
	cfg := loadConfig(cmd.Flags())

	log := telemetry.InitLogger("lifecycle-engine")
	ctx := context.Background()
	shutdownTrace := telemetry.InitTracer(ctx, "lifecycle-engine")
	shutdownMetrics, _ := telemetry.InitMetrics(ctx, "lifecycle-engine")

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create root dir: %w", err)
	}

	store, err := taskstore.Open(cfg.DBPath, taskstore.Options{})
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	resolver := pathresolver.New(cfg.RootDir)
	mat := workspace.New(resolver, log)

	audit, err := auditlog.Open(auditlog.Config{Dir: cfg.RootDir + "/audit"})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	agentLogs := agentlog.New(cfg.AgentLogMaxMB, cfg.AgentLogBackup, cfg.AgentLogMaxAge)

	var publisher *natsbus.Publisher
	if cfg.NATSURL != "" {
		if nc, err := nats.Connect(cfg.NATSURL); err != nil {
			log.Warn("nats connect failed, notifications stay local-only", "error", err)
		} else {
			publisher = natsbus.New(nc, log)
		}
	}

	directory := orgdirectory.NewInMemory()
	bus := messagebus.New(store, resolver, directory, audit, publisher, log)
	coord := lifecycle.NewCoordinator(store, mat, bus, directory, resolver, agentLogs, nil, log)
	archiver := archival.New(store, resolver, 4, log)
	mon := monitor.New(store, archiver, bus, directory, monitor.Thresholds{
		ArchiveOlderThanDays:  cfg.ArchiveDays,
		CompressOlderThanDays: cfg.CompressDays,
	}, log)

	return &deps{
		cfg:             cfg,
		log:             log,
		store:           store,
		resolver:        resolver,
		bus:             bus,
		archiver:        archiver,
		monitor:         mon,
		coord:           coord,
		audit:           audit,
		agentLogs:       agentLogs,
		shutdownTrace:   shutdownTrace,
		shutdownMetrics: shutdownMetrics,
	}, nil
}

// debugServer exposes /health and /debug/stats for operational visibility.
func (d *deps) debugServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := d.store.Stats(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	})
	return &http.Server{Addr: d.cfg.DebugAddr, Handler: mux}
}

func (d *deps) close() {
	d.bus.Close()
	d.agentLogs.Close()
	_ = d.audit.Close()
	_ = d.store.Close()
	telemetry.Flush(context.Background(), d.shutdownTrace)
	telemetry.Flush(context.Background(), d.shutdownMetrics)
}
