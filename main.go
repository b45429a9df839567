// Command optocapture runs the high-speed capture service for an
// optogenetics rig: it ingests the camera frame stream into pre/post-trigger
// ring buffers, persists triggered capture sessions to disk, records session
// metadata in sqlite, and serves a JSON status API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/braid-data/optocapture/internal/api"
	"github.com/braid-data/optocapture/internal/camera"
	"github.com/braid-data/optocapture/internal/capture"
	"github.com/braid-data/optocapture/internal/config"
	"github.com/braid-data/optocapture/internal/sessiondb"
	"github.com/braid-data/optocapture/internal/sink"
	"github.com/braid-data/optocapture/internal/trigger"
	"github.com/braid-data/optocapture/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when empty)")
	listen     = flag.String("listen", "", "Listen address override")
	devMode    = flag.Bool("dev", false, "Run with the synthetic frame source and no serial hardware")
	drainWait  = flag.Duration("drain-timeout", 30*time.Second, "How long to wait for in-flight artifact writes at shutdown")
)

func main() {
	flag.Parse()

	log.Printf("optocapture %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *devMode {
		cfg.SerialPort = ""
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.Enabled {
		log.Fatal("capture is disabled in config; nothing to do")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	db, err := sessiondb.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open session database: %v", err)
	}
	defer db.Close()

	snk := sink.New(sink.Config{
		OutputDir:           cfg.OutputDir,
		Store:               db,
		MaxConcurrentWrites: cfg.MaxConcurrentWrites,
		FailedGracePeriod:   time.Duration(cfg.FailedGraceSeconds * float64(time.Second)),
	})

	stats := capture.NewIngestStats(cfg.StatsWindow)
	engine, err := capture.NewEngine(capture.EngineConfig{
		Format:            cfg.Camera,
		PreWindowSeconds:  cfg.PreTriggerRecordTime,
		PostWindowSeconds: cfg.PostTriggerRecordTime,
		Policy:            capture.TriggerPolicy(cfg.TriggerPolicy),
		Sink:              snk,
		Stats:             stats,
	})
	if err != nil {
		log.Fatalf("failed to build capture engine: %v", err)
	}

	// The camera SDK adapter is wired here in production builds; this
	// binary ships with the synthetic source for dry runs and rig bring-up.
	src := camera.NewSimSource(cfg.Camera)

	// handleTrigger is shared by every trigger origin: record the event in
	// the ledger, then deliver it to the engine.
	handleTrigger := func(ev trigger.Event) {
		if err := db.RecordTrigger(sessiondb.TriggerRecord{
			ID:             ev.ID,
			TimestampNanos: ev.TimestampNanos,
			ObjectID:       ev.ObjectID,
			Source:         ev.Source,
			Disposition:    string(engine.State()),
		}); err != nil {
			log.Printf("failed to record trigger: %v", err)
		}
		engine.Trigger(capture.Trigger{TimestampNanos: ev.TimestampNanos, ObjectID: ev.ObjectID})
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ingestion task: owns the rings; a source error here is fatal to the
	// whole process since the rig cannot capture without frames.
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := engine.Run(ctx, src)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, camera.ErrSourceClosed):
		default:
			log.Printf("capture pipeline failed: %v", err)
			snk.ReportFatal(err.Error())
		}
		stop()
		log.Print("ingestion terminated")
	}()

	// Sink janitor for failed-session retention.
	wg.Add(1)
	go func() {
		defer wg.Done()
		snk.Run(ctx)
	}()

	// Status event consumer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-snk.Events():
				detail := ev.ArtifactPath
				if detail == "" {
					detail = ev.Reason
				}
				log.Printf("session %s: %s %s", ev.Name, ev.Kind, detail)
			case <-ctx.Done():
				log.Print("status consumer terminated")
				return
			}
		}
	}()

	// Serial trigger source, when the rig has trigger hardware attached.
	if cfg.SerialPort != "" {
		port, err := trigger.OpenPort(cfg.SerialPort, cfg.Serial)
		if err != nil {
			log.Fatalf("failed to open trigger hardware: %v", err)
		}
		source := trigger.NewSerialSource(port, handleTrigger)
		defer source.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := source.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("trigger source failed: %v", err)
			}
			log.Print("trigger monitor terminated")
		}()
	}

	// HTTP API server.
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(engine, stats, snk, db, handleTrigger)
		server := &http.Server{
			Addr:    cfg.Listen,
			Handler: api.LoggingMiddleware(apiServer.ServeMux()),
		}

		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	// Frames have stopped; give in-flight artifact writes a bounded window
	// to finish before exit. Writes that miss the deadline are reported as
	// failed sessions by the sink, not silently dropped.
	drainCtx, cancel := context.WithTimeout(context.Background(), *drainWait)
	defer cancel()
	if err := snk.Close(drainCtx); err != nil {
		log.Printf("persistence drain: %v", err)
	}
	log.Print("shutdown complete")
}
