package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/beacon.report/internal/anchor"
	"github.com/banshee-data/beacon.report/internal/api"
	"github.com/banshee-data/beacon.report/internal/config"
	"github.com/banshee-data/beacon.report/internal/db"
	"github.com/banshee-data/beacon.report/internal/directory"
	"github.com/banshee-data/beacon.report/internal/estimate"
	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/ingest"
	"github.com/banshee-data/beacon.report/internal/pathloss"
	"github.com/banshee-data/beacon.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Replay fixture messages instead of listening for the position engine")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	ingestAddr = flag.String("ingest", ":9021", "UDP address for position-engine messages")
	dbFile     = flag.String("db", "estimates.db", "Path to the sqlite database")
	fixtures   = flag.String("fixtures", "fixtures.jsonl", "Fixture file replayed in dev mode")
	anchorFile = flag.String("anchors", "anchors.json", "Anchor position file loaded in dev mode")
	configFile = flag.String("config", "", "Path to a tuning config JSON file (defaults to config/tuning.defaults.json)")
)

// statusEvery sets how many processed messages pass between anchor
// health snapshots written to the database.
const statusEvery = 100

// pipeline ties one message's journey together: discover anchors,
// estimate, persist, stream.
type pipeline struct {
	proc       *estimate.Processor
	dir        *directory.Client
	db         *db.DB
	live       *api.LiveHub
	model      pathloss.Model
	staleAfter time.Duration

	processed int64
}

func (p *pipeline) handleMessage(ctx context.Context, msg ingest.Message) error {
	now := time.Now()

	// old captures and engine backlogs say nothing about current anchor
	// health, and recalibrating on them would drag the filters backwards
	if age := now.Sub(msg.Reading.Timestamp); age > p.staleAfter {
		log.Printf("dropping stale message for %s (age %v)", msg.Reading.TagMac, age.Round(time.Second))
		return nil
	}

	// anchors are registered lazily, the first time the engine mentions
	// them; a failed lookup is retried on the next mention
	if p.dir != nil {
		if err := p.dir.Bootstrap(ctx, p.proc.Registry(), p.model, msg.DiscoveredMacs); err != nil {
			log.Printf("anchor discovery incomplete: %v", err)
		}
	}

	rep := p.proc.Process(msg.Reading, now)
	if err := p.db.RecordEstimate(rep); err != nil {
		log.Printf("failed to record estimate: %v", err)
	}
	if p.live != nil {
		p.live.Broadcast(rep, msg.Reading.Timestamp)
	}

	p.processed++
	if p.processed%statusEvery == 0 {
		if err := p.db.RecordAnchorStatus(p.proc.Registry().Snapshot()); err != nil {
			log.Printf("failed to record anchor status: %v", err)
		}
	}
	return nil
}

// anchorEntry matches the directory's dongle record shape so the same
// file can be exported from a live deployment.
type anchorEntry struct {
	MacAddress string  `json:"macAddress"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
}

func loadAnchorFile(path string, reg *anchor.Registry, model pathloss.Model) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries []anchorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		reg.Add(anchor.New(e.MacAddress, geom.Point{X: e.X, Y: e.Y, Z: e.Z}, model))
	}
	return nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("beacon.report %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	var cfg *config.TuningConfig
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	var source ingest.Source
	if *devMode {
		var err error
		source, err = ingest.NewFixtureSource(*fixtures, time.Second)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
	} else {
		var err error
		source, err = ingest.NewUDPListener(*ingestAddr)
		if err != nil {
			log.Fatalf("failed to open ingest socket: %v", err)
		}
	}
	defer source.Close()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	model := pathloss.Model{D0: cfg.GetPathLossD0(), Sigma: cfg.GetPathLossSigma()}
	reg := anchor.NewRegistry()
	proc := estimate.NewProcessor(model, reg, estimate.ParamsFromTuning(cfg))

	var dir *directory.Client
	switch {
	case *devMode:
		if err := loadAnchorFile(*anchorFile, reg, model); err != nil {
			log.Fatalf("failed to load anchor file: %v", err)
		}
		log.Printf("loaded %d anchors from %s", reg.Len(), *anchorFile)
	case cfg.GetDirectoryBaseURL() != "":
		dir = directory.NewClient(cfg.GetDirectoryBaseURL(), cfg.GetDirectoryUsername(), cfg.GetDirectoryPassword(), cfg.GetDirectoryTimeout())
	default:
		log.Print("no anchor directory configured; anchors must arrive pre-registered")
	}

	server := api.NewServer(database, reg, cfg)

	p := &pipeline{
		proc:       proc,
		dir:        dir,
		db:         database,
		live:       server.Live(),
		model:      model,
		staleAfter: cfg.GetStaleAfter(),
	}

	// Create a wait group for the HTTP server, ingest monitor, and
	// message handler routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the ingest source
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor ingest source: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to parsed messages and pass them to the pipeline
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := source.Hub().Subscribe()
		defer source.Hub().Unsubscribe(id)
		for {
			select {
			case msg, ok := <-c:
				if !ok {
					log.Printf("subscribe routine terminated")
					return
				}
				if err := p.handleMessage(ctx, msg); err != nil {
					log.Printf("error handling message: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		database.AttachAdminRoutes(mux)

		// mount the API and live-stream handlers
		mux.Handle("/", server.ServeMux())

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		server.Live().Close()

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
