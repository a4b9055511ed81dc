package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"danmaku/internal/api"
	"danmaku/internal/config"
	"danmaku/internal/game"
	"danmaku/internal/game/bullets"
	"danmaku/internal/replay"
	"danmaku/internal/styles"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file (optional)")
	flag.Parse()

	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎮 ================================")
	log.Println("🎮  DANMAKU - PROJECTILE ENGINE")
	log.Println("🎮 ================================")

	appConfig, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	if err := run(appConfig); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Println("👋 Goodbye!")
}

func loadConfig(path string) (config.AppConfig, error) {
	if path == "" {
		cfg := config.Load()
		return cfg, cfg.Sim.Validate()
	}
	cfg, err := config.LoadFile(path)
	if err == nil {
		log.Printf("✅ Loaded config from %s", path)
	}
	return cfg, err
}

func run(appConfig config.AppConfig) error {
	simCfg := appConfig.Sim
	limits := appConfig.Limits

	log.Printf("🎮 Config: %d TPS, %vx%v field, %v cell size", simCfg.TickRate, simCfg.Width, simCfg.Height, simCfg.CellSize)
	log.Printf("🛡️ Resource limits: %d bullets/pool, %d pools, %d receivers, %d lasers",
		limits.MaxBulletsPerPool, limits.MaxPools, limits.MaxReceivers, limits.MaxLasers)

	engine := game.NewEngine(simCfg, limits)

	// Styles: file catalog when present, embedded catalog otherwise
	catalogPath := appConfig.Styles.CatalogPath
	styleSet, fromFile, err := styles.Load(catalogPath)
	if err != nil {
		return fmt.Errorf("load styles: %w", err)
	}
	if err := engine.DefineStyles(styleSet); err != nil {
		return fmt.Errorf("define styles: %w", err)
	}
	if fromFile {
		log.Printf("🎨 Loaded %d styles from %s", len(styleSet), catalogPath)
	} else {
		log.Printf("🎨 Using %d built-in styles", len(styleSet))
	}

	if fromFile && appConfig.Styles.HotReload {
		if appConfig.Observability.RecordPath != "" {
			log.Println("⚠️ Style hot reload is on; a recording only replays with the catalog it started with")
		}
		watcher, err := styles.Watch(catalogPath, func(s []bullets.Style) error {
			return engine.DefineStyles(s)
		})
		if err != nil {
			log.Printf("⚠️ Style hot reload disabled: %v", err)
		} else {
			defer watcher.Close()
			log.Printf("👀 Watching %s for changes", catalogPath)
		}
	}

	// Event log
	if path := appConfig.Observability.EventLogPath; path != "" {
		if err := engine.StartEventLog(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
		} else {
			log.Printf("📝 Event log: %s", path)
		}
	}
	defer engine.StopEventLog()

	// Command recording for deterministic replay
	var recorder *replay.Recorder
	if path := appConfig.Observability.RecordPath; path != "" {
		var catalog []byte
		if fromFile {
			if catalog, err = styles.Inline(catalogPath); err != nil {
				return fmt.Errorf("inline catalog for recording: %w", err)
			}
		}
		recorder = replay.NewRecorder(engine, catalog, replay.DefaultCheckpointEvery)
		log.Printf("⏺️ Recording commands to %s", path)
	}

	metrics := api.NewMetrics()
	engine.SetMetrics(metrics)

	server := api.NewServer(engine, appConfig.Server, simCfg.CellSize)
	debugServer := api.NewDebugServer(api.DebugServerConfigFromEnv(appConfig.Observability.DebugPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine.Start()
	log.Println("✅ Simulation engine started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, fmt.Sprintf(":%d", appConfig.Server.Port))
	})
	if debugServer != nil {
		g.Go(func() error {
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("⚠️ Debug server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
			defer cancel()
			return debugServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		// Event log totals feed Prometheus counters
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				metrics.SyncEventLog(engine.GetEventLogStats())
			}
		}
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-engine.Done():
			return fmt.Errorf("simulation halted: %w", engine.Err())
		}
	})

	log.Printf("🌐 API on http://localhost:%d (snapshots at /ws)", appConfig.Server.Port)
	log.Println("✅ Server ready! Press Ctrl+C to stop.")

	err = g.Wait()

	log.Println("🛑 Shutting down...")
	engine.Stop()

	if recorder != nil {
		rec := recorder.Recording()
		if saveErr := replay.SaveFile(appConfig.Observability.RecordPath, rec); saveErr != nil {
			log.Printf("⚠️ Recording not saved: %v", saveErr)
		} else {
			log.Printf("💾 Saved %d ticks, %d commands to %s", rec.Ticks, rec.CommandCount(), appConfig.Observability.RecordPath)
		}
	}
	return err
}
