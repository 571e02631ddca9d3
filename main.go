package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/rjsadow/drawbridge/internal/audit"
	"github.com/rjsadow/drawbridge/internal/auth"
	"github.com/rjsadow/drawbridge/internal/config"
	"github.com/rjsadow/drawbridge/internal/directory"
	"github.com/rjsadow/drawbridge/internal/gateway"
	"github.com/rjsadow/drawbridge/internal/guacamole"
	"github.com/rjsadow/drawbridge/internal/replay"

	"golang.org/x/time/rate"
)

const auditBufferSize = 256

func main() {
	// Parse command-line flags (can override env vars)
	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	dbPath := flag.String("db", config.DefaultDBPath, "Path to SQLite database")
	flag.Parse()

	// Load configuration (env vars + flag overrides)
	cfg, err := config.LoadWithFlags(*port, *dbPath)
	if err != nil {
		log.Fatalf("Configuration error:\n%v", err)
	}

	ctx := context.Background()

	// Asset directory and audit log share one SQLite database.
	store, err := directory.Open(cfg.DB)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		log.Fatal("Failed to initialize directory schema:", err)
	}

	auditStore := audit.NewStore(store.DB())
	if err := auditStore.Init(ctx); err != nil {
		log.Fatal("Failed to initialize audit schema:", err)
	}
	sink := audit.NewAsyncSink(auditStore, auditBufferSize)
	defer sink.Stop()

	// Finished session replays go to local disk or S3.
	var replayStore replay.Store
	switch cfg.ReplayStorageBackend {
	case "s3":
		replayStore, err = replay.NewS3Store(
			cfg.ReplayS3Bucket, cfg.ReplayS3Region, cfg.ReplayS3Endpoint,
			cfg.ReplayS3Prefix, cfg.ReplayS3AccessKeyID, cfg.ReplayS3SecretAccessKey)
		if err != nil {
			log.Fatal("Failed to configure S3 replay storage:", err)
		}
	default:
		replayStore = replay.NewLocalStore(cfg.ReplayDir)
	}

	var limiter *gateway.RateLimiter
	if cfg.GatewayRateLimit > 0 {
		limiter = gateway.NewRateLimiter(rate.Limit(cfg.GatewayRateLimit), cfg.GatewayBurst)
	}

	app := gateway.New(gateway.Config{
		Settings:  cfg,
		Auth:      auth.NewJWTAuthenticator(cfg.JWTSecret),
		Directory: store,
		Blocklist: store,
		Audit:     sink,
		Replays:   replay.NewUploader(replayStore, sink),
		Poller:    guacamole.NewPoller(),
		Limiter:   limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Drawbridge gateway starting on http://localhost%s", addr)

	if err := http.ListenAndServe(addr, app.Handler()); err != nil {
		log.Fatal("Server error:", err)
	}
}
