package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gatewarden/warden/internal/api"
	"github.com/gatewarden/warden/internal/blobstore"
	"github.com/gatewarden/warden/internal/config"
	"github.com/gatewarden/warden/internal/geoip"
	"github.com/gatewarden/warden/internal/liveness"
	"github.com/gatewarden/warden/internal/nodeclient"
	"github.com/gatewarden/warden/internal/service"
	"github.com/gatewarden/warden/internal/state"
	"github.com/gatewarden/warden/internal/statuscache"
	"github.com/gatewarden/warden/internal/subscription"
	"github.com/gatewarden/warden/internal/sweep"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Println("[main] WARNING: WARDEN_ADMIN_TOKEN is weak, consider a stronger token")
	}

	loc := envCfg.Location()

	// 2. Open the durable store
	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		log.Fatalf("create state dir: %v", err)
	}
	store, err := state.Open(filepath.Join(envCfg.StateDir, "warden.db"))
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	// 3. Status cache and node client pool
	cache, err := statuscache.New(statuscache.DefaultMaxEntries, envCfg.PeerStatusTTL)
	if err != nil {
		log.Fatalf("build status cache: %v", err)
	}
	defer cache.Close()
	nodes := nodeclient.NewRegistry(envCfg.ClusterAPITimeout)

	// 4. Blob store: object store when configured, in-memory otherwise
	var blobs blobstore.Store
	if envCfg.MinioEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		blobs, err = blobstore.NewMinio(ctx, blobstore.MinioConfig{
			Endpoint:  envCfg.MinioEndpoint,
			AccessKey: envCfg.MinioAccessKey,
			SecretKey: envCfg.MinioSecretKey,
			Bucket:    envCfg.MinioBucket,
			UseSSL:    envCfg.MinioUseSSL,
		})
		cancel()
		if err != nil {
			log.Fatalf("connect blob store: %v", err)
		}
	} else {
		log.Println("[main] no object store configured, config blobs held in memory")
		blobs = blobstore.NewMemory()
	}

	// 5. Optional GeoIP enrichment
	resolver, err := geoip.Open(envCfg.GeoIPDBPath)
	if err != nil {
		log.Fatalf("open geoip database: %v", err)
	}
	defer resolver.Close()

	// 6. Control plane
	cp := &service.ControlPlane{
		Store:    store,
		Cache:    cache,
		Nodes:    nodes,
		Blobs:    blobs,
		GeoIP:    resolver,
		Liveness: liveness.NewEvaluator(envCfg.PeerStatusTTL, loc),
		Policy: subscription.Policy{
			Enabled:      envCfg.SubscriptionsEnabled,
			TrialEnabled: envCfg.TrialEnabled,
			TrialPeriod:  envCfg.TrialPeriod(),
		},
	}

	// 7. Daily expiry sweep
	sweeper, err := sweep.New(cp, envCfg.SweepHour, envCfg.SweepMinute, loc)
	if err != nil {
		log.Fatalf("schedule sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 8. Create and start API server
	srv := api.NewServer(envCfg.ListenAddress, envCfg.Port, envCfg.AdminToken, cp, int64(envCfg.APIMaxBodyBytes))

	go func() {
		log.Printf("Warden API server starting on %s:%d", envCfg.ListenAddress, envCfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
