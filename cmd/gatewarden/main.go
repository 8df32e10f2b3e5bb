package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gatewarden/gatewarden/internal/api"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/extstore"
	"github.com/gatewarden/gatewarden/internal/gateway"
	"github.com/gatewarden/gatewarden/internal/geoip"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/seclog"
	"github.com/gatewarden/gatewarden/internal/supervisor"
	"github.com/gatewarden/gatewarden/internal/transport"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Printf("WARNING: GATEWARDEN_ADMIN_TOKEN is weak; use a long random value")
	}

	// 2. Runtime config, swapped atomically on PATCH
	runtimeCfg := &atomic.Pointer[config.RuntimeConfig]{}
	runtimeCfg.Store(config.NewDefaultRuntimeConfig())

	// 3. Security event log (SQLite, async writer)
	seclogRepo, err := seclog.OpenRepo(envCfg.StateDir)
	if err != nil {
		log.Fatalf("seclog: %v", err)
	}
	defer seclogRepo.Close()
	seclogSvc := seclog.NewService(seclog.ServiceConfig{
		Repo:              seclogRepo,
		QueueSize:         envCfg.SecLogQueueSize,
		FlushBatch:        envCfg.SecLogFlushBatchSize,
		FlushInterval:     envCfg.SecLogFlushInterval,
		RetentionAge:      envCfg.SecLogRetentionAge,
		RetentionSchedule: envCfg.SecLogRetentionSchedule,
	})
	seclogSvc.Start()
	defer seclogSvc.Stop()

	// 4. GeoIP (optional)
	var geo *geoip.Service
	if envCfg.GeoIPDBPath != "" {
		geo, err = geoip.NewService(geoip.ServiceConfig{
			DBPath:         envCfg.GeoIPDBPath,
			ReloadSchedule: envCfg.GeoIPReloadSchedule,
			OpenDB:         geoip.MaxMindOpen,
		})
		if err != nil {
			log.Fatalf("geoip: %v", err)
		}
		defer geo.Close()
	}

	// 5. Instance pool bootstrap
	var instances []config.InstanceSpec
	if envCfg.InstancesFile != "" {
		instances, err = config.LoadInstancesFile(envCfg.InstancesFile)
		if err != nil {
			log.Fatalf("instances: %v", err)
		}
		log.Printf("loaded %d instances from %s", len(instances), envCfg.InstancesFile)
	}

	// 6. External directory
	directory := extstore.NewClient(envCfg.DirectoryBaseURL, envCfg.DirectorySecret, envCfg.DirectoryTimeout)

	// 7. Governance core
	collector := metrics.NewCollector()
	gw, err := gateway.New(gateway.Config{
		Runtime:     runtimeCfg.Load,
		Sessions:    directory,
		Users:       directory,
		Metrics:     collector,
		SecLog:      seclogSvc,
		Geo:         geo,
		HealthCheck: supervisor.TCPHealthCheck(2 * time.Second),
		Instances:   instances,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	gw.Start()
	defer gw.Stop()

	// 8. Websocket front
	ws := transport.NewServer(gw)
	gateMux := http.NewServeMux()
	gateMux.Handle("GET /ws", ws.Handler())
	gateSrv := &http.Server{
		Addr:    net.JoinHostPort(envCfg.ListenAddress, strconv.Itoa(envCfg.GatePort)),
		Handler: gateMux,
	}
	go func() {
		log.Printf("gate server starting on %s", gateSrv.Addr)
		if err := gateSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gate server error: %v", err)
		}
	}()

	// 9. Admin API
	srv := api.NewServer(
		envCfg.ListenAddress,
		envCfg.APIPort,
		envCfg.AdminToken,
		int64(envCfg.APIMaxBodyBytes),
		runtimeCfg,
		gw,
		collector,
		seclogRepo,
		geo,
	)
	go func() {
		log.Printf("admin API starting on :%d", envCfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gateSrv.Shutdown(ctx); err != nil {
		log.Printf("gate server shutdown error: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	log.Println("stopped")
}
