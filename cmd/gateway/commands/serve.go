// SPDX-License-Identifier: MIT

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lockerfleet/fleet/internal/api"
	"github.com/lockerfleet/fleet/internal/audit"
	"github.com/lockerfleet/fleet/internal/commandqueue"
	"github.com/lockerfleet/fleet/internal/config"
	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/health"
	"github.com/lockerfleet/fleet/internal/heartbeat"
	"github.com/lockerfleet/fleet/internal/lockerstore"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/persistence/sqlite"
	"github.com/lockerfleet/fleet/internal/ratelimit"
	fleettls "github.com/lockerfleet/fleet/internal/tls"
	"github.com/lockerfleet/fleet/internal/version"
)

const (
	offlineSweepInterval = 30 * time.Second // offline sweep cadence
	reapSweepInterval    = 10 * time.Second // reservation TTL sweep cadence
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway coordination core",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Configure(log.Config{Level: "info", Service: "lockerfleet-gateway", Version: version.Version})
	logger := log.WithComponent("gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(cfgFile, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	log.Configure(log.Config{Level: cfg.Log.Level, Service: "lockerfleet-gateway", Version: version.Version})

	if err := health.PerformStartupChecks(health.StartupConfig{
		DataDir:    cfg.DataDir,
		ListenAddr: cfg.Server.ListenAddr,
		TLSCert:    cfg.Server.TLSCert,
		TLSKey:     cfg.Server.TLSKey,
	}); err != nil {
		return err
	}

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher disabled")
	}

	dbPath := filepath.Join(cfg.DataDir, "lockerfleet.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := sqlite.Migrate(db); err != nil {
		return err
	}

	events := eventlog.New(db)
	lockers := lockerstore.New(db, events, lockerstore.Config{}).WithAudit(audit.NewLogger())
	hb := heartbeat.NewSupervisor(db, events, heartbeat.Config{
		Polling: heartbeat.PollingConfig{
			HeartbeatIntervalMS: cfg.Polling.HeartbeatIntervalMS,
			PollIntervalMS:      cfg.Polling.PollIntervalMS,
		},
	})
	cmdQueue := commandqueue.New(db, events, commandqueue.Config{})
	limiter := ratelimit.New(ratelimit.Config{
		IPPerMinute:     cfg.RateLimits.IPPerMinute,
		CardPerMinute:   cfg.RateLimits.CardPerMinute,
		LockerPerMinute: cfg.RateLimits.LockerPerMinute,
		DevicePer20s:    cfg.RateLimits.DevicePer20s,
	}, api.NewEventSink(events))

	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid redis.url, rate-limit mirroring disabled")
		} else {
			redisClient := redis.NewClient(redisOpts)
			defer redisClient.Close()
			limiter = limiter.WithRedisMirror(ratelimit.NewRedisMirror(redisClient))
			logger.Info().Msg("rate-limit mirroring to redis enabled")
		}
	}

	srv := api.NewServer(hb, cmdQueue, lockers, limiter)
	router := api.NewRouter(api.RouterConfig{}, srv)

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewFileChecker("database", dbPath))

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.HandleFunc("/health", healthMgr.ServeHealth)
	mux.HandleFunc("/ready", healthMgr.ServeReady)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// health.PerformStartupChecks above already rejected a half-configured
	// cert/key pair, so by this point TLSCert/TLSKey are either both set
	// to operator-supplied, readable files or both empty.
	certPath, keyPath := cfg.Server.TLSCert, cfg.Server.TLSKey
	if certPath == "" {
		certPath, keyPath, err = fleettls.EnsureCertificates(fleettls.Config{
			CertPath: filepath.Join(cfg.DataDir, "certs", "gateway.crt"),
			KeyPath:  filepath.Join(cfg.DataDir, "certs", "gateway.key"),
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("prepare TLS certificates: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(offlineSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := hb.SweepOffline(gctx)
				if err != nil {
					logger.Warn().Err(err).Msg("offline sweep failed")
					continue
				}
				if n > 0 {
					logger.Info().Int("count", n).Msg("kiosks marked offline")
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(reapSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := lockers.ReapExpiredReservations(gctx)
				if err != nil {
					logger.Warn().Err(err).Msg("reservation reap failed")
					continue
				}
				if n > 0 {
					logger.Info().Int("count", n).Msg("expired reservations reaped")
				}
			}
		}
	})

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Str("cert", certPath).Msg("gateway listening (TLS)")
		err := httpServer.ListenAndServeTLS(certPath, keyPath)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
