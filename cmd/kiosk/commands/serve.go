// SPDX-License-Identifier: MIT

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lockerfleet/fleet/internal/commandqueue"
	"github.com/lockerfleet/fleet/internal/config"
	"github.com/lockerfleet/fleet/internal/eventlog"
	"github.com/lockerfleet/fleet/internal/gatewayclient"
	"github.com/lockerfleet/fleet/internal/health"
	"github.com/lockerfleet/fleet/internal/heartbeat"
	"github.com/lockerfleet/fleet/internal/lockerstore"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/modbus"
	"github.com/lockerfleet/fleet/internal/modbus/transport"
	"github.com/lockerfleet/fleet/internal/persistence/sqlite"
	"github.com/lockerfleet/fleet/internal/platform/httpx"
	"github.com/lockerfleet/fleet/internal/rfid"
	"github.com/lockerfleet/fleet/internal/userflow"
	"github.com/lockerfleet/fleet/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kiosk runtime",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Configure(log.Config{Level: "info", Service: "lockerfleet-kiosk", Version: version.Version})
	logger := log.WithComponent("kiosk")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loader := config.NewLoader(cfgFile, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Service: "lockerfleet-kiosk", Version: version.Version})

	if cfg.Kiosk.ID == "" {
		return fmt.Errorf("kiosk.id must be configured")
	}

	if err := health.PerformStartupChecks(health.StartupConfig{
		DataDir:    cfg.DataDir,
		ListenAddr: cfg.Server.ListenAddr,
		GatewayURL: cfg.Gateway.URL,
		ModbusPort: cfg.Modbus.Port,
	}); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher disabled")
	}

	dbPath := filepath.Join(cfg.DataDir, "lockerfleet.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()
	if err := sqlite.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	events := eventlog.New(db)
	lockers := lockerstore.New(db, events, lockerstore.Config{})

	modbusCtl, err := modbus.New(modbus.Config{
		Device:                  cfg.Modbus.Port,
		BaudRate:                cfg.Modbus.BaudRate,
		TimeoutMS:               cfg.Modbus.TimeoutMS,
		PulseDurationMS:         cfg.Modbus.PulseDurationMS,
		BurstDurationSeconds:    cfg.Modbus.BurstDurationSeconds,
		BurstIntervalMS:         cfg.Modbus.BurstIntervalMS,
		CommandIntervalMS:       cfg.Modbus.CommandIntervalMS,
		MaxRetries:              cfg.Modbus.MaxRetries,
		RetryDelayBaseMS:        cfg.Modbus.RetryDelayBaseMS,
		RetryDelayMaxMS:         cfg.Modbus.RetryDelayMaxMS,
		ConnectionRetryAttempts: cfg.Modbus.ConnectionRetryAttempts,
	}, func() (transport.Port, error) {
		return transport.Open(transport.Config{
			Device:   cfg.Modbus.Port,
			BaudRate: cfg.Modbus.BaudRate,
			Timeout:  time.Duration(cfg.Modbus.TimeoutMS) * time.Millisecond,
		})
	})
	if err != nil {
		return fmt.Errorf("start modbus controller: %w", err)
	}
	defer modbusCtl.Close()

	statStore, err := modbus.OpenBadgerStatStore(filepath.Join(cfg.DataDir, "modbus-stats"))
	if err != nil {
		logger.Warn().Err(err).Msg("channel stat persistence disabled")
	} else {
		defer statStore.Close()
		modbusCtl.WithStatStore(statStore)
	}

	rfidHandler := rfid.New(rfid.Config{
		ReaderID:               cfg.Kiosk.ID,
		StrictMinLengthEnabled: cfg.RFID.StrictMinLength > 0,
		MinSignificantLength:   cfg.RFID.StrictMinLength,
		DebounceMS:             cfg.RFID.DebounceMS,
		ConfirmationWindowMS:   cfg.RFID.ConfirmationWindowMS,
	}, nil)

	flowEvents := make(chan userflow.Event, 32)
	flow := userflow.New(userflow.Config{
		KioskID:                    cfg.Kiosk.ID,
		AssignmentMode:             userflow.AssignmentMode(cfg.Kiosk.AssignmentMode),
		RecentHolderMinHours:       float64(cfg.Kiosk.RecentHolderMinHours),
		MaxAvailableLockersDisplay: cfg.Kiosk.MaxAvailableLockersDisplay,
	}, lockers, modbusCtl, flowEvents)

	httpClient := httpx.NewClient(5 * time.Second)
	gateway := gatewayclient.New(cfg.Gateway.URL, httpClient)

	dispatcher := commandqueue.NewDispatcher(commandqueue.DispatcherConfig{
		KioskID:        cfg.Kiosk.ID,
		PollIntervalMS: cfg.Polling.PollIntervalMS,
	}, gateway)
	registerCommandHandlers(dispatcher, &app{kioskID: cfg.Kiosk.ID, lockers: lockers, modbus: modbusCtl, cancel: cancel})

	ticker := heartbeat.NewTicker(gateway, func() heartbeat.Telemetry {
		mb := modbusCtl.Health()
		return heartbeat.Telemetry{
			KioskID: cfg.Kiosk.ID,
			Version: version.Version,
			Status:  heartbeat.KioskOnline,
			LastError: func() string {
				if mb.Status != modbus.StatusOK {
					return string(mb.Status)
				}
				return ""
			}(),
		}
	}, cfg.Polling.HeartbeatIntervalMS, nil)

	if _, err := gateway.Register(ctx, heartbeat.Registration{
		KioskID: cfg.Kiosk.ID, Zone: cfg.Kiosk.Zone, Version: version.Version,
	}); err != nil {
		logger.Warn().Err(err).Msg("initial registration failed; the gateway rejects heartbeats from an unregistered kiosk and registration is not retried")
	}
	if n, err := dispatcher.ClearStaleOnReconnect(ctx); err != nil {
		logger.Warn().Err(err).Msg("clear-stale on reconnect failed")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("cleared stale commands on reconnect")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return ticker.Run(gctx) })

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-flowEvents:
				logger.Info().Str("event", string(ev.Name)).Int("locker_id", ev.LockerID).Str("card_id", ev.CardID).Msg("user flow event")
			}
		}
	})

	g.Go(func() error {
		return runScanLoop(gctx, rfidHandler, flow)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}
