// SPDX-License-Identifier: MIT

package heartbeat

import (
	"context"
	"time"

	"github.com/lockerfleet/fleet/internal/log"
)

// GatewayClient is the kiosk-side HTTP surface Ticker posts to.
type GatewayClient interface {
	PostHeartbeat(ctx context.Context, t Telemetry) (PollingConfig, error)
}

// Sampler collects the live telemetry values at send time (voltage,
// temperature, memory, disk); kiosks without a given sensor return nil
// for that field.
type Sampler func() Telemetry

// Ticker is the kiosk-side heartbeat loop.
type Ticker struct {
	gateway        GatewayClient
	sample         Sampler
	intervalMS     int
	onPollingConfig func(PollingConfig)
}

// NewTicker constructs a Ticker posting every intervalMS (default 10000).
func NewTicker(gateway GatewayClient, sample Sampler, intervalMS int, onPollingConfig func(PollingConfig)) *Ticker {
	if intervalMS <= 0 {
		intervalMS = 10000
	}
	return &Ticker{gateway: gateway, sample: sample, intervalMS: intervalMS, onPollingConfig: onPollingConfig}
}

// Run posts telemetry every interval until ctx is canceled, honoring any
// polling_config the gateway returns for dynamic tuning.
func (t *Ticker) Run(ctx context.Context) error {
	logger := log.WithComponent("heartbeat.ticker")
	interval := time.Duration(t.intervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cfg, err := t.gateway.PostHeartbeat(ctx, t.sample())
			if err != nil {
				logger.Warn().Err(err).Msg("heartbeat post failed")
				continue
			}
			if cfg.HeartbeatIntervalMS > 0 && cfg.HeartbeatIntervalMS != t.intervalMS {
				t.intervalMS = cfg.HeartbeatIntervalMS
				ticker.Reset(time.Duration(t.intervalMS) * time.Millisecond)
			}
			if t.onPollingConfig != nil {
				t.onPollingConfig(cfg)
			}
		}
	}
}
