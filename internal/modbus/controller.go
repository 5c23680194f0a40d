// SPDX-License-Identifier: MIT

// Package modbus implements the single-writer RS-485 Modbus RTU
// controller of : a serial-execution queue driving daisy-chained
// Waveshare-style relay cards, the pulse/burst open protocol, retry with
// backoff, a connection-health supervisor, and per-channel diagnostics.
package modbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lockerfleet/fleet/internal/backoff"
	"github.com/lockerfleet/fleet/internal/log"
	"github.com/lockerfleet/fleet/internal/metrics"
	"github.com/lockerfleet/fleet/internal/modbus/frame"
	"github.com/lockerfleet/fleet/internal/modbus/transport"
)

// Status is the controller's connection/health state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusOK           Status = "ok"
	StatusDegraded     Status = "degraded"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

// Config covers modbus.* keys.
type Config struct {
	Device                  string
	BaudRate                int
	TimeoutMS               int
	PulseDurationMS         int
	BurstDurationSeconds    int
	BurstIntervalMS         int
	CommandIntervalMS       int
	MaxRetries              int
	RetryDelayBaseMS        int
	RetryDelayMaxMS         int
	ConnectionRetryAttempts int
	HealthCheckIntervalMS   int
	QueueCapacity           int // default 256, queue bounds
}

func (c Config) withDefaults() Config {
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = 1000
	}
	if c.PulseDurationMS <= 0 {
		c.PulseDurationMS = 400
	}
	if c.BurstDurationSeconds <= 0 {
		c.BurstDurationSeconds = 10
	}
	if c.BurstIntervalMS <= 0 {
		c.BurstIntervalMS = 2000
	}
	if c.CommandIntervalMS <= 0 {
		c.CommandIntervalMS = 300
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelayBaseMS <= 0 {
		c.RetryDelayBaseMS = 100
	}
	if c.RetryDelayMaxMS <= 0 {
		c.RetryDelayMaxMS = 5000
	}
	if c.ConnectionRetryAttempts <= 0 {
		c.ConnectionRetryAttempts = 5
	}
	if c.HealthCheckIntervalMS <= 0 {
		c.HealthCheckIntervalMS = 30000
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	return c
}

// ErrQueueFull is returned when the bounded command queue is saturated.
var ErrQueueFull = fmt.Errorf("modbus: command queue full")

// channelStat is per-channel diagnostics tuple.
type channelStat struct {
	TotalOperations int64
	FailureCount    int64
	LastOperationAt time.Time
}

// HealthReport is the public shape of health().
type HealthReport struct {
	Status           Status
	TotalCommands    int64
	FailedCommands   int64
	ErrorRatePercent float64
	ConnectionErrors int64
	LastError        string
	UptimeSeconds    float64
	RetryAttempts    int64
}

type job struct {
	run    func(p transport.Port) (bool, error)
	result chan jobResult
}

type jobResult struct {
	ok  bool
	err error
}

// Controller is the single owner of the serial port and the relay-command
// queue.
type Controller struct {
	cfg Config

	openPort func() (transport.Port, error)

	mu         sync.RWMutex
	port       transport.Port
	status     Status
	lastError  string
	startedAt  time.Time
	channels   map[string]*channelStat // key: "slave:channel"
	recent     []bool                  // ring of last N command outcomes, newest last
	totalCmds  int64
	failedCmds int64
	connErrs   int64
	retries    int64

	queue  chan job
	done   chan struct{}
	closed atomic.Bool

	healthTick *time.Ticker
	wg         sync.WaitGroup

	statStore StatStore
}

const recentWindow = 100

// OpenFunc is the transport-opening function, injectable for tests.
type OpenFunc func() (transport.Port, error)

// New constructs a Controller and starts its worker and health-supervisor
// goroutines. Call Close to shut them down.
func New(cfg Config, open OpenFunc) (*Controller, error) {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:      cfg,
		openPort: open,
		status:   StatusInitializing,
		channels: make(map[string]*channelStat),
		queue:    make(chan job, cfg.QueueCapacity),
		done:     make(chan struct{}),
	}

	if err := c.connectWithRetry(); err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.lastError = err.Error()
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.status = StatusOK
		c.startedAt = time.Now()
		c.mu.Unlock()
	}

	c.wg.Add(1)
	go c.worker()

	c.healthTick = time.NewTicker(time.Duration(cfg.HealthCheckIntervalMS) * time.Millisecond)
	c.wg.Add(1)
	go c.healthSupervisor()

	return c, nil
}

func (c *Controller) connectWithRetry() error {
	logger := log.WithComponent("modbus")
	var lastErr error
	pol := backoff.Policy{Base: time.Duration(c.cfg.RetryDelayBaseMS) * time.Millisecond, Max: time.Duration(c.cfg.RetryDelayMaxMS) * time.Millisecond}
	for attempt := 0; attempt < c.cfg.ConnectionRetryAttempts; attempt++ {
		port, err := c.openPort()
		if err == nil {
			c.mu.Lock()
			c.port = port
			c.mu.Unlock()
			return nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("modbus: connection attempt failed")
		if attempt < c.cfg.ConnectionRetryAttempts-1 {
			time.Sleep(pol.Delay(attempt))
		}
	}
	return fmt.Errorf("modbus: failed to open port after %d attempts: %w", c.cfg.ConnectionRetryAttempts, lastErr)
}

// worker is the single consumer of the bounded command queue: all
// operations go through a single FIFO queue consumed by one worker,
// enforcing command_interval_ms between frames.
func (c *Controller) worker() {
	defer c.wg.Done()
	var lastCmdEnd time.Time
	for {
		select {
		case <-c.done:
			return
		case j, ok := <-c.queue:
			if !ok {
				return
			}
			if !lastCmdEnd.IsZero() {
				quiet := time.Duration(c.cfg.CommandIntervalMS) * time.Millisecond
				if wait := quiet - time.Since(lastCmdEnd); wait > 0 {
					time.Sleep(wait)
				}
			}
			c.mu.RLock()
			port := c.port
			c.mu.RUnlock()
			ok2, err := j.run(port)
			lastCmdEnd = time.Now()
			j.result <- jobResult{ok: ok2, err: err}
		}
	}
}

// enqueue submits run to the single-writer queue and blocks for its result.
func (c *Controller) enqueue(ctx context.Context, run func(p transport.Port) (bool, error)) (bool, error) {
	if c.closed.Load() {
		return false, fmt.Errorf("modbus: controller closed")
	}
	j := job{run: run, result: make(chan jobResult, 1)}
	select {
	case c.queue <- j:
	default:
		return false, ErrQueueFull
	}
	select {
	case r := <-j.result:
		return r.ok, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Controller) recordOutcome(slave byte, channel int, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.AddInt64(&c.totalCmds, 1)
	if !success {
		atomic.AddInt64(&c.failedCmds, 1)
	}
	c.recent = append(c.recent, success)
	if len(c.recent) > recentWindow {
		c.recent = c.recent[len(c.recent)-recentWindow:]
	}

	if channel > 0 {
		key := fmt.Sprintf("%d:%d", slave, channel)
		st, ok := c.channels[key]
		if !ok {
			st = &channelStat{}
			c.channels[key] = st
		}
		st.TotalOperations++
		if !success {
			st.FailureCount++
		}
		st.LastOperationAt = time.Now()
	}

	result := "success"
	if !success {
		result = "failure"
	}
	metrics.RecordModbusCommand(result)

	c.recomputeStatusLocked()
}

// recomputeStatusLocked applies health status rule. Must be
// called with c.mu held.
func (c *Controller) recomputeStatusLocked() {
	if c.status == StatusDisconnected || c.status == StatusClosed {
		return
	}
	if len(c.recent) == 0 {
		c.status = StatusOK
		return
	}
	failures := 0
	for _, ok := range c.recent {
		if !ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(c.recent)) * 100
	switch {
	case rate >= 50:
		c.status = StatusError
	case rate >= 10:
		c.status = StatusDegraded
	default:
		c.status = StatusOK
	}
	metrics.RecordModbusErrorRate(rate)
}

// sendFrameWithRetry transmits req and reads a response, retrying up to
// max_retries with exponential backoff + jitter on transient failure
// (write error, timeout, CRC mismatch, no response) — Retry &
// backoff. validate inspects the raw response bytes.
func (c *Controller) sendFrameWithRetry(port transport.Port, req []byte, respLen int, validate func([]byte) error) error {
	logger := log.WithComponent("modbus")
	pol := backoff.Policy{Base: time.Duration(c.cfg.RetryDelayBaseMS) * time.Millisecond, Max: time.Duration(c.cfg.RetryDelayMaxMS) * time.Millisecond}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&c.retries, 1)
			time.Sleep(pol.Delay(attempt - 1))
		}
		err := c.sendFrameOnce(port, req, respLen, validate)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Debug().Err(err).Int("attempt", attempt).Msg("modbus: frame send failed")
	}
	return fmt.Errorf("modbus: frame failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Controller) sendFrameOnce(port transport.Port, req []byte, respLen int, validate func([]byte) error) error {
	if port == nil {
		return fmt.Errorf("modbus: port not open")
	}
	if _, err := port.Write(req); err != nil {
		c.noteConnectionError(err)
		return fmt.Errorf("modbus: write: %w", err)
	}
	resp := make([]byte, respLen)
	n, err := readFull(port, resp, time.Duration(c.cfg.TimeoutMS)*time.Millisecond)
	if err != nil {
		c.noteConnectionError(err)
		return fmt.Errorf("modbus: read: %w", err)
	}
	if err := validate(resp[:n]); err != nil {
		return err
	}
	return nil
}

func readFull(port transport.Port, buf []byte, timeout time.Duration) (int, error) {
	type res struct {
		n   int
		err error
	}
	ch := make(chan res, 1)
	go func() {
		n, err := port.Read(buf)
		ch <- res{n, err}
	}()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-time.After(timeout):
		return 0, fmt.Errorf("modbus: read timeout after %s", timeout)
	}
}

func (c *Controller) noteConnectionError(err error) {
	atomic.AddInt64(&c.connErrs, 1)
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

// writeCoil sends a single-coil write and waits for its echo, the
// primitive used by both the pulse and burst protocols.
func (c *Controller) writeCoil(ctx context.Context, slave byte, channel int, on bool) (bool, error) {
	value := frame.CoilOff
	if on {
		value = frame.CoilOn
	}
	req := frame.WriteSingleCoil(slave, frame.ChannelCoilAddress(channel), value)
	ok, err := c.enqueue(ctx, func(port transport.Port) (bool, error) {
		sendErr := c.sendFrameWithRetry(port, req, frame.WriteResponseLen, func(resp []byte) error {
			return frame.ParseWriteEcho(resp, slave, frame.FuncWriteSingleCoil)
		})
		return sendErr == nil, sendErr
	})
	c.recordOutcome(slave, channel, ok)
	return ok, err
}

// OpenLocker drives the relay for the given locker_id via the pulse
// protocol, falling back to burst mode on failure.
func (c *Controller) OpenLocker(ctx context.Context, lockerID int) (bool, string) {
	slave, channel := frame.LockerAddress(lockerID)

	if ok, _ := c.pulse(ctx, slave, channel); ok {
		return true, "pulse"
	}
	if ok := c.burst(ctx, slave, channel); ok {
		return true, "burst"
	}
	return false, ""
}

// pulse implements primary open path: ON, wait
// pulse_duration_ms, OFF; both frames must succeed.
func (c *Controller) pulse(ctx context.Context, slave byte, channel int) (bool, error) {
	onOK, err := c.writeCoil(ctx, slave, channel, true)
	if !onOK {
		return false, err
	}
	select {
	case <-time.After(time.Duration(c.cfg.PulseDurationMS) * time.Millisecond):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	offOK, err := c.writeCoil(ctx, slave, channel, false)
	return offOK, err
}

// burst implements fallback: repeated ON/OFF pairs over
// burst_duration_seconds, succeeding on the first confirmed ON.
func (c *Controller) burst(ctx context.Context, slave byte, channel int) bool {
	deadline := time.Now().Add(time.Duration(c.cfg.BurstDurationSeconds) * time.Second)
	interval := time.Duration(c.cfg.BurstIntervalMS) * time.Millisecond
	for time.Now().Before(deadline) {
		onOK, _ := c.writeCoil(ctx, slave, channel, true)
		if onOK {
			_, _ = c.writeCoil(ctx, slave, channel, false)
			return true
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// SetSlaveAddress writes register 0x4000 to reassign a card's address.
func (c *Controller) SetSlaveAddress(ctx context.Context, current, newAddr byte) (bool, error) {
	req := frame.WriteSingleRegister(current, frame.SoftwareAddressRegister, uint16(newAddr))
	return c.enqueue(ctx, func(port transport.Port) (bool, error) {
		err := c.sendFrameWithRetry(port, req, frame.WriteResponseLen, func(resp []byte) error {
			return frame.ParseWriteEcho(resp, current, frame.FuncWriteSingleRegister)
		})
		return err == nil, err
	})
}

// BroadcastSetAddress writes register 0x4000 to the broadcast address
// 0x00; no response is expected.
func (c *Controller) BroadcastSetAddress(ctx context.Context, newAddr byte) error {
	req := frame.WriteSingleRegister(frame.BroadcastAddress, frame.SoftwareAddressRegister, uint16(newAddr))
	_, err := c.enqueue(ctx, func(port transport.Port) (bool, error) {
		if port == nil {
			return false, fmt.Errorf("modbus: port not open")
		}
		_, werr := port.Write(req)
		return werr == nil, werr
	})
	return err
}

// ReadRegister reads one holding register via function 0x03 (
// read_register, used for presence probing).
func (c *Controller) ReadRegister(ctx context.Context, slave byte, reg uint16) (uint16, error) {
	req := frame.ReadHoldingRegisters(slave, reg, 1)
	var value uint16
	_, err := c.enqueue(ctx, func(port transport.Port) (bool, error) {
		sendErr := c.sendFrameWithRetry(port, req, frame.ReadHoldingResponseLen(1), func(resp []byte) error {
			regs, perr := frame.ParseReadHoldingResponse(resp, slave, 1)
			if perr != nil {
				return perr
			}
			value = regs[0]
			return nil
		})
		return sendErr == nil, sendErr
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// ChannelStat is the public view of per-channel diagnostics.
type ChannelStat struct {
	Slave           byte
	Channel         int
	TotalOperations int64
	FailureCount    int64
	LastOperationAt time.Time
}

// ChannelStats returns a snapshot of every (slave,channel) observed so far.
func (c *Controller) ChannelStats() []ChannelStat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelStat, 0, len(c.channels))
	for key, st := range c.channels {
		var slave byte
		var channel int
		_, _ = fmt.Sscanf(key, "%d:%d", &slave, &channel)
		out = append(out, ChannelStat{
			Slave: slave, Channel: channel,
			TotalOperations: st.TotalOperations,
			FailureCount:    st.FailureCount,
			LastOperationAt: st.LastOperationAt,
		})
	}
	return out
}

// Health reports the controller's current status and counters.
func (c *Controller) Health() HealthReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uptime := 0.0
	if !c.startedAt.IsZero() {
		uptime = time.Since(c.startedAt).Seconds()
	}
	total := atomic.LoadInt64(&c.totalCmds)
	failed := atomic.LoadInt64(&c.failedCmds)
	var rate float64
	if total > 0 {
		rate = float64(failed) / float64(total) * 100
	}
	return HealthReport{
		Status:           c.status,
		TotalCommands:    total,
		FailedCommands:   failed,
		ErrorRatePercent: rate,
		ConnectionErrors: atomic.LoadInt64(&c.connErrs),
		LastError:        c.lastError,
		UptimeSeconds:    uptime,
		RetryAttempts:    atomic.LoadInt64(&c.retries),
	}
}

// healthSupervisor observes port liveness on a tick and drives
// reconnection on loss.
func (c *Controller) healthSupervisor() {
	defer c.wg.Done()
	logger := log.WithComponent("modbus")
	for {
		select {
		case <-c.done:
			return
		case <-c.healthTick.C:
			c.mu.RLock()
			port := c.port
			status := c.status
			c.mu.RUnlock()
			if status == StatusClosed {
				return
			}
			if p, ok := port.(interface{ IsOpen() bool }); ok && !p.IsOpen() {
				c.mu.Lock()
				c.status = StatusDisconnected
				c.mu.Unlock()
				logger.Warn().Msg("modbus: port loss detected, reconnecting")
				go c.reconnect()
			}
		}
	}
}

func (c *Controller) reconnect() {
	logger := log.WithComponent("modbus")
	if err := c.connectWithRetry(); err != nil {
		c.mu.Lock()
		c.status = StatusDisconnected
		c.lastError = err.Error()
		c.mu.Unlock()
		logger.Error().Err(err).Msg("reconnection_failed")
		return
	}
	c.mu.Lock()
	c.status = StatusOK
	c.recent = nil
	c.mu.Unlock()
	logger.Info().Msg("reconnected")
}

// Close shuts down the worker and health-supervisor goroutines and the
// serial port. Status transitions to closed.
func (c *Controller) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.healthTick.Stop()
	c.wg.Wait()

	c.mu.Lock()
	c.status = StatusClosed
	port := c.port
	c.mu.Unlock()
	if port != nil {
		return port.Close()
	}
	return nil
}

