package netstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc reports whether the origin is reachable
type CheckFunc func(ctx context.Context) error

// ProberConfig contains prober configuration
type ProberConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	// Failures is the number of consecutive failed checks before going offline
	Failures int
}

// DefaultProberConfig returns default prober configuration
func DefaultProberConfig() ProberConfig {
	return ProberConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Failures: 2,
	}
}

// Prober periodically checks the origin and feeds a Monitor
type Prober struct {
	config  ProberConfig
	check   CheckFunc
	monitor *Monitor
	logger  *zap.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	failures int
}

// NewProber creates a new prober
func NewProber(cfg ProberConfig, check CheckFunc, monitor *Monitor, logger *zap.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProberConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProberConfig().Timeout
	}
	if cfg.Failures <= 0 {
		cfg.Failures = 1
	}
	return &Prober{
		config:  cfg,
		check:   check,
		monitor: monitor,
		logger:  logger,
	}
}

// Start starts probing in the background
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("prober already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("connectivity prober started", zap.Duration("interval", p.config.Interval))
	return nil
}

// Stop stops probing
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("connectivity prober stopped")
}

// ProbeOnce runs a single check and updates the monitor
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	err := p.check(ctx)

	p.mu.Lock()
	if err == nil {
		p.failures = 0
	} else {
		p.failures++
	}
	failures := p.failures
	p.mu.Unlock()

	if err == nil {
		p.monitor.Set(true)
		return true
	}

	p.logger.Debug("connectivity check failed", zap.Int("failures", failures), zap.Error(err))
	if failures >= p.config.Failures {
		p.monitor.Set(false)
	}
	return false
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
