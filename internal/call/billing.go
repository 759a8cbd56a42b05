package call

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"ifindlife/internal/metrics"
)

const DefaultTickInterval = time.Second

// Cost returns the charge for elapsedSec given a free allotment. Every started
// minute past the allotment is billed at rate.
func Cost(elapsedSec, allotmentSec int, rate float64) float64 {
	if elapsedSec <= allotmentSec {
		return 0
	}
	over := elapsedSec - allotmentSec
	minutes := (over + 59) / 60
	return float64(minutes) * rate
}

type BillingConfig struct {
	AllotmentMinutes int
	RatePerMinute    float64
	TickInterval     time.Duration
	// OnExtension fires once when the free allotment reaches zero. It runs on a
	// timer goroutine and must not call Stop.
	OnExtension func(elapsedSec int)
}

type BillingSnapshot struct {
	Elapsed        int // seconds
	Remaining      int // free seconds left
	Cost           float64
	NeedsExtension bool
}

// Billing runs a duration timer and an allotment timer
type Billing struct {
	allotment   int
	rate        float64
	interval    time.Duration
	onExtension func(int)
	logger      *zap.Logger

	mu             sync.Mutex
	elapsed        int
	remaining      int
	cost           float64
	needsExtension bool

	runMu   sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewBilling(cfg BillingConfig, logger *zap.Logger) *Billing {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.AllotmentMinutes < 0 {
		cfg.AllotmentMinutes = 0
	}
	allotment := cfg.AllotmentMinutes * 60
	return &Billing{
		allotment:   allotment,
		rate:        cfg.RatePerMinute,
		interval:    cfg.TickInterval,
		onExtension: cfg.OnExtension,
		logger:      logger,
		remaining:   allotment,
	}
}

// Start launches both timers. Calling Start on running timers is a no-op.
func (b *Billing) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})

	b.wg.Add(2)
	go b.loop(b.stop, b.TickDuration)
	go b.loop(b.stop, b.TickAllotment)
}

func (b *Billing) loop(stop <-chan struct{}, tick func()) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// a stop racing with the tick wins
			select {
			case <-stop:
				return
			default:
			}
			tick()
		}
	}
}

// Stop clears both timers and returns once neither can fire again. Safe to
// call when never started or already stopped.
func (b *Billing) Stop() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if !b.running {
		return
	}
	close(b.stop)
	b.wg.Wait()
	b.running = false
}

func (b *Billing) TickDuration() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elapsed++
	if b.elapsed > b.allotment {
		b.cost = Cost(b.elapsed, b.allotment, b.rate)
	}
}

func (b *Billing) TickAllotment() {
	b.mu.Lock()
	if b.remaining > 0 {
		b.remaining--
	}
	fire := b.remaining == 0 && !b.needsExtension
	if fire {
		b.needsExtension = true
	}
	elapsed := b.elapsed
	b.mu.Unlock()

	if fire {
		metrics.ExtensionsRequired.Inc()
		b.notifyExtension(elapsed)
	}
}

func (b *Billing) notifyExtension(elapsed int) {
	if b.onExtension == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("extension callback panicked", zap.Any("panic", r))
		}
	}()
	b.onExtension(elapsed)
}

// Advance drives both timers by the whole seconds in d
func (b *Billing) Advance(d time.Duration) {
	for i := 0; i < int(d/time.Second); i++ {
		b.TickDuration()
		b.TickAllotment()
	}
}

func (b *Billing) Snapshot() BillingSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BillingSnapshot{
		Elapsed:        b.elapsed,
		Remaining:      b.remaining,
		Cost:           b.cost,
		NeedsExtension: b.needsExtension,
	}
}
