// Package poll adds change listeners to a bridge whose platform offers no
// change broadcasts. It reads the subscribed settings on an adaptive
// interval and notifies listeners when a value differs from the last poll.
package poll

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaban/syssetting/bridge"
)

const (
	defaultBaseInterval = 250 * time.Millisecond
	defaultMaxInterval  = 2 * time.Second
	minInterval         = 10 * time.Millisecond

	// Consecutive unchanged polls before the interval starts widening.
	slowdownAfter = 10
)

type observed struct {
	level float64
	on    bool
	mode  int
}

type entry struct {
	kind bridge.Kind
	cb   bridge.Listener
}

// Bridge wraps another bridge and replaces its listener methods with
// polling. All other calls pass through.
type Bridge struct {
	bridge.Bridge

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	// Adaptive polling
	baseInterval    time.Duration
	maxInterval     time.Duration
	currentInterval time.Duration
	lastChangeTime  time.Time
	noChangeCount   int

	// Last observed value per kind; absent until the first successful read.
	last map[bridge.Kind]observed

	volumeListeners map[bridge.Handle]bridge.VolumeListener
	listeners       map[bridge.Handle]entry

	// Performance tracking
	averageCheckTime time.Duration
	maxCheckTime     time.Duration
	checkCount       int64

	checkMu      sync.Mutex
	errorHandler func(error)
}

// Option configures a polling Bridge.
type Option func(*Bridge)

// WithIntervals sets the fastest and slowest polling intervals.
func WithIntervals(base, max time.Duration) Option {
	return func(p *Bridge) {
		p.baseInterval = base
		p.maxInterval = max
	}
}

// WithErrorHandler receives read failures. Defaults to the standard logger.
func WithErrorHandler(h func(error)) Option {
	return func(p *Bridge) {
		if h != nil {
			p.errorHandler = h
		}
	}
}

// New wraps underlying. Call Start to begin polling.
func New(underlying bridge.Bridge, opts ...Option) (*Bridge, error) {
	if underlying == nil {
		return nil, fmt.Errorf("underlying bridge is required")
	}
	p := &Bridge{
		Bridge:          underlying,
		baseInterval:    defaultBaseInterval,
		maxInterval:     defaultMaxInterval,
		last:            make(map[bridge.Kind]observed),
		volumeListeners: make(map[bridge.Handle]bridge.VolumeListener),
		listeners:       make(map[bridge.Handle]entry),
		errorHandler:    func(err error) { log.Printf("poll: %v", err) },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.baseInterval < minInterval {
		return nil, fmt.Errorf("polling interval cannot be less than %v", minInterval)
	}
	if p.maxInterval < p.baseInterval {
		p.maxInterval = p.baseInterval
	}
	p.currentInterval = p.baseInterval
	p.lastChangeTime = time.Now()
	return p, nil
}

// Start begins polling until Stop is called or ctx ends.
func (p *Bridge) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("poller is already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.isRunning = true
	go p.monitorLoop(ctx, p.done)

	return nil
}

// Stop halts polling and waits for the loop to exit.
func (p *Bridge) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning returns whether polling is active
func (p *Bridge) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// GetPollingInterval returns the current polling interval
func (p *Bridge) GetPollingInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentInterval
}

// LastChange returns when a poll last saw a changed value, or when the
// poller was created if none has.
func (p *Bridge) LastChange() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastChangeTime
}

// GetPerformanceStats returns polling performance statistics
func (p *Bridge) GetPerformanceStats() (avgTime, maxTime time.Duration, checkCount int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.averageCheckTime, p.maxCheckTime, p.checkCount
}

func (p *Bridge) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	currentInterval := p.GetPollingInterval()
	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ForceCheck(ctx)

			if newInterval := p.GetPollingInterval(); newInterval != currentInterval {
				ticker.Reset(newInterval)
				currentInterval = newInterval
			}
		}
	}
}

// ForceCheck polls once. The first successful read of a kind only records a
// baseline; later reads notify listeners when the value differs.
func (p *Bridge) ForceCheck(ctx context.Context) {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	start := time.Now()
	changed := false
	for _, kind := range p.watchedKinds() {
		cur, err := p.read(ctx, kind)
		if err != nil {
			if ctx.Err() == nil {
				p.errorHandler(fmt.Errorf("poll %v: %w", kind, err))
			}
			continue
		}

		p.mu.Lock()
		prev, seen := p.last[kind]
		p.last[kind] = cur
		p.mu.Unlock()

		if seen && prev != cur {
			changed = true
			p.notify(kind, cur)
		}
	}

	p.updatePerformanceStats(time.Since(start))
	if changed {
		p.adaptiveSpeedup()
	} else {
		p.adaptiveSlowdown()
	}
}

func (p *Bridge) watchedKinds() []bridge.Kind {
	p.mu.RLock()
	defer p.mu.RUnlock()

	want := make(map[bridge.Kind]bool)
	if len(p.volumeListeners) > 0 {
		want[bridge.KindVolume] = true
	}
	for _, e := range p.listeners {
		want[e.kind] = true
	}
	var kinds []bridge.Kind
	for _, k := range bridge.AllKinds {
		if want[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (p *Bridge) read(ctx context.Context, kind bridge.Kind) (observed, error) {
	switch kind {
	case bridge.KindVolume:
		v, err := p.Bridge.Volume(ctx)
		return observed{level: v}, err
	case bridge.KindAirplane:
		on, err := p.Bridge.AirplaneEnabled(ctx)
		return observed{on: on}, err
	case bridge.KindLocationMode:
		m, err := p.Bridge.LocationMode(ctx)
		return observed{mode: m}, err
	default:
		sw, err := p.Bridge.Switch(kind)
		if err != nil {
			return observed{}, err
		}
		on, err := sw.Enabled(ctx)
		return observed{on: on}, err
	}
}

func (p *Bridge) notify(kind bridge.Kind, cur observed) {
	p.mu.RLock()
	var vols []bridge.VolumeListener
	var cbs []bridge.Listener
	if kind == bridge.KindVolume {
		for _, cb := range p.volumeListeners {
			vols = append(vols, cb)
		}
	} else {
		for _, e := range p.listeners {
			if e.kind == kind {
				cbs = append(cbs, e.cb)
			}
		}
	}
	p.mu.RUnlock()

	for _, cb := range vols {
		cb(bridge.VolumeEvent{Value: cur.level})
	}
	ev := bridge.Event{Kind: kind, Enabled: cur.on, Mode: cur.mode}
	for _, cb := range cbs {
		cb(ev)
	}
}

func (p *Bridge) updatePerformanceStats(elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkCount++
	if p.checkCount == 1 {
		p.averageCheckTime = elapsed
	} else {
		// EMA with alpha = 0.1
		p.averageCheckTime = time.Duration(float64(p.averageCheckTime)*0.9 + float64(elapsed)*0.1)
	}
	if elapsed > p.maxCheckTime {
		p.maxCheckTime = elapsed
	}
}

// adaptiveSlowdown widens the interval after a run of unchanged polls
func (p *Bridge) adaptiveSlowdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.noChangeCount++
	if p.noChangeCount > slowdownAfter {
		next := time.Duration(float64(p.currentInterval) * 1.1)
		if next > p.maxInterval {
			next = p.maxInterval
		}
		p.currentInterval = next
	}
}

// adaptiveSpeedup resets to fast polling when a change is seen
func (p *Bridge) adaptiveSpeedup() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.noChangeCount = 0
	p.lastChangeTime = time.Now()
	p.currentInterval = p.baseInterval
}

// AddVolumeListener implements bridge.Bridge.
func (p *Bridge) AddVolumeListener(cb bridge.VolumeListener) (bridge.Handle, error) {
	if cb == nil {
		return bridge.Handle{}, fmt.Errorf("volume listener callback is required")
	}
	h := bridge.NewHandle(bridge.KindVolume)
	p.mu.Lock()
	p.volumeListeners[h] = cb
	p.mu.Unlock()
	return h, nil
}

// RemoveVolumeListener implements bridge.Bridge.
func (p *Bridge) RemoveVolumeListener(h bridge.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.volumeListeners[h]; !ok {
		return fmt.Errorf("%w: %s", bridge.ErrUnknownHandle, h)
	}
	delete(p.volumeListeners, h)
	if len(p.volumeListeners) == 0 {
		delete(p.last, bridge.KindVolume)
	}
	return nil
}

// AddListener implements bridge.Bridge.
func (p *Bridge) AddListener(kind bridge.Kind, cb bridge.Listener) (bridge.Handle, error) {
	if kind != bridge.KindAirplane && kind != bridge.KindLocationMode && !kind.IsSwitchable() {
		return bridge.Handle{}, fmt.Errorf("%w: cannot poll %v", bridge.ErrUnsupportedKind, kind)
	}
	if cb == nil {
		return bridge.Handle{}, fmt.Errorf("%v listener callback is required", kind)
	}
	h := bridge.NewHandle(kind)
	p.mu.Lock()
	p.listeners[h] = entry{kind: kind, cb: cb}
	p.mu.Unlock()
	return h, nil
}

// RemoveListener implements bridge.Bridge.
func (p *Bridge) RemoveListener(h bridge.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.listeners[h]
	if !ok {
		return fmt.Errorf("%w: %s", bridge.ErrUnknownHandle, h)
	}
	delete(p.listeners, h)
	for _, other := range p.listeners {
		if other.kind == e.kind {
			return nil
		}
	}
	delete(p.last, e.kind)
	return nil
}

var _ bridge.Bridge = (*Bridge)(nil)
