// Package syssetting keeps a session's view of device settings in sync with a
// platform settings bridge.
//
// A Controller owns a Snapshot of volume, brightness and the radio/service
// flags, refreshes it on demand, follows out-of-band changes through bridge
// listeners, and gates level writes behind the write-settings permission.
// Every mutation of the snapshot runs on a single dispatcher goroutine, so
// concurrent completions and notifications apply in arrival order and the
// last one wins.
package syssetting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaban/syssetting/bridge"
)

// refreshKinds are read by RefreshAll.
var refreshKinds = []bridge.Kind{
	bridge.KindVolume,
	bridge.KindBrightness,
	bridge.KindWifi,
	bridge.KindLocation,
	bridge.KindBluetooth,
}

// listenKinds are subscribed by StartListening, in this order.
var listenKinds = []bridge.Kind{
	bridge.KindVolume,
	bridge.KindBluetooth,
	bridge.KindWifi,
	bridge.KindLocation,
	bridge.KindLocationMode,
	bridge.KindAirplane,
}

// Option customizes a Controller beyond its Config.
type Option func(*Controller)

// WithErrorHandler sets where contained errors are reported.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Controller) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithLogger sets the printf-style logger used for listener observations.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(c *Controller) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller is a settings session.
type Controller struct {
	bridge bridge.Bridge
	cfg    Config

	errorHandler ErrorHandler
	logf         func(format string, args ...any)
	now          func() time.Time

	// Written only on the dispatcher goroutine; read anywhere under stateMu.
	stateMu  sync.RWMutex
	snapshot Snapshot
	registry *ListenerRegistry

	dispatcher *dispatcher
	notifier   *notifier

	listenMu  sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a controller over b. The bridge is used by this controller
// only through the calls it makes; callers may share it.
func New(b bridge.Bridge, cfg Config, opts ...Option) (*Controller, error) {
	if b == nil {
		return nil, fmt.Errorf("settings bridge is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Controller{
		bridge:       b,
		cfg:          cfg,
		errorHandler: &DefaultErrorHandler{},
		logf:         log.Printf,
		now:          time.Now,
		registry:     newListenerRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.dispatcher = newDispatcher(c.errorHandler, cfg.SlowOperation)
	if err := c.dispatcher.Start(); err != nil {
		return nil, err
	}
	c.notifier = newNotifier()
	return c, nil
}

// Config returns the validated configuration.
func (c *Controller) Config() Config { return c.cfg }

// Snapshot returns a copy of the current view.
func (c *Controller) Snapshot() Snapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.snapshot
}

// Value returns the current value for kind.
func (c *Controller) Value(kind bridge.Kind) Value {
	return c.Snapshot().Get(kind)
}

// WriteSettingsGranted returns the last known permission state.
func (c *Controller) WriteSettingsGranted() bool {
	return c.Snapshot().WriteSettingsGranted
}

// IsListening reports whether any subscription is active.
func (c *Controller) IsListening() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.registry.Len() > 0
}

// ListeningKinds returns the kinds with an active subscription.
func (c *Controller) ListeningKinds() []bridge.Kind {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.registry.Kinds()
}

// OnChange registers cb for every applied change. Callbacks run on a
// dedicated goroutine, in order, and may call back into the controller,
// Close included.
func (c *Controller) OnChange(cb ChangeCallback) (cancel func()) {
	return c.notifier.subscribe(cb)
}

// DispatchStats returns last and max mutation durations and the count applied.
func (c *Controller) DispatchStats() (last, longest time.Duration, count int64) {
	return c.dispatcher.GetPerformanceStats()
}

// apply runs on the dispatcher goroutine.
func (c *Controller) apply(kind bridge.Kind, v Value, source ChangeSource) {
	c.stateMu.Lock()
	old := c.snapshot.Get(kind)
	c.snapshot.set(kind, v)
	at := c.now()
	c.snapshot.UpdatedAt = at
	c.stateMu.Unlock()

	if old != v {
		c.notifier.publish(Change{Field: kind.String(), Kind: kind, Old: old, New: v, Source: source, At: at})
	}
}

func (c *Controller) update(kind bridge.Kind, v Value, source ChangeSource) error {
	return c.dispatcher.do("update "+kind.String(), func() {
		c.apply(kind, v, source)
	})
}

func (c *Controller) setPermission(granted bool) error {
	return c.dispatcher.do("update permission", func() {
		c.stateMu.Lock()
		old := c.snapshot.WriteSettingsGranted
		c.snapshot.WriteSettingsGranted = granted
		at := c.now()
		c.snapshot.UpdatedAt = at
		c.stateMu.Unlock()

		if old != granted {
			c.notifier.publish(Change{
				Field:  PermissionField,
				Old:    Boolean(old),
				New:    Boolean(granted),
				Source: SourcePermission,
				At:     at,
			})
		}
	})
}

// read fetches one setting from the bridge.
func (c *Controller) read(ctx context.Context, kind bridge.Kind) (Value, error) {
	switch kind {
	case bridge.KindVolume:
		v, err := c.bridge.Volume(ctx)
		return Fractional(v), err
	case bridge.KindBrightness:
		v, err := c.bridge.Brightness(ctx)
		return Fractional(v), err
	case bridge.KindWifi, bridge.KindLocation, bridge.KindBluetooth:
		sw, err := c.bridge.Switch(kind)
		if err != nil {
			return Value{}, err
		}
		on, err := sw.Enabled(ctx)
		return Boolean(on), err
	case bridge.KindAirplane:
		on, err := c.bridge.AirplaneEnabled(ctx)
		return Boolean(on), err
	case bridge.KindLocationMode:
		m, err := c.bridge.LocationMode(ctx)
		return Mode(m), err
	default:
		return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
	}
}

// Refresh reads one setting and stores it. A failed read leaves the
// snapshot unchanged and returns a *ReadError.
func (c *Controller) Refresh(ctx context.Context, kind bridge.Kind) error {
	if c.closed.Load() {
		return ErrClosed
	}
	v, err := c.read(ctx, kind)
	if err != nil {
		rerr := &ReadError{Kind: kind, Err: err}
		c.errorHandler.HandleError(rerr)
		return rerr
	}
	return c.update(kind, v, SourceRefresh)
}

// RefreshAll reads volume, brightness, wifi, location and bluetooth
// concurrently. Each field is stored as soon as its read completes; a failed
// read does not affect the others. The returned error joins every failure.
func (c *Controller) RefreshAll(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	errs := make([]error, len(refreshKinds))
	var g errgroup.Group
	for i, kind := range refreshKinds {
		g.Go(func() error {
			errs[i] = c.Refresh(ctx, kind)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// StartListening subscribes to volume, bluetooth, wifi, location,
// location-mode and airplane changes. If a subscription fails, those
// already made are released before the error is returned.
func (c *Controller) StartListening() error {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.IsListening() {
		return ErrAlreadyListening
	}

	// Subscriptions are registered before the bridge learns of them, so a
	// change pushed while later kinds are still subscribing is applied.
	subs := make([]*subscription, 0, len(listenKinds))
	for _, kind := range listenKinds {
		subs = append(subs, &subscription{kind: kind})
	}
	err := c.dispatcher.do("register listeners", func() {
		c.stateMu.Lock()
		defer c.stateMu.Unlock()
		for _, s := range subs {
			c.registry.add(s)
		}
	})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		var h bridge.Handle
		if sub.kind == bridge.KindVolume {
			h, err = c.bridge.AddVolumeListener(c.volumeCallback(sub))
		} else {
			h, err = c.bridge.AddListener(sub.kind, c.eventCallback(sub))
		}
		if err != nil {
			err = fmt.Errorf("subscribe %v: %w", sub.kind, err)
			return errors.Join(err, c.release(c.drainRegistry()))
		}
		c.stateMu.Lock()
		sub.handle = h
		c.stateMu.Unlock()
	}
	return nil
}

// StopListening releases every active subscription exactly once and
// empties the registry. It is a no-op when nothing is registered.
func (c *Controller) StopListening() error {
	c.listenMu.Lock()
	defer c.listenMu.Unlock()

	return c.release(c.drainRegistry())
}

// drainRegistry empties the registry on the dispatcher and returns what it held.
func (c *Controller) drainRegistry() []*subscription {
	var subs []*subscription
	drain := func() {
		c.stateMu.Lock()
		defer c.stateMu.Unlock()
		subs = c.registry.drain()
	}
	if err := c.dispatcher.do("drain listeners", drain); err != nil {
		// Dispatcher already gone; nothing can race the registry any more.
		drain()
	}
	return subs
}

// release removes the bridge subscriptions. Entries never bound to a handle
// are skipped.
func (c *Controller) release(subs []*subscription) error {
	c.stateMu.RLock()
	bound := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if !s.handle.IsZero() {
			bound = append(bound, *s)
		}
	}
	c.stateMu.RUnlock()

	var errs []error
	for _, b := range bound {
		h := b.handle
		var err error
		if b.kind == bridge.KindVolume {
			err = c.bridge.RemoveVolumeListener(h)
		} else {
			err = c.bridge.RemoveListener(h)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) isActive(s *subscription) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.registry.active(s)
}

func (c *Controller) volumeCallback(sub *subscription) bridge.VolumeListener {
	return func(ev bridge.VolumeEvent) {
		c.dispatcher.post("volume listener", func() {
			if !c.isActive(sub) {
				return
			}
			c.apply(bridge.KindVolume, Fractional(ev.Value), SourceListener)
		})
	}
}

func (c *Controller) eventCallback(sub *subscription) bridge.Listener {
	return func(ev bridge.Event) {
		c.dispatcher.post(sub.kind.String()+" listener", func() {
			if !c.isActive(sub) {
				return
			}
			v := Boolean(ev.Enabled)
			if sub.kind == bridge.KindLocationMode {
				v = Mode(ev.Mode)
			}
			c.logf("%v changed: %v", sub.kind, v)
			if c.cfg.SyncAllListeners {
				c.apply(sub.kind, v, SourceListener)
			}
		})
	}
}

// CheckPermission queries the write-settings permission and stores it.
// When the permission is missing, or the query fails, the flag is set to
// false and the grant flow is opened. A failed query returns a
// *PermissionQueryError.
func (c *Controller) CheckPermission(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}

	granted, err := c.bridge.CheckWriteSettingsPermission(ctx)
	if err != nil {
		qerr := &PermissionQueryError{Err: err}
		c.errorHandler.HandleError(qerr)
		return false, errors.Join(qerr, c.setPermission(false), c.RequestPermission(ctx))
	}

	if err := c.setPermission(granted); err != nil {
		return granted, err
	}
	if !granted {
		c.logf("write settings permission is not granted")
		if err := c.RequestPermission(ctx); err != nil {
			return false, err
		}
	}
	return granted, nil
}

// RequestPermission opens the platform grant flow. It does not wait for the
// user; call CheckPermission afterwards to pick up the result.
func (c *Controller) RequestPermission(ctx context.Context) error {
	if err := c.bridge.GrantWriteSettingPermission(ctx); err != nil {
		return fmt.Errorf("open permission grant flow: %w", err)
	}
	return nil
}

func (c *Controller) denied(kind bridge.Kind, attempted bool) error {
	return &PermissionDeniedError{Kind: kind, Attempted: attempted, grant: c.RequestPermission}
}

// SetFractional writes volume or brightness. The configured WritePolicy
// decides whether a missing permission skips the bridge call. On success the
// requested value is written through to the snapshot; on refusal the
// snapshot is unchanged and a *PermissionDeniedError is returned.
func (c *Controller) SetFractional(ctx context.Context, kind bridge.Kind, value float64) error {
	if !kind.IsFractional() {
		return fmt.Errorf("%w: %v is not a level setting", ErrUnsupportedKind, kind)
	}
	if math.IsNaN(value) || value < 0 || value > 1 {
		return fmt.Errorf("%w: %v must be in [0, 1], got %v", ErrOutOfRange, kind, value)
	}
	if c.closed.Load() {
		return ErrClosed
	}

	if c.cfg.gated(kind) && c.cfg.WritePolicy == CheckThenWrite && !c.WriteSettingsGranted() {
		return c.denied(kind, false)
	}

	switch kind {
	case bridge.KindVolume:
		if err := c.bridge.SetVolume(ctx, value, c.cfg.volumeOptions()); err != nil {
			return c.writeFailed(kind, err)
		}
	case bridge.KindBrightness:
		ok, err := c.bridge.SetBrightnessForce(ctx, value)
		if err != nil {
			return c.writeFailed(kind, err)
		}
		if !ok {
			return c.denied(kind, true)
		}
	}
	return c.update(kind, Fractional(value), SourceWrite)
}

// writeFailed classifies a bridge error from a level write. Under
// OptimisticWrite the bridge is the permission check, so a rejection of a
// gated write is a denial carrying the cause. Otherwise the flag was already
// granted and the error is reported as is.
func (c *Controller) writeFailed(kind bridge.Kind, err error) error {
	if c.cfg.WritePolicy == OptimisticWrite && c.cfg.gated(kind) {
		return &PermissionDeniedError{Kind: kind, Attempted: true, Err: err, grant: c.RequestPermission}
	}
	return fmt.Errorf("set %v: %w", kind, err)
}

// SetBoolean switches wifi, location or bluetooth to on. The bridge only
// toggles, so nothing is sent when the setting already holds the requested
// value. With SyncAllListeners the snapshot is kept current by listeners and
// a known snapshot value decides; otherwise the snapshot may miss external
// changes, so the device state is read first at the cost of one extra bridge
// call. A failed read returns a *ReadError without toggling. The snapshot is
// updated once the toggle completes; a failed toggle leaves it unchanged.
func (c *Controller) SetBoolean(ctx context.Context, kind bridge.Kind, on bool) error {
	if !kind.IsSwitchable() {
		return fmt.Errorf("%w: %v cannot be switched", ErrUnsupportedKind, kind)
	}
	if c.closed.Load() {
		return ErrClosed
	}

	sw, err := c.bridge.Switch(kind)
	if err != nil {
		return fmt.Errorf("switch %v: %w", kind, err)
	}

	if c.cfg.SyncAllListeners {
		if cur, ok := c.Value(kind).Bool(); ok && cur == on {
			return nil
		}
	} else {
		cur, err := sw.Enabled(ctx)
		if err != nil {
			rerr := &ReadError{Kind: kind, Err: err}
			c.errorHandler.HandleError(rerr)
			return rerr
		}
		if cur == on {
			return c.update(kind, Boolean(cur), SourceRefresh)
		}
	}

	if err := sw.Toggle(ctx); err != nil {
		return fmt.Errorf("toggle %v: %w", kind, err)
	}
	return c.update(kind, Boolean(on), SourceWrite)
}

// Close ends the session: every subscription is released and the
// dispatcher stops. It runs once; later calls return the first result.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		stopErr := c.StopListening()
		dispErr := c.dispatcher.Stop()
		c.notifier.close()
		c.closeErr = errors.Join(stopErr, dispErr)
	})
	return c.closeErr
}
