// Package simulated provides an in-memory bridge.Bridge.
//
// A Device behaves like a phone with a settings app: writes change its state,
// permission can be missing until the grant flow runs, and listeners are
// notified when something changes. Tests script failures and timing through
// the Fail*, Hold* and Push* methods.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaban/syssetting/bridge"
)

// ErrInjected is the default error used by scripted failures.
var ErrInjected = errors.New("simulated failure")

// Calls counts the side-effecting requests a Device has received.
type Calls struct {
	SetVolume     int
	SetBrightness int
	Toggle        int
	Grant         int
	PermissionQry int
	Reads         int
}

type listener struct {
	kind bridge.Kind
	cb   bridge.Listener
}

// Device is a simulated settings bridge. The zero value is not usable; use New.
type Device struct {
	mu sync.Mutex

	volume       float64
	brightness   float64
	enabled      map[bridge.Kind]bool
	locationMode int

	writeGranted bool
	autoGrant    bool

	// Scripted behavior
	readErr       map[bridge.Kind]error
	toggleErr     map[bridge.Kind]error
	permissionErr error
	brightnessErr error
	toggleDelay   time.Duration
	holdToggles   bool
	toggleGate    chan struct{}

	volumeListeners map[bridge.Handle]bridge.VolumeListener
	listeners       map[bridge.Handle]listener

	// Listeners removed while the "native" side may still hold them
	releasedVolume []bridge.VolumeListener
	released       []listener

	lastVolumeOpts bridge.VolumeOptions
	calls          Calls
}

// Option configures a Device at construction.
type Option func(*Device)

// WithVolume sets the initial volume.
func WithVolume(v float64) Option { return func(d *Device) { d.volume = v } }

// WithBrightness sets the initial brightness.
func WithBrightness(v float64) Option { return func(d *Device) { d.brightness = v } }

// WithEnabled sets the initial state of a boolean kind.
func WithEnabled(kind bridge.Kind, on bool) Option {
	return func(d *Device) { d.enabled[kind] = on }
}

// WithLocationMode sets the initial location mode.
func WithLocationMode(mode int) Option { return func(d *Device) { d.locationMode = mode } }

// WithWritePermission sets whether the write-settings permission is granted.
func WithWritePermission(granted bool) Option {
	return func(d *Device) { d.writeGranted = granted }
}

// WithAutoGrant makes the grant flow succeed immediately, as if the user
// accepted the system dialog.
func WithAutoGrant(auto bool) Option { return func(d *Device) { d.autoGrant = auto } }

// New creates a Device with everything off, levels at 0.5 and no permission.
func New(opts ...Option) *Device {
	d := &Device{
		volume:          0.5,
		brightness:      0.5,
		enabled:         make(map[bridge.Kind]bool),
		readErr:         make(map[bridge.Kind]error),
		toggleErr:       make(map[bridge.Kind]error),
		volumeListeners: make(map[bridge.Handle]bridge.VolumeListener),
		listeners:       make(map[bridge.Handle]listener),
		toggleGate:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) read(kind bridge.Kind) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.Reads++
	return d.readErr[kind]
}

// Volume implements bridge.Bridge.
func (d *Device) Volume(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.read(bridge.KindVolume); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume, nil
}

// SetVolume implements bridge.Bridge. Volume listeners are notified, as the
// platform reports its own writes back through the change broadcast.
func (d *Device) SetVolume(ctx context.Context, value float64, opts bridge.VolumeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.calls.SetVolume++
	d.lastVolumeOpts = opts
	d.volume = value
	d.mu.Unlock()

	d.PushVolume(value)
	return nil
}

// Brightness implements bridge.Bridge.
func (d *Device) Brightness(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.read(bridge.KindBrightness); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness, nil
}

// SetBrightnessForce implements bridge.Bridge. It refuses without permission.
func (d *Device) SetBrightnessForce(ctx context.Context, value float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.SetBrightness++
	if d.brightnessErr != nil {
		return false, d.brightnessErr
	}
	if !d.writeGranted {
		return false, nil
	}
	d.brightness = value
	return true, nil
}

// AirplaneEnabled implements bridge.Bridge.
func (d *Device) AirplaneEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := d.read(bridge.KindAirplane); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled[bridge.KindAirplane], nil
}

// LocationMode implements bridge.Bridge.
func (d *Device) LocationMode(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := d.read(bridge.KindLocationMode); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locationMode, nil
}

// Switch implements bridge.Bridge.
func (d *Device) Switch(kind bridge.Kind) (bridge.Switch, error) {
	if !kind.IsSwitchable() {
		return nil, fmt.Errorf("%w: %v has no switch", bridge.ErrUnsupportedKind, kind)
	}
	return &deviceSwitch{device: d, kind: kind}, nil
}

type deviceSwitch struct {
	device *Device
	kind   bridge.Kind
}

func (s *deviceSwitch) Enabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.device.read(s.kind); err != nil {
		return false, err
	}
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.device.enabled[s.kind], nil
}

func (s *deviceSwitch) Toggle(ctx context.Context) error {
	d := s.device

	d.mu.Lock()
	d.calls.Toggle++
	delay := d.toggleDelay
	hold := d.holdToggles
	gate := d.toggleGate
	d.mu.Unlock()

	if hold {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	if err := d.toggleErr[s.kind]; err != nil {
		d.mu.Unlock()
		return err
	}
	on := !d.enabled[s.kind]
	d.mu.Unlock()

	d.Push(s.kind, on)
	return nil
}

// CheckWriteSettingsPermission implements bridge.Bridge.
func (d *Device) CheckWriteSettingsPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.PermissionQry++
	if d.permissionErr != nil {
		return false, d.permissionErr
	}
	return d.writeGranted, nil
}

// GrantWriteSettingPermission implements bridge.Bridge.
func (d *Device) GrantWriteSettingPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.Grant++
	if d.autoGrant {
		d.writeGranted = true
	}
	return nil
}

// AddVolumeListener implements bridge.Bridge.
func (d *Device) AddVolumeListener(cb bridge.VolumeListener) (bridge.Handle, error) {
	if cb == nil {
		return bridge.Handle{}, fmt.Errorf("volume listener callback is required")
	}
	h := bridge.NewHandle(bridge.KindVolume)
	d.mu.Lock()
	d.volumeListeners[h] = cb
	d.mu.Unlock()
	return h, nil
}

// RemoveVolumeListener implements bridge.Bridge.
func (d *Device) RemoveVolumeListener(h bridge.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.volumeListeners[h]
	if !ok {
		return fmt.Errorf("%w: %s", bridge.ErrUnknownHandle, h)
	}
	delete(d.volumeListeners, h)
	d.releasedVolume = append(d.releasedVolume, cb)
	return nil
}

// AddListener implements bridge.Bridge.
func (d *Device) AddListener(kind bridge.Kind, cb bridge.Listener) (bridge.Handle, error) {
	switch kind {
	case bridge.KindWifi, bridge.KindBluetooth, bridge.KindLocation,
		bridge.KindLocationMode, bridge.KindAirplane:
	default:
		return bridge.Handle{}, fmt.Errorf("%w: cannot listen to %v", bridge.ErrUnsupportedKind, kind)
	}
	if cb == nil {
		return bridge.Handle{}, fmt.Errorf("%v listener callback is required", kind)
	}
	h := bridge.NewHandle(kind)
	d.mu.Lock()
	d.listeners[h] = listener{kind: kind, cb: cb}
	d.mu.Unlock()
	return h, nil
}

// RemoveListener implements bridge.Bridge.
func (d *Device) RemoveListener(h bridge.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.listeners[h]
	if !ok {
		return fmt.Errorf("%w: %s", bridge.ErrUnknownHandle, h)
	}
	delete(d.listeners, h)
	d.released = append(d.released, l)
	return nil
}

// PushVolume changes the volume out-of-band and notifies volume listeners.
func (d *Device) PushVolume(value float64) {
	d.mu.Lock()
	d.volume = value
	cbs := make([]bridge.VolumeListener, 0, len(d.volumeListeners))
	for _, cb := range d.volumeListeners {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	ev := bridge.VolumeEvent{Value: value}
	for _, cb := range cbs {
		cb(ev)
	}
}

// Push changes a boolean kind out-of-band and notifies its listeners.
func (d *Device) Push(kind bridge.Kind, on bool) {
	d.mu.Lock()
	d.enabled[kind] = on
	cbs := d.listenersFor(kind)
	d.mu.Unlock()

	ev := bridge.Event{Kind: kind, Enabled: on}
	for _, cb := range cbs {
		cb(ev)
	}
}

// PushLocationMode changes the location mode and notifies its listeners.
func (d *Device) PushLocationMode(mode int) {
	d.mu.Lock()
	d.locationMode = mode
	cbs := d.listenersFor(bridge.KindLocationMode)
	d.mu.Unlock()

	ev := bridge.Event{Kind: bridge.KindLocationMode, Mode: mode}
	for _, cb := range cbs {
		cb(ev)
	}
}

func (d *Device) listenersFor(kind bridge.Kind) []bridge.Listener {
	var cbs []bridge.Listener
	for _, l := range d.listeners {
		if l.kind == kind {
			cbs = append(cbs, l.cb)
		}
	}
	return cbs
}

// FireReleased delivers a volume value and a boolean state to every listener
// that has already been removed. It models native callbacks that were in
// flight when the subscription was released.
func (d *Device) FireReleased(volume float64, on bool) int {
	d.mu.Lock()
	vols := append([]bridge.VolumeListener(nil), d.releasedVolume...)
	others := append([]listener(nil), d.released...)
	d.mu.Unlock()

	for _, cb := range vols {
		cb(bridge.VolumeEvent{Value: volume})
	}
	for _, l := range others {
		l.cb(bridge.Event{Kind: l.kind, Enabled: on, Mode: boolToMode(on)})
	}
	return len(vols) + len(others)
}

func boolToMode(on bool) int {
	if on {
		return 3
	}
	return 0
}

// FailRead makes reads of kind return err. A nil err clears the failure.
func (d *Device) FailRead(kind bridge.Kind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.readErr, kind)
		return
	}
	d.readErr[kind] = err
}

// FailToggle makes toggles of kind return err after completing their wait.
func (d *Device) FailToggle(kind bridge.Kind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.toggleErr, kind)
		return
	}
	d.toggleErr[kind] = err
}

// FailBrightnessWrite makes SetBrightnessForce return err, as a platform
// that throws instead of reporting false does. A nil err clears the failure.
func (d *Device) FailBrightnessWrite(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brightnessErr = err
}

// FailPermissionQuery makes CheckWriteSettingsPermission return err.
func (d *Device) FailPermissionQuery(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.permissionErr = err
}

// SetWritePermission changes the permission as if from the system settings app.
func (d *Device) SetWritePermission(granted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeGranted = granted
}

// SetAutoGrant changes whether the grant flow grants immediately.
func (d *Device) SetAutoGrant(auto bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoGrant = auto
}

// SetToggleDelay makes every toggle take at least delay to complete.
func (d *Device) SetToggleDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.toggleDelay = delay
}

// HoldToggles makes toggles wait until ReleaseToggles is called or their
// context ends.
func (d *Device) HoldToggles() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdToggles = true
}

// ReleaseToggles completes every held toggle and stops holding new ones.
func (d *Device) ReleaseToggles() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.holdToggles {
		return
	}
	d.holdToggles = false
	close(d.toggleGate)
	d.toggleGate = make(chan struct{})
}

// Calls returns a copy of the request counters.
func (d *Device) Calls() Calls {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// LastVolumeOptions returns the options of the most recent SetVolume.
func (d *Device) LastVolumeOptions() bridge.VolumeOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastVolumeOpts
}

// ActiveListeners returns the number of subscriptions not yet removed.
func (d *Device) ActiveListeners() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.volumeListeners) + len(d.listeners)
}

// Enabled returns the device-side state of a boolean kind.
func (d *Device) Enabled(kind bridge.Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled[kind]
}

// Levels returns the device-side volume and brightness.
func (d *Device) Levels() (volume, brightness float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume, d.brightness
}

var _ bridge.Bridge = (*Device)(nil)
