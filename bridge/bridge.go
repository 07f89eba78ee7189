// Package bridge defines the contract between a settings session and the
// platform layer that actually reads and changes device settings.
//
// Implementations talk to the operating system's audio, display and radio
// subsystems. Every call may block until the platform answers; callers pass a
// context to bound that wait. Change notifications are delivered on
// goroutines owned by the implementation.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnsupportedKind is returned when an operation is not available for a kind.
var ErrUnsupportedKind = errors.New("unsupported setting kind")

// ErrUnknownHandle is returned when removing a handle the bridge never issued
// or already released.
var ErrUnknownHandle = errors.New("unknown listener handle")

// Kind identifies a device setting
type Kind int

const (
	KindUnknown Kind = iota
	KindVolume
	KindBrightness
	KindWifi
	KindLocation
	KindBluetooth
	KindAirplane
	KindLocationMode
)

func (k Kind) String() string {
	switch k {
	case KindVolume:
		return "volume"
	case KindBrightness:
		return "brightness"
	case KindWifi:
		return "wifi"
	case KindLocation:
		return "location"
	case KindBluetooth:
		return "bluetooth"
	case KindAirplane:
		return "airplane"
	case KindLocationMode:
		return "location-mode"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// AllKinds lists every known kind in declaration order.
var AllKinds = []Kind{
	KindVolume,
	KindBrightness,
	KindWifi,
	KindLocation,
	KindBluetooth,
	KindAirplane,
	KindLocationMode,
}

// IsFractional reports whether the kind holds a level in [0, 1].
func (k Kind) IsFractional() bool {
	return k == KindVolume || k == KindBrightness
}

// IsSwitchable reports whether the kind can be toggled through a Switch.
func (k Kind) IsSwitchable() bool {
	return k == KindWifi || k == KindLocation || k == KindBluetooth
}

// Handle is the opaque token returned when subscribing to changes.
type Handle struct {
	id   uuid.UUID
	kind Kind
}

// NewHandle issues a fresh handle for kind. Only bridge implementations
// should call it.
func NewHandle(kind Kind) Handle {
	return Handle{id: uuid.New(), kind: kind}
}

// Kind returns the setting the handle listens to.
func (h Handle) Kind() Kind { return h.kind }

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

func (h Handle) String() string {
	return h.kind.String() + ":" + h.id.String()
}

// VolumeOptions controls how a volume write is applied.
type VolumeOptions struct {
	// Type selects the audio stream class, e.g. "music", "ring", "alarm".
	Type string
	// PlaySound plays the system feedback tone after the change.
	PlaySound bool
	// ShowUI shows the system volume overlay.
	ShowUI bool
}

// VolumeEvent is delivered to volume listeners.
type VolumeEvent struct {
	Value float64
	// Streams holds per-stream levels when the platform reports them.
	Streams map[string]float64
}

// Event is delivered to non-volume listeners. Enabled is set for boolean
// kinds, Mode for KindLocationMode.
type Event struct {
	Kind    Kind
	Enabled bool
	Mode    int
}

// VolumeListener receives volume changes.
type VolumeListener func(VolumeEvent)

// Listener receives changes for boolean kinds and location mode.
type Listener func(Event)

// Switch is the per-kind capability for enabled/disabled services.
type Switch interface {
	// Enabled reads the current state.
	Enabled(ctx context.Context) (bool, error)
	// Toggle flips the current state and returns once the platform has
	// completed the change.
	Toggle(ctx context.Context) error
}

// Bridge is the platform settings layer consumed by a session.
type Bridge interface {
	Volume(ctx context.Context) (float64, error)
	// SetVolume is fire-and-forget on most platforms; the error only reports
	// failure to submit the request.
	SetVolume(ctx context.Context, value float64, opts VolumeOptions) error

	Brightness(ctx context.Context) (float64, error)
	// SetBrightnessForce reports false when the platform refused the write,
	// typically because the write-settings permission is missing.
	SetBrightnessForce(ctx context.Context, value float64) (bool, error)

	// Switch returns the capability for a switchable kind.
	Switch(kind Kind) (Switch, error)

	// AirplaneEnabled and LocationMode are read-only on every platform.
	AirplaneEnabled(ctx context.Context) (bool, error)
	LocationMode(ctx context.Context) (int, error)

	CheckWriteSettingsPermission(ctx context.Context) (bool, error)
	// GrantWriteSettingPermission opens the platform flow where the user can
	// grant the permission. It does not wait for the user's answer.
	GrantWriteSettingPermission(ctx context.Context) error

	AddVolumeListener(cb VolumeListener) (Handle, error)
	RemoveVolumeListener(h Handle) error

	// AddListener subscribes to wifi, bluetooth, location, location-mode or
	// airplane changes.
	AddListener(kind Kind, cb Listener) (Handle, error)
	RemoveListener(h Handle) error
}
