package syssetting

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shaban/syssetting/bridge"
)

type valueType uint8

const (
	valueUnknown valueType = iota
	valueFractional
	valueBoolean
	valueMode
)

// Value is a setting value: a level in [0, 1], an enabled flag, or a mode
// number. The zero Value is unknown, which is distinct from Fractional(0)
// and Boolean(false).
type Value struct {
	typ   valueType
	level float64
	on    bool
	mode  int
}

// Fractional returns a level value, clamped to [0, 1].
func Fractional(v float64) Value {
	return Value{typ: valueFractional, level: clampUnit(v)}
}

// Boolean returns an enabled/disabled value.
func Boolean(on bool) Value {
	return Value{typ: valueBoolean, on: on}
}

// Mode returns a mode value (location mode).
func Mode(m int) Value {
	return Value{typ: valueMode, mode: m}
}

// Known reports whether the value has been fetched at least once.
func (v Value) Known() bool { return v.typ != valueUnknown }

// Fraction returns the level and whether v holds one.
func (v Value) Fraction() (float64, bool) {
	return v.level, v.typ == valueFractional
}

// Bool returns the flag and whether v holds one.
func (v Value) Bool() (bool, bool) {
	return v.on, v.typ == valueBoolean
}

// Int returns the mode and whether v holds one.
func (v Value) Int() (int, bool) {
	return v.mode, v.typ == valueMode
}

// String renders levels as a rounded percentage and flags as On/Off.
func (v Value) String() string {
	switch v.typ {
	case valueFractional:
		return strconv.Itoa(int(math.Round(v.level*100))) + "%"
	case valueBoolean:
		if v.on {
			return "On"
		}
		return "Off"
	case valueMode:
		return strconv.Itoa(v.mode)
	default:
		return "unknown"
	}
}

// MarshalJSON encodes unknown as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case valueFractional:
		return json.Marshal(v.level)
	case valueBoolean:
		return json.Marshal(v.on)
	case valueMode:
		return json.Marshal(v.mode)
	default:
		return []byte("null"), nil
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Snapshot is a copy of the session's view of the device.
type Snapshot struct {
	Volume       Value `json:"volume"`
	Brightness   Value `json:"brightness"`
	Wifi         Value `json:"wifi"`
	Location     Value `json:"location"`
	Bluetooth    Value `json:"bluetooth"`
	Airplane     Value `json:"airplane"`
	LocationMode Value `json:"location_mode"`

	WriteSettingsGranted bool      `json:"write_settings_granted"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Get returns the value tracked for kind; unknown kinds yield the zero Value.
func (s Snapshot) Get(kind bridge.Kind) Value {
	switch kind {
	case bridge.KindVolume:
		return s.Volume
	case bridge.KindBrightness:
		return s.Brightness
	case bridge.KindWifi:
		return s.Wifi
	case bridge.KindLocation:
		return s.Location
	case bridge.KindBluetooth:
		return s.Bluetooth
	case bridge.KindAirplane:
		return s.Airplane
	case bridge.KindLocationMode:
		return s.LocationMode
	default:
		return Value{}
	}
}

func (s *Snapshot) set(kind bridge.Kind, v Value) {
	switch kind {
	case bridge.KindVolume:
		s.Volume = v
	case bridge.KindBrightness:
		s.Brightness = v
	case bridge.KindWifi:
		s.Wifi = v
	case bridge.KindLocation:
		s.Location = v
	case bridge.KindBluetooth:
		s.Bluetooth = v
	case bridge.KindAirplane:
		s.Airplane = v
	case bridge.KindLocationMode:
		s.LocationMode = v
	}
}
