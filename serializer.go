package syssetting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shaban/syssetting/bridge"
)

// SessionStateVersion is the current session state format version.
const SessionStateVersion = "1"

// SessionState is the serializable form of a session's snapshot. Unknown
// values are omitted.
type SessionState struct {
	Version    string    `json:"version"`
	SavedAt    time.Time `json:"saved_at"`
	Volume     *float64  `json:"volume,omitempty"`
	Brightness *float64  `json:"brightness,omitempty"`
	Wifi       *bool     `json:"wifi,omitempty"`
	Location   *bool     `json:"location,omitempty"`
	Bluetooth  *bool     `json:"bluetooth,omitempty"`

	WriteSettingsGranted bool `json:"write_settings_granted"`
}

// State captures the current snapshot.
func (c *Controller) State() SessionState {
	snap := c.Snapshot()
	st := SessionState{
		Version:              SessionStateVersion,
		SavedAt:              c.now(),
		WriteSettingsGranted: snap.WriteSettingsGranted,
	}
	if v, ok := snap.Volume.Fraction(); ok {
		st.Volume = &v
	}
	if v, ok := snap.Brightness.Fraction(); ok {
		st.Brightness = &v
	}
	if v, ok := snap.Wifi.Bool(); ok {
		st.Wifi = &v
	}
	if v, ok := snap.Location.Bool(); ok {
		st.Location = &v
	}
	if v, ok := snap.Bluetooth.Bool(); ok {
		st.Bluetooth = &v
	}
	return st
}

// Validate checks version compatibility and level ranges.
func (s SessionState) Validate() error {
	if s.Version != SessionStateVersion {
		return fmt.Errorf("incompatible state version: got %q, expected %q", s.Version, SessionStateVersion)
	}
	for _, lv := range []struct {
		kind bridge.Kind
		v    *float64
	}{{bridge.KindVolume, s.Volume}, {bridge.KindBrightness, s.Brightness}} {
		if lv.v != nil && (*lv.v < 0 || *lv.v > 1) {
			return fmt.Errorf("%w: saved %v is %v", ErrOutOfRange, lv.kind, *lv.v)
		}
	}
	return nil
}

// ApplyState writes the saved values back through the normal write paths,
// so permission gating applies. Every value is attempted; the returned error
// joins the failures.
func (c *Controller) ApplyState(ctx context.Context, s SessionState) error {
	if err := s.Validate(); err != nil {
		return err
	}

	var errs []error
	if s.Volume != nil {
		errs = append(errs, c.SetFractional(ctx, bridge.KindVolume, *s.Volume))
	}
	if s.Brightness != nil {
		errs = append(errs, c.SetFractional(ctx, bridge.KindBrightness, *s.Brightness))
	}
	for _, bv := range []struct {
		kind bridge.Kind
		v    *bool
	}{
		{bridge.KindWifi, s.Wifi},
		{bridge.KindLocation, s.Location},
		{bridge.KindBluetooth, s.Bluetooth},
	} {
		if bv.v != nil {
			errs = append(errs, c.SetBoolean(ctx, bv.kind, *bv.v))
		}
	}
	return errors.Join(errs...)
}

// SaveToWriter writes the session state as indented JSON.
func SaveToWriter(w io.Writer, s SessionState) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	return nil
}

// LoadFromReader reads and validates a session state.
func LoadFromReader(r io.Reader) (SessionState, error) {
	var s SessionState
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return SessionState{}, fmt.Errorf("failed to decode session state: %w", err)
	}
	if err := s.Validate(); err != nil {
		return SessionState{}, err
	}
	return s, nil
}

// SaveToFile writes the controller's current state to path.
func (c *Controller) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	if err := SaveToWriter(f, c.State()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFromFile reads a session state saved by SaveToFile.
func LoadFromFile(path string) (SessionState, error) {
	f, err := os.Open(path)
	if err != nil {
		return SessionState{}, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}
