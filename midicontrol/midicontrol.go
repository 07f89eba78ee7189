// Package midicontrol drives a settings controller from a MIDI control
// surface. Control-change faders set fractional levels and note-on pads flip
// boolean settings.
package midicontrol

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/syssetting"
	"github.com/shaban/syssetting/bridge"
)

// AnyChannel accepts messages on every MIDI channel.
const AnyChannel = -1

const defaultWriteTimeout = 2 * time.Second

// Target is the part of a controller a surface writes to.
type Target interface {
	SetFractional(ctx context.Context, kind bridge.Kind, value float64) error
	SetBoolean(ctx context.Context, kind bridge.Kind, on bool) error
	Value(kind bridge.Kind) syssetting.Value
}

// Mapping assigns MIDI controller and note numbers to settings.
type Mapping struct {
	Faders map[uint8]bridge.Kind
	Pads   map[uint8]bridge.Kind
}

// DefaultMapping uses CC 7 (channel volume) for volume, CC 74 for brightness
// and the notes C4, C#4 and D4 for wifi, bluetooth and location.
func DefaultMapping() Mapping {
	return Mapping{
		Faders: map[uint8]bridge.Kind{
			7:  bridge.KindVolume,
			74: bridge.KindBrightness,
		},
		Pads: map[uint8]bridge.Kind{
			60: bridge.KindWifi,
			61: bridge.KindBluetooth,
			62: bridge.KindLocation,
		},
	}
}

// Validate rejects faders bound to non-fractional kinds and pads bound to
// kinds that cannot be toggled.
func (m Mapping) Validate() error {
	for cc, kind := range m.Faders {
		if !kind.IsFractional() {
			return fmt.Errorf("fader CC %d: %w: %v is not a level", cc, bridge.ErrUnsupportedKind, kind)
		}
		if cc > 127 {
			return fmt.Errorf("fader CC %d out of MIDI range", cc)
		}
	}
	for note, kind := range m.Pads {
		if !kind.IsSwitchable() {
			return fmt.Errorf("pad note %d: %w: %v cannot be toggled", note, bridge.ErrUnsupportedKind, kind)
		}
		if note > 127 {
			return fmt.Errorf("pad note %d out of MIDI range", note)
		}
	}
	return nil
}

// Option configures a Surface.
type Option func(*Surface)

// WithMapping replaces the default mapping.
func WithMapping(m Mapping) Option {
	return func(s *Surface) { s.mapping = m }
}

// WithChannel restricts the surface to one MIDI channel (0-15).
func WithChannel(ch int) Option {
	return func(s *Surface) { s.channel = ch }
}

// WithErrorHandler receives write failures from messages handled by Listen.
func WithErrorHandler(h syssetting.ErrorHandler) Option {
	return func(s *Surface) {
		if h != nil {
			s.errorHandler = h
		}
	}
}

// WithWriteTimeout bounds each write issued for an incoming message.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Surface) { s.timeout = d }
}

// Surface translates MIDI messages into controller writes.
type Surface struct {
	target       Target
	mapping      Mapping
	channel      int
	timeout      time.Duration
	errorHandler syssetting.ErrorHandler

	mu   sync.Mutex
	stop func()
}

// New creates a Surface writing to target.
func New(target Target, opts ...Option) (*Surface, error) {
	if target == nil {
		return nil, fmt.Errorf("target is required")
	}
	s := &Surface{
		target:       target,
		mapping:      DefaultMapping(),
		channel:      AnyChannel,
		timeout:      defaultWriteTimeout,
		errorHandler: &syssetting.DefaultErrorHandler{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.channel < AnyChannel || s.channel > 15 {
		return nil, fmt.Errorf("MIDI channel %d out of range", s.channel)
	}
	if err := s.mapping.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// HandleMessage applies one MIDI message. It reports whether the message was
// mapped, and the write error if any. Unmapped messages are ignored.
func (s *Surface) HandleMessage(ctx context.Context, msg midi.Message) (bool, error) {
	var ch, num, val uint8
	switch {
	case msg.GetControlChange(&ch, &num, &val):
		kind, ok := s.mapping.Faders[num]
		if !ok || !s.accepts(ch) {
			return false, nil
		}
		return true, s.target.SetFractional(ctx, kind, float64(val)/127)

	case msg.GetNoteStart(&ch, &num, &val):
		kind, ok := s.mapping.Pads[num]
		if !ok || !s.accepts(ch) {
			return false, nil
		}
		on, _ := s.target.Value(kind).Bool()
		return true, s.target.SetBoolean(ctx, kind, !on)
	}
	return false, nil
}

func (s *Surface) accepts(ch uint8) bool {
	return s.channel == AnyChannel || int(ch) == s.channel
}

// Listen opens the named MIDI input port and handles its messages until
// Close. A MIDI driver must be registered by importing one of the gomidi
// driver packages.
func (s *Surface) Listen(portName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return fmt.Errorf("surface is already listening")
	}

	in, err := midi.FindInPort(portName)
	if err != nil {
		return fmt.Errorf("find MIDI input %q: %w", portName, err)
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.HandleMessage(ctx, msg); err != nil {
			s.errorHandler.HandleError(fmt.Errorf("midi %s: %w", msg, err))
		}
	})
	if err != nil {
		return fmt.Errorf("listen to MIDI input %q: %w", portName, err)
	}
	s.stop = stop
	log.Printf("midicontrol: listening on %s", in)
	return nil
}

// Close stops listening. It is safe to call when not listening.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	return nil
}

// InputPorts lists the names of available MIDI inputs, sorted.
func InputPorts() []string {
	ports := midi.GetInPorts()
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	sort.Strings(names)
	return names
}
