package midicontrol

import (
	"context"
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"

	"github.com/shaban/syssetting"
	"github.com/shaban/syssetting/bridge"
	"github.com/shaban/syssetting/bridge/simulated"
)

type write struct {
	kind  bridge.Kind
	level float64
	on    bool
}

type fakeTarget struct {
	values map[bridge.Kind]syssetting.Value
	writes []write
	err    error
}

func (f *fakeTarget) SetFractional(ctx context.Context, kind bridge.Kind, value float64) error {
	f.writes = append(f.writes, write{kind: kind, level: value})
	return f.err
}

func (f *fakeTarget) SetBoolean(ctx context.Context, kind bridge.Kind, on bool) error {
	f.writes = append(f.writes, write{kind: kind, on: on})
	return f.err
}

func (f *fakeTarget) Value(kind bridge.Kind) syssetting.Value { return f.values[kind] }

func TestFaderSetsLevel(t *testing.T) {
	target := &fakeTarget{}
	s, err := New(target)
	if err != nil {
		t.Fatal(err)
	}

	mapped, err := s.HandleMessage(context.Background(), midi.ControlChange(0, 7, 64))
	if err != nil || !mapped {
		t.Fatalf("expected mapped message, got %v, %v", mapped, err)
	}
	if len(target.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(target.writes))
	}
	w := target.writes[0]
	if w.kind != bridge.KindVolume || w.level != 64.0/127 {
		t.Errorf("expected volume 64/127, got %v %v", w.kind, w.level)
	}

	if _, err := s.HandleMessage(context.Background(), midi.ControlChange(3, 74, 127)); err != nil {
		t.Fatal(err)
	}
	if w := target.writes[1]; w.kind != bridge.KindBrightness || w.level != 1 {
		t.Errorf("expected full brightness, got %v %v", w.kind, w.level)
	}
}

func TestPadFlipsCurrentValue(t *testing.T) {
	tests := []struct {
		name    string
		current syssetting.Value
		want    bool
	}{
		{"off", syssetting.Boolean(false), true},
		{"on", syssetting.Boolean(true), false},
		{"unknown", syssetting.Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &fakeTarget{values: map[bridge.Kind]syssetting.Value{bridge.KindWifi: tt.current}}
			s, err := New(target)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := s.HandleMessage(context.Background(), midi.NoteOn(0, 60, 100)); err != nil {
				t.Fatal(err)
			}
			if len(target.writes) != 1 || target.writes[0].kind != bridge.KindWifi || target.writes[0].on != tt.want {
				t.Errorf("expected wifi=%v, got %+v", tt.want, target.writes)
			}
		})
	}
}

func TestUnmappedMessagesIgnored(t *testing.T) {
	target := &fakeTarget{}
	s, err := New(target, WithChannel(2))
	if err != nil {
		t.Fatal(err)
	}
	msgs := []midi.Message{
		midi.ControlChange(2, 1, 10), // unmapped controller
		midi.ControlChange(0, 7, 10), // wrong channel
		midi.NoteOn(2, 70, 100),      // unmapped note
		midi.NoteOn(2, 60, 0),        // note-on with zero velocity is a release
		midi.NoteOff(2, 60),
	}
	for _, msg := range msgs {
		mapped, err := s.HandleMessage(context.Background(), msg)
		if mapped || err != nil {
			t.Errorf("%s: expected ignored, got %v, %v", msg, mapped, err)
		}
	}
	if len(target.writes) != 0 {
		t.Errorf("expected no writes, got %+v", target.writes)
	}
}

func TestWriteErrorsReturned(t *testing.T) {
	target := &fakeTarget{err: syssetting.ErrPermissionDenied}
	s, err := New(target)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := s.HandleMessage(context.Background(), midi.ControlChange(0, 74, 1))
	if !mapped || !errors.Is(err, syssetting.ErrPermissionDenied) {
		t.Errorf("expected denied write, got %v, %v", mapped, err)
	}
}

func TestNewValidatesMapping(t *testing.T) {
	bad := []Mapping{
		{Faders: map[uint8]bridge.Kind{1: bridge.KindWifi}},
		{Pads: map[uint8]bridge.Kind{60: bridge.KindAirplane}},
		{Faders: map[uint8]bridge.Kind{200: bridge.KindVolume}},
	}
	for _, m := range bad {
		if _, err := New(&fakeTarget{}, WithMapping(m)); err == nil {
			t.Errorf("expected %+v to be rejected", m)
		}
	}
	if _, err := New(&fakeTarget{}, WithChannel(16)); err == nil {
		t.Error("expected channel 16 to be rejected")
	}
	if _, err := New(nil); err == nil {
		t.Error("expected nil target to be rejected")
	}
}

func TestSurfaceDrivesController(t *testing.T) {
	ctx := context.Background()
	dev := simulated.New(simulated.WithWritePermission(true))
	c, err := syssetting.New(dev, syssetting.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.CheckPermission(ctx); err != nil {
		t.Fatal(err)
	}

	s, err := New(c)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.HandleMessage(ctx, midi.ControlChange(0, 7, 127)); err != nil {
		t.Fatalf("fader: %v", err)
	}
	if _, err := s.HandleMessage(ctx, midi.NoteOn(0, 61, 90)); err != nil {
		t.Fatalf("pad: %v", err)
	}

	if v, _ := dev.Levels(); v != 1 {
		t.Errorf("expected device volume 1, got %v", v)
	}
	if !dev.Enabled(bridge.KindBluetooth) {
		t.Error("expected bluetooth enabled")
	}
	if on, _ := c.Value(bridge.KindBluetooth).Bool(); !on {
		t.Error("controller should record bluetooth on")
	}
}
