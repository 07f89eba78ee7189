package simulated

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaban/syssetting/bridge"
)

func TestBrightnessRequiresPermission(t *testing.T) {
	ctx := context.Background()
	d := New(WithBrightness(0.2))

	ok, err := d.SetBrightnessForce(ctx, 0.9)
	if err != nil {
		t.Fatalf("set brightness: %v", err)
	}
	if ok {
		t.Fatal("expected write to be refused without permission")
	}
	if _, b := d.Levels(); b != 0.2 {
		t.Errorf("brightness changed to %v on a refused write", b)
	}

	d.SetWritePermission(true)
	ok, err = d.SetBrightnessForce(ctx, 0.9)
	if err != nil || !ok {
		t.Fatalf("expected accepted write, got ok=%v err=%v", ok, err)
	}
	if got, _ := d.Brightness(ctx); got != 0.9 {
		t.Errorf("expected brightness 0.9, got %v", got)
	}
}

func TestGrantFlow(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.GrantWriteSettingPermission(ctx); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if granted, _ := d.CheckWriteSettingsPermission(ctx); granted {
		t.Fatal("grant without auto-grant must not change permission")
	}

	d.SetAutoGrant(true)
	if err := d.GrantWriteSettingPermission(ctx); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if granted, _ := d.CheckWriteSettingsPermission(ctx); !granted {
		t.Fatal("expected permission after auto-grant")
	}
	if got := d.Calls().Grant; got != 2 {
		t.Errorf("expected 2 grant calls, got %d", got)
	}
}

func TestToggleNotifiesListeners(t *testing.T) {
	ctx := context.Background()
	d := New(WithEnabled(bridge.KindWifi, false))

	events := make(chan bridge.Event, 1)
	h, err := d.AddListener(bridge.KindWifi, func(ev bridge.Event) { events <- ev })
	if err != nil {
		t.Fatalf("add listener: %v", err)
	}

	sw, err := d.Switch(bridge.KindWifi)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := sw.Toggle(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != bridge.KindWifi || !ev.Enabled {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}

	if err := d.RemoveListener(h); err != nil {
		t.Fatalf("remove listener: %v", err)
	}
	if err := d.RemoveListener(h); !errors.Is(err, bridge.ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle on double remove, got %v", err)
	}
	if d.ActiveListeners() != 0 {
		t.Errorf("expected no active listeners, got %d", d.ActiveListeners())
	}
}

func TestHeldToggleHonoursContext(t *testing.T) {
	d := New()
	d.HoldToggles()
	sw, _ := d.Switch(bridge.KindBluetooth)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sw.Toggle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d.Enabled(bridge.KindBluetooth) {
		t.Fatal("held toggle must not change state")
	}

	done := make(chan error, 1)
	go func() { done <- sw.Toggle(context.Background()) }()
	d.ReleaseToggles()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("toggle: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("toggle was not released")
	}
	if !d.Enabled(bridge.KindBluetooth) {
		t.Fatal("expected bluetooth on after released toggle")
	}
}

func TestSwitchUnsupportedKinds(t *testing.T) {
	d := New()
	for _, k := range []bridge.Kind{bridge.KindVolume, bridge.KindAirplane, bridge.KindLocationMode} {
		if _, err := d.Switch(k); !errors.Is(err, bridge.ErrUnsupportedKind) {
			t.Errorf("%v: expected ErrUnsupportedKind, got %v", k, err)
		}
	}
	if _, err := d.AddListener(bridge.KindBrightness, func(bridge.Event) {}); !errors.Is(err, bridge.ErrUnsupportedKind) {
		t.Errorf("expected ErrUnsupportedKind for brightness listener, got %v", err)
	}
}

func TestFireReleasedReachesOnlyRemovedListeners(t *testing.T) {
	d := New()
	var active, removed int
	if _, err := d.AddVolumeListener(func(bridge.VolumeEvent) { active++ }); err != nil {
		t.Fatal(err)
	}
	h, err := d.AddVolumeListener(func(bridge.VolumeEvent) { removed++ })
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RemoveVolumeListener(h); err != nil {
		t.Fatal(err)
	}

	if n := d.FireReleased(0.1, true); n != 1 {
		t.Fatalf("expected 1 released listener, got %d", n)
	}
	if active != 0 || removed != 1 {
		t.Errorf("expected active=0 removed=1, got active=%d removed=%d", active, removed)
	}
}

func TestFailRead(t *testing.T) {
	ctx := context.Background()
	d := New()
	d.FailRead(bridge.KindWifi, ErrInjected)

	sw, _ := d.Switch(bridge.KindWifi)
	if _, err := sw.Enabled(ctx); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	d.FailRead(bridge.KindWifi, nil)
	if _, err := sw.Enabled(ctx); err != nil {
		t.Fatalf("expected cleared failure, got %v", err)
	}
}
