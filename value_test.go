package syssetting

import (
	"encoding/json"
	"testing"

	"github.com/shaban/syssetting/bridge"
)

func TestValueUnknownIsDistinctFromZero(t *testing.T) {
	var unknown Value
	if unknown.Known() {
		t.Fatal("zero Value must be unknown")
	}
	if unknown == Fractional(0) || unknown == Boolean(false) || unknown == Mode(0) {
		t.Fatal("unknown must differ from known zero values")
	}
	if _, ok := unknown.Fraction(); ok {
		t.Error("unknown has no fraction")
	}
	if _, ok := unknown.Bool(); ok {
		t.Error("unknown has no flag")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Value{}, "unknown"},
		{Fractional(0), "0%"},
		{Fractional(0.426), "43%"},
		{Fractional(1), "100%"},
		{Boolean(true), "On"},
		{Boolean(false), "Off"},
		{Mode(3), "3"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFractionalClamps(t *testing.T) {
	if f, _ := Fractional(1.2).Fraction(); f != 1 {
		t.Errorf("expected clamp to 1, got %v", f)
	}
	if f, _ := Fractional(-0.5).Fraction(); f != 0 {
		t.Errorf("expected clamp to 0, got %v", f)
	}
}

func TestSnapshotJSON(t *testing.T) {
	snap := Snapshot{
		Volume:       Fractional(0.5),
		Wifi:         Boolean(true),
		LocationMode: Mode(2),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["volume"] != 0.5 {
		t.Errorf("volume: got %v", decoded["volume"])
	}
	if decoded["wifi"] != true {
		t.Errorf("wifi: got %v", decoded["wifi"])
	}
	if decoded["location_mode"] != float64(2) {
		t.Errorf("location_mode: got %v", decoded["location_mode"])
	}
	if v, ok := decoded["brightness"]; !ok || v != nil {
		t.Errorf("unknown brightness should encode as null, got %v", v)
	}
}

func TestSnapshotGetSet(t *testing.T) {
	var snap Snapshot
	for i, k := range bridge.AllKinds {
		snap.set(k, Mode(i))
	}
	for i, k := range bridge.AllKinds {
		if got := snap.Get(k); got != Mode(i) {
			t.Errorf("%v: expected %v, got %v", k, Mode(i), got)
		}
	}
	if snap.Get(bridge.KindUnknown).Known() {
		t.Error("unknown kind must yield an unknown value")
	}
}
