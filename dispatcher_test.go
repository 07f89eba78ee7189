package syssetting

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaban/syssetting/internal/testutil"
)

func TestDispatcherBasic(t *testing.T) {
	d := newDispatcher(&testutil.ErrorRecorder{}, 0)
	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	if !d.IsRunning() {
		t.Error("Dispatcher should be running")
	}
	if err := d.Start(); err == nil {
		t.Error("second Start should fail")
	}

	applied := false
	if err := d.do("set flag", func() { applied = true }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !applied {
		t.Fatal("operation was not applied before do returned")
	}

	_, _, count := d.GetPerformanceStats()
	if count != 1 {
		t.Errorf("expected 1 operation, got %d", count)
	}

	if err := d.Stop(); err != nil {
		t.Errorf("Failed to stop dispatcher: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op: %v", err)
	}
	if err := d.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("restart should report ErrClosed, got %v", err)
	}
}

func TestDispatcherPreservesPostOrder(t *testing.T) {
	d := newDispatcher(&testutil.ErrorRecorder{}, 0)
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		if !d.post("append", func() { got = append(got, i) }) {
			t.Fatal("post refused on a running dispatcher")
		}
	}
	if err := d.do("barrier", func() {}); err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("operation %d applied out of order: %v", i, v)
		}
	}
	if len(got) != 100 {
		t.Fatalf("expected 100 operations, got %d", len(got))
	}
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := newDispatcher(&testutil.ErrorRecorder{}, 0)
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	if d.post("late", func() { t.Error("late post applied") }) {
		t.Error("post should be refused after Stop")
	}
	if err := d.do("late", func() { t.Error("late do applied") }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcherReportsSlowOperations(t *testing.T) {
	rec := &testutil.ErrorRecorder{}
	d := newDispatcher(rec, time.Millisecond)
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	if err := d.do("slow", func() { time.Sleep(5 * time.Millisecond) }); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, time.Second, func() bool { return rec.Len() == 1 }, "slow operation should be reported")

	_, longest, _ := d.GetPerformanceStats()
	if longest < 5*time.Millisecond {
		t.Errorf("expected max duration >= 5ms, got %v", longest)
	}
}

func TestDispatcherConcurrentPosters(t *testing.T) {
	d := newDispatcher(&testutil.ErrorRecorder{}, 0)
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = d.do("inc", func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var final int
	if err := d.do("read", func() { final = counter }); err != nil {
		t.Fatal(err)
	}
	if final != 400 {
		t.Errorf("expected 400 increments, got %d", final)
	}
}
