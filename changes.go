package syssetting

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaban/syssetting/bridge"
)

// ChangeSource tells observers what caused a change.
type ChangeSource int

const (
	SourceRefresh ChangeSource = iota
	SourceListener
	SourceWrite
	SourcePermission
)

func (s ChangeSource) String() string {
	switch s {
	case SourceRefresh:
		return "refresh"
	case SourceListener:
		return "listener"
	case SourceWrite:
		return "write"
	case SourcePermission:
		return "permission"
	default:
		return "unknown"
	}
}

// PermissionField is the Change.Field used for the write-settings flag.
const PermissionField = "write-settings"

// Change describes one applied snapshot mutation. For permission changes
// Kind is bridge.KindUnknown and Field is PermissionField.
type Change struct {
	Field  string       `json:"field"`
	Kind   bridge.Kind  `json:"-"`
	Old    Value        `json:"old"`
	New    Value        `json:"new"`
	Source ChangeSource `json:"-"`
	At     time.Time    `json:"at"`
}

// ChangeCallback observes snapshot changes
type ChangeCallback func(Change)

// notifier delivers changes to observers on its own goroutine, in order.
// The queue is unbounded so the dispatcher never waits on an observer, and
// observers may call back into the controller.
type notifier struct {
	mu        sync.Mutex
	pending   []Change
	observers map[int]ChangeCallback
	nextID    int
	wake      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}

	// Set while an observer runs on the loop goroutine.
	delivering atomic.Bool
}

func newNotifier() *notifier {
	n := &notifier{
		observers: make(map[int]ChangeCallback),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go n.loop()
	return n
}

func (n *notifier) subscribe(cb ChangeCallback) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.observers[id] = cb
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.observers, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(c Change) {
	n.mu.Lock()
	if len(n.observers) == 0 {
		n.mu.Unlock()
		return
	}
	n.pending = append(n.pending, c)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) loop() {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			n.flush()
			return
		case <-n.wake:
			n.flush()
		}
	}
}

func (n *notifier) flush() {
	for {
		n.mu.Lock()
		if len(n.pending) == 0 {
			n.mu.Unlock()
			return
		}
		batch := n.pending
		n.pending = nil
		cbs := make([]ChangeCallback, 0, len(n.observers))
		for _, cb := range n.observers {
			cbs = append(cbs, cb)
		}
		n.mu.Unlock()

		n.delivering.Store(true)
		for _, c := range batch {
			for _, cb := range cbs {
				cb(c)
			}
		}
		n.delivering.Store(false)
	}
}

// close delivers what is already queued and stops the loop. While an
// observer is running, which includes an observer closing the controller,
// it returns without waiting; the loop still drains the queue before it
// exits.
func (n *notifier) close() {
	n.stopOnce.Do(func() { close(n.stop) })
	if n.delivering.Load() {
		return
	}
	<-n.done
}
