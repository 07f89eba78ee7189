package syssetting

import (
	"fmt"
	"sync"
	"time"
)

// operation is a unit of work applied on the dispatcher goroutine.
type operation struct {
	name     string
	apply    func()
	response chan struct{}
}

// dispatcher serializes every mutation of session state onto one goroutine.
// Bridge completions and change notifications arrive on arbitrary goroutines
// and are posted here, so the snapshot and the listener registry only ever
// change in one place and in arrival order.
type dispatcher struct {
	mu         sync.RWMutex
	isRunning  bool
	operations chan operation
	stopChan   chan struct{}
	done       chan struct{}

	errorHandler ErrorHandler

	// Performance tracking
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
	slowThreshold         time.Duration
	operationCount        int64
}

func newDispatcher(errorHandler ErrorHandler, slowThreshold time.Duration) *dispatcher {
	return &dispatcher{
		operations:    make(chan operation, 64),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		errorHandler:  errorHandler,
		slowThreshold: slowThreshold,
	}
}

// Start begins the dispatch loop
func (d *dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}
	select {
	case <-d.stopChan:
		return fmt.Errorf("dispatcher cannot be restarted: %w", ErrClosed)
	default:
	}

	d.isRunning = true
	go d.dispatchLoop()

	return nil
}

// Stop halts the loop and waits for the operation in progress to finish.
// Queued operations that have not started are dropped.
func (d *dispatcher) Stop() error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	close(d.stopChan)
	d.isRunning = false
	d.mu.Unlock()

	<-d.done
	return nil
}

// IsRunning returns whether the dispatcher is active
func (d *dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns dispatcher performance statistics
func (d *dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration, count int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration, d.operationCount
}

func (d *dispatcher) dispatchLoop() {
	defer close(d.done)
	for {
		select {
		case <-d.stopChan:
			return
		case op := <-d.operations:
			start := time.Now()
			op.apply()
			duration := time.Since(start)

			d.mu.Lock()
			d.lastOperationDuration = duration
			d.operationCount++
			if duration > d.maxOperationDuration {
				d.maxOperationDuration = duration
			}
			d.mu.Unlock()

			if d.slowThreshold > 0 && duration > d.slowThreshold {
				d.errorHandler.HandleError(
					fmt.Errorf("%s took %v, target is under %v", op.name, duration, d.slowThreshold))
			}

			if op.response != nil {
				close(op.response)
			}
		}
	}
}

// post queues fn without waiting for it. It reports false once the
// dispatcher has stopped.
func (d *dispatcher) post(name string, fn func()) bool {
	select {
	case <-d.stopChan:
		return false
	default:
	}
	select {
	case d.operations <- operation{name: name, apply: fn}:
		return true
	case <-d.stopChan:
		return false
	}
}

// do queues fn and waits until it has been applied.
func (d *dispatcher) do(name string, fn func()) error {
	response := make(chan struct{})
	select {
	case <-d.stopChan:
		return ErrClosed
	default:
	}
	select {
	case d.operations <- operation{name: name, apply: fn, response: response}:
	case <-d.stopChan:
		return ErrClosed
	}
	select {
	case <-response:
		return nil
	case <-d.stopChan:
		// The loop finishes the operation in progress before exiting.
		<-d.done
		select {
		case <-response:
			return nil
		default:
			return ErrClosed
		}
	}
}
