// Package notify provides fire-and-forget delivery of conflict alerts.
// The persistence path must never wait on, or fail because of, a
// notification, so dispatch is a non-blocking send to a buffered channel
// consumed by an independent worker.
package notify

import (
	"sync"

	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/models"
)

// Sink delivers a notification to the host's channel (push, email, ...).
// Implementations may fail; the dispatcher only logs those failures.
type Sink interface {
	Send(n models.Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n models.Notification) error

func (f SinkFunc) Send(n models.Notification) error {
	return f(n)
}

// LogSink is a Sink that only logs. Used when no host channel is wired.
type LogSink struct{}

func (LogSink) Send(n models.Notification) error {
	logging.Info("Notification", map[string]interface{}{
		"title": n.Title,
		"tag":   n.Tag,
		"data":  n.Data,
	})
	return nil
}

// Dispatcher feeds notifications to a Sink from a background worker.
type Dispatcher struct {
	sink      Sink
	ch        chan models.Notification
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewDispatcher creates a Dispatcher with the given buffer capacity.
func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Dispatcher{
		sink:   sink,
		ch:     make(chan models.Notification, bufferSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return
	}
	d.isRunning = true

	d.wg.Add(1)
	go d.run()
}

// Stop stops the worker after delivering what is already buffered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return
	}
	d.isRunning = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

// Dispatch hands a notification to the worker. It never blocks: when the
// buffer is full the notification is dropped with a log line. Conflict
// persistence already succeeded by the time this is called.
func (d *Dispatcher) Dispatch(n models.Notification) {
	select {
	case d.ch <- n:
	default:
		logging.Warn("Notification dropped, dispatch buffer full",
			map[string]interface{}{
				"tag":         n.Tag,
				"conflict_id": n.Data.ConflictID,
			})
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case n := <-d.ch:
			d.deliver(n)
		case <-d.stopCh:
			// Drain what was buffered before the stop.
			for {
				select {
				case n := <-d.ch:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n models.Notification) {
	if err := d.sink.Send(n); err != nil {
		logging.Error("Notification delivery failed", err,
			map[string]interface{}{
				"tag":         n.Tag,
				"conflict_id": n.Data.ConflictID,
			})
	}
}
