// Package notify tests for the fire-and-forget dispatcher.
package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kimhsiao/carelog/backend/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collectSink gathers delivered notifications.
type collectSink struct {
	mu   sync.Mutex
	got  []models.Notification
	fail error
}

func (s *collectSink) Send(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, n)
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestDispatcherDelivers verifies notifications reach the sink.
func TestDispatcherDelivers(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(sink, 8)
	d.Start()
	defer d.Stop()

	n := models.NewConflictNotification("conflict-1", models.RecordTypeDoseLog)
	d.Dispatch(n)

	waitFor(t, func() bool { return sink.count() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.got[0].Data.ConflictID != "conflict-1" {
		t.Errorf("conflict id = %q", sink.got[0].Data.ConflictID)
	}
	if sink.got[0].Tag != "sync-conflict" {
		t.Errorf("tag = %q", sink.got[0].Tag)
	}
}

// TestDispatcherNeverBlocks verifies Dispatch returns immediately even when
// the buffer is full and the worker is not draining.
func TestDispatcherNeverBlocks(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(sink, 1)
	// Worker intentionally not started: the buffer fills after one send.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Dispatch(models.NewConflictNotification("c", models.RecordTypeDoseLog))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full buffer")
	}
}

// TestDispatcherSwallowsSinkErrors verifies a failing sink affects nothing.
func TestDispatcherSwallowsSinkErrors(t *testing.T) {
	sink := &collectSink{fail: errors.New("push gateway down")}
	d := NewDispatcher(sink, 8)
	d.Start()

	d.Dispatch(models.NewConflictNotification("c1", models.RecordTypeDoseLog))
	d.Stop() // must return cleanly despite the failing sink

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()
}

// TestDispatcherStopDrains verifies buffered notifications are delivered
// before the worker exits.
func TestDispatcherStopDrains(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(sink, 16)

	for i := 0; i < 5; i++ {
		d.Dispatch(models.NewConflictNotification("c", models.RecordTypeDoseLog))
	}

	d.Start()
	d.Stop()

	if got := sink.count(); got != 5 {
		t.Errorf("delivered %d notifications, want 5", got)
	}
}

// TestDispatcherStopIdempotent verifies repeated Stop calls are safe.
func TestDispatcherStopIdempotent(t *testing.T) {
	d := NewDispatcher(&collectSink{}, 4)
	d.Start()
	d.Stop()
	d.Stop()
}
