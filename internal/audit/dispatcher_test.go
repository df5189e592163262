package audit

import (
	"context"
	"strings"
	"sync"
	"testing"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memorySink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *memorySink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for _, action := range []string{"login", "logout", "register"} {
		d.Emit(context.Background(), Event{Action: action})
	}
	d.Close()

	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("sink received %d events, want 3: %+v", len(got), got)
	}
	for i, action := range []string{"login", "logout", "register"} {
		if got[i].Action != action {
			t.Fatalf("event %d = %q, want %q", i, got[i].Action, action)
		}
	}
	if d.Dropped() != 0 {
		t.Fatalf("Dropped = %d, want 0", d.Dropped())
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &memorySink{})
	if d != nil {
		t.Fatal("disabled dispatcher must be nil")
	}

	// All methods are safe on the nil dispatcher.
	d.Emit(context.Background(), Event{Action: "login"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("Dropped = %d", d.Dropped())
	}
}

// gateSink blocks its first emission until released, so a test can hold the
// worker mid-delivery and fill the buffer behind it.
type gateSink struct {
	memorySink
	started chan struct{}
	release chan struct{}
}

func (s *gateSink) Emit(ctx context.Context, event Event) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	s.memorySink.Emit(ctx, event)
}

func TestDispatcherReportsDropsOnClose(t *testing.T) {
	sink := &gateSink{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	d.Emit(context.Background(), Event{Action: "first"})
	<-sink.started // worker is now stuck inside the sink, buffer empty

	d.Emit(context.Background(), Event{Action: "second"}) // fills the buffer
	d.Emit(context.Background(), Event{Action: "third"})  // dropped

	if d.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Dropped())
	}

	close(sink.release)
	d.Close()

	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("sink received %d events, want 3: %+v", len(got), got)
	}
	if got[0].Action != "first" || got[1].Action != "second" {
		t.Fatalf("delivered = %q, %q", got[0].Action, got[1].Action)
	}
	last := got[2]
	if last.Action != "audit_dropped" || !strings.HasPrefix(last.Error, "1 ") {
		t.Fatalf("drop report = %+v", last)
	}
}

func TestEmitAfterCloseCountsAsDropped(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	d.Close()

	d.Emit(context.Background(), Event{Action: "late"})
	if d.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Dropped())
	}
}
