package ota

import (
	"bytes"
	"context"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

func newWatchedEngine(t *testing.T, pub *recordingPublisher, events *[]Event) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := NewEngine(buildTable(t, 600, 200), pub,
		WithClock(clock.Now),
		WithObserver(func(ev Event) { *events = append(*events, ev) }),
	)
	return e, clock
}

func TestWatchdog_RetriesLastChunk(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, 10*time.Second, 2)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK)
	sent := len(pub.all())

	w.Check(clock.Advance(5 * time.Second))
	if len(pub.all()) != sent {
		t.Fatal("watchdog should not retry before the timeout")
	}

	w.Check(clock.Advance(6 * time.Second))
	msgs := pub.all()
	if len(msgs) != sent+1 {
		t.Fatalf("published %d messages, want %d", len(msgs), sent+1)
	}
	if !bytes.Equal(msgs[len(msgs)-1].Payload, e.Table().Frame(0)) {
		t.Error("retry should re-send chunk 0")
	}

	s, _ := e.Registry().Get("A")
	if s.Retries != 1 || s.NextChunk != 1 {
		t.Errorf("state after retry = %+v, want Retries=1 NextChunk=1", s)
	}
	if events[len(events)-1].Type != EventDeviceRetry {
		t.Errorf("last event = %v, want device_retry", events[len(events)-1].Type)
	}
}

func TestWatchdog_RetriesSizeBeforeFirstChunk(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, time.Second, 1)

	mustHandle(t, e, "A", FeedbackReady)
	w.Check(clock.Advance(2 * time.Second))

	msgs := pub.all()
	if len(msgs) != 2 || !bytes.Equal(msgs[1].Payload, e.Table().SizeMessage()) {
		t.Errorf("retry should re-send the size message, got %d messages", len(msgs))
	}
}

func TestWatchdog_AbandonsAfterBudget(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, time.Second, 2)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackOK, FeedbackOK, FeedbackSuccess)
	mustHandle(t, e, "B", FeedbackReady, FeedbackOK)

	for i := 0; i < 2; i++ {
		w.Check(clock.Advance(2 * time.Second))
	}
	if isDone(e) {
		t.Fatal("engine should not be done while B still has retries")
	}

	w.Check(clock.Advance(2 * time.Second))

	s, _ := e.Registry().Get("B")
	if !s.Abandoned {
		t.Fatal("B should be abandoned after exhausting retries")
	}
	if !isDone(e) {
		t.Fatal("engine should be done once B is abandoned")
	}

	result := e.Result()
	if len(result.Abandoned) != 1 || result.Abandoned[0] != "B" {
		t.Errorf("Result().Abandoned = %v, want [B]", result.Abandoned)
	}
	if e.Registry().AllFinished() {
		t.Error("AllFinished() must stay false with an abandoned device")
	}

	var sawAbandon bool
	for _, ev := range events {
		if ev.Type == EventDeviceAbandoned && ev.DeviceID == "B" {
			sawAbandon = true
		}
	}
	if !sawAbandon {
		t.Error("expected a device_abandoned event for B")
	}
}

func TestWatchdog_FeedbackResetsRetries(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, time.Second, 1)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK)
	w.Check(clock.Advance(2 * time.Second))

	mustHandle(t, e, "A", FeedbackOK)
	s, _ := e.Registry().Get("A")
	if s.Retries != 0 {
		t.Errorf("Retries = %d after feedback, want 0", s.Retries)
	}

	w.Check(clock.Advance(2 * time.Second))
	if s, _ := e.Registry().Get("A"); s.Abandoned {
		t.Error("device should get a fresh retry budget after feedback")
	}
}

func TestWatchdog_IgnoresFinished(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, time.Second, 0)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackOK, FeedbackOK, FeedbackSuccess)
	sent := len(pub.all())

	w.Check(clock.Advance(time.Hour))

	if len(pub.all()) != sent {
		t.Error("finished devices must not be retried")
	}
	if s, _ := e.Registry().Get("A"); s.Abandoned {
		t.Error("finished devices must not be abandoned")
	}
}

func TestWatchdog_RunDisabled(t *testing.T) {
	e := NewEngine(buildTable(t, 10, 5), &recordingPublisher{})
	w := NewWatchdog(e, 0, 3)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() with zero timeout should return immediately")
	}
}

func TestWatchdog_RunStopsOnCancel(t *testing.T) {
	e := NewEngine(buildTable(t, 10, 5), &recordingPublisher{})
	w := NewWatchdog(e, time.Second, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() should return after cancel")
	}
}

func TestWatchdog_RefusedRetryNotCounted(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, time.Second, 1)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK)
	before := len(events)

	pub.mu.Lock()
	pub.failWith = errBrokerDown
	pub.mu.Unlock()

	for i := 0; i < 3; i++ {
		w.Check(clock.Advance(2 * time.Second))
	}

	s, _ := e.Registry().Get("A")
	if s.Retries != 0 || s.Abandoned {
		t.Errorf("state after refused retries = %+v, want Retries=0 and not abandoned", s)
	}
	if len(events) != before {
		t.Errorf("refused retries emitted %d events, want 0", len(events)-before)
	}

	pub.mu.Lock()
	pub.failWith = nil
	pub.mu.Unlock()

	w.Check(clock.Advance(2 * time.Second))
	if s, _ := e.Registry().Get("A"); s.Retries != 1 {
		t.Errorf("Retries = %d once the broker is back, want 1", s.Retries)
	}
}

func TestWatchdog_AwaitingSuccessNotResent(t *testing.T) {
	pub := &recordingPublisher{}
	var events []Event
	e, clock := newWatchedEngine(t, pub, &events)
	w := NewWatchdog(e, time.Second, 1)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackOK, FeedbackOK)
	sent := len(pub.all())

	w.Check(clock.Advance(2 * time.Second))
	if len(pub.all()) != sent {
		t.Fatal("a device holding every chunk must not be re-sent the last frame")
	}
	s, _ := e.Registry().Get("A")
	if s.Retries != 1 {
		t.Errorf("Retries = %d while awaiting success, want 1", s.Retries)
	}

	w.Check(clock.Advance(2 * time.Second))
	if s, _ := e.Registry().Get("A"); !s.Abandoned {
		t.Error("a device that never confirms should be abandoned once retries run out")
	}
	if len(pub.all()) != sent {
		t.Error("abandoning must not publish")
	}
}

func TestLastAction(t *testing.T) {
	tests := []struct {
		name      string
		nextChunk int
		total     int
		want      Action
		wantOK    bool
	}{
		{name: "size before first chunk", nextChunk: 0, total: 3, want: Action{Kind: ActionSendSize}, wantOK: true},
		{name: "empty image", nextChunk: 0, total: 0, want: Action{Kind: ActionSendSize}, wantOK: true},
		{name: "mid transfer", nextChunk: 2, total: 3, want: Action{Kind: ActionSendChunk, Chunk: 1}, wantOK: true},
		{name: "all chunks sent", nextChunk: 3, total: 3, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lastAction(DeviceState{NextChunk: tt.nextChunk}, tt.total)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("lastAction() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
