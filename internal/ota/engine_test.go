package ota

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/muurk/bulkota/internal/firmware"
)

func TestEngine_ReadyPublishesSize(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEngine(buildTable(t, 600, 200), pub)

	if _, ok := e.Registry().Get("A"); ok {
		t.Fatal("fresh engine should not know device A")
	}

	mustHandle(t, e, "A", FeedbackReady)

	s, ok := e.Registry().Get("A")
	if !ok {
		t.Fatal("device A should be registered after ready")
	}
	if s.NextChunk != 0 || s.Finished {
		t.Errorf("state after ready = %+v, want NextChunk=0 Finished=false", s)
	}

	msgs := pub.all()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].Topic != "ota/A" {
		t.Errorf("topic = %q, want ota/A", msgs[0].Topic)
	}
	if msgs[0].QoS != DefaultQoS {
		t.Errorf("qos = %d, want %d", msgs[0].QoS, DefaultQoS)
	}
	if got := binary.BigEndian.Uint32(msgs[0].Payload); got != 600 || len(msgs[0].Payload) != 4 {
		t.Errorf("size message = %x, want 4-byte 600", msgs[0].Payload)
	}
}

func TestEngine_StreamsChunksInOrder(t *testing.T) {
	table := buildTable(t, 600, 200)
	pub := &recordingPublisher{}
	e := NewEngine(table, pub)

	mustHandle(t, e, "A", FeedbackReady)
	for k := 1; k <= 5; k++ {
		mustHandle(t, e, "A", FeedbackOK)

		s, _ := e.Registry().Get("A")
		if want := min(k, table.Len()); s.NextChunk != want {
			t.Errorf("after %d oks NextChunk = %d, want %d", k, s.NextChunk, want)
		}
	}

	msgs := pub.all()
	if len(msgs) != 1+table.Len() {
		t.Fatalf("published %d messages, want %d", len(msgs), 1+table.Len())
	}
	for i := 0; i < table.Len(); i++ {
		if !bytes.Equal(msgs[i+1].Payload, table.Frame(i)) {
			t.Errorf("message %d is not chunk %d", i+1, i)
		}
	}
}

func TestEngine_SuccessIsSticky(t *testing.T) {
	e := NewEngine(buildTable(t, 600, 200), &recordingPublisher{})

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackOK, FeedbackOK, FeedbackSuccess)
	mustHandle(t, e, "A", FeedbackOK, "late error", FeedbackReady, FeedbackSuccess)

	s, _ := e.Registry().Get("A")
	if !s.Finished {
		t.Error("device should stay finished regardless of later feedback")
	}
}

func TestEngine_TwoDevices(t *testing.T) {
	e := NewEngine(buildTable(t, 600, 200), &recordingPublisher{})

	mustHandle(t, e, "B", FeedbackReady, FeedbackOK)
	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackOK, FeedbackOK, FeedbackSuccess)

	if e.Registry().AllFinished() {
		t.Error("AllFinished() should be false while B is mid-transfer")
	}
	if isDone(e) {
		t.Error("Done should not be closed while B is mid-transfer")
	}

	mustHandle(t, e, "B", FeedbackOK, FeedbackOK, FeedbackSuccess)

	if !e.Registry().AllFinished() {
		t.Error("AllFinished() should be true once B finishes")
	}
	if !isDone(e) {
		t.Fatal("Done should be closed once every device finished")
	}

	result := e.Result()
	if len(result.Finished) != 2 || len(result.Abandoned) != 0 || !result.OK() {
		t.Errorf("Result() = %+v, want A and B finished", result)
	}
}

func TestEngine_OKWithoutReady(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEngine(buildTable(t, 600, 200), pub)

	err := e.HandleFeedback("ghost", FeedbackOK)

	var stateErr *InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("HandleFeedback() error = %v, want *InvalidStateError", err)
	}
	if stateErr.DeviceID != "ghost" || stateErr.Code != FeedbackOK {
		t.Errorf("error = %+v", stateErr)
	}
	if e.Registry().Len() != 0 {
		t.Error("rejected feedback must not create a registry entry")
	}
	if len(pub.all()) != 0 {
		t.Error("rejected feedback must not publish")
	}

	// The engine keeps working afterwards.
	mustHandle(t, e, "A", FeedbackReady)
}

func TestEngine_ErrorReport(t *testing.T) {
	tests := []struct {
		name     string
		feedback string
	}{
		{name: "text", feedback: "flash write failed"},
		{name: "empty payload", feedback: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []Event
			e := NewEngine(buildTable(t, 600, 200), &recordingPublisher{},
				WithObserver(func(ev Event) { events = append(events, ev) }),
			)

			mustHandle(t, e, "A", FeedbackReady, FeedbackOK)
			before := len(events)
			mustHandle(t, e, "A", tt.feedback)

			s, _ := e.Registry().Get("A")
			if s.NextChunk != 1 || s.Finished {
				t.Errorf("error report changed state: %+v", s)
			}

			if len(events) != before+1 {
				t.Fatalf("error report emitted %d events, want 1", len(events)-before)
			}
			last := events[len(events)-1]
			if last.Type != EventDeviceError || last.Message != tt.feedback || last.Chunk != 1 {
				t.Errorf("last event = %+v, want device_error %q at chunk 1", last, tt.feedback)
			}
		})
	}
}

func TestEngine_PublishFailureKeepsState(t *testing.T) {
	pub := &recordingPublisher{}
	e := NewEngine(buildTable(t, 600, 200), pub)
	mustHandle(t, e, "A", FeedbackReady)

	pub.failWith = errBrokerDown
	err := e.HandleFeedback("A", FeedbackOK)

	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("HandleFeedback() error = %v, want *PublishError", err)
	}
	if !errors.Is(err, errBrokerDown) {
		t.Error("PublishError should unwrap to the transport error")
	}
	if pubErr.Topic != "ota/A" {
		t.Errorf("Topic = %q, want ota/A", pubErr.Topic)
	}

	s, _ := e.Registry().Get("A")
	if s.NextChunk != 0 {
		t.Errorf("NextChunk = %d after failed publish, want 0", s.NextChunk)
	}

	pub.failWith = nil
	mustHandle(t, e, "A", FeedbackOK)
	if s, _ := e.Registry().Get("A"); s.NextChunk != 1 {
		t.Errorf("NextChunk = %d after retry, want 1", s.NextChunk)
	}
}

func TestEngine_Options(t *testing.T) {
	pub := &recordingPublisher{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewEngine(buildTable(t, 10, 5), pub,
		WithTopicPrefix("fw/out"),
		WithQoS(2),
		WithClock(func() time.Time { return now }),
	)

	mustHandle(t, e, "dev/7", FeedbackReady)

	msgs := pub.all()
	if msgs[0].Topic != "fw/out/dev/7" || msgs[0].QoS != 2 {
		t.Errorf("published to %q qos %d, want fw/out/dev/7 qos 2", msgs[0].Topic, msgs[0].QoS)
	}

	s, _ := e.Registry().Get("dev/7")
	if !s.FirstSeen.Equal(now) || !s.LastActivity.Equal(now) {
		t.Errorf("timestamps = %v / %v, want %v", s.FirstSeen, s.LastActivity, now)
	}
}

func TestEngine_SharedRegistry(t *testing.T) {
	shared := NewRegistry()
	e := NewEngine(buildTable(t, 10, 5), &recordingPublisher{}, WithRegistry(shared))

	if e.Registry() != shared {
		t.Fatal("Registry() is not the registry passed with WithRegistry")
	}
	mustHandle(t, e, "A", FeedbackReady)
	if _, ok := shared.Get("A"); !ok {
		t.Error("shared registry missing device A")
	}
}

func TestEngine_EventSequence(t *testing.T) {
	var types []EventType
	e := NewEngine(buildTable(t, 400, 200), &recordingPublisher{},
		WithObserver(func(ev Event) { types = append(types, ev.Type) }),
	)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackOK, FeedbackOK, FeedbackSuccess)

	want := []EventType{
		EventDeviceReady,
		EventChunkSent,
		EventChunkSent,
		EventDeviceFinished,
		EventAllFinished,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestEngine_EmptyImage(t *testing.T) {
	table, err := firmware.Build(nil, 200)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	pub := &recordingPublisher{}
	e := NewEngine(table, pub)

	mustHandle(t, e, "A", FeedbackReady, FeedbackOK, FeedbackSuccess)

	if n := len(pub.all()); n != 1 {
		t.Errorf("published %d messages, want only the size message", n)
	}
	if !isDone(e) {
		t.Error("Done should be closed")
	}
}
