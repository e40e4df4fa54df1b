package ota

import (
	"errors"
	"sync"
	"testing"

	"github.com/muurk/bulkota/internal/firmware"
)

type published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// recordingPublisher captures every publish and can be told to fail.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	failWith error
}

func (p *recordingPublisher) Publish(topic string, qos byte, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failWith != nil {
		return p.failWith
	}
	p.messages = append(p.messages, published{Topic: topic, QoS: qos, Payload: payload})
	return nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.messages...)
}

var errBrokerDown = errors.New("broker down")

func buildTable(t *testing.T, size, chunkSize int) *firmware.Table {
	t.Helper()
	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i)
	}
	table, err := firmware.Build(image, chunkSize)
	if err != nil {
		t.Fatalf("firmware.Build() error = %v", err)
	}
	return table
}

func mustHandle(t *testing.T, e *Engine, deviceID string, codes ...string) {
	t.Helper()
	for _, code := range codes {
		if err := e.HandleFeedback(deviceID, code); err != nil {
			t.Fatalf("HandleFeedback(%q, %q) error = %v", deviceID, code, err)
		}
	}
}

func isDone(e *Engine) bool {
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}
