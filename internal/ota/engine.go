package ota

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/firmware"
	"github.com/muurk/bulkota/internal/logging"
)

const (
	// DefaultTopicPrefix prefixes the per-device outbound topic.
	DefaultTopicPrefix = "ota"

	// DefaultFeedbackPrefix prefixes the per-device feedback topic.
	DefaultFeedbackPrefix = "ota/feedback"

	// DefaultQoS is MQTT "at least once".
	DefaultQoS byte = 1
)

// Publisher sends a payload to a topic. Implementations must preserve call
// order per topic and should not block on network round trips.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(topic string, qos byte, payload []byte) error

// Publish calls f.
func (f PublisherFunc) Publish(topic string, qos byte, payload []byte) error {
	return f(topic, qos, payload)
}

type engineConfig struct {
	topicPrefix string
	qos         byte
	observers   []Observer
	registry    *Registry
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithTopicPrefix sets the outbound topic prefix (default "ota").
func WithTopicPrefix(prefix string) Option {
	return func(c *engineConfig) {
		if prefix != "" {
			c.topicPrefix = prefix
		}
	}
}

// WithQoS sets the delivery level for every publish.
func WithQoS(qos byte) Option {
	return func(c *engineConfig) {
		if qos <= 2 {
			c.qos = qos
		}
	}
}

// WithObserver registers a callback for transfer events. May be given more
// than once.
func WithObserver(obs Observer) Option {
	return func(c *engineConfig) {
		if obs != nil {
			c.observers = append(c.observers, obs)
		}
	}
}

// WithRegistry makes the engine record state in r, so readers such as the
// status server can share it.
func WithRegistry(r *Registry) Option {
	return func(c *engineConfig) {
		c.registry = r
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		c.now = now
	}
}

// Engine runs the transfer state machine for every device against one
// firmware chunk table.
type Engine struct {
	mu        sync.Mutex
	table     *firmware.Table
	publisher Publisher
	registry  *Registry
	monitor   *Monitor
	config    engineConfig
}

// NewEngine creates an engine that streams table through publisher.
func NewEngine(table *firmware.Table, publisher Publisher, opts ...Option) *Engine {
	if table == nil {
		panic("chunk table cannot be nil")
	}
	if publisher == nil {
		panic("publisher cannot be nil")
	}

	cfg := engineConfig{
		topicPrefix: DefaultTopicPrefix,
		qos:         DefaultQoS,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}

	return &Engine{
		table:     table,
		publisher: publisher,
		registry:  cfg.registry,
		monitor:   NewMonitor(),
		config:    cfg,
	}
}

// Registry returns the engine's device registry. Callers must treat it as
// read-only.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Table returns the chunk table being streamed.
func (e *Engine) Table() *firmware.Table {
	return e.table
}

// Done is closed once every known device has finished or been abandoned.
func (e *Engine) Done() <-chan struct{} {
	return e.monitor.Done()
}

// Result returns the run outcome recorded when Done was closed.
func (e *Engine) Result() Result {
	return e.monitor.Result()
}

// DeviceTopic returns the outbound topic for a device.
func (e *Engine) DeviceTopic(deviceID string) string {
	return e.config.topicPrefix + "/" + deviceID
}

// HandleFeedback applies one feedback code from a device. Feedback for a
// device is applied strictly in call order.
func (e *Engine) HandleFeedback(deviceID, code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var current *DeviceState
	chunk := -1
	if s, ok := e.registry.Get(deviceID); ok {
		current = &s
		chunk = s.NextChunk
	}

	logging.LogFeedback(deviceID, code, chunk, e.table.Len())

	tr, err := Step(current, deviceID, code, e.table.Len())
	if err != nil {
		return err
	}

	for _, action := range tr.Actions {
		if err := e.perform(deviceID, action); err != nil {
			return err
		}
	}

	now := e.config.now()
	if err := e.commit(deviceID, tr, now); err != nil {
		return err
	}

	e.emitTransition(deviceID, code, tr, now)

	if tr.Finished {
		e.evaluate(now)
	}
	return nil
}

// commit stores the outcome of a transition whose actions were accepted by
// the publisher. Must be called with e.mu held.
func (e *Engine) commit(deviceID string, tr Transition, now time.Time) error {
	next := tr.Next
	if tr.Registered {
		e.registry.GetOrCreate(deviceID)
		next.FirstSeen = now
	}

	// Any feedback proves the device is alive.
	next.LastActivity = now
	next.Retries = 0
	next.Abandoned = false
	e.registry.Put(next)

	if tr.Finished {
		return e.registry.MarkFinished(deviceID)
	}
	return nil
}

func (e *Engine) perform(deviceID string, action Action) error {
	topic := e.DeviceTopic(deviceID)

	var payload []byte
	kind := "size"
	switch action.Kind {
	case ActionSendSize:
		payload = e.table.SizeMessage()
	case ActionSendChunk:
		payload = e.table.Frame(action.Chunk)
		kind = "chunk"
	}

	if err := e.publisher.Publish(topic, e.config.qos, payload); err != nil {
		return &PublishError{DeviceID: deviceID, Topic: topic, Err: err}
	}

	logging.LogPublish(deviceID, topic, kind, action.Chunk, len(payload))
	logging.LogRawBytes(kind+" frame", payload)
	return nil
}

func (e *Engine) emitTransition(deviceID, code string, tr Transition, now time.Time) {
	total := e.table.Len()

	if code == FeedbackReady {
		logging.Info("Device ready",
			zap.String("device_id", deviceID),
			zap.Bool("new", tr.Registered),
			zap.Int("image_size", e.table.ImageSize),
			zap.Int("total_chunks", total),
		)
		e.emit(Event{Type: EventDeviceReady, DeviceID: deviceID, TotalChunks: total, Time: now})
	}

	for _, action := range tr.Actions {
		if action.Kind == ActionSendChunk {
			e.emit(Event{Type: EventChunkSent, DeviceID: deviceID, Chunk: action.Chunk, TotalChunks: total, Time: now})
		}
	}

	if tr.Finished {
		logging.Info("Device finished", zap.String("device_id", deviceID))
		e.emit(Event{Type: EventDeviceFinished, DeviceID: deviceID, Chunk: tr.Next.NextChunk, TotalChunks: total, Time: now})
	}

	if tr.Reported {
		logging.Warn("Device reported error",
			zap.String("device_id", deviceID),
			zap.String("feedback", tr.Report),
			zap.Int("chunk", tr.Next.NextChunk),
			zap.Int("total_chunks", total),
		)
		e.emit(Event{
			Type:        EventDeviceError,
			DeviceID:    deviceID,
			Chunk:       tr.Next.NextChunk,
			TotalChunks: total,
			Message:     tr.Report,
			Time:        now,
		})
	}
}

// evaluate must be called with e.mu held.
func (e *Engine) evaluate(now time.Time) {
	if !e.monitor.Evaluate(e.registry) {
		return
	}

	result := e.monitor.Result()
	logging.Info("All devices settled",
		zap.Strings("finished", result.Finished),
		zap.Strings("abandoned", result.Abandoned),
	)
	e.emit(Event{Type: EventAllFinished, TotalChunks: e.table.Len(), Time: now})
}

func (e *Engine) emit(ev Event) {
	for _, obs := range e.config.observers {
		obs(ev)
	}
}
