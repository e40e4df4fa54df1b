package ota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/logging"
)

const minWatchdogInterval = 100 * time.Millisecond

// Watchdog re-sends the last message to devices that have gone quiet and
// abandons them once the retry budget is spent.
type Watchdog struct {
	engine     *Engine
	timeout    time.Duration
	maxRetries int
}

// NewWatchdog creates a watchdog. A device is considered stalled after
// timeout without feedback; it is re-sent its last message up to maxRetries
// times before being abandoned. A device that has every chunk but has not
// reported "success" gets no re-send; each silent timeout still spends a
// retry. A retry whose publish is refused is not counted.
func NewWatchdog(engine *Engine, timeout time.Duration, maxRetries int) *Watchdog {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Watchdog{
		engine:     engine,
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Run checks for stalled devices until ctx is cancelled. It returns
// immediately if the timeout is not positive.
func (w *Watchdog) Run(ctx context.Context) {
	if w.timeout <= 0 {
		return
	}

	interval := max(w.timeout/4, minWatchdogInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Debug("Watchdog started",
		zap.Duration("timeout", w.timeout),
		zap.Int("max_retries", w.maxRetries),
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}

// Check runs one pass over the registry as of now.
func (w *Watchdog) Check(now time.Time) {
	e := w.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	abandoned := false
	for _, s := range e.registry.Snapshot() {
		if s.Settled() || now.Sub(s.LastActivity) < w.timeout {
			continue
		}

		if s.Retries >= w.maxRetries {
			if err := e.registry.MarkAbandoned(s.DeviceID); err != nil {
				continue
			}
			logging.Warn("Abandoning unresponsive device",
				zap.String("device_id", s.DeviceID),
				zap.Int("chunk", s.NextChunk),
				zap.Int("retries", s.Retries),
			)
			e.emit(Event{
				Type:        EventDeviceAbandoned,
				DeviceID:    s.DeviceID,
				Chunk:       s.NextChunk,
				TotalChunks: e.table.Len(),
				Time:        now,
			})
			abandoned = true
			continue
		}

		if action, ok := lastAction(s, e.table.Len()); ok {
			if err := e.perform(s.DeviceID, action); err != nil {
				// Not counted: the device never got the message.
				logging.Error("Retry publish failed",
					zap.String("device_id", s.DeviceID),
					zap.Error(err),
				)
				continue
			}
		}

		s.Retries++
		s.LastActivity = now
		e.registry.Put(s)

		logging.Info("Retrying stalled device",
			zap.String("device_id", s.DeviceID),
			zap.Int("chunk", s.NextChunk),
			zap.Int("attempt", s.Retries),
			zap.Int("max_retries", w.maxRetries),
		)
		e.emit(Event{
			Type:        EventDeviceRetry,
			DeviceID:    s.DeviceID,
			Chunk:       s.NextChunk,
			TotalChunks: e.table.Len(),
			Time:        now,
		})
	}

	if abandoned {
		e.evaluate(now)
	}
}

// lastAction returns the publish the device is presumably still waiting on.
// ok is false once every chunk has been sent: the device is verifying or
// rebooting and only owes "success", so nothing is re-sent.
func lastAction(s DeviceState, totalChunks int) (action Action, ok bool) {
	switch {
	case s.NextChunk == 0:
		return Action{Kind: ActionSendSize}, true
	case s.NextChunk >= totalChunks:
		return Action{}, false
	default:
		return Action{Kind: ActionSendChunk, Chunk: s.NextChunk - 1}, true
	}
}
