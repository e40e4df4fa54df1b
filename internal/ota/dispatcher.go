package ota

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/logging"
)

// FeedbackHandler consumes decoded device feedback. *Engine implements it.
type FeedbackHandler interface {
	HandleFeedback(deviceID, code string) error
}

// Dispatcher routes raw bus messages to a FeedbackHandler.
type Dispatcher struct {
	pattern *regexp.Regexp
	handler FeedbackHandler
}

// NewDispatcher creates a dispatcher for topics of the form
// "<feedbackPrefix>/<deviceID>".
func NewDispatcher(feedbackPrefix string, handler FeedbackHandler) *Dispatcher {
	if feedbackPrefix == "" {
		feedbackPrefix = DefaultFeedbackPrefix
	}
	return &Dispatcher{
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(feedbackPrefix) + `/(.+)$`),
		handler: handler,
	}
}

// SubscriptionFilter returns the MQTT wildcard filter covering every
// feedback topic for prefix.
func SubscriptionFilter(feedbackPrefix string) string {
	if feedbackPrefix == "" {
		feedbackPrefix = DefaultFeedbackPrefix
	}
	return feedbackPrefix + "/#"
}

// DeviceID extracts the device identifier from a feedback topic.
func (d *Dispatcher) DeviceID(topic string) (string, bool) {
	matches := d.pattern.FindStringSubmatch(topic)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// Dispatch handles one inbound message. Topics outside the feedback
// namespace are dropped without error. Errors from the handler are logged
// and returned; they never affect later messages.
func (d *Dispatcher) Dispatch(topic string, payload []byte) error {
	deviceID, ok := d.DeviceID(topic)
	if !ok {
		logging.Debug("Ignoring message on unrelated topic", zap.String("topic", topic))
		return nil
	}

	code := strings.ToValidUTF8(string(payload), "\uFFFD")

	if err := d.handler.HandleFeedback(deviceID, code); err != nil {
		logging.Error("Failed to handle feedback",
			zap.String("device_id", deviceID),
			zap.String("feedback", code),
			zap.Error(err),
		)
		return err
	}
	return nil
}
