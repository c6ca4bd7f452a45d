package notify

import (
	"time"

	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	EventQRCode                = "qr_code"
	EventInstanceConnected     = "instance_connected"
	EventInstanceStatusChanged = "instance_status_changed"
	EventNewTicket             = "new_ticket"
	EventNewMessage            = "new_message"
	EventMessageStatusUpdated  = "message_status_updated"
)

// AllEvents lists every event name published by the session core.
var AllEvents = []string{
	EventQRCode,
	EventInstanceConnected,
	EventInstanceStatusChanged,
	EventNewTicket,
	EventNewMessage,
	EventMessageStatusUpdated,
}

// Publisher is the broadcast sink. Publish must not block on subscribers.
type Publisher interface {
	Publish(event string, payload interface{})
}

// Event is what subscribers receive.
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

// Bus fans events out to asynchronous EventBus subscribers.
type Bus struct {
	bus EventBus.Bus
}

var _ Publisher = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

func (b *Bus) Publish(event string, payload interface{}) {
	b.bus.Publish(event, Event{Name: event, Payload: payload, At: time.Now()})
}

// Subscribe registers fn for one event name. Delivery runs on its own goroutine.
func (b *Bus) Subscribe(event string, fn func(Event)) error {
	return b.bus.SubscribeAsync(event, fn, false)
}

// SubscribeAll registers fn for every event name in AllEvents.
func (b *Bus) SubscribeAll(fn func(Event)) error {
	for _, name := range AllEvents {
		if err := b.Subscribe(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until in-flight asynchronous deliveries complete.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

// LogSubscriber writes every event to the debug log.
func LogSubscriber(e Event) {
	body, err := jsoniter.MarshalToString(e.Payload)
	if err != nil {
		zap.L().Warn("notify: payload encode failed", zap.String("event", e.Name), zap.Error(err))
		return
	}
	zap.L().Debug("notify: event", zap.String("event", e.Name), zap.String("payload", body))
}
