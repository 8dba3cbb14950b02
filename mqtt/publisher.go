package mqtt

import (
	"encoding/json"

	"go.uber.org/zap"

	"hm-binrpc/codec"
	"hm-binrpc/message"
	"hm-binrpc/server"
)

// Publisher is the part of Client the EventPublisher needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventPublisher is a server.EventListener that forwards callbacks to MQTT.
// Datapoint events go to per-datapoint topics; every other callback is
// published whole as JSON under its method name.
type EventPublisher struct {
	pub    Publisher
	topics Topics
	qos    byte
	json   codec.JSONCodec
	logger *zap.Logger
}

var _ server.EventListener = (*EventPublisher)(nil)

func NewEventPublisher(pub Publisher, topics Topics, qos byte, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{pub: pub, topics: topics, qos: qos, logger: logger}
}

type eventPayload struct {
	InterfaceID string `json:"interface_id"`
	Address     string `json:"address"`
	Datapoint   string `json:"datapoint"`
	Value       any    `json:"value"`
}

func (p *EventPublisher) OnEvent(msg *message.RPCMessage) {
	events := server.ParseEvents(msg)
	if len(events) == 0 {
		p.publishCallback(msg)
		return
	}
	for _, ev := range events {
		payload, err := json.Marshal(eventPayload{
			InterfaceID: ev.InterfaceID,
			Address:     ev.Address,
			Datapoint:   ev.Datapoint,
			Value:       message.ToGo(ev.Value),
		})
		if err != nil {
			p.logger.Warn("Failed to encode event", zap.String("address", ev.Address), zap.Error(err))
			continue
		}
		// state topics are retained so new subscribers see the latest value
		if err := p.pub.Publish(p.topics.Event(ev.Address, ev.Datapoint), payload, p.qos, true); err != nil {
			p.logger.Warn("Failed to publish event",
				zap.String("address", ev.Address),
				zap.String("datapoint", ev.Datapoint),
				zap.Error(err))
		}
	}
}

func (p *EventPublisher) publishCallback(msg *message.RPCMessage) {
	payload, err := p.json.Encode(msg)
	if err != nil {
		p.logger.Warn("Failed to encode callback", zap.String("method", msg.Method), zap.Error(err))
		return
	}
	if err := p.pub.Publish(p.topics.Callback(msg.Method), payload, p.qos, false); err != nil {
		p.logger.Warn("Failed to publish callback", zap.String("method", msg.Method), zap.Error(err))
	}
}
