package messaging

import (
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
)

// MessageIDHeader carries the notification id so consumers can tag spans and
// deduplicate without decoding the payload.
const MessageIDHeader = "message-id"

var _ propagation.TextMapCarrier = (*MessageCarrier)(nil)

// MessageCarrier reads and writes Kafka headers in place. It serves as the
// OTel propagation carrier and for the message id header.
type MessageCarrier struct {
	msg *kafka.Message
}

func NewMessageCarrier(msg *kafka.Message) *MessageCarrier {
	return &MessageCarrier{msg: msg}
}

// Get returns the first header named key.
func (c *MessageCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces the header named key, appending it when absent. Empty values
// are not written.
func (c *MessageCarrier) Set(key, value string) {
	if value == "" {
		return
	}
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *MessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
