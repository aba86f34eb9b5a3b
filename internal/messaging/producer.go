package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/escrowflow/internal/domain"
)

var producerTracer = otel.Tracer("messaging/producer")

// Producer writes JSON events to Kafka. The topic is chosen per message so
// one writer serves every lifecycle topic.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           100 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
		},
	}
}

func newMessage(topic, key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s event: %w", topic, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}, nil
}

func (p *Producer) Publish(ctx context.Context, topic, key string, event any) error {
	msg, err := newMessage(topic, key, event)
	if err != nil {
		return err
	}
	return p.write(ctx, msg)
}

// Notify publishes a lifecycle notification keyed by order id, so events of
// one order share a partition. Publishing happens after commit, so two
// transactions racing on the same order may still publish out of order;
// consumers rely on the message id, not on arrival order.
func (p *Producer) Notify(ctx context.Context, n domain.Notification) error {
	msg, err := notificationMessage(n)
	if err != nil {
		return err
	}
	return p.write(ctx, msg)
}

func notificationMessage(n domain.Notification) (kafka.Message, error) {
	msg, err := newMessage(n.Topic, n.OrderID, n)
	if err != nil {
		return kafka.Message{}, err
	}
	NewMessageCarrier(&msg).Set(MessageIDHeader, n.ID)
	return msg, nil
}

func (p *Producer) write(ctx context.Context, msg kafka.Message) error {
	ctx, span := producerTracer.Start(ctx, "send "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	carrier := NewMessageCarrier(&msg)
	if id := carrier.Get(MessageIDHeader); id != "" {
		span.SetAttributes(semconv.MessagingMessageID(id))
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
