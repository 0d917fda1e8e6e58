// Package events publishes review audit events to Kafka. Every apply
// emits one event carrying the human-readable change summary so the
// audit trail can be reconstructed without database access.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var jsonMarshal = json.Marshal

type ReviewAction string

const (
	ExtractPreviewed ReviewAction = "extract_previewed"
	ExtractApplied   ReviewAction = "extract_applied"
)

// ReviewEvent is one audit record. Actor is the authenticated caller
// identity; Summary is the rendered change summary.
type ReviewEvent struct {
	Action    ReviewAction `json:"action"`
	CompanyID uuid.UUID    `json:"company_id"`
	Actor     string       `json:"actor"`
	Summary   string       `json:"summary"`
	Timestamp time.Time    `json:"timestamp"`
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers events on a channel and writes them to Kafka from a
// single loop. Publishing never blocks the apply path: when the buffer
// is full the event is dropped with a warning.
type Producer struct {
	writer    KafkaWriter
	events    chan ReviewEvent
	logger    *zap.Logger
	closeChan chan struct{}
}

func NewProducer(brokers []string, logger *zap.Logger, topic string) (*Producer, error) {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	topicConfigs := []kafka.TopicConfig{
		{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		},
	}

	if err := conn.CreateTopics(topicConfigs...); err != nil {
		logger.Warn("failed to create topic (may already exist)", zap.Error(err))
	}

	p := &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
			Topic:    topic,
		},
		events:    make(chan ReviewEvent, 1000),
		logger:    logger.Named("audit_producer"),
		closeChan: make(chan struct{}),
	}

	go p.eventLoop()
	return p, nil
}

// Produce enqueues one audit event.
func (p *Producer) Produce(action ReviewAction, companyID uuid.UUID, actor, summary string) {
	event := ReviewEvent{
		Action:    action,
		CompanyID: companyID,
		Actor:     actor,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
	select {
	case p.events <- event:
	default:
		p.logger.Warn("Audit producer queue full, dropping event",
			zap.String("action", string(action)),
			zap.String("company_id", companyID.String()),
		)
	}
}

func (p *Producer) eventLoop() {
	for {
		select {
		case event := <-p.events:
			p.sendEvent(context.Background(), event)
		case <-p.closeChan:
			return
		}
	}
}

func (p *Producer) sendEvent(ctx context.Context, event ReviewEvent) {
	value, err := jsonMarshal(event)
	if err != nil {
		p.logger.Error("Failed to serialize audit event",
			zap.Error(err),
			zap.String("company_id", event.CompanyID.String()),
		)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CompanyID.String()),
		Value: value,
	})
	if err != nil {
		p.logger.Error("Failed to produce audit event",
			zap.Error(err),
			zap.String("action", string(event.Action)),
			zap.String("company_id", event.CompanyID.String()),
		)
		return
	}
}

func (p *Producer) Close() {
	close(p.closeChan)
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka writer", zap.Error(err))
	}
}
