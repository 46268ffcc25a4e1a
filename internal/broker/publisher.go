package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nsqio/go-nsq"
	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// producer is the part of *nsq.Producer the publisher uses
type producer interface {
	Publish(topic string, body []byte) error
	Stop()
}

// Message is the body published for each delivered transmission
type Message struct {
	Type      scanner.EventType   `json:"type"`
	Timestamp int64               `json:"timestamp"` // unix millis
	Record    scanner.AudioRecord `json:"record"`
}

// Publisher forwards new_transmission events to an NSQ topic
type Publisher struct {
	producer producer
	topic    string
	logger   *logger.Logger
}

// NewPublisher connects a producer to nsqd at addr
func NewPublisher(addr, topic string, log *logger.Logger) (*Publisher, error) {
	if topic == "" {
		return nil, fmt.Errorf("nsq topic is required")
	}

	cfg := nsq.NewConfig()
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}

	named := log.Named("nsq-pub")
	p.SetLogger(nsqLogger{named}, nsq.LogLevelWarning)

	return newPublisher(p, topic, named), nil
}

func newPublisher(p producer, topic string, log *logger.Logger) *Publisher {
	return &Publisher{
		producer: p,
		topic:    topic,
		logger:   log,
	}
}

// Notify implements scanner.Listener. Lifecycle events are not published.
func (p *Publisher) Notify(event scanner.Event) error {
	if event.Type != scanner.EventNewTransmission {
		return nil
	}

	rec, ok := event.Data.(scanner.AudioRecord)
	if !ok {
		return fmt.Errorf("unexpected new_transmission payload %T", event.Data)
	}

	body, err := json.Marshal(Message{
		Type:      event.Type,
		Timestamp: event.Timestamp.UnixMilli(),
		Record:    rec,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal nsq message: %w", err)
	}

	if err := p.producer.Publish(p.topic, body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published transmission",
		logger.Int64("id", rec.ID),
		logger.String("topic", p.topic),
	)
	return nil
}

// Close stops the producer
func (p *Publisher) Close() {
	if p.producer != nil {
		p.producer.Stop()
	}
}

// nsqLogger routes go-nsq's internal log lines into zap
type nsqLogger struct {
	logger *logger.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	l.logger.Warn(strings.TrimSpace(s))
	return nil
}
