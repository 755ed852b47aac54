// Package nsq publishes JSON messages to NSQ topics.
package nsq

import (
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
)

// Producer handles publishing messages to NSQ topics.
type Producer struct {
	producer *nsq.Producer
}

// NewProducer connects to the nsqd at address.
func NewProducer(address string, log logrus.FieldLogger) (*Producer, error) {
	config := nsq.NewConfig()
	producer, err := nsq.NewProducer(address, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	producer.SetLogger(&nsqLogger{log: log}, nsq.LogLevelWarning)

	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping NSQ daemon: %w", err)
	}

	return &Producer{producer: producer}, nil
}

// Publish sends message as JSON to topic.
func (p *Producer) Publish(topic string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.producer.Publish(topic, body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Stop gracefully stops the producer.
func (p *Producer) Stop() {
	p.producer.Stop()
}

// nsqLogger routes go-nsq's internal logging through logrus.
type nsqLogger struct {
	log logrus.FieldLogger
}

func (l *nsqLogger) Output(_ int, s string) error {
	l.log.WithField("component", "nsq").Warn(s)
	return nil
}
