// utils/kafka.go
package utils

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter returns an async writer for topic. Messages with the same
// key land on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    10,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}
