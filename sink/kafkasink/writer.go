package kafkasink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/alepar/co2watcher/co2mon"
	"github.com/alepar/co2watcher/sink"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer appends each reading to a Kafka topic, keyed by monitor name.
type Writer struct {
	name   string
	topic  string
	format sink.Format
	w      messageWriter
}

func New(name string, brokers []string, topic string) *Writer {
	return &Writer{
		name:   name,
		topic:  topic,
		format: sink.QueryFormat,
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (k *Writer) Name() string {
	return "kafka:" + k.topic
}

func (k *Writer) Publish(ctx context.Context, r co2mon.Reading) error {
	msg, err := k.message(r)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "kafka write to %s failed", k.topic)
	}
	return nil
}

func (k *Writer) message(r co2mon.Reading) (kafka.Message, error) {
	b, err := json.Marshal(k.format.Message(r))
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshal failed")
	}
	return kafka.Message{Key: []byte(k.name), Value: b, Time: r.Timestamp}, nil
}

func (k *Writer) Close() error {
	return k.w.Close()
}
