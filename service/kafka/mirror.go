package kafka

import (
	"context"

	"CragProject/module/realtime/model"

	"github.com/Shopify/sarama"
)

// Mirror writes persisted realtime events to Kafka keyed by room, so one
// room's events stay ordered within a partition.
type Mirror struct {
	producer sarama.SyncProducer
	topics   []string
}

func NewMirror(p sarama.SyncProducer, c AppConfig) *Mirror {
	return &Mirror{producer: p, topics: GenTopics(c)}
}

func (m *Mirror) Publish(ctx context.Context, ev model.MirrorEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := model.Marshal(ev)
	if err != nil {
		return err
	}
	key := string(ev.RoomKey)
	_, _, err = m.producer.SendMessage(&sarama.ProducerMessage{
		Topic: SelectTopic(key, m.topics),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(ev.Event)},
			{Key: []byte("event-id"), Value: []byte(ev.ID)},
		},
	})
	return err
}

func (m *Mirror) Close() error { return m.producer.Close() }
