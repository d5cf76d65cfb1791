package kafka

import "github.com/Shopify/sarama"

type AppConfig struct {
	Brokers                 []string
	TopicPattern            string // e.g. "crag.events-%02d"; one topic when TopicCount <= 1
	TopicCount              int
	PartitionsPerTopic      int32
	ReplicationFactor       int16
	ProducerRetries         int
	ProducerCompression     string // none/snappy/lz4/zstd
	KafkaVersion            sarama.KafkaVersion
	AutoCreateTopicsOnStart bool
}

// DefaultConfig suits a single local broker.
func DefaultConfig() AppConfig {
	return AppConfig{
		Brokers:                 []string{"127.0.0.1:9092"},
		TopicPattern:            "crag.events-%02d",
		TopicCount:              1,
		PartitionsPerTopic:      8,
		ReplicationFactor:       1,
		ProducerRetries:         5,
		ProducerCompression:     "snappy",
		KafkaVersion:            sarama.V2_1_0_0,
		AutoCreateTopicsOnStart: true,
	}
}
