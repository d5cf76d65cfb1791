package kafka

import (
	"errors"
	"fmt"

	"CragProject/logger"

	"github.com/Shopify/sarama"
)

// EnsureTopics creates missing topics and grows partitions up to
// c.PartitionsPerTopic. Kafka cannot shrink partitions, so fewer is left alone.
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c AppConfig) error {
	minISR := "1"
	if c.ReplicationFactor >= 3 {
		minISR = "2"
	}
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     c.PartitionsPerTopic,
				ReplicationFactor: c.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) ||
					errors.Is(err, sarama.ErrTopicAlreadyExists) {
					logger.Infof("[Topic] exists (race): %s", t)
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			logger.Infof("[Topic] created: %s (partitions=%d, rf=%d)", t, c.PartitionsPerTopic, c.ReplicationFactor)
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if c.PartitionsPerTopic > cur {
			if err := admin.CreatePartitions(t, c.PartitionsPerTopic, nil, false); err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, cur, c.PartitionsPerTopic, err)
			}
			logger.Infof("[Topic] partitions expanded: %s (%d -> %d)", t, cur, c.PartitionsPerTopic)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
