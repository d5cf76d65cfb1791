package kafka

import (
	"fmt"
	"hash/crc32"
)

// GenTopics expands the pattern into TopicCount topic names.
func GenTopics(c AppConfig) []string {
	if c.TopicCount <= 1 {
		return []string{fmt.Sprintf(c.TopicPattern, 0)}
	}
	out := make([]string, 0, c.TopicCount)
	for i := 0; i < c.TopicCount; i++ {
		out = append(out, fmt.Sprintf(c.TopicPattern, i))
	}
	return out
}

// SelectTopic 同一个房间永远命中同一个 Topic
func SelectTopic(key string, topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(key))
	return topics[int(h%uint32(len(topics)))]
}
