package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	k "github.com/segmentio/kafka-go"
)

// KafkaSink 把变更导出到 topic，以聊天 id 作为 key，同一聊天的事件落在同一分区。
type KafkaSink struct {
	w *k.Writer
}

func NewKafkaSink(brokers, topic string) *KafkaSink {
	w := &k.Writer{
		Addr:         k.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &k.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: k.RequireOne,
		Async:        true,
		Completion: func(messages []k.Message, err error) {
			if err != nil {
				log.Error().Err(err).Int("count", len(messages)).Msg("kafka export changes")
			}
		},
	}
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Publish(c Change) {
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	key := c.ChatID
	if key == "" {
		key = c.RowID
	}
	if err := s.w.WriteMessages(context.Background(), k.Message{Key: []byte(key), Value: b, Time: c.At}); err != nil {
		log.Error().Err(err).Str("table", string(c.Table)).Msg("kafka write change")
	}
}

func (s *KafkaSink) Close() error { return s.w.Close() }
