package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBridge 在多个实例间分发变更。Publish 只写 redis；Run 把频道上收到的全部变更
// （包括本实例自己的）转发到本地总线。
type RedisBridge struct {
	client  *goredis.Client
	channel string
	local   Publisher
}

func NewRedisBridge(ctx context.Context, redisURL, channel string, local Publisher) (*RedisBridge, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis bridge: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis bridge: ping failed: %w", err)
	}
	return &RedisBridge{client: client, channel: channel, local: local}, nil
}

func (r *RedisBridge) Publish(c Change) {
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		log.Error().Err(err).Str("table", string(c.Table)).Msg("redis publish change")
	}
}

// Run 阻塞直到 ctx 结束。
func (r *RedisBridge) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis bridge: subscribe: %w", err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				log.Warn().Err(err).Msg("redis bridge: bad payload")
				continue
			}
			r.local.Publish(c)
		}
	}
}

func (r *RedisBridge) Close() error { return r.client.Close() }
