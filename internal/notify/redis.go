package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arch-studio/engine/pkg/logger"
)

const channelPrefix = "arch:run:"

func channelFor(runID string) string { return channelPrefix + runID }

// RedisPublisher publishes events on a per-run Redis channel so every API process can
// forward them to its own listeners.
type RedisPublisher struct {
	rdb redis.UniversalClient
}

var _ Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish reports true when at least one process is subscribed to the run's channel.
// Relays only subscribe while they have local listeners, so this tracks real listeners.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) bool {
	b, err := json.Marshal(e)
	if err != nil {
		logger.From(ctx).Error("encode event failed", zap.String("type", string(e.Type)), zap.Error(err))
		return false
	}
	n, err := p.rdb.Publish(ctx, channelFor(e.RunID), b).Result()
	if err != nil {
		logger.From(ctx).Warn("redis publish failed", zap.String("run_id", e.RunID), zap.Error(err))
		return false
	}
	return n > 0
}

// pubSub is the part of *redis.PubSub the Relay drives.
type pubSub interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

var _ pubSub = (*redis.PubSub)(nil)

// Relay subscribes to Redis channels of the runs that have local listeners and feeds
// what arrives into a Hub.
type Relay struct {
	hub *Hub
	ps  pubSub

	mu sync.Mutex
}

var _ Subscriber = (*Relay)(nil)

func NewRelay(ctx context.Context, rdb redis.UniversalClient, hub *Hub) *Relay {
	return &Relay{hub: hub, ps: rdb.Subscribe(ctx)}
}

func (r *Relay) Subscribe(runID string) (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, cancel := r.hub.Subscribe(runID)
	if r.hub.Count(runID) == 1 {
		if err := r.ps.Subscribe(context.Background(), channelFor(runID)); err != nil {
			logger.L().Warn("redis subscribe failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			cancel()
			if r.hub.Count(runID) == 0 {
				if err := r.ps.Unsubscribe(context.Background(), channelFor(runID)); err != nil {
					logger.L().Warn("redis unsubscribe failed", zap.String("run_id", runID), zap.Error(err))
				}
			}
		})
	}
}

// Run forwards messages until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	msgs := r.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return r.ps.Close()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				logger.L().Warn("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if e.RunID == "" {
				e.RunID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			r.hub.Publish(ctx, e)
		}
	}
}
