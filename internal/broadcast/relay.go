package broadcast

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/cache"
	"realtime-board/internal/logging"
)

// relayEnvelope Redis 채널로 오가는 메시지
type relayEnvelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"sessionId"`
	Exclude   string          `json:"exclude,omitempty"`
	Event     json.RawMessage `json:"event"`
}

// RedisRelay 여러 서버 인스턴스가 같은 세션을 공유할 때 쓰는 Publisher.
// 로컬 연결에는 즉시 전달하고, 다른 인스턴스에는 Redis Pub/Sub으로 전달한다.
type RedisRelay struct {
	*Hub
	rdb     *cache.RedisClient
	channel string
	origin  string
	log     *logrus.Entry
}

// NewRedisRelay RedisRelay 생성자. Run을 호출해야 다른 인스턴스 메시지를 받는다.
func NewRedisRelay(hub *Hub, rdb *cache.RedisClient, channel string, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{
		Hub:     hub,
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		log:     logging.Component(log, "relay"),
	}
}

// Broadcast 로컬 전달 후 다른 인스턴스로 발행
func (r *RedisRelay) Broadcast(ctx context.Context, sessionID string, ev Event, exclude string) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	r.Hub.deliver(sessionID, data, exclude)

	msg, err := json.Marshal(relayEnvelope{
		Origin:    r.origin,
		SessionID: sessionID,
		Exclude:   exclude,
		Event:     data,
	})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, msg)
}

// Run 구독 루프. ctx가 끝나면 반환. ready는 구독이 확정되면 닫힌다 (nil 가능).
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return cache.StoreErr("subscribe", err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.WithField("channel", r.channel).Info("Relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *RedisRelay) handle(msg *redis.Message) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.log.WithError(err).Warn("Dropping malformed relay message")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.Hub.deliver(env.SessionID, env.Event, env.Exclude)
}
