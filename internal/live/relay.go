package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"

	"clearchat/internal/redis"
)

const relayChannel = "clearchat:live"

type relayMessage struct {
	Origin string `json:"origin"`
	Topic  string `json:"topic"`
}

// relay forwards topic changes between replicas through redis Pub/Sub.
type relay struct {
	client *redis.Client
	origin string
}

// AttachRelay connects the hub to redis so that notifications raised on other replicas
// reach local watchers. The listener stops when ctx is cancelled.
func (h *Hub) AttachRelay(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return errors.New("redis client required")
	}
	ps, err := client.Subscribe(ctx, relayChannel)
	if err != nil {
		return err
	}
	r := &relay{client: client, origin: uuid.NewString()}
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rm relayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
					log.Printf("live relay decode failed: %v", err)
					continue
				}
				if rm.Origin == r.origin || rm.Topic == "" {
					continue
				}
				debugLog("[live] relay %s from %s", rm.Topic, rm.Origin)
				h.notifyLocal(rm.Topic)
			}
		}
	}()
	return nil
}

func (r *relay) publish(topic string) {
	if err := r.client.PublishJSON(context.Background(), relayChannel, relayMessage{Origin: r.origin, Topic: topic}); err != nil {
		log.Printf("live relay publish failed: %v", err)
	}
}
