package live

import (
	"sync"

	"clearchat/internal/telemetry"
)

// Hub tracks live-query watchers per topic and wakes them when a topic changes.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	relay    *relay
}

type watcher struct {
	notify chan struct{}
}

func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*watcher]struct{})}
}

// ChatTopic names the topic carrying message changes for a conversation.
func ChatTopic(chatID string) string { return "chat:" + chatID }

// UserTopic names the topic carrying conversation-list changes for a user.
func UserTopic(userID string) string { return "user:" + userID }

// Notify wakes every local watcher of topic and forwards the change to other replicas
// when a relay is attached.
func (h *Hub) Notify(topic string) {
	h.notifyLocal(topic)
	h.mu.Lock()
	r := h.relay
	h.mu.Unlock()
	if r != nil {
		r.publish(topic)
	}
}

func (h *Hub) notifyLocal(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[topic] {
		// buffered by one: pending wakeups coalesce
		select {
		case w.notify <- struct{}{}:
			telemetry.Inc(telemetry.LiveNotifications)
		default:
		}
	}
	debugLog("[live] notify %s (%d watchers)", topic, len(h.watchers[topic]))
}

func (h *Hub) register(topic string) *watcher {
	w := &watcher{notify: make(chan struct{}, 1)}
	h.mu.Lock()
	set := h.watchers[topic]
	if set == nil {
		set = make(map[*watcher]struct{})
		h.watchers[topic] = set
	}
	set[w] = struct{}{}
	h.mu.Unlock()
	telemetry.AddGauge(telemetry.LiveSubscriptions, 1)
	return w
}

func (h *Hub) unregister(topic string, w *watcher) {
	h.mu.Lock()
	if set, ok := h.watchers[topic]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(h.watchers, topic)
		}
	}
	h.mu.Unlock()
	telemetry.AddGauge(telemetry.LiveSubscriptions, -1)
}

// Watchers reports the number of open watchers on topic.
func (h *Hub) Watchers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[topic])
}
