// Package stream pushes live activity stats to websocket watchers.
package stream

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Hub fans stats out per activity. With redis every broadcast goes through
// pub/sub so watchers connected to other api instances receive it too.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	last    map[string][]byte
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	ActivityID string
	Send       chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
		last:    map[string][]byte{},
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	pubsub := redisClient.PSubscribe(ctx, redisChannel("*"), doneChannel("*"))
	go h.subscribeRedis(ctx, pubsub)
	return h
}

// Register adds a watcher. The latest stats of the activity, if any, are
// queued immediately.
func (h *Hub) Register(activityID string) *Client {
	client := &Client{
		ActivityID: activityID,
		Send:       make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[activityID] == nil {
		h.clients[activityID] = map[*Client]struct{}{}
	}
	h.clients[activityID][client] = struct{}{}
	if last, ok := h.last[activityID]; ok {
		client.Send <- last
	}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if activityClients, ok := h.clients[client.ActivityID]; ok {
		if _, registered := activityClients[client]; !registered {
			return
		}
		delete(activityClients, client)
		if len(activityClients) == 0 {
			delete(h.clients, client.ActivityID)
		}
		close(client.Send)
	}
}

func (h *Hub) Broadcast(activityID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(activityID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(activityID, payload)
}

// Forget drops the replay payload of an ended activity on every instance.
func (h *Hub) Forget(activityID string) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), doneChannel(activityID), "").Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.forget(activityID)
}

func (h *Hub) forget(activityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, activityID)
}

// Close stops the redis subscription.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func (h *Hub) deliver(activityID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last[activityID] = payload
	for client := range h.clients[activityID] {
		select {
		case client.Send <- payload:
		default:
			// slow watcher, it gets the next update
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if id := activityIDFromChannel(msg.Channel); id != "" {
				h.deliver(id, []byte(msg.Payload))
			} else if id := channelActivityID(msg.Channel, doneSuffix); id != "" {
				h.forget(id)
			}
		}
	}
}

const (
	channelPrefix = "activity:"
	statsSuffix   = ":stats"
	doneSuffix    = ":done"
)

func redisChannel(activityID string) string {
	return channelPrefix + activityID + statsSuffix
}

func doneChannel(activityID string) string {
	return channelPrefix + activityID + doneSuffix
}

func activityIDFromChannel(ch string) string {
	return channelActivityID(ch, statsSuffix)
}

// channelActivityID extracts {id} from activity:{id}<suffix>.
func channelActivityID(ch, suffix string) string {
	if len(ch) <= len(channelPrefix)+len(suffix) || !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, suffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(suffix)]
}
