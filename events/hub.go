package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/time/rate"
)

const clientBuffer = 64

// progressInterval paces per-item progress events so a chatty tool cannot
// flood a slow client; terminal events are never throttled.
const progressInterval = 500 * time.Millisecond

type Client struct {
	ID string
	ch chan Event
	// done signals that this instance was replaced by a reconnect or
	// removed; ch itself is never closed, so producers can always send.
	done chan struct{}
}

func (c *Client) Events() <-chan Event {
	return c.ch
}

// Done is closed once this instance is no longer the registered client
// for its id.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	// itemID -> throttle for its progress stream
	limits map[string]*rate.Limiter

	redis   *redis.Client
	channel string
	bufPool bytebufferpool.Pool

	OnDownload func(clientID string, req *DownloadRequest)
	OnCancel   func(clientID string, itemID string)
}

// NewHub builds the hub; when redisHost is set every outbound event is
// mirrored to a redis channel for external consumers.
func NewHub(redisHost string, channel string) *Hub {
	h := &Hub{
		clients: make(map[string]*Client, 4),
		limits:  make(map[string]*rate.Limiter, 16),
		channel: channel,
	}
	if redisHost != "" {
		h.redis = redis.NewClient(&redis.Options{Addr: redisHost})
	}
	return h
}

// Register attaches a client channel. Reconnecting under the same id
// replaces the channel; jobs already keyed to the id are unaffected. The
// replaced instance is signalled through its done channel rather than a
// channel close, so a producer mid-send never hits a closed channel.
func (h *Hub) Register(clientID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[clientID]; ok {
		close(old.done)
	}
	c := &Client{ID: clientID, ch: make(chan Event, clientBuffer), done: make(chan struct{})}
	h.clients[clientID] = c
	log.WithField("client", clientID).Info("client connected")
	return c
}

// RemoveClient detaches exactly the given instance. A stale instance that
// was already replaced by a reconnect is a no-op, so a lingering consumer
// cannot tear down its successor.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.ID]; ok && cur == c {
		delete(h.clients, c.ID)
		close(cur.done)
	}
	h.mu.Unlock()
}

// Send is best-effort and never blocks a producer: absent client or full
// buffer means the event is dropped.
func (h *Hub) Send(clientID string, ev Event) {
	if ev.Type == TypeProgress && !h.allowProgress(ev.ItemID) {
		return
	}
	if ev.Type.Terminal() {
		h.dropLimiter(ev.ItemID)
	}

	h.mirror(ev)

	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case c.ch <- ev:
	default:
		log.WithField("client", clientID).Debugf("dropped %s event, client buffer full", ev.Type)
	}
}

func (h *Hub) allowProgress(itemID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limits[itemID]
	if !ok {
		l = rate.NewLimiter(rate.Every(progressInterval), 1)
		h.limits[itemID] = l
	}
	return l.Allow()
}

func (h *Hub) dropLimiter(itemID string) {
	h.mu.Lock()
	delete(h.limits, itemID)
	h.mu.Unlock()
}

func (h *Hub) mirror(ev Event) {
	if h.redis == nil {
		return
	}
	buf := h.bufPool.Get()
	defer h.bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(ev); err != nil {
		return
	}
	_ = h.redis.Publish(h.channel, buf.String())
}

type inbound struct {
	Type   string `json:"type"`
	ItemID string `json:"itemId"`
	DownloadRequest
}

// Dispatch decodes one inbound control message from a client. Malformed or
// unrecognized messages are logged and dropped, never fatal.
func (h *Hub) Dispatch(clientID string, raw []byte) {
	logger := log.WithField("client", clientID)
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warnf("malformed control message: %v", err)
		return
	}
	switch msg.Type {
	case "download_request":
		req := msg.DownloadRequest
		if err := req.Validate(); err != nil {
			logger.Warnf("rejected download_request: %v", err)
			return
		}
		if h.OnDownload != nil {
			h.OnDownload(clientID, &req)
		}
	case "cancel":
		if msg.ItemID == "" {
			logger.Warn("cancel without itemId")
			return
		}
		if h.OnCancel != nil {
			h.OnCancel(clientID, msg.ItemID)
		}
	default:
		logger.Warnf("unrecognized control message type %q", msg.Type)
	}
}
