package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/H4MSA/solivrah/internal/core"
)

// Event is a pushed server event; Data is decoded lazily by type.
type Event struct {
	ID        string          `json:"id"`
	Type      core.EventType  `json:"type"`
	UserID    string          `json:"user_id"`
	EntityID  string          `json:"entity_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (e Event) AsProgress() (core.ProgressRecord, error) {
	var rec core.ProgressRecord
	return rec, json.Unmarshal(e.Data, &rec)
}

func (e Event) AsQuest() (core.Quest, error) {
	var q core.Quest
	return q, json.Unmarshal(e.Data, &q)
}

// EventHandler is called for each event received via WebSocket.
type EventHandler func(event Event)

// WSClient follows the event stream of one user.
type WSClient struct {
	baseURL   string
	apiKey    string
	userID    string
	reconnect bool

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers []EventHandler
	done     chan struct{}
	once     sync.Once
}

type WSOption func(*WSClient)

func WithWSAPIKey(key string) WSOption {
	return func(c *WSClient) { c.apiKey = key }
}

// WithAutoReconnect enables reconnection with backoff on disconnect.
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) { c.reconnect = enabled }
}

func NewWSClient(baseURL, userID string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		userID:    userID,
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}
	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		opts.HTTPHeader = map[string][]string{"Authorization": {"Bearer " + c.apiKey}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *WSClient) Close() error {
	c.once.Do(func() { close(c.done) })
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *WSClient) buildWSURL() (string, error) {
	if c.userID == "" {
		return "", fmt.Errorf("user id required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/users/" + c.userID
	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if !c.reconnect || !c.handleReconnect(ctx) {
				return
			}
			continue
		}
		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// handleReconnect redials with capped exponential backoff until it succeeds
// or the client is stopped.
func (c *WSClient) handleReconnect(ctx context.Context) bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		err := c.dial(ctx)
		if err == nil {
			return true
		}
		log.Printf("client: websocket reconnect: %v", err)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// FilteredEventHandler only forwards events of the listed types.
func FilteredEventHandler(types []core.EventType, handler EventHandler) EventHandler {
	return func(event Event) {
		for _, t := range types {
			if event.Type == t {
				handler(event)
				return
			}
		}
	}
}
