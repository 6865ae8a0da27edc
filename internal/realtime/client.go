package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"qms/internal/store"
)

type SubscribeMessage struct {
	Action  string `json:"action"`
	QueueID string `json:"queue_id"`
	View    string `json:"view"`
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

// Client multiplexes the subscriptions of one connection onto Send.
type Client struct {
	ID   string
	Send chan []byte

	svc    *Service
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[subKey]*Subscription
}

func (s *Service) NewClient(ctx context.Context) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ID:     uuid.NewString(),
		Send:   make(chan []byte, 16),
		svc:    s,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[subKey]*Subscription),
	}
}

// Handle applies a subscribe or unsubscribe message. Unsubscribe without a
// view drops every view of the queue; without a queue it drops everything.
func (c *Client) Handle(msg SubscribeMessage) error {
	if msg.Action == "unsubscribe" {
		c.unsubscribe(msg.QueueID, View(msg.View))
		return nil
	}
	view, ok := ParseView(msg.View)
	if !ok || msg.QueueID == "" {
		return fmt.Errorf("%w: queue_id and a known view are required", store.ErrInvalidInput)
	}
	key := subKey{queueID: msg.QueueID, view: view}

	c.mu.Lock()
	_, exists := c.subs[key]
	c.mu.Unlock()
	if exists {
		return nil
	}

	sub, err := c.svc.Subscribe(c.ctx, msg.QueueID, view)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pump(sub)
	return nil
}

func (c *Client) pump(sub *Subscription) {
	defer c.wg.Done()
	for update := range sub.Updates() {
		payload, err := json.Marshal(update)
		if err != nil {
			c.svc.log.WithError(err).Warn("encode realtime update")
			continue
		}
		select {
		case c.Send <- payload:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) unsubscribe(queueID string, view View) {
	c.mu.Lock()
	var drop []*Subscription
	for key, sub := range c.subs {
		if queueID != "" && key.queueID != queueID {
			continue
		}
		if view != "" && key.view != view {
			continue
		}
		drop = append(drop, sub)
		delete(c.subs, key)
	}
	c.mu.Unlock()
	for _, sub := range drop {
		sub.Close()
	}
}

// Close ends every subscription and closes Send once nothing writes to it.
func (c *Client) Close() {
	c.cancel()
	c.unsubscribe("", "")
	c.wg.Wait()
	close(c.Send)
}
