// Package notify fans new-message notifications out to room members over
// Redis pub/sub. Each recipient has its own channel so a connected client
// only hears about its own rooms.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "notifications:"

type Type string

const (
	TypeNewMessage Type = "new_message"
)

// Notification is the JSON payload published per recipient
type Notification struct {
	Type      Type      `json:"type"`
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name,omitempty"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher delivers a notification to one recipient
type Publisher interface {
	Publish(ctx context.Context, recipientID string, n Notification) error
}

// Channel returns the pub/sub channel of a recipient
func Channel(recipientID string) string {
	return channelPrefix + recipientID
}

type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to redisURL and checks the connection
func NewRedisPublisher(ctx context.Context, redisURL string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

func NewRedisPublisherFromClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, recipientID string, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(recipientID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Subscribe streams the recipient's notifications until ctx is done.
// Malformed payloads are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context, recipientID string) (<-chan Notification, error) {
	sub := p.client.Subscribe(ctx, Channel(recipientID))
	// Receive waits for the subscription confirmation
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Nop discards notifications; used when no Redis is configured
type Nop struct{}

func (Nop) Publish(context.Context, string, Notification) error { return nil }
