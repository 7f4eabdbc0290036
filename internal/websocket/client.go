package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rx3lixir/mapchat/internal/chat"
	"github.com/rx3lixir/mapchat/internal/listener"
	"github.com/rx3lixir/mapchat/internal/notify"
	"github.com/rx3lixir/mapchat/internal/syncerr"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 30 * time.Second

	// Time allowed for store writes triggered by client events
	eventTimeout = 5 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBuffer = 64
)

// ChatService is the part of the sync engine a connection drives
type ChatService interface {
	GetRoom(ctx context.Context, roomID, actorID string) (*chat.Room, error)
	SubscribeMessages(scopeID, roomID string, onChange func([]chat.Message), onError func(error)) (*listener.Handle, error)
	SubscribeTyping(scopeID, roomID string, onChange func(map[string]string)) (*listener.Handle, error)
	UnsubscribeAll(scopeID string)
	SetTyping(ctx context.Context, roomID, actorID, displayName string, isTyping bool) error
	MarkAsRead(ctx context.Context, roomID, actorID string, messageIDs []string) error
}

// NotificationSource streams notifications addressed to a user
type NotificationSource interface {
	Subscribe(ctx context.Context, recipientID string) (<-chan notify.Notification, error)
}

// Client represents a single WebSocket connection. Its session id is the
// listener scope, so closing the connection ends all of its subscriptions.
type Client struct {
	sessionID string
	userID    string
	username  string
	roomID    string
	conn      *websocket.Conn
	svc       ChatService
	send      chan ServerMessage
	log       *slog.Logger

	cancel context.CancelFunc

	mu             sync.Mutex
	lastTypingTime time.Time
}

func newClient(sessionID, userID, username, roomID string, conn *websocket.Conn, svc ChatService, log *slog.Logger) *Client {
	return &Client{
		sessionID: sessionID,
		userID:    userID,
		username:  username,
		roomID:    roomID,
		conn:      conn,
		svc:       svc,
		send:      make(chan ServerMessage, sendBuffer),
		log:       log.With("session_id", sessionID, "user_id", userID, "room_id", roomID),
	}
}

// run serves the connection until the peer leaves or ctx ends
func (c *Client) run(ctx context.Context, notifications NotificationSource) {
	ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()
	defer c.svc.UnsubscribeAll(c.sessionID)

	c.conn.SetReadLimit(maxMessageSize)

	c.enqueue(TypeConnectionAck, ConnectionAckData{
		SessionID: c.sessionID,
		RoomID:    c.roomID,
		UserID:    c.userID,
	})

	if err := c.subscribe(); err != nil {
		c.log.Error("failed to subscribe", "error", err)
		c.conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	if notifications != nil {
		c.forwardNotifications(ctx, notifications)
	}

	go c.readPump(ctx)
	c.writePump(ctx)
}

func (c *Client) subscribe() error {
	_, err := c.svc.SubscribeMessages(c.sessionID, c.roomID,
		func(msgs []chat.Message) { c.enqueue(TypeMessages, msgs) },
		func(err error) {
			c.enqueue(TypeSubscriptionEnded, ErrorData{Code: "messages", Message: err.Error()})
		},
	)
	if err != nil {
		return err
	}

	_, err = c.svc.SubscribeTyping(c.sessionID, c.roomID, func(typing map[string]string) {
		// the sender's own indicator is noise to them
		others := make(map[string]string, len(typing))
		for id, name := range typing {
			if id != c.userID {
				others[id] = name
			}
		}
		c.enqueue(TypeTypingUsers, others)
	})
	return err
}

func (c *Client) forwardNotifications(ctx context.Context, source NotificationSource) {
	ch, err := source.Subscribe(ctx, c.userID)
	if err != nil {
		c.log.Warn("notifications unavailable", "error", err)
		return
	}
	go func() {
		for n := range ch {
			// the open room already streams its own messages
			if n.RoomID == c.roomID {
				continue
			}
			c.enqueue(TypeNotification, n)
		}
	}()
}

// enqueue hands a message to the write pump. A client that cannot keep up
// is disconnected rather than allowed to stall its subscriptions.
func (c *Client) enqueue(t MessageType, data any) {
	msg := ServerMessage{Type: t, Data: data, Timestamp: time.Now().Unix()}
	select {
	case c.send <- msg:
	default:
		c.log.Warn("client buffer full, disconnecting", "type", t)
		if c.cancel != nil {
			c.cancel()
		}
	}
}

// readPump handles client events until the connection fails
func (c *Client) readPump(ctx context.Context) {
	defer c.cancel()

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				c.log.Debug("client disconnected")
			} else {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}

		if err := c.handle(ctx, msg); err != nil {
			c.log.Debug("client event rejected", "type", msg.Type, "error", err)
			c.enqueue(TypeError, ErrorData{Code: syncerr.KindOf(err).String(), Message: err.Error()})
		}
	}
}

func (c *Client) handle(ctx context.Context, msg ClientMessage) error {
	switch msg.Type {
	case TypePing:
		c.enqueue(TypePong, nil)
		return nil

	case TypeTyping:
		var data TypingData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return syncerr.Validation("websocket.typing", "malformed typing payload")
		}
		if data.Typing && !c.canSendTyping() {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, eventTimeout)
		defer cancel()
		return c.svc.SetTyping(ctx, c.roomID, c.userID, c.username, data.Typing)

	case TypeReadReceipt:
		var data ReadReceiptData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return syncerr.Validation("websocket.read_receipt", "malformed read receipt payload")
		}
		ctx, cancel := context.WithTimeout(ctx, eventTimeout)
		defer cancel()
		return c.svc.MarkAsRead(ctx, c.roomID, c.userID, data.MessageIDs)
	}

	return syncerr.Validation("websocket", "unknown message type "+string(msg.Type))
}

// writePump writes queued messages and keeps the connection alive
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()

			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.log.Warn("failed to write message", "type", msg.Type, "error", err)
				}
				c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(writeCtx)
			cancel()

			if err != nil {
				c.log.Warn("failed to send ping", "error", err)
				c.conn.Close(websocket.StatusGoingAway, "ping failed")
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// canSendTyping throttles typing-started events to one per second
func (c *Client) canSendTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastTypingTime) < time.Second {
		return false
	}

	c.lastTypingTime = now
	return true
}
