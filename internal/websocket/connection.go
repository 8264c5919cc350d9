package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
	"github.com/nfrund/roomcast/internal/presence"
	"golang.org/x/time/rate"
)

var errRateLimited = fmt.Errorf("%w: too many events, slow down", domain.ErrValidation)

// connection is the task owning one client: a reader that dispatches inbound
// events and a writer that drains the session queue and pings.
type connection struct {
	handler *Handler
	conn    *websocket.Conn
	session *presence.Session
	limiter *rate.Limiter
	logger  *slog.Logger
}

// serve runs until either side stops. Every exit path goes through the one
// deferred Disconnect.
func (c *connection) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	registry := c.handler.deps.Registry
	defer registry.Disconnect(c.session)

	if err := registry.Connect(ctx, c.session); err != nil {
		c.logger.ErrorContext(ctx, "Failed to register session", "error", err)
		c.conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	c.logger.InfoContext(ctx, "Client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	cancel()
	<-writerDone

	c.conn.Close(websocket.StatusNormalClosure, "connection closed")
	c.logger.InfoContext(parent, "Client disconnected")
}

func (c *connection) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.logger.DebugContext(ctx, "WebSocket closed by client", "status", status)
			case ctx.Err() != nil, errors.Is(err, io.EOF):
			default:
				c.logger.WarnContext(ctx, "WebSocket read error", "error", err)
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.handler.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.session.Done():
			if c.session.Reason() == presence.CloseShutdown {
				c.conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			c.logger.WarnContext(ctx, "Session dropped by registry, closing connection")
			c.conn.Close(websocket.StatusPolicyViolation, "connection too slow")
			return

		case frame := <-c.session.Outbound():
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.WarnContext(ctx, "WebSocket write error", "error", err)
				}
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, pongWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.InfoContext(ctx, "Keepalive failed", "error", err)
				}
				return
			}
		}
	}
}

// reply queues an error frame for this connection only.
func (c *connection) reply(event, roomID string, err error) {
	if !c.session.Send(events.ErrorFrame(event, roomID, err)) {
		c.logger.Debug("Dropped error reply for closed session", "event", event)
	}
}

// dispatch routes one inbound frame. Failures become error events and never
// close the connection.
func (c *connection) dispatch(ctx context.Context, raw []byte) {
	if !c.limiter.Allow() {
		c.reply("", "", errRateLimited)
		return
	}

	env, err := events.Decode(raw)
	if err != nil {
		c.reply("", "", err)
		return
	}
	if !c.handler.whitelist.IsAllowed(env.Event) {
		c.reply(env.Event, "", fmt.Errorf("%w: unsupported event %q", domain.ErrValidation, env.Event))
		return
	}

	registry := c.handler.deps.Registry

	switch env.Event {
	case events.JoinRoom:
		p, err := events.Bind[events.RoomPayload](env)
		if err != nil {
			c.reply(env.Event, "", err)
			return
		}
		if err := registry.Join(ctx, c.session, p.RoomID); err != nil {
			c.reply(env.Event, p.RoomID, err)
		}

	case events.LeaveRoom:
		p, err := events.Bind[events.RoomPayload](env)
		if err != nil {
			c.reply(env.Event, "", err)
			return
		}
		registry.Leave(c.session, p.RoomID)

	case events.Message:
		p, err := events.Bind[events.MessagePayload](env)
		if err != nil {
			c.reply(env.Event, "", err)
			return
		}
		if _, err := c.handler.deps.Chat.PostMessage(ctx, c.session, p.RoomID, p.Text); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				c.logger.ErrorContext(ctx, "Failed to post message", "room_id", p.RoomID, "error", err)
			}
			c.reply(env.Event, p.RoomID, err)
		}

	case events.Typing, events.StopTyping:
		p, err := events.Bind[events.RoomPayload](env)
		if err != nil {
			c.reply(env.Event, "", err)
			return
		}
		registry.Typing(c.session, p.RoomID, env.Event == events.Typing)

	default:
		// Whitelisted but not routed here.
		c.reply(env.Event, "", fmt.Errorf("%w: unsupported event %q", domain.ErrValidation, env.Event))
	}
}
