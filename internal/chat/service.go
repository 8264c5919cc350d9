// Package chat implements the message pipeline: validation, membership check,
// persistence, in-room broadcast and notification fan-out.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
)

// DefaultNotificationBodyLimit caps the message excerpt placed in a notification.
const DefaultNotificationBodyLimit = 140

// DefaultFanoutTimeout bounds one fan-out run.
const DefaultFanoutTimeout = 30 * time.Second

// Author is the sender of a message.
type Author interface {
	Info() events.UserInfo
}

// Broadcaster delivers a frame to every session present in a room.
type Broadcaster interface {
	Broadcast(roomID string, f events.Frame) int
}

// Publisher hands a stored notification to the delivery bridge. It must not block.
type Publisher interface {
	Publish(ctx context.Context, n *domain.Notification)
}

// Dependencies are the collaborators of the pipeline.
type Dependencies struct {
	Members       domain.MembershipRepository
	Messages      domain.MessageRepository
	Topics        domain.TopicRepository
	Notifications domain.NotificationRepository
	Rooms         Broadcaster
	Bridge        Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithBaseURL sets the prefix of notification deep links.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithBodyLimit sets the notification excerpt length in runes.
func WithBodyLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// WithFanoutTimeout bounds a single fan-out run.
func WithFanoutTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fanoutTimeout = d
		}
	}
}

// Service is the message pipeline.
type Service struct {
	deps          Dependencies
	baseURL       string
	bodyLimit     int
	fanoutTimeout time.Duration
	locks         *roomLocks
	fanout        sync.WaitGroup
	logger        *slog.Logger
}

// NewService returns a pipeline over deps.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		deps:          deps,
		bodyLimit:     DefaultNotificationBodyLimit,
		fanoutTimeout: DefaultFanoutTimeout,
		locks:         newRoomLocks(),
		logger:        slog.Default().With("service", "chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PostMessage validates, persists and broadcasts a message, then starts the
// notification fan-out in the background. Fan-out failures never affect the
// returned message.
func (s *Service) PostMessage(ctx context.Context, author Author, roomID, raw string) (*domain.Message, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, domain.ErrMissingRoom
	}
	text, err := domain.PrepareMessageText(raw)
	if err != nil {
		return nil, err
	}

	sender := author.Info()
	member, err := s.deps.Members.IsMember(ctx, roomID, sender.UserID)
	if err != nil {
		return nil, domain.Unavailable("check membership", err)
	}
	if !member {
		return nil, domain.ErrNotMember
	}

	// Insert and broadcast under the room's lock so broadcast order matches
	// commit order. Presence state is not locked here.
	unlock := s.locks.lock(roomID)
	msg, err := s.deps.Messages.InsertMessage(ctx, roomID, sender.UserID, text)
	if err != nil {
		unlock()
		return nil, domain.Unavailable("insert message", err)
	}
	frame := events.MustEncode(events.Message, events.NewChatMessage(msg, sender))
	delivered := s.deps.Rooms.Broadcast(roomID, frame)
	unlock()

	s.logger.InfoContext(ctx, "Message posted", "room_id", roomID, "user_id", sender.UserID, "message_id", msg.ID, "delivered", delivered)

	s.fanout.Add(1)
	go func() {
		defer s.fanout.Done()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fanoutTimeout)
		defer cancel()
		s.notifyMembers(fctx, msg)
	}()

	return msg, nil
}

// notifyMembers creates and publishes one notification per room member other
// than the author. Every failure is logged and skipped.
func (s *Service) notifyMembers(ctx context.Context, msg *domain.Message) {
	members, err := s.deps.Members.ListMembers(ctx, msg.RoomID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list room members for notifications", "room_id", msg.RoomID, "message_id", msg.ID, "error", err)
		return
	}

	title := domain.Truncate(fmt.Sprintf("New message in %s", s.roomName(ctx, msg.RoomID)), 200)
	body := domain.Truncate(msg.Text, s.bodyLimit)
	link := s.roomLink(msg.RoomID)

	created := 0
	for _, userID := range members {
		if userID == msg.AuthorID {
			continue
		}

		n := &domain.Notification{
			RecipientID: userID,
			Type:        domain.NotificationMessage,
			Title:       title,
			Body:        &body,
			Link:        &link,
		}
		if err := n.Validate(); err != nil {
			s.logger.ErrorContext(ctx, "Invalid notification", "user_id", userID, "error", err)
			continue
		}

		stored, err := s.deps.Notifications.InsertNotification(ctx, n)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to store notification", "room_id", msg.RoomID, "user_id", userID, "error", err)
			continue
		}
		created++

		if s.deps.Bridge != nil {
			s.deps.Bridge.Publish(ctx, stored)
		}
	}

	s.logger.DebugContext(ctx, "Notification fan-out finished", "room_id", msg.RoomID, "message_id", msg.ID, "created", created)
}

func (s *Service) roomName(ctx context.Context, roomID string) string {
	if s.deps.Topics == nil {
		return roomID
	}
	topic, err := s.deps.Topics.GetTopic(ctx, roomID)
	if err != nil || topic == nil || topic.Name == "" {
		return roomID
	}
	return topic.Name
}

func (s *Service) roomLink(roomID string) string {
	return s.baseURL + "/topics/" + roomID
}

// Wait blocks until every fan-out started so far has finished.
func (s *Service) Wait() {
	s.fanout.Wait()
}
