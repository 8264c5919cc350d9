package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/roomcast/internal/domain"
)

// MemoryStore is an in-memory implementation of every repository the chat
// core consumes. Faults can be injected per operation.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]*domain.User
	topics        map[string]*domain.Topic
	members       map[string]map[string]time.Time // roomID -> userID -> joined at
	messages      map[string][]*domain.Message    // roomID -> oldest first
	notifications []*domain.Notification
	revoked       map[string]*domain.RevokedToken
	faults        map[string]error
	insertDelay   func() time.Duration
	calls         map[string]int
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		topics:   make(map[string]*domain.Topic),
		members:  make(map[string]map[string]time.Time),
		messages: make(map[string][]*domain.Message),
		revoked:  make(map[string]*domain.RevokedToken),
		faults:   make(map[string]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// Operation names accepted by Fail and Calls.
const (
	OpGetUser             = "GetUser"
	OpGetTopic            = "GetTopic"
	OpIsMember            = "IsMember"
	OpAddMember           = "AddMember"
	OpListMembers         = "ListMembers"
	OpInsertMessage       = "InsertMessage"
	OpListRecentMessages  = "ListRecentMessages"
	OpInsertNotification  = "InsertNotification"
	OpInsertRevokedToken  = "InsertRevokedToken"
	OpIsTokenRevoked      = "IsTokenRevoked"
	OpDeleteExpiredTokens = "DeleteExpiredTokens"
	OpPing                = "Ping"
)

// Fail makes every following call of op return err until Heal is called.
func (s *MemoryStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// Heal clears all injected faults.
func (s *MemoryStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]error)
}

// Calls returns how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// SetInsertDelay makes InsertMessage sleep for fn() before committing.
func (s *MemoryStore) SetInsertDelay(fn func() time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertDelay = fn
}

// enter records the call and returns the injected fault. Caller holds no lock.
func (s *MemoryStore) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if err := s.faults[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddUser seeds a user profile.
func (s *MemoryStore) AddUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddTopic seeds a topic.
func (s *MemoryStore) AddTopic(t *domain.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[t.ID] = t
}

// SeedMessage appends a message to roomID without going through InsertMessage.
func (s *MemoryStore) SeedMessage(roomID, userID, text string, at time.Time) *domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &domain.Message{ID: uuid.NewString(), RoomID: roomID, AuthorID: userID, Text: text, CreatedAt: at}
	s.messages[roomID] = append(s.messages[roomID], m)
	return m
}

// Messages returns a copy of roomID's messages, oldest first.
func (s *MemoryStore) Messages(roomID string) []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Message(nil), s.messages[roomID]...)
}

// Notifications returns a copy of all stored notifications.
func (s *MemoryStore) Notifications() []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Notification(nil), s.notifications...)
}

// RevokedCount returns the number of stored revocation records.
func (s *MemoryStore) RevokedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.revoked)
}

// GetUser implements domain.UserRepository.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if err := s.enter(OpGetUser); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetTopic implements domain.TopicRepository.
func (s *MemoryStore) GetTopic(ctx context.Context, id string) (*domain.Topic, error) {
	if err := s.enter(OpGetTopic); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// IsMember implements domain.MembershipRepository.
func (s *MemoryStore) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	if err := s.enter(OpIsMember); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[roomID][userID]
	return ok, nil
}

// AddMember implements domain.MembershipRepository.
func (s *MemoryStore) AddMember(ctx context.Context, roomID, userID string) error {
	if err := s.enter(OpAddMember); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[roomID] == nil {
		s.members[roomID] = make(map[string]time.Time)
	}
	if _, ok := s.members[roomID][userID]; !ok {
		s.members[roomID][userID] = s.now()
	}
	return nil
}

// ListMembers implements domain.MembershipRepository.
func (s *MemoryStore) ListMembers(ctx context.Context, roomID string) ([]string, error) {
	if err := s.enter(OpListMembers); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.members[roomID]))
	for id := range s.members[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// InsertMessage implements domain.MessageRepository.
func (s *MemoryStore) InsertMessage(ctx context.Context, roomID, userID, text string) (*domain.Message, error) {
	if err := s.enter(OpInsertMessage); err != nil {
		return nil, err
	}
	s.mu.Lock()
	delay := s.insertDelay
	s.mu.Unlock()
	if delay != nil {
		time.Sleep(delay())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := &domain.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		AuthorID:  userID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	s.messages[roomID] = append(s.messages[roomID], m)
	cp := *m
	return &cp, nil
}

// ListRecentMessages implements domain.MessageRepository.
func (s *MemoryStore) ListRecentMessages(ctx context.Context, roomID string, limit int) ([]*domain.Message, error) {
	if err := s.enter(OpListRecentMessages); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[roomID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*domain.Message, len(all))
	for i, m := range all {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// InsertNotification implements domain.NotificationRepository.
func (s *MemoryStore) InsertNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if err := s.enter(OpInsertNotification); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	cp.ID = uuid.NewString()
	cp.CreatedAt = s.now().UTC()
	s.notifications = append(s.notifications, &cp)
	out := cp
	return &out, nil
}

// InsertRevokedToken implements domain.RevocationRepository.
func (s *MemoryStore) InsertRevokedToken(ctx context.Context, t *domain.RevokedToken) error {
	if err := s.enter(OpInsertRevokedToken); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[t.TokenHash]; ok {
		return nil
	}
	cp := *t
	s.revoked[t.TokenHash] = &cp
	return nil
}

// IsTokenRevoked implements domain.RevocationRepository.
func (s *MemoryStore) IsTokenRevoked(ctx context.Context, hash string, now time.Time) (bool, error) {
	if err := s.enter(OpIsTokenRevoked); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.revoked[hash]
	return ok && t.ActiveAt(now), nil
}

// DeleteExpiredTokens implements domain.RevocationRepository.
func (s *MemoryStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	if err := s.enter(OpDeleteExpiredTokens); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.revoked {
		if !t.ActiveAt(now) {
			delete(s.revoked, hash)
			n++
		}
	}
	return n, nil
}

// Ping reports the injected Ping fault, if any.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.enter(OpPing)
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}
