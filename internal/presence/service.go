// Package presence tracks which sessions are present in which rooms within
// this process and broadcasts presence changes to them.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
)

// DefaultHistoryLimit is the number of messages replayed to a joining session.
const DefaultHistoryLimit = 50

// Option configures a Registry.
type Option func(*Registry)

// WithHistoryLimit sets how many recent messages are replayed on join.
func WithHistoryLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithOfflineDebounce delays the offline announcement after a user's last
// session disconnects. A reconnect within the window cancels it. Zero
// announces immediately.
func WithOfflineDebounce(d time.Duration) Option {
	return func(r *Registry) {
		r.offlineDebounce = d
	}
}

// WithProfiles replaces the profile resolver.
func WithProfiles(p *Profiles) Option {
	return func(r *Registry) {
		r.profiles = p
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// Registry is the process-local room presence map. All state lives behind a
// single mutex. Frames are queued on sessions without blocking while the
// mutex is held, so the order of events within a room equals the order in
// which changes were applied. Store I/O never happens under the mutex.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]map[string]*Session // roomID -> sessionID -> session
	sessions map[string]*Session
	users    map[string]map[string]*Session // userID -> sessionID -> session
	offline  map[string]*time.Timer         // userID -> pending offline announcement

	members         domain.MembershipRepository
	messages        domain.MessageRepository
	profiles        *Profiles
	historyLimit    int
	offlineDebounce time.Duration
	logger          *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(members domain.MembershipRepository, messages domain.MessageRepository, users domain.UserRepository, opts ...Option) *Registry {
	r := &Registry{
		rooms:        make(map[string]map[string]*Session),
		sessions:     make(map[string]*Session),
		users:        make(map[string]map[string]*Session),
		offline:      make(map[string]*time.Timer),
		members:      members,
		messages:     messages,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.profiles == nil {
		r.profiles = NewProfiles(users, DefaultProfileTTL)
	}
	return r
}

// Profiles returns the resolver used to decorate payloads.
func (r *Registry) Profiles() *Profiles {
	return r.profiles
}

// Connect registers s. When it is the user's first session on this process an
// online presence-update is broadcast.
func (r *Registry) Connect(ctx context.Context, s *Session) error {
	if s.Name == "" {
		info := r.profiles.Lookup(ctx, s.UserID)
		s.Name, s.Avatar = info.Name, info.Avatar
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.registered {
		return nil
	}
	s.registered = true
	r.sessions[s.ID] = s

	userSessions := r.users[s.UserID]
	if userSessions == nil {
		userSessions = make(map[string]*Session)
		r.users[s.UserID] = userSessions
	}
	userSessions[s.ID] = s

	if len(userSessions) > 1 {
		r.logger.Debug("Additional session for user", "user_id", s.UserID, "session_id", s.ID, "sessions", len(userSessions))
		return nil
	}

	if timer, pending := r.offline[s.UserID]; pending {
		// The offline transition was never announced.
		timer.Stop()
		delete(r.offline, s.UserID)
		r.logger.Info("Cancelled offline announcement due to reconnection", "user_id", s.UserID)
		return nil
	}

	r.logger.Info("User came online", "user_id", s.UserID, "session_id", s.ID)
	r.broadcastAllLocked(events.MustEncode(events.PresenceUpdate, events.PresencePayload{UserID: s.UserID, Status: events.StatusOnline}))
	return nil
}

// Join adds s to roomID. A user who is not yet a member is enrolled (rooms
// are open); enrollment failures are logged and do not block the join. The
// joining session receives the roster and the recent history, and the other
// present sessions receive user-joined. Joining a room twice is a no-op.
func (r *Registry) Join(ctx context.Context, s *Session, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.ErrMissingRoom
	}

	r.mu.Lock()
	closed, already := s.closed, r.isPresentLocked(roomID, s.ID)
	r.mu.Unlock()
	if closed {
		return domain.ErrSessionClosed
	}
	if already {
		return nil
	}

	r.ensureMember(ctx, roomID, s.UserID)

	r.mu.Lock()
	if s.closed {
		r.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if r.isPresentLocked(roomID, s.ID) {
		r.mu.Unlock()
		return nil
	}

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Session)
		r.rooms[roomID] = room
		r.logger.Debug("Room activated", "room_id", roomID)
	}
	room[s.ID] = s
	s.rooms[roomID] = struct{}{}

	s.deliver(events.MustEncode(events.RoomUsers, events.RoomUsersPayload{RoomID: roomID, Users: r.rosterLocked(roomID)}))
	joined := events.MustEncode(events.UserJoined, events.MembershipPayload{RoomID: roomID, UserInfo: s.Info()})
	r.broadcastRoomLocked(roomID, joined, s.ID)
	present := len(room)
	r.mu.Unlock()

	r.logger.Info("Session joined room", "room_id", roomID, "user_id", s.UserID, "session_id", s.ID, "present", present)

	// History is read after presence is recorded: a message committed in
	// between may arrive twice but is never missed.
	r.replayHistory(ctx, s, roomID)
	return nil
}

func (r *Registry) ensureMember(ctx context.Context, roomID, userID string) {
	if r.members == nil {
		return
	}
	member, err := r.members.IsMember(ctx, roomID, userID)
	if err != nil {
		r.logger.WarnContext(ctx, "Membership check failed on join, continuing", "room_id", roomID, "user_id", userID, "error", err)
	}
	if member {
		return
	}
	if err := r.members.AddMember(ctx, roomID, userID); err != nil {
		r.logger.WarnContext(ctx, "Failed to enroll user on join, continuing", "room_id", roomID, "user_id", userID, "error", err)
		return
	}
	r.logger.InfoContext(ctx, "Enrolled user in open room", "room_id", roomID, "user_id", userID)
}

func (r *Registry) replayHistory(ctx context.Context, s *Session, roomID string) {
	if r.messages == nil {
		return
	}

	msgs, err := r.messages.ListRecentMessages(ctx, roomID, r.historyLimit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load message history", "room_id", roomID, "error", err)
		r.sendIfPresent(s, roomID, events.ErrorFrame(events.JoinRoom, roomID, domain.Unavailable("load history", err)))
		return
	}

	authors := make(map[string]events.UserInfo)
	history := make([]events.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		info, ok := authors[m.AuthorID]
		if !ok {
			info = r.profiles.Lookup(ctx, m.AuthorID)
			authors[m.AuthorID] = info
		}
		history = append(history, events.NewChatMessage(m, info))
	}

	r.sendIfPresent(s, roomID, events.MustEncode(events.MessageHistory, events.MessageHistoryPayload{RoomID: roomID, Messages: history}))
}

func (r *Registry) sendIfPresent(s *Session, roomID string, f events.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isPresentLocked(roomID, s.ID) {
		s.deliver(f)
	}
}

// Leave removes s from roomID and tells the remaining sessions. It reports
// whether s was present.
func (r *Registry) Leave(s *Session, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(s, strings.TrimSpace(roomID))
}

func (r *Registry) leaveLocked(s *Session, roomID string) bool {
	room := r.rooms[roomID]
	if _, ok := room[s.ID]; !ok {
		return false
	}
	delete(room, s.ID)
	delete(s.rooms, roomID)

	if len(room) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("Room emptied", "room_id", roomID)
	} else {
		left := events.MustEncode(events.UserLeft, events.MembershipPayload{RoomID: roomID, UserInfo: events.UserInfo{UserID: s.UserID, Name: s.Name}})
		r.broadcastRoomLocked(roomID, left, "")
	}

	r.logger.Info("Session left room", "room_id", roomID, "user_id", s.UserID, "session_id", s.ID)
	return true
}

// Disconnect leaves every room s is in and discards it. Later calls are
// no-ops, and a disconnected session can never join again.
func (r *Registry) Disconnect(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	defer s.stop()

	for roomID := range s.rooms {
		r.leaveLocked(s, roomID)
	}

	if !s.registered {
		return
	}
	delete(r.sessions, s.ID)

	userSessions := r.users[s.UserID]
	delete(userSessions, s.ID)
	if len(userSessions) > 0 {
		r.logger.Debug("Session closed, user still connected", "user_id", s.UserID, "session_id", s.ID, "remaining", len(userSessions))
		return
	}
	delete(r.users, s.UserID)

	if r.offlineDebounce <= 0 {
		r.announceOfflineLocked(s.UserID)
		return
	}

	if timer, pending := r.offline[s.UserID]; pending {
		timer.Stop()
	}
	userID := s.UserID
	r.offline[userID] = time.AfterFunc(r.offlineDebounce, func() { r.debouncedOffline(userID) })
	r.logger.Debug("Scheduled offline announcement", "user_id", userID, "delay", r.offlineDebounce)
}

func (r *Registry) debouncedOffline(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, pending := r.offline[userID]; !pending {
		return
	}
	delete(r.offline, userID)
	if len(r.users[userID]) > 0 {
		return
	}
	r.announceOfflineLocked(userID)
}

func (r *Registry) announceOfflineLocked(userID string) {
	r.logger.Info("User went offline", "user_id", userID)
	r.profiles.Forget(userID)
	r.broadcastAllLocked(events.MustEncode(events.PresenceUpdate, events.PresencePayload{UserID: userID, Status: events.StatusOffline}))
}

// Typing relays typing activity of s to the other sessions in roomID. It is
// ignored when s is not present there.
func (r *Registry) Typing(s *Session, roomID string, typing bool) bool {
	roomID = strings.TrimSpace(roomID)
	name := events.UserStoppedTyping
	if typing {
		name = events.UserTyping
	}
	f := events.MustEncode(name, events.TypingPayload{RoomID: roomID, UserID: s.UserID, Name: s.Name})

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isPresentLocked(roomID, s.ID) {
		return false
	}
	r.broadcastRoomLocked(roomID, f, s.ID)
	return true
}

// Broadcast queues f on every session present in roomID and returns how many
// sessions received it.
func (r *Registry) Broadcast(roomID string, f events.Frame) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastRoomLocked(roomID, f, "")
}

// SendToUser queues f on every session of userID held by this process.
func (r *Registry) SendToUser(userID string, f events.Frame) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.users[userID] {
		if s.deliver(f) {
			n++
		}
	}
	return n
}

func (r *Registry) broadcastRoomLocked(roomID string, f events.Frame, exclude string) int {
	n := 0
	for id, s := range r.rooms[roomID] {
		if id == exclude {
			continue
		}
		if s.deliver(f) {
			n++
		} else {
			r.logger.Warn("Dropped frame for slow or closing session", "room_id", roomID, "session_id", id)
		}
	}
	return n
}

func (r *Registry) broadcastAllLocked(f events.Frame) {
	for _, s := range r.sessions {
		s.deliver(f)
	}
}

func (r *Registry) isPresentLocked(roomID, sessionID string) bool {
	_, ok := r.rooms[roomID][sessionID]
	return ok
}

func (r *Registry) rosterLocked(roomID string) []events.UserInfo {
	seen := make(map[string]bool)
	users := make([]events.UserInfo, 0, len(r.rooms[roomID]))
	for _, s := range r.rooms[roomID] {
		if seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		users = append(users, s.Info())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}

// Roster returns the distinct users present in roomID.
func (r *Registry) Roster(roomID string) []events.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked(roomID)
}

// IsPresent reports whether the session is present in roomID.
func (r *Registry) IsPresent(roomID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPresentLocked(roomID, sessionID)
}

// IsOnline reports whether userID holds a session on this process.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users[userID]) > 0
}

// RoomsOf returns the rooms s is present in.
func (r *Registry) RoomsOf(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomCount returns the number of active rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SessionCount returns the number of connected sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown cancels pending offline announcements and drops every live
// session. Connection tasks see Done and close with a going-away status.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, timer := range r.offline {
		timer.Stop()
		delete(r.offline, userID)
	}
	for _, s := range r.sessions {
		s.stopWith(CloseShutdown)
	}
}
