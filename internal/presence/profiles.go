package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/events"
)

// DefaultProfileTTL bounds how long a resolved display name is reused.
const DefaultProfileTTL = 5 * time.Minute

type profileEntry struct {
	info    events.UserInfo
	expires time.Time
}

// Profiles resolves display metadata lazily and caches it. A missing profile
// degrades to the raw user id.
type Profiles struct {
	repo   domain.UserRepository
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]profileEntry
}

// NewProfiles wraps repo. A nil repo always yields the raw id.
func NewProfiles(repo domain.UserRepository, ttl time.Duration) *Profiles {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &Profiles{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("service", "profiles"),
		cache:  make(map[string]profileEntry),
	}
}

// Lookup returns display metadata for userID.
func (p *Profiles) Lookup(ctx context.Context, userID string) events.UserInfo {
	now := p.now()

	p.mu.Lock()
	if e, ok := p.cache[userID]; ok && now.Before(e.expires) {
		p.mu.Unlock()
		return e.info
	}
	p.mu.Unlock()

	if p.repo == nil {
		return events.UserInfoFrom(userID, nil)
	}

	u, err := p.repo.GetUser(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		u = nil
	case err != nil:
		// Not cached so the next lookup tries again.
		p.logger.WarnContext(ctx, "Profile lookup failed, using raw id", "user_id", userID, "error", err)
		return events.UserInfoFrom(userID, nil)
	}

	info := events.UserInfoFrom(userID, u)
	p.mu.Lock()
	p.cache[userID] = profileEntry{info: info, expires: now.Add(p.ttl)}
	p.mu.Unlock()
	return info
}

// Forget drops a cached entry. The registry calls it when a user goes
// offline so a reconnect picks up a renamed profile.
func (p *Profiles) Forget(userID string) {
	p.mu.Lock()
	delete(p.cache, userID)
	p.mu.Unlock()
}
