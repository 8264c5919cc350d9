package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/database"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString(nil).Valid)
	s := "x"
	assert.Equal(t, sql.NullString{String: "x", Valid: true}, nullString(&s))
	assert.Nil(t, stringPtr(sql.NullString{}))
	assert.Equal(t, "x", *stringPtr(sql.NullString{String: "x", Valid: true}))

	assert.False(t, nullTime(nil).Valid)
	now := time.Now()
	assert.True(t, now.Equal(*timePtr(nullTime(&now))))
}

func TestTimeoutOverride(t *testing.T) {
	s := NewStore(nil, WithTimeouts(time.Second, 0))
	assert.Equal(t, time.Second, s.queryTimeout)
	assert.Equal(t, 10*time.Second, s.executeTimeout)

	ctx, cancel := s.readContext(database.WithQueryTimeout(context.Background(), time.Minute))
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 200*time.Millisecond)
}

func setupStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "postgres")
	cfg := testutils.ConfigForTests(t, "DATABASE_URL")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewStore(db, WithTimeouts(cfg.GetDBQueryTimeout(), cfg.GetDBExecuteTimeout()))
	require.NoError(t, store.Bootstrap(ctx))

	userID := "u-" + uuid.NewString()[:8]
	roomID := "t-" + uuid.NewString()[:8]
	_, err = db.ExecContext(ctx, `INSERT INTO users (id, name) VALUES ($1, 'Test User')`, userID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO topics (id, name) VALUES ($1, 'Test Topic')`, roomID)
	require.NoError(t, err)
	return store, userID, roomID
}

func TestStoreIntegration(t *testing.T) {
	store, userID, roomID := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	t.Run("users and topics", func(t *testing.T) {
		u, err := store.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "Test User", u.Name)
		assert.Nil(t, u.AvatarURL)

		_, err = store.GetUser(ctx, "missing-"+userID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		topic, err := store.GetTopic(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, "Test Topic", topic.Name)
	})

	t.Run("membership is idempotent", func(t *testing.T) {
		require.NoError(t, store.AddMember(ctx, roomID, userID))
		require.NoError(t, store.AddMember(ctx, roomID, userID))

		ok, err := store.IsMember(ctx, roomID, userID)
		require.NoError(t, err)
		assert.True(t, ok)

		members, err := store.ListMembers(ctx, roomID)
		require.NoError(t, err)
		assert.Equal(t, []string{userID}, members)
	})

	t.Run("recent messages are the newest, oldest first", func(t *testing.T) {
		base := time.Now().Add(-time.Hour)
		for i := range 5 {
			at := base.Add(time.Duration(i) * time.Second)
			store.now = func() time.Time { return at }
			_, err := store.InsertMessage(ctx, roomID, userID, fmt.Sprintf("m%d", i))
			require.NoError(t, err)
		}
		store.now = time.Now

		msgs, err := store.ListRecentMessages(ctx, roomID, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"m2", "m3", "m4"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	})

	t.Run("same timestamp keeps insertion order", func(t *testing.T) {
		tieRoom := roomID + "-tie"
		at := time.Now().Add(-30 * time.Minute)
		store.now = func() time.Time { return at }
		for i := range 4 {
			_, err := store.InsertMessage(ctx, tieRoom, userID, fmt.Sprintf("t%d", i))
			require.NoError(t, err)
		}
		store.now = time.Now

		msgs, err := store.ListRecentMessages(ctx, tieRoom, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"t1", "t2", "t3"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	})

	t.Run("notification insert", func(t *testing.T) {
		link := "/topics/" + roomID
		n, err := store.InsertNotification(ctx, &domain.Notification{
			RecipientID: userID,
			Type:        domain.NotificationMessage,
			Title:       "New message",
			Link:        &link,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, n.ID)
		assert.Nil(t, n.Body)
		require.NotNil(t, n.Link)
		assert.Equal(t, link, *n.Link)
	})

	t.Run("revocation lifecycle", func(t *testing.T) {
		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)
		expired := auth.HashToken("expired-" + roomID)
		active := auth.HashToken("active-" + roomID)
		forever := auth.HashToken("forever-" + roomID)

		require.NoError(t, store.InsertRevokedToken(ctx, &domain.RevokedToken{TokenHash: expired, Type: domain.TokenAccess, ExpiresAt: &past}))
		require.NoError(t, store.InsertRevokedToken(ctx, &domain.RevokedToken{TokenHash: active, Type: domain.TokenAccess, ExpiresAt: &future}))
		require.NoError(t, store.InsertRevokedToken(ctx, &domain.RevokedToken{TokenHash: active, Type: domain.TokenAccess, ExpiresAt: &future}))
		require.NoError(t, store.InsertRevokedToken(ctx, &domain.RevokedToken{TokenHash: forever, Type: domain.TokenRefresh}))

		for hash, want := range map[string]bool{expired: false, active: true, forever: true} {
			got, err := store.IsTokenRevoked(ctx, hash, now)
			require.NoError(t, err)
			assert.Equal(t, want, got, hash)
		}

		n, err := store.DeleteExpiredTokens(ctx, now)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		got, err := store.IsTokenRevoked(ctx, expired, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, got, "purged record is gone")
	})
}
