package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/domain"
	"github.com/nfrund/roomcast/internal/notify"
	"github.com/nfrund/roomcast/internal/testutils"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "app-test-secret-0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:              "127.0.0.1:0",
		AppBaseURL:              "http://localhost:8080",
		StoreDriver:             config.StoreSurreal,
		BridgeDriver:            config.BridgeDirect,
		BridgeChannel:           "notification-created",
		JWTSecret:               testSecret,
		HistoryLimit:            50,
		RevocationPurgeInterval: time.Hour,
		NotificationBodyLimit:   140,
		WSMessageRate:           5,
		WSMessageBurst:          10,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) (*App, *testutils.MemoryStore) {
	t.Helper()
	store := testutils.NewMemoryStore()
	a, err := New(cfg, append([]Option{WithStore(store)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, store
}

func serve(t *testing.T, a *App, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	srv, err := a.Server()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.E.ServeHTTP(rec, req)
	return rec
}

func TestNew_WiresHTTPSurface(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	rec := serve(t, a, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	gate, err := do.Invoke[*auth.Gate](a.Injector())
	require.NoError(t, err)
	assert.NotNil(t, gate)
}

func TestNew_LogoutRevokesThroughSharedStore(t *testing.T) {
	a, store := newTestApp(t, testConfig())
	token, err := auth.NewHMACTestSigner([]byte(testSecret)).Issue("u1", "Ada", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := serve(t, a, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, store.RevokedCount())

	gate := do.MustInvoke[*auth.Gate](a.Injector())
	_, err = gate.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestNew_PublicKeyFromFile(t *testing.T) {
	signer, pubPEM, err := auth.NewECDSATestSigner()
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/keys/jwt.pub", []byte(pubPEM), 0o600))

	cfg := testConfig()
	cfg.JWTSecret = ""
	cfg.JWTPublicKey = "/keys/jwt.pub"
	a, store := newTestApp(t, cfg, WithFs(fs))
	require.NoError(t, store.AddMember(context.Background(), "r1", "u1"))

	token, err := signer.Issue("u1", "Ada", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/r1/presence", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := serve(t, a, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"roomId":"r1"`)
}

func TestNew_UnknownStoreDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "bogus"

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	_, err = a.Server()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")

	_, err = a.Revocations()
	assert.Error(t, err)
}

func TestRevocations_WithoutHTTPSurface(t *testing.T) {
	a, store := newTestApp(t, testConfig())

	revocations, err := a.Revocations()
	require.NoError(t, err)
	require.NoError(t, revocations.Revoke(context.Background(), "some-token", domain.TokenRefresh, nil))
	assert.Equal(t, 1, store.RevokedCount())
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestShutdown_ClosesBridge(t *testing.T) {
	store := testutils.NewMemoryStore()
	a, err := New(testConfig(), WithStore(store))
	require.NoError(t, err)

	_, err = a.Server()
	require.NoError(t, err)
	bridge := do.MustInvoke[notify.Bridge](a.Injector())
	require.NoError(t, a.Shutdown(context.Background()))

	err = bridge.Subscribe(context.Background(), func(context.Context, *domain.Notification) error { return nil })
	assert.ErrorIs(t, err, notify.ErrBridgeClosed)
}

func TestRun_StopsWithContext(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
