package app

import (
	"github.com/nfrund/roomcast/internal/auth"
	"github.com/nfrund/roomcast/internal/chat"
	"github.com/nfrund/roomcast/internal/config"
	"github.com/nfrund/roomcast/internal/notify"
	"github.com/nfrund/roomcast/internal/presence"
	"github.com/nfrund/roomcast/internal/pubsub"
	"github.com/nfrund/roomcast/internal/server"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
)

// Tracing holds the process tracer. Its provider is flushed on shutdown.
type Tracing struct {
	Tracer  trace.Tracer
	cleanup func()
}

func (t *Tracing) Shutdown() {
	t.cleanup()
}

func (a *App) provideTracing(i do.Injector) (*Tracing, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tracer, cleanup, err := pubsub.SetupOTel(a.ctx, pubsub.TracingConfigFrom(cfg))
	if err != nil {
		return nil, err
	}
	return &Tracing{Tracer: tracer, cleanup: cleanup}, nil
}

// provideVerifier prefers a public key over the shared secret. A key given
// as a path can be watched for rotation.
func (a *App) provideVerifier(i do.Injector) (*auth.Verifier, error) {
	cfg := do.MustInvoke[*config.Config](i)
	fs := do.MustInvoke[afero.Fs](i)

	var opts []auth.VerifierOption
	if cfg.JWTIssuer != "" {
		opts = append(opts, auth.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		opts = append(opts, auth.WithAudience(cfg.JWTAudience))
	}

	if cfg.JWTPublicKey == "" {
		return auth.NewHMACVerifier([]byte(cfg.JWTSecret), opts...), nil
	}

	pub, err := auth.ParsePublicKey(fs, cfg.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewKeyVerifier(pub, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.JWTWatchKey && !auth.IsInlinePEM(cfg.JWTPublicKey) {
		if _, err := auth.WatchPublicKey(a.ctx, fs, cfg.JWTPublicKey, verifier); err != nil {
			return nil, err
		}
	}
	a.logger.Info("Verifying credentials with public key", "alg", auth.KeyAlg(pub))
	return verifier, nil
}

func provideRevocations(i do.Injector) (*auth.RevocationStore, error) {
	return auth.NewRevocationStore(do.MustInvoke[Store](i)), nil
}

func provideGate(i do.Injector) (*auth.Gate, error) {
	return auth.NewGate(
		do.MustInvoke[*auth.Verifier](i),
		do.MustInvoke[*auth.RevocationStore](i),
	), nil
}

func providePurger(i do.Injector) (*auth.Purger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return auth.NewPurger(do.MustInvoke[*auth.RevocationStore](i), cfg.RevocationPurgeInterval, nil), nil
}

func provideRegistry(i do.Injector) (*presence.Registry, error) {
	cfg := do.MustInvoke[*config.Config](i)
	store := do.MustInvoke[Store](i)
	return presence.NewRegistry(store, store, store,
		presence.WithHistoryLimit(cfg.HistoryLimit),
		presence.WithOfflineDebounce(cfg.OfflineDebounce),
	), nil
}

// managedBridge ties a notification bridge to the container lifecycle.
type managedBridge struct {
	notify.Bridge
}

func (b managedBridge) Shutdown() error {
	return b.Close()
}

func (a *App) provideBridge(i do.Injector) (notify.Bridge, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tracing := do.MustInvoke[*Tracing](i)
	bridge, err := notify.NewBridge(a.ctx, cfg, tracing.Tracer)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Notification bridge ready", "driver", cfg.BridgeDriver)
	return managedBridge{bridge}, nil
}

func provideChat(i do.Injector) (*chat.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	store := do.MustInvoke[Store](i)
	return chat.NewService(chat.Dependencies{
		Members:       store,
		Messages:      store,
		Topics:        store,
		Notifications: store,
		Rooms:         do.MustInvoke[*presence.Registry](i),
		Bridge:        do.MustInvoke[notify.Bridge](i),
	},
		chat.WithBaseURL(cfg.AppBaseURL),
		chat.WithBodyLimit(cfg.NotificationBodyLimit),
	), nil
}

func provideServer(i do.Injector) (*server.Server, error) {
	return server.New(server.Dependencies{
		Config:   do.MustInvoke[*config.Config](i),
		Gate:     do.MustInvoke[*auth.Gate](i),
		Revoker:  do.MustInvoke[*auth.RevocationStore](i),
		Registry: do.MustInvoke[*presence.Registry](i),
		Chat:     do.MustInvoke[*chat.Service](i),
		Store:    do.MustInvoke[Store](i),
	})
}
