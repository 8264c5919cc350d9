package app

import (
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
)

// packages lists the providers of every service, grouped by layer.
// Services are built on first use.
func (a *App) packages() []func(do.Injector) {
	infrastructure := do.Package(
		do.Eager(a.cfg),
		do.Eager[afero.Fs](afero.NewOsFs()),
		do.Lazy(a.provideTracing),
		do.Lazy(a.provideStore),
	)

	authentication := do.Package(
		do.Lazy(a.provideVerifier),
		do.Lazy(provideRevocations),
		do.Lazy(provideGate),
		do.Lazy(providePurger),
	)

	realtime := do.Package(
		do.Lazy(provideRegistry),
		do.Lazy(a.provideBridge),
		do.Lazy(provideChat),
		do.Lazy(provideServer),
	)

	return []func(do.Injector){infrastructure, authentication, realtime}
}
