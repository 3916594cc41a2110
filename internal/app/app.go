// Package app builds the server's object graph. Services are registered with
// a samber/do injector and constructed lazily on first use.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/do/v2"

	"github.com/nfrund/parley/internal/auth"
	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/pubsub"
	"github.com/nfrund/parley/internal/websocket"
)

type closer struct {
	name string
	fn   func() error
}

// App owns the injector and the resources its providers opened.
type App struct {
	injector *do.RootScope
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	closers []closer
}

// New registers every provider. Nothing is constructed until it is invoked.
func New(cfg config.Provider) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{ctx: ctx, cancel: cancel}

	i := do.New()
	do.ProvideValue[config.Provider](i, cfg)
	do.Provide(i, a.provideStore)
	do.Provide(i, a.provideRegistry)
	do.Provide(i, a.provideEmitter)
	do.Provide(i, a.providePresence)
	do.Provide(i, a.provideChat)
	do.Provide(i, a.provideSigner)
	do.Provide(i, a.provideVerifier)
	do.Provide(i, a.provideGateway)
	a.injector = i
	return a
}

func (a *App) onClose(name string, fn func() error) {
	a.mu.Lock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
	a.mu.Unlock()
}

// Store returns the message store.
func (a *App) Store() (database.Store, error) { return do.Invoke[database.Store](a.injector) }

// Registry returns the session registry.
func (a *App) Registry() (*hub.Registry, error) { return do.Invoke[*hub.Registry](a.injector) }

// Emitter returns the delivery bus.
func (a *App) Emitter() (pubsub.Emitter, error) { return do.Invoke[pubsub.Emitter](a.injector) }

// Presence returns the presence broadcaster.
func (a *App) Presence() (*presence.Service, error) { return do.Invoke[*presence.Service](a.injector) }

// Chat returns the chat core.
func (a *App) Chat() (*chat.Service, error) { return do.Invoke[*chat.Service](a.injector) }

// Signer returns the token signer.
func (a *App) Signer() (*auth.Signer, error) { return do.Invoke[*auth.Signer](a.injector) }

// Verifier returns the credential verifier.
func (a *App) Verifier() (auth.Verifier, error) { return do.Invoke[auth.Verifier](a.injector) }

// Gateway returns the websocket gateway. Invoking it builds everything the
// event path needs, including the presence broadcaster.
func (a *App) Gateway() (*websocket.Gateway, error) {
	return do.Invoke[*websocket.Gateway](a.injector)
}

// Close releases opened resources in reverse order of acquisition.
func (a *App) Close() error {
	a.cancel()

	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for k := len(closers) - 1; k >= 0; k-- {
		c := closers[k]
		if err := c.fn(); err != nil {
			slog.Error("Failed to close resource", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("closing %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
