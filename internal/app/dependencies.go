package app

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/nfrund/parley/internal/auth"
	"github.com/nfrund/parley/internal/chat"
	"github.com/nfrund/parley/internal/config"
	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/hub"
	"github.com/nfrund/parley/internal/metrics"
	"github.com/nfrund/parley/internal/presence"
	"github.com/nfrund/parley/internal/pubsub"
	"github.com/nfrund/parley/internal/websocket"
)

// provideStore opens the configured message store.
func (a *App) provideStore(i do.Injector) (database.Store, error) {
	cfg := do.MustInvoke[config.Provider](i)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetStoreTimeout()*3)
	defer cancel()

	store, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.GetStoreDriver(), err)
	}
	a.onClose("store", store.Close)
	return store, nil
}

func (a *App) provideRegistry(do.Injector) (*hub.Registry, error) {
	reg := hub.New(hub.WithDropHook(metrics.DeliveriesDropped.Inc))
	reg.Observe(func(string) {
		metrics.UsersOnline.Set(float64(reg.Stats().Users))
	})
	return reg, nil
}

// provideEmitter routes every delivery through the watermill bus, traced when
// tracing is enabled.
func (a *App) provideEmitter(i do.Injector) (pubsub.Emitter, error) {
	cfg := do.MustInvoke[config.Provider](i)
	reg := do.MustInvoke[*hub.Registry](i)

	tracer, stopTracing, err := pubsub.SetupOTel(context.Background(), pubsub.TracingConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.onClose("tracing", func() error { stopTracing(); return nil })

	bridge := pubsub.NewWatermillBridge(pubsub.WithTracer(tracer), pubsub.WithBlockingPublish())
	a.onClose("bus", bridge.Close)

	bus, err := pubsub.NewBus(a.ctx, bridge, bridge, reg)
	if err != nil {
		return nil, err
	}
	return bus, nil
}

func (a *App) providePresence(i do.Injector) (*presence.Service, error) {
	cfg := do.MustInvoke[config.Provider](i)
	reg := do.MustInvoke[*hub.Registry](i)
	emitter := do.MustInvoke[pubsub.Emitter](i)

	var sink presence.Sink = presence.GlobalSink{Emitter: emitter}
	if cfg.GetPresenceScope() == config.PresenceScopePeers {
		sink = presence.PeerSink{Emitter: emitter, Peers: do.MustInvoke[database.Store](i)}
	}

	svc := presence.NewService(reg, sink,
		presence.WithOfflineDebounce(cfg.GetOfflineDebounce()),
		presence.WithTransitionHook(func(s presence.Status) {
			metrics.PresenceTransitions.WithLabelValues(string(s)).Inc()
		}),
	)
	reg.Observe(svc.OccupancyChanged)
	a.onClose("presence", func() error { svc.Shutdown(); return nil })
	return svc, nil
}

func (a *App) provideChat(i do.Injector) (*chat.Service, error) {
	cfg := do.MustInvoke[config.Provider](i)
	return chat.NewService(
		do.MustInvoke[database.Store](i),
		do.MustInvoke[pubsub.Emitter](i),
		do.MustInvoke[*hub.Registry](i),
		chat.WithMaxMessageLength(cfg.GetMaxMessageLength()),
	), nil
}

func (a *App) provideSigner(i do.Injector) (*auth.Signer, error) {
	cfg := do.MustInvoke[config.Provider](i)
	return auth.NewSigner([]byte(cfg.GetJWTSecret())), nil
}

func (a *App) provideVerifier(i do.Injector) (auth.Verifier, error) {
	return auth.NewJWTVerifier(
		do.MustInvoke[*auth.Signer](i),
		do.MustInvoke[database.Store](i),
	), nil
}

func (a *App) provideGateway(i do.Injector) (*websocket.Gateway, error) {
	cfg := do.MustInvoke[config.Provider](i)
	return websocket.NewGateway(
		do.MustInvoke[auth.Verifier](i),
		do.MustInvoke[*hub.Registry](i),
		do.MustInvoke[*chat.Service](i),
		do.MustInvoke[*presence.Service](i),
		websocket.Options{
			SendBuffer:      cfg.GetSendBuffer(),
			InboundBuffer:   cfg.GetInboundBuffer(),
			EventsPerSecond: cfg.GetEventsPerSecond(),
			EventBurst:      cfg.GetEventBurst(),
			StoreTimeout:    cfg.GetStoreTimeout(),
			AllowedOrigins:  cfg.GetAllowedOrigins(),
		},
	), nil
}
