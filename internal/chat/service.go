// Package chat holds the conversation gateway, message router, read-receipt
// tracker and typing relay. The websocket and REST surfaces both call into
// Service, so membership and validation rules are enforced in one place.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nfrund/parley/internal/database"
	"github.com/nfrund/parley/internal/metrics"
	"github.com/nfrund/parley/internal/pubsub"
)

// DefaultMaxMessageLength is the longest accepted message, in characters.
const DefaultMaxMessageLength = 4000

// Rooms is the part of the session registry the gateway mutates.
type Rooms interface {
	Join(connID, room string) error
	Leave(connID, room string)
}

// Service implements the chat operations shared by every ingress path.
type Service struct {
	store    database.Store
	emitter  pubsub.Emitter
	rooms    Rooms
	validate *validator.Validate
	maxLen   int
	logger   *slog.Logger
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithMaxMessageLength overrides DefaultMaxMessageLength.
func WithMaxMessageLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// WithValidator shares a validator instance with the HTTP layer.
func WithValidator(v *validator.Validate) Option {
	return func(s *Service) {
		if v != nil {
			s.validate = v
		}
	}
}

// NewService creates a new chat service.
func NewService(store database.Store, emitter pubsub.Emitter, rooms Rooms, opts ...Option) *Service {
	s := &Service{
		store:    store,
		emitter:  emitter,
		rooms:    rooms,
		validate: validator.New(),
		maxLen:   DefaultMaxMessageLength,
		logger:   slog.Default().With("service", "chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxMessageLength reports the configured content limit.
func (s *Service) MaxMessageLength() int {
	return s.maxLen
}

// emit hands d to the emitter. Fan-out failures are logged and never abort
// the operation that produced them.
func (s *Service) emit(ctx context.Context, d pubsub.Delivery) {
	if err := s.emitter.Emit(ctx, d); err != nil {
		s.logger.Warn("Failed to emit event", "kind", d.Kind, "target", d.Target, "error", err)
	}
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
