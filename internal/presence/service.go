package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/parley/internal/domain"
	"github.com/nfrund/parley/internal/events"
)

// Status is the published presence of a user.
type Status string

const (
	StatusOnline  Status = events.StatusOnline
	StatusOffline Status = events.StatusOffline
)

// Presence is the derived state of one user.
type Presence struct {
	UserID      string `json:"userId"`
	Status      Status `json:"status"`
	Connections int    `json:"connections"`
}

// Occupancy is the view of the session registry presence is derived from.
type Occupancy interface {
	IsOnline(userID string) bool
	OnlineUsers() []string
	ConnectionsOf(userID string) []string
}

// Service derives online/offline state from registry occupancy and publishes
// each transition exactly once through its Sink.
//
// It never trusts the reason it was called: every notification re-reads the
// registry under the service lock and compares against the last published
// state, so racing connects and disconnects collapse into the real transitions.
type Service struct {
	mu        sync.Mutex
	published map[string]Status
	names     map[string]string
	timers    map[string]*time.Timer

	occupancy       Occupancy
	sink            Sink
	offlineDebounce time.Duration
	onTransition    func(Status)
	logger          *slog.Logger
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithOfflineDebounce delays the offline broadcast so a quick reconnect (page
// reload, network blip) does not flap. Zero, the default, publishes offline
// immediately.
func WithOfflineDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.offlineDebounce = d
	}
}

// WithTransitionHook is called once per published transition.
func WithTransitionHook(fn func(Status)) Option {
	return func(s *Service) {
		s.onTransition = fn
	}
}

// NewService creates a new presence service.
func NewService(occupancy Occupancy, sink Sink, opts ...Option) *Service {
	svc := &Service{
		published: make(map[string]Status),
		names:     make(map[string]string),
		timers:    make(map[string]*time.Timer),
		occupancy: occupancy,
		sink:      sink,
		logger:    slog.Default().With("service", "presence"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Remember records the display name used in status events for a user. The
// name is forgotten once the user's offline event is published.
func (s *Service) Remember(profile domain.PublicProfile) {
	s.mu.Lock()
	s.names[profile.ID] = profile.Username
	s.mu.Unlock()
}

// OccupancyChanged is the registry observer. It reconciles userID's published
// state with the registry.
func (s *Service) OccupancyChanged(userID string) {
	s.reconcile(userID, false)
}

func (s *Service) reconcile(userID string, debounced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	online := s.occupancy.IsOnline(userID)
	current := StatusOffline
	if online {
		current = StatusOnline
		if t, ok := s.timers[userID]; ok {
			t.Stop()
			delete(s.timers, userID)
			s.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", userID)
		}
	}

	last, seen := s.published[userID]
	if !seen {
		last = StatusOffline
	}
	if last == current {
		return
	}

	if current == StatusOffline && s.offlineDebounce > 0 && !debounced {
		if _, pending := s.timers[userID]; !pending {
			s.timers[userID] = time.AfterFunc(s.offlineDebounce, func() {
				s.reconcile(userID, true)
			})
			s.logger.Debug("User has no more connections, scheduling offline event",
				"user_id", userID, "debounce_delay", s.offlineDebounce)
		}
		return
	}
	if debounced {
		delete(s.timers, userID)
	}

	if current == StatusOffline {
		delete(s.published, userID)
	} else {
		s.published[userID] = current
	}

	// Publishing under the lock keeps a user's transitions in order.
	s.publish(userID, current)
	if current == StatusOffline {
		delete(s.names, userID)
	}
}

func (s *Service) publish(userID string, status Status) {
	payload := events.StatusPayload{
		UserID:   userID,
		Username: s.names[userID],
		Status:   string(status),
	}
	frame, err := events.Encode(events.UserStatusChange, payload)
	if err != nil {
		s.logger.Error("Failed to encode presence update", "error", err)
		return
	}

	// Presence is best effort; a failed publish is logged and dropped.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.Publish(ctx, userID, frame); err != nil {
		s.logger.Warn("Failed to publish presence update", "user_id", userID, "status", status, "error", err)
		return
	}

	s.logger.Info("Published presence update", "user_id", userID, "status", status)
	if s.onTransition != nil {
		s.onTransition(status)
	}
}

// Announce re-broadcasts userID as online when they have a live connection.
// It does not change the derived state.
func (s *Service) Announce(ctx context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.occupancy.IsOnline(userID) {
		return
	}
	frame, err := events.Encode(events.UserStatusChange, events.StatusPayload{
		UserID:   userID,
		Username: s.names[userID],
		Status:   string(StatusOnline),
	})
	if err != nil {
		return
	}
	if err := s.sink.Publish(ctx, userID, frame); err != nil {
		s.logger.Warn("Failed to announce presence", "user_id", userID, "error", err)
	}
}

// GetPresence returns the current presence of userID.
func (s *Service) GetPresence(userID string) Presence {
	conns := len(s.occupancy.ConnectionsOf(userID))
	status := StatusOffline
	if conns > 0 {
		status = StatusOnline
	}
	return Presence{UserID: userID, Status: status, Connections: conns}
}

// GetOnlineUsers returns a list of currently online user IDs
func (s *Service) GetOnlineUsers() []string {
	return s.occupancy.OnlineUsers()
}

// Shutdown stops pending debounce timers.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, t := range s.timers {
		t.Stop()
		delete(s.timers, userID)
	}
}
