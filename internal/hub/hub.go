package hub

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

var (
	// ErrUnknownConnection is returned when an operation names a connection the
	// registry does not hold.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrEndpointFull and ErrEndpointClosed are the two ways an Endpoint
	// refuses a payload. Only a full endpoint counts as a dropped delivery.
	ErrEndpointFull   = errors.New("endpoint buffer full")
	ErrEndpointClosed = errors.New("endpoint closed")
)

// Room name prefixes. Rooms are a flat string namespace.
const (
	conversationPrefix = "conversation:"
	userPrefix         = "user:"
)

// ConversationRoom names the broadcast room of a conversation.
func ConversationRoom(conversationID string) string { return conversationPrefix + conversationID }

// UserRoom names the personal room of a user.
func UserRoom(userID string) string { return userPrefix + userID }

// Endpoint receives encoded events for one connection. Deliver must not block;
// it returns ErrEndpointFull or ErrEndpointClosed when the payload was not
// accepted.
type Endpoint interface {
	Deliver(payload []byte) error
}

// OccupancyObserver is told about a user whose live connection count moved
// between zero and non-zero. It runs outside the registry lock.
type OccupancyObserver func(userID string)

type session struct {
	userID   string
	endpoint Endpoint
	rooms    map[string]struct{}
}

// Registry is the process-local session registry. A single mutex owns the
// connection, user and room sets so register, unregister, join and leave are
// serialized with each other.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*session
	users map[string]map[string]struct{}
	rooms map[string]map[string]struct{}

	observers []OccupancyObserver
	onDrop    func()
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver registers an occupancy observer.
func WithObserver(o OccupancyObserver) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithDropHook is called once for every payload a slow endpoint dropped.
func WithDropHook(fn func()) Option {
	return func(r *Registry) { r.onDrop = fn }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[string]*session),
		users:  make(map[string]map[string]struct{}),
		rooms:  make(map[string]map[string]struct{}),
		logger: slog.Default().With("service", "hub"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe adds an occupancy observer after construction. It is meant for
// wiring at startup, before connections arrive.
func (r *Registry) Observe(o OccupancyObserver) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Register adds a connection for userID and joins it to the user's personal
// room. Registering the same connID again is a no-op. first reports whether
// this was the user's first live connection.
func (r *Registry) Register(userID, connID string, ep Endpoint) (first bool) {
	r.mu.Lock()
	if _, exists := r.conns[connID]; exists {
		r.mu.Unlock()
		return false
	}

	personal := UserRoom(userID)
	r.conns[connID] = &session{
		userID:   userID,
		endpoint: ep,
		rooms:    map[string]struct{}{personal: {}},
	}
	r.addRoomMember(personal, connID)

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	first = len(set) == 0
	set[connID] = struct{}{}
	observers := r.observers
	r.mu.Unlock()

	r.logger.Debug("Connection registered", "user_id", userID, "conn_id", connID, "first", first)
	if first {
		notify(observers, userID)
	}
	return first
}

// Unregister removes a connection from every room it joined. last reports
// whether it was the user's last live connection.
func (r *Registry) Unregister(connID string) (userID string, last bool) {
	r.mu.Lock()
	s, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.conns, connID)
	for room := range s.rooms {
		r.removeRoomMember(room, connID)
	}

	userID = s.userID
	if set := r.users[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
			last = true
		}
	}
	observers := r.observers
	r.mu.Unlock()

	r.logger.Debug("Connection unregistered", "user_id", userID, "conn_id", connID, "last", last)
	if last {
		notify(observers, userID)
	}
	return userID, last
}

// Join adds connID to room.
func (r *Registry) Join(connID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	s.rooms[room] = struct{}{}
	r.addRoomMember(room, connID)
	return nil
}

// Leave removes connID from room. Leaving a room that was never joined, or
// leaving from an unknown connection, is a no-op.
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(s.rooms, room)
	r.removeRoomMember(room, connID)
}

// InRoom reports whether connID has joined room.
func (r *Registry) InRoom(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, in := s.rooms[room]
	return in
}

// JoinedRooms lists the rooms of connID in sorted order.
func (r *Registry) JoinedRooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.conns[connID]
	if !ok {
		return nil
	}
	rooms := lo.Keys(s.rooms)
	sort.Strings(rooms)
	return rooms
}

// ConnectionsOf lists the live connection ids of userID in sorted order.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := lo.Keys(r.users[userID])
	sort.Strings(conns)
	return conns
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers lists every user with a live connection, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := lo.Keys(r.users)
	sort.Strings(users)
	return users
}

// Stats is a point-in-time view of the registry's size.
type Stats struct {
	Connections int
	Users       int
	Rooms       int
}

// Stats returns the current registry size.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.conns), Users: len(r.users), Rooms: len(r.rooms)}
}

// ToRoom delivers payload to every connection in room whose user is not
// exceptUser. It returns the number of connections that accepted it.
func (r *Registry) ToRoom(room string, payload []byte, exceptUser string) int {
	r.mu.RLock()
	targets := make([]Endpoint, 0, len(r.rooms[room]))
	for connID := range r.rooms[room] {
		s := r.conns[connID]
		if s == nil || (exceptUser != "" && s.userID == exceptUser) {
			continue
		}
		targets = append(targets, s.endpoint)
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload, room)
}

// ToConn delivers payload to a single connection.
func (r *Registry) ToConn(connID string, payload []byte) bool {
	r.mu.RLock()
	s, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.deliver([]Endpoint{s.endpoint}, payload, connID) == 1
}

// ToAll delivers payload to every live connection not owned by exceptUser.
func (r *Registry) ToAll(payload []byte, exceptUser string) int {
	r.mu.RLock()
	targets := make([]Endpoint, 0, len(r.conns))
	for _, s := range r.conns {
		if exceptUser != "" && s.userID == exceptUser {
			continue
		}
		targets = append(targets, s.endpoint)
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload, "*")
}

func (r *Registry) deliver(targets []Endpoint, payload []byte, target string) int {
	delivered := 0
	for _, ep := range targets {
		err := ep.Deliver(payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrEndpointClosed):
			r.logger.Debug("Skipping event for closing connection", "target", target)
		default:
			r.logger.Warn("Dropping event for slow connection", "target", target, "error", err)
			if r.onDrop != nil {
				r.onDrop()
			}
		}
	}
	return delivered
}

func (r *Registry) addRoomMember(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}
}

func (r *Registry) removeRoomMember(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func notify(observers []OccupancyObserver, userID string) {
	for _, o := range observers {
		o(userID)
	}
}
