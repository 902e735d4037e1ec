package pool

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"chattrix/client/internal/ws"
)

// Topic names for the two cross-room push channels.
const (
	TopicFriends       = "friends"
	TopicNotifications = "notifications"
)

// Registry is the session-scoped set of connection managers: one per room
// id plus the friends and notifications singletons. Managers are created
// lazily on first request and cached; the registry never holds two live
// managers for the same key.
type Registry struct {
	baseURL string
	token   string
	cfg     ws.Config

	mu     sync.Mutex
	rooms  map[int]*ws.Manager
	topics map[string]*ws.Manager
}

func NewRegistry(baseURL, token string, cfg ws.Config) *Registry {
	return &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		cfg:     cfg,
		rooms:   make(map[int]*ws.Manager),
		topics:  make(map[string]*ws.Manager),
	}
}

// Room returns the manager for a room, creating it on first request.
func (r *Registry) Room(roomID int) *ws.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	mgr, ok := r.rooms[roomID]
	if !ok {
		mgr = ws.NewManager(fmt.Sprintf("%s/ws/chat/%d/", r.baseURL, roomID), r.token, r.cfg)
		r.rooms[roomID] = mgr
	}
	return mgr
}

// Friends returns the singleton friend-events manager.
func (r *Registry) Friends() *ws.Manager {
	return r.topic(TopicFriends)
}

// Notifications returns the singleton system-notifications manager.
func (r *Registry) Notifications() *ws.Manager {
	return r.topic(TopicNotifications)
}

func (r *Registry) topic(name string) *ws.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	mgr, ok := r.topics[name]
	if !ok {
		mgr = ws.NewManager(fmt.Sprintf("%s/ws/%s/", r.baseURL, name), r.token, r.cfg)
		r.topics[name] = mgr
	}
	return mgr
}

// RoomIDs lists the room ids with a cached manager.
func (r *Registry) RoomIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	return ids
}

// CloseRoom destroys and evicts one room connection.
func (r *Registry) CloseRoom(roomID int) {
	r.mu.Lock()
	mgr, ok := r.rooms[roomID]
	if ok {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()

	if ok {
		mgr.Destroy()
		log.Printf("room %d connection removed from registry", roomID)
	}
}

// CloseAll destroys and evicts every connection. Used on session end.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	managers := make([]*ws.Manager, 0, len(r.rooms)+len(r.topics))
	for _, mgr := range r.rooms {
		managers = append(managers, mgr)
	}
	for _, mgr := range r.topics {
		managers = append(managers, mgr)
	}
	r.rooms = make(map[int]*ws.Manager)
	r.topics = make(map[string]*ws.Manager)
	r.mu.Unlock()

	for _, mgr := range managers {
		mgr.Destroy()
	}
	log.Printf("closed %d connections", len(managers))
}

// ReconnectAll re-invokes Connect on every live entry, e.g. after the
// process resumes from background.
func (r *Registry) ReconnectAll() {
	r.mu.Lock()
	managers := make([]*ws.Manager, 0, len(r.rooms)+len(r.topics))
	for _, mgr := range r.rooms {
		managers = append(managers, mgr)
	}
	for _, mgr := range r.topics {
		managers = append(managers, mgr)
	}
	r.mu.Unlock()

	for _, mgr := range managers {
		mgr.Connect()
	}
}
