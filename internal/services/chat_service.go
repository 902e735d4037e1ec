package services

import (
	"context"
	"log"
	"sync"

	"chattrix/client/internal/models"
	"chattrix/client/internal/pool"
	"chattrix/client/internal/ws"
)

// RoomAPI is the backend surface for room listings.
type RoomAPI interface {
	PrivateRooms(ctx context.Context) ([]models.PrivateRoom, error)
	GroupRooms(ctx context.Context) ([]models.GroupRoom, error)
}

// ChatService wires the room listings, the connection registry and the
// message pipeline into one session.
type ChatService struct {
	registry *pool.Registry
	rooms    RoomAPI
	msgSvc   *MessageService
	unread   *UnreadService
	store    *MessageStore

	mu           sync.Mutex
	privateRooms []models.PrivateRoom
	groupRooms   []models.GroupRoom
	watched      map[*ws.Manager]bool
}

func NewChatService(registry *pool.Registry, rooms RoomAPI, msgSvc *MessageService, unread *UnreadService) *ChatService {
	return &ChatService{
		registry: registry,
		rooms:    rooms,
		msgSvc:   msgSvc,
		unread:   unread,
		store:    msgSvc.Store(),
		watched:  make(map[*ws.Manager]bool),
	}
}

// InitSession brings a fresh session up: room listings are fetched, history
// and unread counts are backfilled per room, and a connection is opened for
// every room plus the friends and notifications topics. Per-room failures
// are logged and do not abort the session.
func (cs *ChatService) InitSession(ctx context.Context) error {
	if err := cs.refreshRooms(ctx); err != nil {
		return err
	}

	refs := cs.roomRefs()

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(roomID int) {
			defer wg.Done()
			if !cs.store.HasMessages(roomID) {
				if _, err := cs.msgSvc.FetchHistory(ctx, roomID, false); err != nil {
					log.Printf("initial history for room %d failed: %v", roomID, err)
				}
			}
			count, err := cs.msgSvc.api.UnreadCount(ctx, roomID)
			if err != nil {
				log.Printf("unread count for room %d failed: %v", roomID, err)
				return
			}
			cs.unread.SeedFromServer(roomID, count)
		}(ref.ID)
	}
	wg.Wait()

	for _, ref := range refs {
		cs.connectRoom(ctx, ref.ID)
	}
	cs.watchTopic(ctx, cs.registry.Friends())
	cs.watchTopic(ctx, cs.registry.Notifications())

	log.Printf("session initialized with %d rooms", len(refs))
	return nil
}

func (cs *ChatService) refreshRooms(ctx context.Context) error {
	private, err := cs.rooms.PrivateRooms(ctx)
	if err != nil {
		return err
	}
	group, err := cs.rooms.GroupRooms(ctx)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	cs.privateRooms = private
	cs.groupRooms = group
	cs.mu.Unlock()
	return nil
}

func (cs *ChatService) roomRefs() []models.RoomRef {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	refs := make([]models.RoomRef, 0, len(cs.privateRooms)+len(cs.groupRooms))
	for _, r := range cs.privateRooms {
		refs = append(refs, models.RoomRef{ID: r.ID, Kind: models.RoomKindPrivate})
	}
	for _, r := range cs.groupRooms {
		refs = append(refs, models.RoomRef{ID: r.ID, Kind: models.RoomKindGroup})
	}
	return refs
}

func (cs *ChatService) PrivateRooms() []models.PrivateRoom {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]models.PrivateRoom, len(cs.privateRooms))
	copy(out, cs.privateRooms)
	return out
}

func (cs *ChatService) GroupRooms() []models.GroupRoom {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]models.GroupRoom, len(cs.groupRooms))
	copy(out, cs.groupRooms)
	return out
}

// connectRoom opens the room's connection if it is not already up, starting
// a watcher for its event stream exactly once per manager.
func (cs *ChatService) connectRoom(ctx context.Context, roomID int) {
	mgr := cs.registry.Room(roomID)
	cs.watchTopic(ctx, mgr)
	switch mgr.Status() {
	case ws.StatusConnected, ws.StatusConnecting:
	default:
		mgr.Connect()
	}
}

func (cs *ChatService) watchTopic(ctx context.Context, mgr *ws.Manager) {
	cs.mu.Lock()
	if cs.watched[mgr] {
		cs.mu.Unlock()
		return
	}
	cs.watched[mgr] = true
	cs.mu.Unlock()

	switch mgr.Status() {
	case ws.StatusConnected, ws.StatusConnecting:
	default:
		mgr.Connect()
	}

	go func() {
		for ev := range mgr.Events() {
			if ev.Kind != ws.EventMessage || ev.Envelope == nil {
				continue
			}
			switch ev.Envelope.Type {
			case models.PushTypeChatMessage:
				cs.unread.HandleIncoming(ctx, ev.Envelope.Message())
			case models.PushTypeRoomCreated:
				if _, err := cs.RefreshNewChatRooms(ctx); err != nil {
					log.Printf("refreshing rooms after creation push failed: %v", err)
				}
			}
		}
	}()
}

// RefreshNewChatRooms re-fetches the room listings and, for each room that
// was not present before, bumps its unread counters and opens a connection.
// It returns the newly discovered rooms.
func (cs *ChatService) RefreshNewChatRooms(ctx context.Context) ([]models.RoomRef, error) {
	before := make(map[int]bool)
	for _, ref := range cs.roomRefs() {
		before[ref.ID] = true
	}

	if err := cs.refreshRooms(ctx); err != nil {
		return nil, err
	}

	var added []models.RoomRef
	for _, ref := range cs.roomRefs() {
		if before[ref.ID] {
			continue
		}
		added = append(added, ref)
		cs.unread.Increment(ref.ID)
		cs.connectRoom(ctx, ref.ID)
	}
	if len(added) > 0 {
		log.Printf("discovered %d new rooms", len(added))
	}
	return added, nil
}

// ReconnectAll forces every managed connection to dial again. Used after a
// network change.
func (cs *ChatService) ReconnectAll() {
	cs.registry.ReconnectAll()
}

// CleanupCurrentRoomConnection tears down the active room's connection when
// the user leaves the chat surface.
func (cs *ChatService) CleanupCurrentRoomConnection() {
	if roomID, ok := cs.unread.ActiveRoom(); ok {
		cs.registry.CloseRoom(roomID)
	}
}

// Logout discards all session state and closes every connection.
func (cs *ChatService) Logout() {
	cs.store.Clear()
	cs.unread.Reset()
	cs.msgSvc.ClearTrackers()
	cs.registry.CloseAll()

	cs.mu.Lock()
	cs.privateRooms = nil
	cs.groupRooms = nil
	cs.watched = make(map[*ws.Manager]bool)
	cs.mu.Unlock()
}
