package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"chattrix/client/internal/models"
)

const readDebounceWindow = 100 * time.Millisecond

type debounceState int

const (
	debounceIdle debounceState = iota
	debounceCollecting
	debounceDraining
)

// roomBuffer holds the per-room debounce machine for live arrivals in the
// room the user is currently viewing.
type roomBuffer struct {
	state debounceState
	buf   []models.Message
	timer clockwork.Timer
}

// UnreadService tracks which rooms have unseen messages and acknowledges
// live arrivals in the viewed room. It keeps two counter sets: a per-room
// badge count and an independent navigation total.
type UnreadService struct {
	store  *MessageStore
	api    MessageAPI
	clock  clockwork.Clock
	selfID int
	window time.Duration

	mu         sync.Mutex
	perRoom    map[int]int
	nav        map[int]int
	activeRoom int
	viewing    bool
	buffers    map[int]*roomBuffer
	msgSvc     *MessageService
}

func NewUnreadService(store *MessageStore, msgSvc *MessageService, backend MessageAPI, selfID int, clock clockwork.Clock) *UnreadService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UnreadService{
		store:   store,
		msgSvc:  msgSvc,
		api:     backend,
		clock:   clock,
		selfID:  selfID,
		window:  readDebounceWindow,
		perRoom: make(map[int]int),
		nav:     make(map[int]int),
		buffers: make(map[int]*roomBuffer),
	}
}

func (us *UnreadService) isSelf(m models.Message) bool {
	return m.Sender != nil && m.Sender.ID == us.selfID
}

// Increment bumps both counter sets for a room.
func (us *UnreadService) Increment(roomID int) {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.perRoom[roomID]++
	us.nav[roomID]++
}

// ClearRoom zeroes the badge count only. The navigation total for the room
// is cleared separately when the user acts on the navigation surface.
func (us *UnreadService) ClearRoom(roomID int) {
	us.mu.Lock()
	defer us.mu.Unlock()
	delete(us.perRoom, roomID)
}

func (us *UnreadService) ClearNavigation(roomID int) {
	us.mu.Lock()
	defer us.mu.Unlock()
	delete(us.nav, roomID)
}

func (us *UnreadService) HasUnread(roomID int) bool {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.perRoom[roomID] > 0
}

func (us *UnreadService) RoomCount(roomID int) int {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.perRoom[roomID]
}

func (us *UnreadService) AnyUnread() bool {
	us.mu.Lock()
	defer us.mu.Unlock()
	for _, n := range us.nav {
		if n > 0 {
			return true
		}
	}
	return false
}

func (us *UnreadService) TotalNavigation() int {
	us.mu.Lock()
	defer us.mu.Unlock()
	total := 0
	for _, n := range us.nav {
		total += n
	}
	return total
}

// SeedFromServer installs the server's unread count for a room, skipping
// zero counts so local state stays sparse.
func (us *UnreadService) SeedFromServer(roomID, count int) {
	if count <= 0 {
		return
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	us.perRoom[roomID] = count
	us.nav[roomID] = count
}

// Reset wipes all counters and in-flight debounce buffers. Used on logout.
func (us *UnreadService) Reset() {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.perRoom = make(map[int]int)
	us.nav = make(map[int]int)
	for _, rb := range us.buffers {
		if rb.timer != nil {
			rb.timer.Stop()
		}
	}
	us.buffers = make(map[int]*roomBuffer)
	us.activeRoom = 0
	us.viewing = false
}

func (us *UnreadService) ActiveRoom() (int, bool) {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.activeRoom, us.activeRoom != 0
}

// SetViewing flags whether the active room is actually on screen. Arrivals
// for an active but hidden room count as unread.
func (us *UnreadService) SetViewing(v bool) {
	us.mu.Lock()
	defer us.mu.Unlock()
	us.viewing = v
}

// SetActiveRoom switches the focused room: the badge count resets, history
// is fetched if the store has none, and the newest message from another
// user is acknowledged. Fetch or acknowledge failures are logged and do not
// block the switch.
func (us *UnreadService) SetActiveRoom(ctx context.Context, roomID int) {
	us.mu.Lock()
	us.activeRoom = roomID
	us.viewing = true
	delete(us.perRoom, roomID)
	us.mu.Unlock()

	if us.msgSvc != nil && !us.store.HasMessages(roomID) {
		if _, err := us.msgSvc.FetchHistory(ctx, roomID, false); err != nil {
			log.Printf("history fetch on room switch failed: %v", err)
		}
	}

	last, ok := us.store.LastMessage(roomID)
	if !ok || last.Sender == nil || last.Sender.ID == us.selfID {
		return
	}
	if err := us.api.MarkMessageRead(ctx, roomID, last.ID); err != nil {
		log.Printf("marking message %d read in room %d failed: %v", last.ID, roomID, err)
	}
}

// HandleIncoming routes one live message. For the viewed room it enters the
// debounce buffer so a burst is merged and acknowledged once; for any other
// room it is stored immediately and counted as unread.
func (us *UnreadService) HandleIncoming(ctx context.Context, msg models.Message) {
	normalized := normalizeMessages([]models.Message{msg})
	msg = normalized[0]

	us.mu.Lock()
	active := us.activeRoom == msg.RoomID && us.viewing
	if !active {
		us.mu.Unlock()
		if us.store.Append(msg.RoomID, msg) && !us.isSelf(msg) {
			us.Increment(msg.RoomID)
		}
		return
	}

	rb := us.buffers[msg.RoomID]
	if rb == nil {
		rb = &roomBuffer{}
		us.buffers[msg.RoomID] = rb
	}
	rb.buf = append(rb.buf, msg)
	if rb.state == debounceIdle {
		rb.state = debounceCollecting
		roomID := msg.RoomID
		rb.timer = us.clock.AfterFunc(us.window, func() {
			us.drain(ctx, roomID)
		})
	}
	us.mu.Unlock()
}

// drain flushes one collected window: the buffered burst is merged into the
// store in arrival order and the highest-id message from another user gets a
// single acknowledgement. Messages arriving while the acknowledgement is in
// flight start the next window instead of being lost.
func (us *UnreadService) drain(ctx context.Context, roomID int) {
	us.mu.Lock()
	rb := us.buffers[roomID]
	if rb == nil || len(rb.buf) == 0 {
		if rb != nil {
			rb.state = debounceIdle
		}
		us.mu.Unlock()
		return
	}
	batch := rb.buf
	rb.buf = nil
	rb.state = debounceDraining
	us.mu.Unlock()

	var ack *models.Message
	for i := range batch {
		us.store.Append(roomID, batch[i])
		if !us.isSelf(batch[i]) && (ack == nil || batch[i].ID > ack.ID) {
			ack = &batch[i]
		}
	}

	if ack != nil {
		if err := us.api.MarkMessageRead(ctx, roomID, ack.ID); err != nil {
			log.Printf("read receipt for message %d in room %d failed: %v", ack.ID, roomID, err)
		} else {
			us.ClearRoom(roomID)
		}
	}

	us.mu.Lock()
	rb.state = debounceIdle
	if len(rb.buf) > 0 {
		rb.state = debounceCollecting
		rb.timer = us.clock.AfterFunc(us.window, func() {
			us.drain(ctx, roomID)
		})
	}
	us.mu.Unlock()
}
