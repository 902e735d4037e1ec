package services

import (
	"sync"

	"chattrix/client/internal/models"
)

// PaginationState tracks the history cursor for one room. HasMore=false is
// terminal until a full (non-loadMore) resync replaces the room.
type PaginationState struct {
	HasMore       bool
	NextURL       string
	IsLoadingMore bool
}

// MessageStore holds the per-room ordered message lists and their cursor
// state. All mutation goes through its methods, which enforce the
// identifier-uniqueness law: no two stored entries share a non-zero ID and
// messages without an ID are never stored.
type MessageStore struct {
	mu         sync.Mutex
	messages   map[int][]models.Message
	pagination map[int]*PaginationState
	loading    map[int]bool
	lastError  map[int]string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages:   make(map[int][]models.Message),
		pagination: make(map[int]*PaginationState),
		loading:    make(map[int]bool),
		lastError:  make(map[int]string),
	}
}

// Messages returns a copy of the room's list, oldest first.
func (s *MessageStore) Messages(roomID int) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[roomID]
	out := make([]models.Message, len(list))
	copy(out, list)
	return out
}

func (s *MessageStore) HasMessages(roomID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[roomID]) > 0
}

// LastMessage returns the newest stored message for the room.
func (s *MessageStore) LastMessage(roomID int) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[roomID]
	if len(list) == 0 {
		return models.Message{}, false
	}
	return list[len(list)-1], true
}

// Append adds a live arrival at the tail, skipping provisional messages and
// duplicates. Reports whether the message was stored.
func (s *MessageStore) Append(roomID int, msg models.Message) bool {
	if msg.ID == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages[roomID] {
		if existing.ID == msg.ID {
			return false
		}
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return true
}

// PrependNew inserts an older history page at the head, keeping only
// messages whose ID is not already present. Returns how many were added.
func (s *MessageStore) PrependNew(roomID int, msgs []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[int]struct{}, len(s.messages[roomID]))
	for _, m := range s.messages[roomID] {
		existing[m.ID] = struct{}{}
	}

	fresh := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == 0 {
			continue
		}
		if _, dup := existing[m.ID]; dup {
			continue
		}
		existing[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	s.messages[roomID] = append(fresh, s.messages[roomID]...)
	return len(fresh)
}

// Replace swaps the room's list wholesale (fresh session load), deduplicating
// within the page itself.
func (s *MessageStore) Replace(roomID int, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]struct{}, len(msgs))
	list := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == 0 {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		list = append(list, m)
	}
	s.messages[roomID] = list
}

// Pagination returns the room's cursor state, zero-valued before the first
// fetch.
func (s *MessageStore) Pagination(roomID int) (PaginationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pagination[roomID]
	if !ok {
		return PaginationState{}, false
	}
	return *p, true
}

func (s *MessageStore) SetPagination(roomID int, hasMore bool, nextURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pagination[roomID]
	if !ok {
		p = &PaginationState{}
		s.pagination[roomID] = p
	}
	p.HasMore = hasMore
	p.NextURL = nextURL
}

func (s *MessageStore) SetLoadingMore(roomID int, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pagination[roomID]
	if !ok {
		p = &PaginationState{HasMore: true}
		s.pagination[roomID] = p
	}
	p.IsLoadingMore = loading
}

func (s *MessageStore) SetLoading(roomID int, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[roomID] = loading
}

func (s *MessageStore) IsLoading(roomID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading[roomID]
}

func (s *MessageStore) SetError(roomID int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError[roomID] = msg
}

func (s *MessageStore) Error(roomID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError[roomID]
}

// Clear wipes all session state. Used on logout.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[int][]models.Message)
	s.pagination = make(map[int]*PaginationState)
	s.loading = make(map[int]bool)
	s.lastError = make(map[int]string)
}
