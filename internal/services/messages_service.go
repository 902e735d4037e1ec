package services

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"chattrix/client/internal/models"
)

// MessageAPI is the backend surface the message pipeline consumes.
type MessageAPI interface {
	RoomMessages(ctx context.Context, roomID int) (*models.MessagesPage, error)
	MessagesPageAt(ctx context.Context, pagePath string) (*models.MessagesPage, error)
	SendMessage(ctx context.Context, roomID int, req models.SendMessageRequest) (*models.Message, error)
	MarkMessageRead(ctx context.Context, roomID, messageID int) error
	UnreadCount(ctx context.Context, roomID int) (int, error)
}

// SendState is the lifecycle of one outgoing message.
type SendState string

const (
	SendStateSending SendState = "sending"
	SendStateSent    SendState = "sent"
	SendStateFailed  SendState = "failed"
)

const trackerTTL = 3 * time.Second

type trackerEntry struct {
	state   SendState
	request models.SendMessageRequest
}

// MessageService drives history fetching and the outgoing send pipeline on
// top of the MessageStore.
type MessageService struct {
	store *MessageStore
	api   MessageAPI
	clock clockwork.Clock

	mu       sync.Mutex
	trackers map[int]map[string]*trackerEntry
	ttl      time.Duration
}

func NewMessageService(store *MessageStore, backend MessageAPI, clock clockwork.Clock) *MessageService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MessageService{
		store:    store,
		api:      backend,
		clock:    clock,
		trackers: make(map[int]map[string]*trackerEntry),
		ttl:      trackerTTL,
	}
}

func (ms *MessageService) Store() *MessageStore {
	return ms.store
}

// FetchHistory loads the first history page, or the next older page when
// loadMore is set. With loadMore and an exhausted cursor it succeeds without
// touching the network.
func (ms *MessageService) FetchHistory(ctx context.Context, roomID int, loadMore bool) (models.HistoryResult, error) {
	if loadMore {
		if p, ok := ms.store.Pagination(roomID); ok && !p.HasMore {
			return models.HistoryResult{HasMore: false}, nil
		}
		ms.store.SetLoadingMore(roomID, true)
		defer ms.store.SetLoadingMore(roomID, false)
	} else {
		ms.store.SetLoading(roomID, true)
		defer ms.store.SetLoading(roomID, false)
	}
	ms.store.SetError(roomID, "")

	var (
		page *models.MessagesPage
		err  error
	)
	if p, ok := ms.store.Pagination(roomID); loadMore && ok && p.NextURL != "" {
		page, err = ms.api.MessagesPageAt(ctx, p.NextURL)
	} else {
		page, err = ms.api.RoomMessages(ctx, roomID)
	}
	if err != nil {
		err = errors.Wrapf(err, "fetching history for room %d", roomID)
		ms.store.SetError(roomID, err.Error())
		return models.HistoryResult{}, err
	}

	processed := normalizeMessages(page.Messages)

	hasMore := page.NextURL != ""
	ms.store.SetPagination(roomID, hasMore, relativeURL(page.NextURL))

	if loadMore {
		ms.store.PrependNew(roomID, processed)
	} else {
		ms.store.Replace(roomID, processed)
	}

	return models.HistoryResult{Messages: processed, HasMore: hasMore}, nil
}

// normalizeMessages shows the filename in place of content for file-type
// messages that carry no caption.
func normalizeMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].Content == "" && out[i].Filename != "" {
			out[i].Content = out[i].Filename
		}
	}
	return out
}

// relativeURL strips scheme and host from a server-provided cursor so the
// stored continuation stays valid across environments.
func relativeURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "http") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	rel := u.Path
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	return rel
}

// SendMessage issues one send attempt tracked under a fresh temporary id.
// No local echo is stored; the authoritative copy arrives over the push
// channel. The tracker entry is garbage-collected shortly after reaching a
// terminal state.
func (ms *MessageService) SendMessage(ctx context.Context, roomID int, req models.SendMessageRequest) (models.SendResult, error) {
	tempID := "temp_" + uuid.NewString()
	ms.setTracker(roomID, tempID, &trackerEntry{state: SendStateSending, request: req})

	msg, err := ms.api.SendMessage(ctx, roomID, req)
	if err != nil {
		ms.transitionTracker(roomID, tempID, SendStateFailed)
		return models.SendResult{TempID: tempID}, errors.Wrapf(err, "sending message to room %d", roomID)
	}

	ms.transitionTracker(roomID, tempID, SendStateSent)
	return models.SendResult{TempID: tempID, Message: msg}, nil
}

// ResendFailedMessage re-issues the original request iff the tracker is
// currently failed. Any other state yields ErrResendNotNeeded.
func (ms *MessageService) ResendFailedMessage(ctx context.Context, roomID int, tempID string) (models.SendResult, error) {
	ms.mu.Lock()
	entry, ok := ms.trackers[roomID][tempID]
	if !ok || entry.state != SendStateFailed {
		ms.mu.Unlock()
		return models.SendResult{}, models.ErrResendNotNeeded
	}
	req := entry.request
	ms.mu.Unlock()

	return ms.SendMessage(ctx, roomID, req)
}

// SendState reports the tracker state for one in-flight or recent send.
func (ms *MessageService) SendState(roomID int, tempID string) (SendState, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.trackers[roomID][tempID]
	if !ok {
		return "", false
	}
	return entry.state, true
}

func (ms *MessageService) setTracker(roomID int, tempID string, entry *trackerEntry) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.trackers[roomID] == nil {
		ms.trackers[roomID] = make(map[string]*trackerEntry)
	}
	ms.trackers[roomID][tempID] = entry
}

func (ms *MessageService) transitionTracker(roomID int, tempID string, state SendState) {
	ms.mu.Lock()
	if entry, ok := ms.trackers[roomID][tempID]; ok {
		entry.state = state
	}
	ms.mu.Unlock()

	// Bound tracker memory: drop the entry a short interval after its
	// terminal transition.
	ms.clock.AfterFunc(ms.ttl, func() {
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if room, ok := ms.trackers[roomID]; ok {
			delete(room, tempID)
			if len(room) == 0 {
				delete(ms.trackers, roomID)
			}
		}
	})
	log.Printf("message %s in room %d marked %s", tempID, roomID, state)
}

// ClearTrackers wipes all send state. Used on logout.
func (ms *MessageService) ClearTrackers() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.trackers = make(map[int]map[string]*trackerEntry)
}
