package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chattrix/client/internal/models"
)

func writeEnvelope(w http.ResponseWriter, data any, next string) {
	resp := map[string]any{"data": data}
	if next != "" {
		resp["pagination-next"] = next
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, "test-token", WithRetry(time.Millisecond, 2))
	require.NoError(t, err)
	return c
}

func TestRoomMessagesParsesEnvelope(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/messages/{room_id}/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
		assert.Equal(t, "7", chi.URLParam(req, "room_id"))
		writeEnvelope(w, []map[string]any{
			{"id": 1, "room_id": 7, "content": "hello", "messages_type": "text",
				"sender": map[string]any{"id": 2, "username": "bob"}},
			{"id": 2, "room_id": 7, "content": "", "messages_type": "file", "filename": "a.png"},
		}, "/api/messages/7/?page=2")
	})

	c := newTestClient(t, r)
	page, err := c.RoomMessages(context.Background(), 7)
	require.NoError(t, err)

	require.Len(t, page.Messages, 2)
	assert.Equal(t, "hello", page.Messages[0].Content)
	assert.Equal(t, models.MessageTypeFile, page.Messages[1].Type)
	require.NotNil(t, page.Messages[0].Sender)
	assert.Equal(t, "bob", page.Messages[0].Sender.Username)
	assert.Equal(t, "/api/messages/7/?page=2", page.NextURL)
}

func TestMessagesPageAtFollowsCursor(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/messages/{room_id}/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("page") == "2" {
			writeEnvelope(w, []map[string]any{{"id": 1, "messages_type": "text"}}, "")
			return
		}
		writeEnvelope(w, []map[string]any{{"id": 2, "messages_type": "text"}}, "/api/messages/7/?page=2")
	})

	c := newTestClient(t, r)
	page, err := c.MessagesPageAt(context.Background(), "/api/messages/7/?page=2")
	require.NoError(t, err)

	require.Len(t, page.Messages, 1)
	assert.Equal(t, 1, page.Messages[0].ID)
	assert.Empty(t, page.NextURL)
}

func TestSendMessageMultipartFields(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/messages/{room_id}/", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "text", req.FormValue("messages_type"))
		assert.Equal(t, "private", req.FormValue("room_type"))
		assert.Equal(t, "7", req.FormValue("room_id"))
		assert.Equal(t, "hi there", req.FormValue("content"))
		writeEnvelope(w, map[string]any{"id": 55, "room_id": 7, "content": "hi there", "messages_type": "text"}, "")
	})

	c := newTestClient(t, r)
	msg, err := c.SendMessage(context.Background(), 7, models.SendMessageRequest{
		Type:    models.MessageTypeText,
		Content: "hi there",
	})
	require.NoError(t, err)
	assert.Equal(t, 55, msg.ID)
}

func TestSendMessageFileAttachment(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/messages/{room_id}/", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		assert.Equal(t, "photo.jpg", req.FormValue("filename"))

		file, header, err := req.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.jpg", header.Filename)

		writeEnvelope(w, map[string]any{"id": 56, "messages_type": "image", "filename": "photo.jpg"}, "")
	})

	c := newTestClient(t, r)
	msg, err := c.SendMessage(context.Background(), 7, models.SendMessageRequest{
		Type:     models.MessageTypeImage,
		RoomType: models.RoomKindGroup,
		File:     []byte{0xff, 0xd8, 0xff},
		Filename: "photo.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", msg.Filename)
}

func TestMarkMessageRead(t *testing.T) {
	var hit int64
	r := chi.NewRouter()
	r.Post("/api/messages/{room_id}/{message_id}/is_read/", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&hit, 1)
		assert.Equal(t, "7", chi.URLParam(req, "room_id"))
		assert.Equal(t, "42", chi.URLParam(req, "message_id"))
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, r)
	require.NoError(t, c.MarkMessageRead(context.Background(), 7, 42))
	assert.EqualValues(t, 1, atomic.LoadInt64(&hit))
}

func TestUnreadCount(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/messages/{room_id}/unread_count/", func(w http.ResponseWriter, req *http.Request) {
		writeEnvelope(w, map[string]int{"unread_count": 4}, "")
	})

	c := newTestClient(t, r)
	n, err := c.UnreadCount(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int64
	r := chi.NewRouter()
	r.Get("/api/messages/{room_id}/", func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, []map[string]any{{"id": 1, "messages_type": "text"}}, "")
	})

	c := newTestClient(t, r)
	page, err := c.RoomMessages(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
	assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int64
	r := chi.NewRouter()
	r.Get("/api/messages/{room_id}/", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	c := newTestClient(t, r)
	_, err := c.RoomMessages(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestPostIsNotRetried(t *testing.T) {
	var calls int64
	r := chi.NewRouter()
	r.Post("/api/messages/{room_id}/{message_id}/is_read/", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := newTestClient(t, r)
	err := c.MarkMessageRead(context.Background(), 7, 42)
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestPrivateRooms(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/chat/private-rooms/", func(w http.ResponseWriter, req *http.Request) {
		writeEnvelope(w, []map[string]any{
			{"id": 1, "other_user_info": map[string]any{"id": 3, "username": "carol"}},
		}, "")
	})

	c := newTestClient(t, r)
	rooms, err := c.PrivateRooms(context.Background())
	require.NoError(t, err)

	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].OtherUserInfo)
	assert.Equal(t, "carol", rooms[0].OtherUserInfo.Username)
}

func TestCreateGroupRoom(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/chat/group-rooms/", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Name      string `json:"name"`
			MemberIDs []int  `json:"member_ids"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "team", body.Name)
		assert.Equal(t, []int{2, 3}, body.MemberIDs)
		writeEnvelope(w, map[string]any{"id": 10, "name": "team"}, "")
	})

	c := newTestClient(t, r)
	room, err := c.CreateGroupRoom(context.Background(), "team", "", []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 10, room.ID)
}
