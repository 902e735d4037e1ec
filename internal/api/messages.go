package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/pkg/errors"

	"chattrix/client/internal/models"
)

// RoomMessages fetches the first history page for a room.
func (c *Client) RoomMessages(ctx context.Context, roomID int) (*models.MessagesPage, error) {
	return c.messagesPage(ctx, fmt.Sprintf("api/messages/%d/", roomID))
}

// MessagesPageAt fetches a continuation page through a stored cursor path.
func (c *Client) MessagesPageAt(ctx context.Context, pagePath string) (*models.MessagesPage, error) {
	return c.messagesPage(ctx, pagePath)
}

func (c *Client) messagesPage(ctx context.Context, path string) (*models.MessagesPage, error) {
	env, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	page := &models.MessagesPage{NextURL: env.PaginationNext}
	if err := decodeData(env, &page.Messages); err != nil {
		return nil, err
	}
	return page, nil
}

// SendMessage posts one outgoing message as a multipart form carrying the
// message type, room metadata and either text content or a file attachment.
func (c *Client) SendMessage(ctx context.Context, roomID int, req models.SendMessageRequest) (*models.Message, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	roomType := req.RoomType
	if roomType == "" {
		roomType = models.RoomKindPrivate
	}

	fields := map[string]string{
		"messages_type": string(req.Type),
		"room_type":     roomType,
		"room_id":       fmt.Sprintf("%d", roomID),
	}
	if req.Content != "" {
		fields["content"] = req.Content
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, errors.Wrap(err, "building send form")
		}
	}

	if len(req.File) > 0 {
		if err := form.WriteField("filename", req.Filename); err != nil {
			return nil, errors.Wrap(err, "building send form")
		}
		part, err := form.CreateFormFile("file", req.Filename)
		if err != nil {
			return nil, errors.Wrap(err, "building file part")
		}
		if _, err := part.Write(req.File); err != nil {
			return nil, errors.Wrap(err, "writing file part")
		}
	}

	if err := form.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing send form")
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.resolve(fmt.Sprintf("api/messages/%d/", roomID)), &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())

	env, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{}
	if err := decodeData(env, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkMessageRead issues a read receipt for one message in a room.
func (c *Client) MarkMessageRead(ctx context.Context, roomID, messageID int) error {
	_, err := c.postJSON(ctx, fmt.Sprintf("api/messages/%d/%d/is_read/", roomID, messageID), nil)
	return err
}

// UnreadCount reports the server-side unread message count for a room.
func (c *Client) UnreadCount(ctx context.Context, roomID int) (int, error) {
	env, err := c.get(ctx, fmt.Sprintf("api/messages/%d/unread_count/", roomID))
	if err != nil {
		return 0, err
	}

	var payload struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := decodeData(env, &payload); err != nil {
		return 0, err
	}
	return payload.UnreadCount, nil
}
