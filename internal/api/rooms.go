package api

import (
	"context"

	"chattrix/client/internal/models"
)

// PrivateRooms lists the private chat rooms the user belongs to.
func (c *Client) PrivateRooms(ctx context.Context) ([]models.PrivateRoom, error) {
	env, err := c.get(ctx, "api/chat/private-rooms/")
	if err != nil {
		return nil, err
	}

	var rooms []models.PrivateRoom
	if err := decodeData(env, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GroupRooms lists the group chat rooms the user belongs to.
func (c *Client) GroupRooms(ctx context.Context) ([]models.GroupRoom, error) {
	env, err := c.get(ctx, "api/chat/group-rooms/")
	if err != nil {
		return nil, err
	}

	var rooms []models.GroupRoom
	if err := decodeData(env, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreatePrivateRoom opens (or returns the existing) two-party room with the
// given user.
func (c *Client) CreatePrivateRoom(ctx context.Context, user2ID int) (*models.PrivateRoom, error) {
	env, err := c.postJSON(ctx, "api/chat/private-rooms/", map[string]int{"user2_id": user2ID})
	if err != nil {
		return nil, err
	}

	room := &models.PrivateRoom{}
	if err := decodeData(env, room); err != nil {
		return nil, err
	}
	return room, nil
}

// CreateGroupRoom creates a new group room with the given members.
func (c *Client) CreateGroupRoom(ctx context.Context, name, description string, memberIDs []int) (*models.GroupRoom, error) {
	payload := map[string]any{
		"name":       name,
		"member_ids": memberIDs,
	}
	if description != "" {
		payload["description"] = description
	}

	env, err := c.postJSON(ctx, "api/chat/group-rooms/", payload)
	if err != nil {
		return nil, err
	}

	room := &models.GroupRoom{}
	if err := decodeData(env, room); err != nil {
		return nil, err
	}
	return room, nil
}
