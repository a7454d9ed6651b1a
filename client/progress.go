package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/H4MSA/solivrah/internal/core"
	"github.com/H4MSA/solivrah/internal/quest"
	"github.com/H4MSA/solivrah/internal/storage"
)

var (
	_ storage.ProgressAdapter = (*Client)(nil)
	_ storage.QuestRepository = (*Client)(nil)
	_ quest.Replacer          = (*Client)(nil)
)

var errGuest = errors.New("guest progress is never sent to the server")

// Load returns nil, nil when the server has no record for id.
func (c *Client) Load(ctx context.Context, id core.Identity) (*core.ProgressRecord, error) {
	if id.IsGuest() {
		return nil, errGuest
	}
	var rec core.ProgressRecord
	err := c.doJSON(ctx, "load progress", http.MethodGet, "/api/progress/"+url.PathEscape(id.UserID), nil, &rec)
	if IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return &rec, nil
}

func (c *Client) Save(ctx context.Context, id core.Identity, rec core.ProgressRecord) error {
	if id.IsGuest() {
		return errGuest
	}
	return c.doJSON(ctx, "save progress", http.MethodPut, "/api/progress/"+url.PathEscape(id.UserID), rec, nil)
}

func (c *Client) ListQuests(ctx context.Context, userID string) ([]core.Quest, error) {
	var quests []core.Quest
	if err := c.doJSON(ctx, "list quests", http.MethodGet, "/api/quests/"+url.PathEscape(userID), nil, &quests); err != nil {
		return nil, err
	}
	for _, q := range quests {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("list quests: %w", err)
		}
	}
	return quests, nil
}

// SaveQuest is refused with 409 when it would reopen a completed quest.
func (c *Client) SaveQuest(ctx context.Context, q core.Quest) error {
	return c.putQuest(ctx, "save quest", q, "")
}

// ReplaceQuest writes q even over a completed quest, as a new quest set does.
func (c *Client) ReplaceQuest(ctx context.Context, q core.Quest) error {
	return c.putQuest(ctx, "replace quest", q, "?replace=true")
}

func (c *Client) putQuest(ctx context.Context, op string, q core.Quest, query string) error {
	if q.UserID == "" {
		return &core.ValidationError{Field: "user_id", Reason: "required"}
	}
	path := "/api/quests/" + url.PathEscape(q.UserID) + "/" + url.PathEscape(q.ID) + query
	return c.doJSON(ctx, op, http.MethodPut, path, q, nil)
}
