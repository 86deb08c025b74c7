// Package apiclient is the HTTP implementation of the engine's DraftStore,
// mirroring the JSON envelopes served by internal/draft's handlers.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"draftkeep/internal/draft/model"
	"draftkeep/internal/engine"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

var _ engine.DraftStore = (*Client)(nil)

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusConflict:
		return model.ErrConflict
	case http.StatusNotFound:
		return model.ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("draft api: %s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func (c *Client) Push(ctx context.Context, req model.PushRequest) (*model.PushResponse, error) {
	var resp model.PushResponse
	if err := c.do(ctx, http.MethodPost, "/api/drafts/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Get(ctx context.Context, draftID string) (*model.Draft, error) {
	var d model.Draft
	if err := c.do(ctx, http.MethodGet, "/api/drafts/get?draftId="+url.QueryEscape(draftID), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) LatestForSession(ctx context.Context, sessionID string) (*model.SessionDrafts, error) {
	var latest model.SessionDrafts
	if err := c.do(ctx, http.MethodGet, "/api/drafts/latest?sessionId="+url.QueryEscape(sessionID), nil, &latest); err != nil {
		return nil, err
	}
	return &latest, nil
}

func (c *Client) ListManual(ctx context.Context) ([]model.Draft, error) {
	var drafts []model.Draft
	if err := c.do(ctx, http.MethodGet, "/api/drafts/manual", nil, &drafts); err != nil {
		return nil, err
	}
	return drafts, nil
}

func (c *Client) Discard(ctx context.Context, req model.DiscardRequest) error {
	return c.do(ctx, http.MethodPost, "/api/drafts/discard", req, nil)
}

func (c *Client) Promote(ctx context.Context, req model.PromoteRequest) (*model.PromoteResponse, error) {
	var resp model.PromoteResponse
	if err := c.do(ctx, http.MethodPost, "/api/drafts/promote", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Publish(ctx context.Context, req model.PublishRequest) error {
	return c.do(ctx, http.MethodPost, "/api/drafts/publish", req, nil)
}

func (c *Client) History(ctx context.Context, draftID string) ([]model.VersionSnapshot, error) {
	var snapshots []model.VersionSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/drafts/history?draftId="+url.QueryEscape(draftID), nil, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (c *Client) RestoreSnapshot(ctx context.Context, snapshotID string) (*model.Draft, error) {
	var d model.Draft
	if err := c.do(ctx, http.MethodPost, "/api/drafts/history/restore", model.RestoreRequest{SnapshotID: snapshotID}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
