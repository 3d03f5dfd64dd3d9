package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/logging"
)

// Login exchanges an email and password for a credential pair and stores it.
func (c *Client) Login(ctx context.Context, email string, password string) (credstore.Pair, error) {
	form := url.Values{"username": {email}, "password": {password}}
	data, err := c.send(ctx, c.public, http.MethodPost, "/auth/login", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return credstore.Pair{}, err
	}
	return c.storeTokens(data)
}

// Register creates an account and stores the pair it returns.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (credstore.Pair, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return credstore.Pair{}, err
	}
	data, err := c.send(ctx, c.public, http.MethodPost, "/auth/register", nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return credstore.Pair{}, err
	}
	return c.storeTokens(data)
}

func (c *Client) storeTokens(data json.RawMessage) (credstore.Pair, error) {
	var tokens tokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return credstore.Pair{}, err
	}
	if tokens.AccessToken == "" {
		return credstore.Pair{}, fmt.Errorf("sign-in response missing access_token")
	}
	pair := tokens.pair()
	if err := c.store.Set(pair); err != nil {
		return credstore.Pair{}, fmt.Errorf("store credentials: %w", err)
	}
	c.logger.Info("signed in")
	return pair, nil
}

func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	return c.getJSON(ctx, "/users/me", nil)
}

func (c *Client) UpdatePresence(ctx context.Context, status string) (json.RawMessage, error) {
	return c.postJSON(ctx, "/users/presence", nil, presenceRequest{Status: status})
}

func (c *Client) ListWorkspaces(ctx context.Context) (json.RawMessage, error) {
	return c.getJSON(ctx, "/workspaces", nil)
}

func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/workspaces/"+url.PathEscape(workspaceID), nil)
}

func (c *Client) ListChannels(ctx context.Context, workspaceID string) (json.RawMessage, error) {
	return c.getJSON(ctx, "/channels", url.Values{"workspace_id": {workspaceID}})
}

func (c *Client) SendMessage(ctx context.Context, workspaceID string, msg MessageDraft) (json.RawMessage, error) {
	return c.postJSON(ctx, "/messages", url.Values{"workspace_id": {workspaceID}}, msg)
}

func (c *Client) ListMessages(ctx context.Context, q MessageQuery) (json.RawMessage, error) {
	query := url.Values{}
	setIfNotEmpty(query, "channel_id", q.ChannelID)
	setIfNotEmpty(query, "dm_id", q.DMID)
	setIfNotEmpty(query, "before", q.Before)
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	return c.getJSON(ctx, "/messages", query)
}

func (c *Client) AddReaction(ctx context.Context, messageID string, emoji string) (json.RawMessage, error) {
	return c.postJSON(ctx, "/messages/"+url.PathEscape(messageID)+"/reactions", nil, reactionRequest{Emoji: emoji})
}

func (c *Client) SearchMessages(ctx context.Context, q SearchQuery) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("query", q.Query)
	setIfNotEmpty(query, "workspace_id", q.WorkspaceID)
	setIfNotEmpty(query, "channel_id", q.ChannelID)
	return c.getJSON(ctx, "/search/messages", query)
}

func setIfNotEmpty(query url.Values, key string, value string) {
	if value != "" {
		query.Set(key, value)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.send(ctx, c.http, http.MethodGet, path, query, nil, "")
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, c.http, http.MethodPost, path, query, bytes.NewReader(body), "application/json")
}

// send issues one API call and returns the raw JSON body. Bodies passed as
// *bytes.Reader or *strings.Reader get GetBody set by net/http, so the guard
// can replay them.
func (c *Client) send(ctx context.Context, hc *http.Client, method string, path string, query url.Values, body io.Reader, contentType string) (json.RawMessage, error) {
	target := c.endpoints.APIBaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s -> %s", method, target, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("api request failed",
			logging.Field("method", method),
			logging.Field("path", path),
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		c.logger.Warn("invalid API JSON",
			logging.Field("path", path),
			logging.Field("content_type", resp.Header.Get("Content-Type")),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, fmt.Errorf("%s %s: response is not JSON", method, path)
	}
	return json.RawMessage(data), nil
}
