package client

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

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/pkg/robusthttp"

	"github.com/google/go-querystring/query"
)

// HTTP client for the flagd API.
type Client struct {
	// eg, "http://localhost:2220"
	Host   string
	Client *http.Client
	// sent as X-Actor-Id on moderation requests
	ActorID string
	// basic auth password for admin routes (username "admin")
	AdminPassword string
}

func NewClient(host string) *Client {
	return &Client{
		Host:   strings.TrimSuffix(host, "/"),
		Client: robusthttp.NewClient(robusthttp.WithMaxRetries(2), robusthttp.WithUserAgent("flagd-client")),
	}
}

// Error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flagd API error (HTTP %d): %s: %s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, params any, body any, out any) error {
	u := c.Host + path
	if params != nil {
		vals, err := query.Values(params)
		if err != nil {
			return fmt.Errorf("encoding query params: %w", err)
		}
		if len(vals) > 0 {
			u += "?" + vals.Encode()
		}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if c.AdminPassword != "" {
		req.SetBasicAuth("admin", c.AdminPassword)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) GetPost(ctx context.Context, id string) (*models.PostView, error) {
	var out models.PostView
	if err := c.do(ctx, http.MethodGet, "/post/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProfile(ctx context.Context, id string) (*models.UserView, error) {
	var out models.UserView
	if err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(id)+"/profile", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	var out models.StatsSnapshot
	if err := c.do(ctx, http.MethodGet, "/content/flags/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Moderate(ctx context.Context, postID string, body models.ModerateRequest) (*models.ModerationResult, error) {
	var out models.ModerationResult
	if err := c.do(ctx, http.MethodPost, "/post/"+url.PathEscape(postID)+"/moderate", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FlagUser(ctx context.Context, userID string, body models.FlagUserRequest) (*models.FlagRecordView, error) {
	var out models.FlagRecordView
	if err := c.do(ctx, http.MethodPost, "/user/"+url.PathEscape(userID)+"/flag", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type ListFlagsParams struct {
	Since string `url:"since,omitempty"`
}

// Flag records for a post or user. A zero 'since' lists everything.
func (c *Client) ListFlags(ctx context.Context, tt models.TargetType, id string, since time.Time) ([]models.FlagRecordView, error) {
	params := ListFlagsParams{}
	if !since.IsZero() {
		params.Since = since.UTC().Format(time.RFC3339Nano)
	}
	var out models.FlagList
	if err := c.do(ctx, http.MethodGet, "/"+string(tt)+"/"+url.PathEscape(id)+"/flags", params, nil, &out); err != nil {
		return nil, err
	}
	return out.Flags, nil
}

func (c *Client) PutPost(ctx context.Context, id string, body models.PutPostRequest) (*models.PostView, error) {
	var out models.PostView
	if err := c.do(ctx, http.MethodPut, "/admin/post/"+url.PathEscape(id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PutUser(ctx context.Context, id string, body models.PutUserRequest) (*models.UserView, error) {
	var out models.UserView
	if err := c.do(ctx, http.MethodPut, "/admin/user/"+url.PathEscape(id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
