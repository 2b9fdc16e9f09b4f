package seen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the mark-seen endpoint on behalf of one authenticated user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient constructs a Client. token is sent as a bearer credential.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

// MarkSeen posts to /api/v1/seen/:category.
func (c *Client) MarkSeen(ctx context.Context, category string) error {
	_, err := c.Do(ctx, category)
	return err
}

// Do is MarkSeen returning the server's result.
func (c *Client) Do(ctx context.Context, category string) (Result, error) {
	endpoint := c.baseURL + "/api/v1/seen/" + url.PathEscape(category)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("seen: unexpected status %s", resp.Status)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Local marks seen in-process for a fixed user. The websocket hub uses it
// so connected clients do not round-trip through HTTP.
type Local struct {
	svc *Service
	uid string
}

// NewLocal binds svc to uid.
func NewLocal(svc *Service, uid string) Local {
	return Local{svc: svc, uid: uid}
}

func (l Local) MarkSeen(ctx context.Context, category string) error {
	_, err := l.svc.MarkSeen(ctx, l.uid, category)
	return err
}
