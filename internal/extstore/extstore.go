// Package extstore provides the HTTP-backed session store and user directory
// clients the auth gate consults. Both treat a 404 as "not found" (nil, nil)
// and any other non-200 as an error.
package extstore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gatewarden/gatewarden/internal/authgate"
)

const authHeader = "X-Directory-Secret"

// Client talks to the external directory service. It implements both
// authgate.SessionStore and authgate.UserDirectory.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a directory client. baseURL must not have a trailing
// slash; timeout bounds every request.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

type sessionPayload struct {
	UserID               int64  `json:"user_id"`
	PlatformConnectionID *int64 `json:"platform_connection_id"`
	PlatformName         string `json:"platform_name"`
	PlatformType         string `json:"platform_type"`
}

type userPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// GetSessionData resolves a session id via GET /sessions/{id}.
func (c *Client) GetSessionData(sessionID string) (*authgate.SessionData, error) {
	var payload sessionPayload
	found, err := c.get("/sessions/"+url.PathEscape(sessionID), &payload)
	if err != nil || !found {
		return nil, err
	}
	return &authgate.SessionData{
		UserID:               payload.UserID,
		PlatformConnectionID: payload.PlatformConnectionID,
		PlatformName:         payload.PlatformName,
		PlatformType:         payload.PlatformType,
	}, nil
}

// GetUser resolves a user id via GET /users/{id}.
func (c *Client) GetUser(userID int64) (*authgate.UserRecord, error) {
	var payload userPayload
	found, err := c.get(fmt.Sprintf("/users/%d", userID), &payload)
	if err != nil || !found {
		return nil, err
	}
	return &authgate.UserRecord{
		ID:       payload.ID,
		Username: payload.Username,
		Email:    payload.Email,
		Role:     payload.Role,
		IsActive: payload.IsActive,
	}, nil
}

// get performs one GET and decodes the body into out. Returns found=false
// on 404 without error.
func (c *Client) get(path string, out any) (bool, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("directory request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set(authHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("directory request: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("directory response: %w", err)
	}
	return true, nil
}
