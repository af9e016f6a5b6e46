// Package api provides the session-cookie REST client for the chat server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/koalatalk/koalatalk-go/internal/model"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error %d", e.Status)
}

// Client is a chat server API client. Authentication is a session cookie
// obtained via Login and held in the client's cookie jar.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	jar http.CookieJar
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		jar: jar,
	}
}

// StreamClient returns an HTTP client sharing this client's session cookie
// but without a request timeout, for long-lived streaming reads.
func (c *Client) StreamClient() *http.Client {
	return &http.Client{Jar: c.jar}
}

// SessionToken returns the value of the server's session cookie, or "" when
// no session is held. It lets callers persist a login across invocations.
func (c *Client) SessionToken() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == "session" {
			return ck.Value
		}
	}
	return ""
}

// SetSessionToken seeds the cookie jar with a previously saved session
// cookie.
func (c *Client) SetSessionToken(token string) {
	if token == "" {
		return
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: token, Path: "/"}})
}

// doRequest performs a JSON request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	return respBody, nil
}

// Login authenticates and stores the session cookie.
func (c *Client) Login(ctx context.Context, id, password string) error {
	body, _ := json.Marshal(map[string]string{"id": id, "password": password})
	_, err := c.doRequest(ctx, http.MethodPost, "/login", body)
	return err
}

// Logout drops the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/logout", []byte("{}"))
	return err
}

// WhoAmI returns the authenticated alias, or "" when the session is absent
// or expired.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/whoami", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		User *string `json:"user"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	if resp.User == nil {
		return "", nil
	}
	return *resp.User, nil
}

// ListChannels returns the channels visible to the session user.
func (c *Client) ListChannels(ctx context.Context) ([]model.Channel, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/channels", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		OK       bool            `json:"ok"`
		Channels []model.Channel `json:"channels"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &APIError{Status: 200, Message: "channels response not ok"}
	}
	return resp.Channels, nil
}

// CreateDM creates (or fetches) the direct-message channel for two aliases.
func (c *Client) CreateDM(ctx context.Context, members [2]string) (model.Channel, error) {
	body, _ := json.Marshal(map[string]any{
		"type":    "dm",
		"members": members[:],
	})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/channels", body)
	if err != nil {
		return model.Channel{}, err
	}
	var resp struct {
		OK      bool          `json:"ok"`
		Channel model.Channel `json:"channel"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.Channel{}, err
	}
	if !resp.OK {
		return model.Channel{}, &APIError{Status: 200, Message: "dm response not ok"}
	}
	return resp.Channel, nil
}

// MessagesPage is one fetched history window.
type MessagesPage struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// ListMessages fetches the window (before - days*86400, before] of a channel.
func (c *Client) ListMessages(ctx context.Context, channel string, days int, before int64) (*MessagesPage, error) {
	q := url.Values{}
	q.Set("channel", channel)
	q.Set("days", strconv.Itoa(days))
	q.Set("before", strconv.FormatInt(before, 10))
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var page MessagesPage
	if err := json.Unmarshal(respBody, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// PostMessageRequest is the JSON body for posting a message.
type PostMessageRequest struct {
	Channel string            `json:"channel"`
	Alias   string            `json:"alias"`
	UserID  string            `json:"user_id"`
	Type    model.MessageType `json:"type"`
	Text    string            `json:"text,omitempty"`
	Payload any               `json:"payload,omitempty"`
}

// PostMessage posts a JSON message and returns the persisted message.
func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (model.Message, error) {
	body, _ := json.Marshal(req)
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/messages", body)
	if err != nil {
		return model.Message{}, err
	}
	var resp struct {
		Message model.Message `json:"message"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.Message{}, err
	}
	return resp.Message, nil
}

// Upload posts a multipart message carrying a file. The field is "audio" for
// voice notes and "upload" for everything else; the server derives the
// message type from it.
func (c *Client) Upload(ctx context.Context, channel, alias, userID, field, filename string, content io.Reader) (model.Message, error) {
	if field != "audio" && field != "upload" {
		return model.Message{}, fmt.Errorf("unsupported upload field %q", field)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("channel", channel)
	w.WriteField("alias", alias)
	w.WriteField("user_id", userID)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return model.Message{}, err
	}
	if err := w.Close(); err != nil {
		return model.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/messages", &buf)
	if err != nil {
		return model.Message{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return model.Message{}, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Message{}, err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return model.Message{}, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}
	var out struct {
		Message model.Message `json:"message"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return model.Message{}, err
	}
	return out.Message, nil
}

// DeleteMessage deletes a message by id.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/messages/%d", id), nil)
	return err
}

// EndCall marks a call_invite message as ended. The server rewrites the
// message text and broadcasts a message_update.
func (c *Client) EndCall(ctx context.Context, inviteID int64) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%d/end_call", inviteID), []byte("{}"))
	return err
}

// SendSignal routes a signaling payload to the peer's meta stream.
func (c *Client) SendSignal(ctx context.Context, to string, payload model.SignalPayload) error {
	body, _ := json.Marshal(map[string]any{"to": to, "payload": payload})
	_, err := c.doRequest(ctx, http.MethodPost, "/api/webrtc/signal", body)
	return err
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/healthz", nil)
	return err
}
