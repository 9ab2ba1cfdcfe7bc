package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Client provides typed access to the splitter API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(context.Context) error
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger used to report failing unauthorized listeners.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		listeners:  make(map[int]func(context.Context) error),
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// OnUnauthorized registers a listener invoked whenever the API answers 401.
// Listeners run in registration order; a failing or panicking listener does not stop the others.
func (c *Client) OnUnauthorized(listener func(context.Context) error) (unsubscribe func()) {
	if listener == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) notifyUnauthorized(ctx context.Context) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	snapshot := make([]func(context.Context) error, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, c.listeners[id])
	}
	c.mu.Unlock()

	for _, listener := range snapshot {
		c.runListener(ctx, listener)
	}
}

func (c *Client) runListener(ctx context.Context, listener func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("unauthorized listener panicked", "panic", rec)
		}
	}()
	if err := listener(ctx); err != nil {
		c.logger.Warn("unauthorized listener failed", "error", err)
	}
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 APIError.
func IsUnauthorized(err error) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			c.notifyUnauthorized(ctx)
		}
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(gjson.GetBytes(data, "error").String())
}

// User reflects API user payloads.
type User struct {
	ID        int64   `json:"id"`
	Email     string  `json:"email,omitempty"`
	Username  string  `json:"username"`
	UniqueID  string  `json:"uniqueId"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// AuthResponse captures the token payload emitted by register and login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Register creates an account and returns its token.
func (c *Client) Register(ctx context.Context, email, password, username string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
		"username": username,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Me returns the authenticated profile.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, token, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ListFriends returns the caller's friends.
func (c *Client) ListFriends(ctx context.Context, token string) ([]User, error) {
	var friends []User
	if err := c.do(ctx, http.MethodGet, "/friends", nil, token, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// RemoveFriend deletes a friendship in both directions.
func (c *Client) RemoveFriend(ctx context.Context, token string, friendID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/friends/%d", friendID), nil, token, nil)
}

// Invite is a QR invite token and its rendered link.
type Invite struct {
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateFriendInvite issues a friend invite for the caller.
func (c *Client) CreateFriendInvite(ctx context.Context, token string) (Invite, error) {
	var inv Invite
	if err := c.do(ctx, http.MethodPost, "/friends/invite", nil, token, &inv); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// CreateGroupInvite issues an invite that joins the given group.
func (c *Client) CreateGroupInvite(ctx context.Context, token string, groupID int64) (Invite, error) {
	var inv Invite
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/groups/%d/invite", groupID), nil, token, &inv); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// Group is a set of users sharing expenses.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedeemResult is the outcome of redeeming a scanned invite code.
type RedeemResult struct {
	Kind   string `json:"kind"`
	Action string `json:"action,omitempty"`
	User   *User  `json:"user,omitempty"`
	Member string `json:"member,omitempty"`
	Group  *Group `json:"group,omitempty"`
	Owner  *User  `json:"owner,omitempty"`
}

// Redeem submits raw scanned QR data: an invite link, a link with kind and token query
// parameters, or a "<kind>:<token>" pair.
func (c *Client) Redeem(ctx context.Context, token, data string) (RedeemResult, error) {
	var res RedeemResult
	if err := c.do(ctx, http.MethodPost, "/invites/redeem", map[string]string{"data": data}, token, &res); err != nil {
		return RedeemResult{}, err
	}
	return res, nil
}

// ListGroups returns the groups the caller belongs to.
func (c *Client) ListGroups(ctx context.Context, token string) ([]Group, error) {
	var groups []Group
	if err := c.do(ctx, http.MethodGet, "/groups", nil, token, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// CreateGroup creates a group owned by the caller.
func (c *Client) CreateGroup(ctx context.Context, token, name string) (Group, error) {
	var group Group
	if err := c.do(ctx, http.MethodPost, "/groups", map[string]string{"name": name}, token, &group); err != nil {
		return Group{}, err
	}
	return group, nil
}
