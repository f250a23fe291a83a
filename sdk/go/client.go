package bullseyesdk

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
)

// Client is a minimal Bullseye HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// Signer is sent as X-Signer when no token or key is set. The server
	// honours it only with server.allow_legacy_signer_header enabled.
	Signer     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  10 * time.Second,
	}
}

// Counter is an owner's goal counter.
type Counter struct {
	Owner      string  `json:"owner"`
	Count      uint64  `json:"count"`
	ActiveGoal *uint64 `json:"active_goal,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// Goal represents the API goal model.
type Goal struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Amount         uint64    `json:"amount"`
	Deadline       time.Time `json:"deadline"`
	FailAction     string    `json:"fail_action"`
	Status         string    `json:"status"`
	Verifiers      []string  `json:"verifiers"`
	VerificationID string    `json:"verification,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	GoalNumber     uint64    `json:"goal_number"`
}

// Verification is the three-verifier vote on a submitted goal.
type Verification struct {
	ID        string    `json:"id"`
	GoalID    string    `json:"goal"`
	Verifiers []string  `json:"verifiers"`
	YesVotes  int       `json:"yes_votes"`
	NoVotes   int       `json:"no_votes"`
	VotesCast []bool    `json:"votes_cast"`
	Finalized bool      `json:"finalized"`
	Result    string    `json:"result,omitempty"`
	Deadline  time.Time `json:"verification_deadline"`
	CreatedAt time.Time `json:"created_at"`
}

// Settlement describes where a goal's stake went.
type Settlement struct {
	Goal      Goal   `json:"goal"`
	Result    string `json:"result"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Event     string `json:"event"`
}

// CreateGoalInput is the body of CreateGoal. Amount is in lamports.
type CreateGoalInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Amount      uint64    `json:"amount"`
	Deadline    time.Time `json:"deadline"`
	FailAction  string    `json:"fail_action"`
	Verifiers   []string  `json:"verifiers,omitempty"`
}

type Balance struct {
	Account  string `json:"account"`
	Lamports uint64 `json:"lamports"`
	Units    string `json:"units"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	GoalID     string         `json:"goal_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// VoteAction describes the vote link for an owner's active goal.
type VoteAction struct {
	Owner        string       `json:"owner"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Goal         Goal         `json:"goal"`
	Verification Verification `json:"verification"`
	CanVote      bool         `json:"can_vote"`
	Actions      []struct {
		Label string `json:"label"`
		Href  string `json:"href"`
	} `json:"actions"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedGoals wraps list responses with cursors.
type PaginatedGoals struct {
	Items      []Goal `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// GoalQuery filters ListGoals.
type GoalQuery struct {
	Owner  string
	Status string
	Limit  int
	Cursor string
}

// DevLogin mints a bearer token for address on servers with dev login enabled.
func (c *Client) DevLogin(ctx context.Context, address string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"address": address}, &resp)
	return resp.Token, err
}

// InitializeCounter initializes the caller's goal counter.
func (c *Client) InitializeCounter(ctx context.Context) (Counter, error) {
	var resp Counter
	err := c.do(ctx, http.MethodPost, "counters", nil, &resp)
	return resp, err
}

func (c *Client) GetCounter(ctx context.Context, owner string) (Counter, error) {
	var resp Counter
	err := c.do(ctx, http.MethodGet, "counters/"+url.PathEscape(owner), nil, &resp)
	return resp, err
}

// CreateGoal creates a goal for the caller and locks its stake.
func (c *Client) CreateGoal(ctx context.Context, in CreateGoalInput) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals", in, &resp)
	return resp, err
}

func (c *Client) GetGoal(ctx context.Context, id string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, "goals/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListGoals returns one page of goals, newest first.
func (c *Client) ListGoals(ctx context.Context, q GoalQuery) (PaginatedGoals, error) {
	v := url.Values{}
	if q.Owner != "" {
		v.Set("owner", q.Owner)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	var resp PaginatedGoals
	err := c.do(ctx, http.MethodGet, withQuery("goals", v), nil, &resp)
	return resp, err
}

// SubmitGoal opens the verification of a goal owned by the caller.
func (c *Client) SubmitGoal(ctx context.Context, id string) (Goal, Verification, error) {
	var resp struct {
		Goal         Goal         `json:"goal"`
		Verification Verification `json:"verification"`
	}
	err := c.do(ctx, http.MethodPost, "goals/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp.Goal, resp.Verification, err
}

func (c *Client) GoalVerification(ctx context.Context, goalID string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, "goals/"+url.PathEscape(goalID)+"/verification", nil, &resp)
	return resp, err
}

// Settle claims or distributes a finalized goal's stake.
func (c *Client) Settle(ctx context.Context, goalID string) (Settlement, error) {
	var resp Settlement
	err := c.do(ctx, http.MethodPost, "goals/"+url.PathEscape(goalID)+"/settle", nil, &resp)
	return resp, err
}

func (c *Client) GetVerification(ctx context.Context, id string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, "verifications/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Vote casts the caller's vote.
func (c *Client) Vote(ctx context.Context, verificationID string, yes bool) (Verification, error) {
	var resp Verification
	endpoint := "verifications/" + url.PathEscape(verificationID) + "/votes"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"vote": yes}, &resp)
	return resp, err
}

func (c *Client) Finalize(ctx context.Context, verificationID string) (Verification, error) {
	var resp Verification
	endpoint := "verifications/" + url.PathEscape(verificationID) + "/finalize"
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// VoteAction describes the vote on owner's active goal.
func (c *Client) VoteAction(ctx context.Context, owner string) (VoteAction, error) {
	var resp VoteAction
	err := c.do(ctx, http.MethodGet, "actions/vote/"+url.PathEscape(owner), nil, &resp)
	return resp, err
}

// VoteOnActiveGoal votes on owner's active goal through the action link.
func (c *Client) VoteOnActiveGoal(ctx context.Context, owner string, yes bool) (Verification, error) {
	vote := "no"
	if yes {
		vote = "yes"
	}
	var resp Verification
	endpoint := withQuery("actions/vote/"+url.PathEscape(owner), url.Values{"vote": {vote}})
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Balance(ctx context.Context, address string) (Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodGet, "accounts/"+url.PathEscape(address)+"/balance", nil, &resp)
	return resp, err
}

// Deposit credits address from the server's faucet.
func (c *Client) Deposit(ctx context.Context, address string, lamports uint64) (Balance, error) {
	var resp Balance
	endpoint := "accounts/" + url.PathEscape(address) + "/deposit"
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"lamports": lamports}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", v), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.Signer != "":
		req.Header.Set("X-Signer", c.Signer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, v url.Values) string {
	if len(v) == 0 {
		return endpoint
	}
	return endpoint + "?" + v.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
