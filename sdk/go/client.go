package collablinesdk

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

// Client is a minimal Collabline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Deliverable is one promised action on a platform.
type Deliverable struct {
	Platform   string `json:"platform"`
	ActionType string `json:"action_type"`
	Quantity   int    `json:"quantity"`
}

// Contract represents the API contract model.
type Contract struct {
	ID                  string        `json:"id"`
	SenderID            string        `json:"sender_id"`
	ReceiverID          string        `json:"receiver_id"`
	Price               int64         `json:"price"`
	Deliverables        []Deliverable `json:"deliverables"`
	Deadline            string        `json:"deadline"`
	Status              string        `json:"status"`
	InfluencerConfirmed bool          `json:"influencer_confirmed"`
	OwnerConfirmed      bool          `json:"owner_confirmed"`
	ActivatedAt         string        `json:"activated_at,omitempty"`
	CompletedAt         string        `json:"completed_at,omitempty"`
	TerminatedAt        string        `json:"terminated_at,omitempty"`
	CreatedAt           string        `json:"created_at"`
	UpdatedAt           string        `json:"updated_at"`
}

// Proposal represents an influencer's pitch on a job.
type Proposal struct {
	ID           string        `json:"id"`
	JobID        string        `json:"job_id"`
	InfluencerID string        `json:"influencer_id"`
	OwnerID      string        `json:"owner_id"`
	Price        int64         `json:"price"`
	Deliverables []Deliverable `json:"deliverables"`
	Deadline     string        `json:"deadline"`
	Message      string        `json:"message,omitempty"`
	Status       string        `json:"status"`
	ContractID   string        `json:"contract_id,omitempty"`
	CreatedAt    string        `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the server sent one.
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

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateContractParams are the fields for minting a draft contract.
type CreateContractParams struct {
	SenderID     string        `json:"sender_id"`
	ReceiverID   string        `json:"receiver_id"`
	Price        int64         `json:"price"`
	Deliverables []Deliverable `json:"deliverables"`
	Deadline     string        `json:"deadline"`
}

// CreateContract creates a draft contract.
func (c *Client) CreateContract(ctx context.Context, params CreateContractParams) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "v1/contracts", params, &resp)
	return resp, err
}

// GetContract fetches a contract by id.
func (c *Client) GetContract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, "v1/contracts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListContracts lists contracts, both filters optional.
func (c *Client) ListContracts(ctx context.Context, status, party string) ([]Contract, error) {
	var resp struct {
		Items []Contract `json:"items"`
	}
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if party != "" {
		q.Set("party", party)
	}
	endpoint := "v1/contracts"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Transition requests a state change on a contract. The status token is one
// of active, influencerConfirmed, ownerConfirmed, terminated. Role may be
// empty when the credential already carries one.
func (c *Client) Transition(ctx context.Context, contractID, status, role string) (Contract, error) {
	body := map[string]any{"status": status}
	if role != "" {
		body["role"] = role
	}
	var resp Contract
	endpoint := fmt.Sprintf("v1/contracts/%s/transition", url.PathEscape(contractID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateProposalParams are the fields for an influencer's pitch.
type CreateProposalParams struct {
	JobID        string        `json:"job_id"`
	InfluencerID string        `json:"influencer_id"`
	OwnerID      string        `json:"owner_id"`
	Price        int64         `json:"price"`
	Deliverables []Deliverable `json:"deliverables"`
	Deadline     string        `json:"deadline"`
	Message      string        `json:"message,omitempty"`
}

// CreateProposal creates a proposal.
func (c *Client) CreateProposal(ctx context.Context, params CreateProposalParams) (Proposal, error) {
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "v1/proposals", params, &resp)
	return resp, err
}

// ListProposals lists proposals, both filters optional.
func (c *Client) ListProposals(ctx context.Context, jobID, status string) ([]Proposal, error) {
	var resp struct {
		Items []Proposal `json:"items"`
	}
	q := url.Values{}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "v1/proposals"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// DeleteProposal removes a pending proposal.
func (c *Client) DeleteProposal(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/proposals/"+url.PathEscape(id), nil, nil)
}

// AcceptProposal accepts a proposal into a draft contract (owner only).
func (c *Client) AcceptProposal(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v1/proposals/%s/accept", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
