package server

import (
	"encoding/json"

	"collabline/internal/config"
	"collabline/internal/domain"
)

// Request payloads

type CreateContractRequest struct {
	SenderID     string               `json:"sender_id" doc:"Influencer identity"`
	ReceiverID   string               `json:"receiver_id" doc:"Business identity"`
	Price        int64                `json:"price" minimum:"1"`
	Deliverables []domain.Deliverable `json:"deliverables"`
	Deadline     string               `json:"deadline" format:"date"`
}

// TransitionRequest carries the requested transition token. Status is not
// schema-constrained: an unrecognized token must classify as an invalid
// transition (409), not fail request validation.
type TransitionRequest struct {
	Status string `json:"status" doc:"Transition token: active, influencerConfirmed, ownerConfirmed or terminated"`
	Role   string `json:"role,omitempty" enum:"influencer,owner" doc:"Required only when the credential carries no role"`
}

type CreateProposalRequest struct {
	JobID        string               `json:"job_id"`
	InfluencerID string               `json:"influencer_id"`
	OwnerID      string               `json:"owner_id"`
	Price        int64                `json:"price" minimum:"1"`
	Deliverables []domain.Deliverable `json:"deliverables"`
	Deadline     string               `json:"deadline" format:"date"`
	Message      *string              `json:"message,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Role    string  `json:"role" enum:"influencer,owner"`
	Name    *string `json:"name,omitempty"`
}

// Response payloads

type ContractResponse struct {
	ID                  string               `json:"id"`
	SenderID            string               `json:"sender_id"`
	ReceiverID          string               `json:"receiver_id"`
	Price               int64                `json:"price"`
	Deliverables        []domain.Deliverable `json:"deliverables"`
	Deadline            string               `json:"deadline" format:"date"`
	Status              string               `json:"status" enum:"draft,active,completed,terminated"`
	InfluencerConfirmed bool                 `json:"influencer_confirmed"`
	OwnerConfirmed      bool                 `json:"owner_confirmed"`
	ActivatedAt         *string              `json:"activated_at,omitempty" format:"date-time"`
	CompletedAt         *string              `json:"completed_at,omitempty" format:"date-time"`
	TerminatedAt        *string              `json:"terminated_at,omitempty" format:"date-time"`
	CreatedAt           string               `json:"created_at" format:"date-time"`
	UpdatedAt           string               `json:"updated_at" format:"date-time"`
}

type ProposalResponse struct {
	ID           string               `json:"id"`
	JobID        string               `json:"job_id"`
	InfluencerID string               `json:"influencer_id"`
	OwnerID      string               `json:"owner_id"`
	Price        int64                `json:"price"`
	Deliverables []domain.Deliverable `json:"deliverables"`
	Deadline     string               `json:"deadline" format:"date"`
	Message      string               `json:"message,omitempty"`
	Status       string               `json:"status" enum:"pending,accepted"`
	ContractID   *string              `json:"contract_id,omitempty"`
	CreatedAt    string               `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role" enum:"influencer,owner"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Plaintext key, shown once at creation"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ConfigResponse struct {
	Marketplace struct {
		Name string `json:"name"`
	} `json:"marketplace"`
	Platforms map[string]platformSection `json:"platforms"`
}

type platformSection struct {
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions"`
}

type contractList struct {
	Items []ContractResponse `json:"items"`
}

type proposalList struct {
	Items []ProposalResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func contractResponse(c domain.Contract) ContractResponse {
	return ContractResponse{
		ID:                  c.ID,
		SenderID:            c.SenderID,
		ReceiverID:          c.ReceiverID,
		Price:               c.Price,
		Deliverables:        nonNilSlice(c.Deliverables),
		Deadline:            c.Deadline,
		Status:              c.Status,
		InfluencerConfirmed: c.InfluencerConfirmed,
		OwnerConfirmed:      c.OwnerConfirmed,
		ActivatedAt:         c.ActivatedAt,
		CompletedAt:         c.CompletedAt,
		TerminatedAt:        c.TerminatedAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func proposalResponse(p domain.Proposal) ProposalResponse {
	return ProposalResponse{
		ID:           p.ID,
		JobID:        p.JobID,
		InfluencerID: p.InfluencerID,
		OwnerID:      p.OwnerID,
		Price:        p.Price,
		Deliverables: nonNilSlice(p.Deliverables),
		Deadline:     p.Deadline,
		Message:      p.Message,
		Status:       p.Status,
		ContractID:   p.ContractID,
		CreatedAt:    p.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ConfigResponse {
	res := ConfigResponse{Platforms: map[string]platformSection{}}
	if cfg == nil {
		return res
	}
	res.Marketplace.Name = cfg.Marketplace.Name
	for name, p := range cfg.Platforms {
		res.Platforms[name] = platformSection{
			Description: p.Description,
			Actions:     p.Actions,
		}
	}
	return res
}

func mapContracts(in []domain.Contract) []ContractResponse {
	out := make([]ContractResponse, 0, len(in))
	for _, c := range in {
		out = append(out, contractResponse(c))
	}
	return out
}

func mapProposals(in []domain.Proposal) []ProposalResponse {
	out := make([]ProposalResponse, 0, len(in))
	for _, p := range in {
		out = append(out, proposalResponse(p))
	}
	return out
}

func mapEvents(in []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, eventResponse(e))
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
