package domain

// Contract statuses. Completed is never requested directly; it is derived when
// both parties have confirmed.
const (
	ContractStatusDraft      = "draft"
	ContractStatusActive     = "active"
	ContractStatusCompleted  = "completed"
	ContractStatusTerminated = "terminated"
)

const (
	ProposalStatusPending  = "pending"
	ProposalStatusAccepted = "accepted"
)

type Deliverable struct {
	Platform   string `json:"platform"`
	ActionType string `json:"action_type"`
	Quantity   int    `json:"quantity" minimum:"1"`
}

type Contract struct {
	ID                  string        `json:"id"`
	SenderID            string        `json:"sender_id"`
	ReceiverID          string        `json:"receiver_id"`
	Price               int64         `json:"price" minimum:"1"`
	Deliverables        []Deliverable `json:"deliverables"`
	Deadline            string        `json:"deadline" format:"date"`
	Status              string        `json:"status" enum:"draft,active,completed,terminated"`
	InfluencerConfirmed bool          `json:"influencer_confirmed"`
	OwnerConfirmed      bool          `json:"owner_confirmed"`
	ActivatedAt         *string       `json:"activated_at,omitempty" format:"date-time"`
	CompletedAt         *string       `json:"completed_at,omitempty" format:"date-time"`
	TerminatedAt        *string       `json:"terminated_at,omitempty" format:"date-time"`
	CreatedAt           string        `json:"created_at" format:"date-time"`
	UpdatedAt           string        `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the contract accepts no further transitions.
func (c Contract) Terminal() bool {
	return c.Status == ContractStatusCompleted || c.Status == ContractStatusTerminated
}

type Proposal struct {
	ID           string        `json:"id"`
	JobID        string        `json:"job_id"`
	InfluencerID string        `json:"influencer_id"`
	OwnerID      string        `json:"owner_id"`
	Price        int64         `json:"price" minimum:"1"`
	Deliverables []Deliverable `json:"deliverables"`
	Deadline     string        `json:"deadline" format:"date"`
	Message      string        `json:"message,omitempty"`
	Status       string        `json:"status" enum:"pending,accepted"`
	ContractID   *string       `json:"contract_id,omitempty"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role" enum:"influencer,owner"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
