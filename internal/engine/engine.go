package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"collabline/internal/config"
	"collabline/internal/contract"
	"collabline/internal/domain"
	"collabline/internal/events"
	"collabline/internal/repo"
)

// Engine orchestrates contract and proposal operations: load, validate,
// mutate, persist in a single transaction per request. It holds no state
// between calls.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError marks a rejected request payload, as opposed to a failed
// transition or a missing record.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// ContractCreateOptions are parameters for creating a draft contract.
type ContractCreateOptions struct {
	ID           string
	SenderID     string
	ReceiverID   string
	Price        int64
	Deliverables []domain.Deliverable
	Deadline     string
	ActorID      string
}

func (e Engine) CreateContract(ctx context.Context, opts ContractCreateOptions) (domain.Contract, error) {
	if e.Config == nil {
		return domain.Contract{}, errors.New("config not loaded")
	}
	if opts.SenderID == "" || opts.ReceiverID == "" {
		return domain.Contract{}, ValidationError("sender_id and receiver_id are required")
	}
	if opts.Price <= 0 {
		return domain.Contract{}, ValidationError("price must be positive")
	}
	if err := e.validateDeadline(opts.Deadline); err != nil {
		return domain.Contract{}, err
	}
	if err := e.validateDeliverables(opts.Deliverables); err != nil {
		return domain.Contract{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contract{
		ID:           id,
		SenderID:     opts.SenderID,
		ReceiverID:   opts.ReceiverID,
		Price:        opts.Price,
		Deliverables: opts.Deliverables,
		Deadline:     opts.Deadline,
		Status:       domain.ContractStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.created", "contract", c.ID, opts.ActorID, events.EventPayload{
		"status": c.Status,
		"price":  c.Price,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// TransitionOptions identify one requested state change on one contract.
type TransitionOptions struct {
	ContractID string
	Transition contract.Transition
	Role       contract.Role
	ActorID    string
}

// Transition runs the read-modify-write cycle for a single transition request.
// Authorization is evaluated against the loaded status, the state machine
// applies the effects, and the write is guarded against concurrent updates.
// An idempotent re-confirmation commits nothing and logs nothing.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Contract, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetContractTx(ctx, tx, opts.ContractID)
	if err != nil {
		return domain.Contract{}, err
	}
	res, err := contract.Apply(current, opts.Transition, opts.Role, e.now())
	if err != nil {
		return domain.Contract{}, err
	}
	if !res.Changed {
		return res.Contract, nil
	}
	updated := res.Contract
	updated.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateContractGuarded(ctx, tx, updated, current.UpdatedAt); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, res.Event, "contract", updated.ID, opts.ActorID, events.EventPayload{
		"from_status": current.Status,
		"to_status":   updated.Status,
		"transition":  string(opts.Transition),
		"role":        string(opts.Role),
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return updated, nil
}

func (e Engine) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	return e.Repo.GetContract(ctx, id)
}

func (e Engine) ListContracts(ctx context.Context, status, partyID string) ([]domain.Contract, error) {
	if status != "" {
		switch status {
		case domain.ContractStatusDraft, domain.ContractStatusActive,
			domain.ContractStatusCompleted, domain.ContractStatusTerminated:
		default:
			return nil, ValidationError("unknown status filter " + status)
		}
	}
	return e.Repo.ListContracts(ctx, status, partyID)
}

// ProposalCreateOptions are parameters for an influencer's pitch on a job.
type ProposalCreateOptions struct {
	ID           string
	JobID        string
	InfluencerID string
	OwnerID      string
	Price        int64
	Deliverables []domain.Deliverable
	Deadline     string
	Message      string
	ActorID      string
}

func (e Engine) CreateProposal(ctx context.Context, opts ProposalCreateOptions) (domain.Proposal, error) {
	if e.Config == nil {
		return domain.Proposal{}, errors.New("config not loaded")
	}
	if opts.JobID == "" {
		return domain.Proposal{}, ValidationError("job_id is required")
	}
	if opts.InfluencerID == "" || opts.OwnerID == "" {
		return domain.Proposal{}, ValidationError("influencer_id and owner_id are required")
	}
	if opts.Price <= 0 {
		return domain.Proposal{}, ValidationError("price must be positive")
	}
	if err := e.validateDeadline(opts.Deadline); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.validateDeliverables(opts.Deliverables); err != nil {
		return domain.Proposal{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Proposal{
		ID:           id,
		JobID:        opts.JobID,
		InfluencerID: opts.InfluencerID,
		OwnerID:      opts.OwnerID,
		Price:        opts.Price,
		Deliverables: opts.Deliverables,
		Deadline:     opts.Deadline,
		Message:      opts.Message,
		Status:       domain.ProposalStatusPending,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.created", "proposal", p.ID, opts.ActorID, events.EventPayload{
		"job_id": p.JobID,
		"price":  p.Price,
	}); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

func (e Engine) ListProposals(ctx context.Context, jobID, status string) ([]domain.Proposal, error) {
	return e.Repo.ListProposals(ctx, jobID, status)
}

// DeleteProposal removes a pending proposal. Accepted proposals are kept:
// their contract link is part of the audit trail.
func (e Engine) DeleteProposal(ctx context.Context, id, actorID string) error {
	p, err := e.Repo.GetProposal(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == domain.ProposalStatusAccepted {
		return ValidationError("proposal already accepted; it cannot be deleted")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProposal(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "proposal.deleted", "proposal", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

// AcceptProposal is the business owner taking an influencer's pitch: it mints
// a draft contract from the proposal terms and links the two in one
// transaction. The influencer then activates the contract to accept.
func (e Engine) AcceptProposal(ctx context.Context, id string, role contract.Role, actorID string) (domain.Contract, error) {
	if role != contract.RoleOwner {
		return domain.Contract{}, contract.ForbiddenError{Role: role, Requested: "accept"}
	}
	p, err := e.Repo.GetProposal(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	if p.Status != domain.ProposalStatusPending {
		return domain.Contract{}, ValidationError("proposal is not pending")
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Contract{
		ID:           uuid.New().String(),
		SenderID:     p.InfluencerID,
		ReceiverID:   p.OwnerID,
		Price:        p.Price,
		Deliverables: p.Deliverables,
		Deadline:     p.Deadline,
		Status:       domain.ContractStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Repo.MarkProposalAccepted(ctx, tx, p.ID, c.ID); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "proposal.accepted", "proposal", p.ID, actorID, events.EventPayload{
		"contract_id": c.ID,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.created", "contract", c.ID, actorID, events.EventPayload{
		"status":      c.Status,
		"proposal_id": p.ID,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

func (e Engine) validateDeadline(deadline string) error {
	if deadline == "" {
		return ValidationError("deadline is required")
	}
	if _, err := time.Parse("2006-01-02", deadline); err != nil {
		return ValidationError("deadline must be a YYYY-MM-DD date")
	}
	return nil
}

func (e Engine) validateDeliverables(items []domain.Deliverable) error {
	if len(items) == 0 {
		return ValidationError("at least one deliverable is required")
	}
	for _, d := range items {
		if d.Quantity <= 0 {
			return ValidationError("deliverable quantity must be positive")
		}
		if !e.Config.AllowsDeliverable(d.Platform, d.ActionType) {
			return ValidationError("unknown deliverable " + d.Platform + "/" + d.ActionType)
		}
	}
	return nil
}
