package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabline/internal/config"
	"collabline/internal/contract"
	"collabline/internal/db"
	"collabline/internal/domain"
	"collabline/internal/engine"
	"collabline/internal/migrate"
	"collabline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-marketplace")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createDraft(t *testing.T, env testEnv) domain.Contract {
	t.Helper()
	c, err := env.Engine.CreateContract(env.Ctx, engine.ContractCreateOptions{
		SenderID:   "inf-1",
		ReceiverID: "own-1",
		Price:      5000,
		Deadline:   "2026-06-01",
		Deliverables: []domain.Deliverable{
			{Platform: "instagram", ActionType: "post", Quantity: 2},
		},
		ActorID: "own-1",
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return c
}

func transition(t *testing.T, env testEnv, id string, tr contract.Transition, role contract.Role) domain.Contract {
	t.Helper()
	c, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ContractID: id,
		Transition: tr,
		Role:       role,
		ActorID:    string(role) + "-actor",
	})
	if err != nil {
		t.Fatalf("%s as %s: %v", tr, role, err)
	}
	return c
}

func TestContractLifecycleToCompletion(t *testing.T) {
	env := newTestEnv(t)
	c := createDraft(t, env)
	if c.Status != domain.ContractStatusDraft {
		t.Fatalf("new contract status = %s", c.Status)
	}

	c = transition(t, env, c.ID, contract.TransitionActivate, contract.RoleInfluencer)
	if c.Status != domain.ContractStatusActive || c.ActivatedAt == nil {
		t.Fatalf("after activation: %+v", c)
	}

	c = transition(t, env, c.ID, contract.TransitionInfluencerConfirm, contract.RoleInfluencer)
	if c.Status != domain.ContractStatusActive || !c.InfluencerConfirmed {
		t.Fatalf("after influencer confirm: %+v", c)
	}

	c = transition(t, env, c.ID, contract.TransitionOwnerConfirm, contract.RoleOwner)
	if c.Status != domain.ContractStatusCompleted || c.CompletedAt == nil {
		t.Fatalf("after owner confirm: %+v", c)
	}

	// completion persisted
	got, err := env.Engine.GetContract(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ContractStatusCompleted {
		t.Fatalf("persisted status = %s", got.Status)
	}
}

func TestTerminationFromDraft(t *testing.T) {
	env := newTestEnv(t)
	c := createDraft(t, env)
	c = transition(t, env, c.ID, contract.TransitionTerminate, contract.RoleOwner)
	if c.Status != domain.ContractStatusTerminated || c.TerminatedAt == nil {
		t.Fatalf("after termination: %+v", c)
	}
	// terminal contracts reject further transitions
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ContractID: c.ID,
		Transition: contract.TransitionActivate,
		Role:       contract.RoleInfluencer,
		ActorID:    "inf-1",
	})
	var ite contract.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("want InvalidTransitionError, got %v", err)
	}
}

func TestOwnerCannotActivate(t *testing.T) {
	env := newTestEnv(t)
	c := createDraft(t, env)
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ContractID: c.ID,
		Transition: contract.TransitionActivate,
		Role:       contract.RoleOwner,
		ActorID:    "own-1",
	})
	var fe contract.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
	got, err := env.Engine.GetContract(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ContractStatusDraft {
		t.Fatalf("rejected transition must not persist, status = %s", got.Status)
	}
}

func TestReconfirmationWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	c := createDraft(t, env)
	transition(t, env, c.ID, contract.TransitionActivate, contract.RoleInfluencer)
	transition(t, env, c.ID, contract.TransitionInfluencerConfirm, contract.RoleInfluencer)

	before, err := env.Engine.Repo.ListEvents(env.Ctx, 100, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	got := transition(t, env, c.ID, contract.TransitionInfluencerConfirm, contract.RoleInfluencer)
	if !got.InfluencerConfirmed || got.Status != domain.ContractStatusActive {
		t.Fatalf("re-confirmation result: %+v", got)
	}
	after, err := env.Engine.Repo.ListEvents(env.Ctx, 100, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("re-confirmation logged an event: %d -> %d", len(before), len(after))
	}
}

func TestTransitionUnknownContract(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ContractID: "missing",
		Transition: contract.TransitionActivate,
		Role:       contract.RoleInfluencer,
		ActorID:    "inf-1",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGuardedWriteDetectsConcurrentUpdate(t *testing.T) {
	env := newTestEnv(t)
	c := createDraft(t, env)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	stale := c
	stale.Status = domain.ContractStatusActive
	stale.UpdatedAt = "2026-03-14T12:05:00Z"
	err = env.Engine.Repo.UpdateContractGuarded(env.Ctx, tx, stale, "some-other-updated-at")
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("stale guard: want ErrConflict, got %v", err)
	}
}

func TestCreateContractValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		opts engine.ContractCreateOptions
	}{
		{"missing parties", engine.ContractCreateOptions{Price: 100, Deadline: "2026-06-01",
			Deliverables: []domain.Deliverable{{Platform: "instagram", ActionType: "post", Quantity: 1}}}},
		{"zero price", engine.ContractCreateOptions{SenderID: "a", ReceiverID: "b", Deadline: "2026-06-01",
			Deliverables: []domain.Deliverable{{Platform: "instagram", ActionType: "post", Quantity: 1}}}},
		{"bad deadline", engine.ContractCreateOptions{SenderID: "a", ReceiverID: "b", Price: 100, Deadline: "soon",
			Deliverables: []domain.Deliverable{{Platform: "instagram", ActionType: "post", Quantity: 1}}}},
		{"no deliverables", engine.ContractCreateOptions{SenderID: "a", ReceiverID: "b", Price: 100, Deadline: "2026-06-01"}},
		{"unknown platform", engine.ContractCreateOptions{SenderID: "a", ReceiverID: "b", Price: 100, Deadline: "2026-06-01",
			Deliverables: []domain.Deliverable{{Platform: "myspace", ActionType: "post", Quantity: 1}}}},
	}
	for _, tc := range cases {
		_, err := env.Engine.CreateContract(env.Ctx, tc.opts)
		var ve engine.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: want ValidationError, got %v", tc.name, err)
		}
	}
}

func TestListContractsFilters(t *testing.T) {
	env := newTestEnv(t)
	a := createDraft(t, env)
	b := createDraft(t, env)
	transition(t, env, b.ID, contract.TransitionActivate, contract.RoleInfluencer)

	drafts, err := env.Engine.ListContracts(env.Ctx, domain.ContractStatusDraft, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 1 || drafts[0].ID != a.ID {
		t.Fatalf("draft filter: %+v", drafts)
	}
	byParty, err := env.Engine.ListContracts(env.Ctx, "", "inf-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byParty) != 2 {
		t.Fatalf("party filter: got %d", len(byParty))
	}
	if _, err := env.Engine.ListContracts(env.Ctx, "bogus", ""); err == nil {
		t.Fatal("unknown status filter must be rejected")
	}
}

func TestProposalAcceptMintsDraftContract(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID:        "job-1",
		InfluencerID: "inf-1",
		OwnerID:      "own-1",
		Price:        7500,
		Deadline:     "2026-07-01",
		Deliverables: []domain.Deliverable{
			{Platform: "tiktok", ActionType: "video", Quantity: 1},
		},
		Message: "I can deliver this in two weeks",
		ActorID: "inf-1",
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if p.Status != domain.ProposalStatusPending {
		t.Fatalf("proposal status = %s", p.Status)
	}

	// only the owner accepts
	_, err = env.Engine.AcceptProposal(env.Ctx, p.ID, contract.RoleInfluencer, "inf-1")
	var fe contract.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("influencer accept: want ForbiddenError, got %v", err)
	}

	c, err := env.Engine.AcceptProposal(env.Ctx, p.ID, contract.RoleOwner, "own-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if c.Status != domain.ContractStatusDraft || c.SenderID != "inf-1" || c.ReceiverID != "own-1" || c.Price != 7500 {
		t.Fatalf("minted contract: %+v", c)
	}

	got, err := env.Engine.Repo.GetProposal(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ProposalStatusAccepted || got.ContractID == nil || *got.ContractID != c.ID {
		t.Fatalf("proposal after accept: %+v", got)
	}

	// accepted proposals cannot be accepted again or deleted
	if _, err := env.Engine.AcceptProposal(env.Ctx, p.ID, contract.RoleOwner, "own-1"); err == nil {
		t.Fatal("double accept must fail")
	}
	if err := env.Engine.DeleteProposal(env.Ctx, p.ID, "own-1"); err == nil {
		t.Fatal("deleting an accepted proposal must fail")
	}
}

func TestDeletePendingProposal(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalCreateOptions{
		JobID:        "job-2",
		InfluencerID: "inf-2",
		OwnerID:      "own-2",
		Price:        1000,
		Deadline:     "2026-08-01",
		Deliverables: []domain.Deliverable{
			{Platform: "youtube", ActionType: "video", Quantity: 1},
		},
		ActorID: "inf-2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteProposal(env.Ctx, p.ID, "inf-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetProposal(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}

func TestEventLogRecordsTransitions(t *testing.T) {
	env := newTestEnv(t)
	c := createDraft(t, env)
	transition(t, env, c.ID, contract.TransitionActivate, contract.RoleInfluencer)
	transition(t, env, c.ID, contract.TransitionTerminate, contract.RoleOwner)

	events, err := env.Engine.Repo.ListEvents(env.Ctx, 10, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, e := range events {
		types[e.Type] = true
	}
	for _, want := range []string{"contract.created", "contract.activated", "contract.terminated"} {
		if !types[want] {
			t.Errorf("missing event %s in %v", want, types)
		}
	}
}
