package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"collabline/internal/domain"
)

const proposalColumns = `id,job_id,influencer_id,owner_id,price,deliverables_json,deadline,
COALESCE(message,''),status,contract_id,created_at`

func scanProposal(row interface{ Scan(...any) error }) (domain.Proposal, error) {
	var p domain.Proposal
	var deliverables string
	var contractID sql.NullString
	err := row.Scan(&p.ID, &p.JobID, &p.InfluencerID, &p.OwnerID, &p.Price, &deliverables,
		&p.Deadline, &p.Message, &p.Status, &contractID, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(deliverables), &p.Deliverables); err != nil {
		return p, err
	}
	if contractID.Valid {
		p.ContractID = &contractID.String
	}
	return p, nil
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	deliverables, err := json.Marshal(p.Deliverables)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO proposals(id,job_id,influencer_id,owner_id,price,deliverables_json,deadline,message,status,contract_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.JobID, p.InfluencerID, p.OwnerID, p.Price, string(deliverables), p.Deadline,
		nullable(p.Message), p.Status, nullablePtr(p.ContractID), p.CreatedAt)
	return err
}

func (r Repo) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	return scanProposal(r.DB.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

func (r Repo) ListProposals(ctx context.Context, jobID, status string) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
	var clauses []string
	var args []any
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// DeleteProposal removes a proposal. Contracts have no counterpart: an
// engagement record is permanent once minted.
func (r Repo) DeleteProposal(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM proposals WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkProposalAccepted(ctx context.Context, tx *sql.Tx, id, contractID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE proposals SET status=?, contract_id=? WHERE id=? AND status=?`,
		domain.ProposalStatusAccepted, contractID, id, domain.ProposalStatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
