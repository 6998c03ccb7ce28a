package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"collabline/internal/config"
	"collabline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a guarded contract update matched no row because the
	// record changed between read and write.
	ErrConflict = errors.New("concurrent update conflict")
)

const contractColumns = `id,sender_id,receiver_id,price,deliverables_json,deadline,status,
influencer_confirmed,owner_confirmed,activated_at,completed_at,terminated_at,created_at,updated_at`

func scanContract(row interface{ Scan(...any) error }) (domain.Contract, error) {
	var c domain.Contract
	var deliverables string
	var activated, completed, terminated sql.NullString
	err := row.Scan(&c.ID, &c.SenderID, &c.ReceiverID, &c.Price, &deliverables, &c.Deadline, &c.Status,
		&c.InfluencerConfirmed, &c.OwnerConfirmed, &activated, &completed, &terminated, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(deliverables), &c.Deliverables); err != nil {
		return c, err
	}
	if activated.Valid {
		c.ActivatedAt = &activated.String
	}
	if completed.Valid {
		c.CompletedAt = &completed.String
	}
	if terminated.Valid {
		c.TerminatedAt = &terminated.String
	}
	return c, nil
}

func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	deliverables, err := json.Marshal(c.Deliverables)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.SenderID, c.ReceiverID, c.Price, string(deliverables), c.Deadline, c.Status,
		c.InfluencerConfirmed, c.OwnerConfirmed, nullablePtr(c.ActivatedAt), nullablePtr(c.CompletedAt),
		nullablePtr(c.TerminatedAt), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	return scanContract(r.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	return scanContract(tx.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
}

// UpdateContractGuarded writes the mutable contract fields, conditioned on the
// updated_at value observed at read time. A matched row count of zero means
// either the contract vanished (ErrNotFound) or a concurrent writer got there
// first (ErrConflict); either way nothing was written.
func (r Repo) UpdateContractGuarded(ctx context.Context, tx *sql.Tx, c domain.Contract, readUpdatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contracts SET status=?,influencer_confirmed=?,owner_confirmed=?,
activated_at=?,completed_at=?,terminated_at=?,updated_at=? WHERE id=? AND updated_at=?`,
		c.Status, c.InfluencerConfirmed, c.OwnerConfirmed,
		nullablePtr(c.ActivatedAt), nullablePtr(c.CompletedAt), nullablePtr(c.TerminatedAt),
		c.UpdatedAt, c.ID, readUpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM contracts WHERE id=?`, c.ID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r Repo) ListContracts(ctx context.Context, status, partyID string) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if partyID != "" {
		clauses = append(clauses, "(sender_id=? OR receiver_id=?)")
		args = append(args, partyID, partyID)
	}
	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) UpsertMarketplaceConfig(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO settings(key,value_json,created_at,updated_at) VALUES ('marketplace',?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetMarketplaceConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM settings WHERE key='marketplace'`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) ListEvents(ctx context.Context, limit int, cursorTS string, cursorID int64) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cursorTS != "" && cursorID > 0 {
		clauses = append(clauses, "(ts < ? OR (ts = ? AND id < ?))")
		args = append(args, cursorTS, cursorTS, cursorID)
	}
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullablePtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
