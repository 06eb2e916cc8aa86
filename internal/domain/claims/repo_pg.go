package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remit/remit/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const claimCols = `id, control_number, patient_id, member_id, payer_name,
	billed_amount, allowed_amount, paid_amount, patient_responsibility,
	adjustment_reason_codes, service_date, status, version_id, created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ControlNumber, &c.PatientID, &c.MemberID, &c.PayerName,
		&c.BilledAmount, &c.AllowedAmount, &c.PaidAmount, &c.PatientResponsibility,
		&c.AdjustmentReasonCodes, &c.ServiceDate, &c.Status, &c.VersionID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusSubmitted
	}
	c.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, control_number, patient_id, member_id, payer_name,
			billed_amount, allowed_amount, paid_amount, patient_responsibility,
			adjustment_reason_codes, service_date, status, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.ControlNumber, c.PatientID, c.MemberID, c.PayerName,
		c.BilledAmount, c.AllowedAmount, c.PaidAmount, c.PatientResponsibility,
		c.AdjustmentReasonCodes, c.ServiceDate, c.Status, c.VersionID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

func (r *repoPG) GetByControlNumber(ctx context.Context, controlNumber string) (*Claim, error) {
	return scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE control_number = $1`, controlNumber))
}

func (r *repoPG) FindCandidates(ctx context.Context, memberID string, serviceDate time.Time, billedAmount float64, windowDays int) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+claimCols+` FROM claims
		WHERE member_id = $1
		  AND ABS(billed_amount - $2) < 0.005
		  AND service_date BETWEEN $3::date - $4 AND $3::date + $4
		ORDER BY service_date, created_at`,
		memberID, billedAmount, serviceDate, windowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) ApplyPayment(ctx context.Context, c *Claim, entry *LedgerEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE claims SET allowed_amount=$2, paid_amount=$3, patient_responsibility=$4,
			adjustment_reason_codes=$5, status=$6, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $7`,
		c.ID, c.AllowedAmount, c.PaidAmount, c.PatientResponsibility,
		c.AdjustmentReasonCodes, c.Status, c.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.ClaimID = c.ID
	if entry.PostedAt.IsZero() {
		entry.PostedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO claim_ledger (id, claim_id, era_file_id, entry_type, amount,
			allowed_amount, patient_responsibility, reason_codes, check_number, posted_by, posted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		entry.ID, entry.ClaimID, entry.ERAFileID, entry.EntryType, entry.Amount,
		entry.AllowedAmount, entry.PatientResponsibility, entry.ReasonCodes,
		entry.CheckNumber, entry.PostedBy, entry.PostedAt)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	c.VersionID++
	return nil
}

func (r *repoPG) ListLedgerByClaim(ctx context.Context, claimID uuid.UUID) ([]*LedgerEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, era_file_id, entry_type, amount,
			allowed_amount, patient_responsibility, reason_codes, check_number, posted_by, posted_at
		FROM claim_ledger WHERE claim_id = $1 ORDER BY posted_at, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.ClaimID, &e.ERAFileID, &e.EntryType, &e.Amount,
			&e.AllowedAmount, &e.PatientResponsibility, &e.ReasonCodes,
			&e.CheckNumber, &e.PostedBy, &e.PostedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error) {
	where := ``
	args := []interface{}{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT `+claimCols+` FROM claims%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
