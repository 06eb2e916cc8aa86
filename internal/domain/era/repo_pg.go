package era

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postingResultRepoPG struct{ pool *pgxpool.Pool }

func NewPostingResultRepoPG(pool *pgxpool.Pool) PostingResultRepository {
	return &postingResultRepoPG{pool: pool}
}

func (r *postingResultRepoPG) Insert(ctx context.Context, pr *PostingResult) error {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	if pr.PostedAt.IsZero() {
		pr.PostedAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO posting_results (id, era_file_id, interchange_control_number,
			transaction_control_number, total_claims, successful_posts, failed_posts,
			repost, posted_by, posted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		pr.ID, pr.ERAFileID, pr.InterchangeControlNumber,
		pr.TransactionControlNumber, pr.TotalClaims, pr.SuccessfulPosts, pr.FailedPosts,
		pr.Repost, pr.PostedBy, pr.PostedAt)
	if err != nil {
		return err
	}

	for i, cr := range pr.Results {
		_, err = tx.Exec(ctx, `
			INSERT INTO posting_result_claims (id, posting_result_id, sequence,
				patient_control_number, payer_control_number, claim_id,
				status, reason, detail, paid_amount, allowed_amount,
				patient_responsibility, claim_status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			uuid.New(), pr.ID, i,
			cr.PatientControlNumber, cr.PayerControlNumber, cr.ClaimID,
			cr.Status, cr.Reason, cr.Detail, cr.PaidAmount, cr.AllowedAmount,
			cr.PatientResponsibility, cr.ClaimStatus)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const prCols = `id, era_file_id, interchange_control_number, transaction_control_number,
	total_claims, successful_posts, failed_posts, repost, posted_by, posted_at`

func scanResult(row pgx.Row) (*PostingResult, error) {
	var pr PostingResult
	err := row.Scan(&pr.ID, &pr.ERAFileID, &pr.InterchangeControlNumber, &pr.TransactionControlNumber,
		&pr.TotalClaims, &pr.SuccessfulPosts, &pr.FailedPosts, &pr.Repost, &pr.PostedBy, &pr.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	return &pr, err
}

func (r *postingResultRepoPG) loadClaims(ctx context.Context, pr *PostingResult) error {
	rows, err := r.pool.Query(ctx, `
		SELECT patient_control_number, payer_control_number, claim_id,
			status, reason, detail, paid_amount, allowed_amount,
			patient_responsibility, claim_status
		FROM posting_result_claims WHERE posting_result_id = $1 ORDER BY sequence`, pr.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cr ClaimPostingResult
		if err := rows.Scan(&cr.PatientControlNumber, &cr.PayerControlNumber, &cr.ClaimID,
			&cr.Status, &cr.Reason, &cr.Detail, &cr.PaidAmount, &cr.AllowedAmount,
			&cr.PatientResponsibility, &cr.ClaimStatus); err != nil {
			return err
		}
		pr.Results = append(pr.Results, cr)
	}
	return rows.Err()
}

func (r *postingResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PostingResult, error) {
	pr, err := scanResult(r.pool.QueryRow(ctx, `SELECT `+prCols+` FROM posting_results WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadClaims(ctx, pr); err != nil {
		return nil, err
	}
	return pr, nil
}

func (r *postingResultRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*PostingResult, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PostingResult
	for rows.Next() {
		pr, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, pr := range out {
		if err := r.loadClaims(ctx, pr); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *postingResultRepoPG) GetByERAFile(ctx context.Context, fileID uuid.UUID) ([]*PostingResult, error) {
	return r.query(ctx, `SELECT `+prCols+` FROM posting_results WHERE era_file_id = $1 ORDER BY posted_at`, fileID)
}

func (r *postingResultRepoPG) FindByControlNumbers(ctx context.Context, interchangeCN, transactionCN string) ([]*PostingResult, error) {
	return r.query(ctx, `
		SELECT `+prCols+` FROM posting_results
		WHERE interchange_control_number = $1 AND transaction_control_number = $2
		ORDER BY posted_at`, interchangeCN, transactionCN)
}
