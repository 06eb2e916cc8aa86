package era

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/remit/remit/internal/domain/claims"
)

// Poster applies a parsed remittance to the claim ledger, one claim at a
// time. Failures are isolated: a claim that cannot be matched or posted is
// recorded in the result and the rest of the file proceeds.
type Poster struct {
	matcher     *Matcher
	claims      *claims.Service
	log         zerolog.Logger
	concurrency int
}

func NewPoster(matcher *Matcher, claimSvc *claims.Service, log zerolog.Logger, concurrency int) *Poster {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Poster{
		matcher:     matcher,
		claims:      claimSvc,
		log:         log.With().Str("component", "era.poster").Logger(),
		concurrency: concurrency,
	}
}

// Post walks every claim in the file and applies it. alreadyPosted marks
// control numbers settled by a previous posting run; those claims are
// reported as already_posted without touching the ledger. Results come back
// in file order regardless of worker scheduling.
func (p *Poster) Post(ctx context.Context, f *ERAFile, fileID uuid.UUID, postedBy string, alreadyPosted map[string]bool) []ClaimPostingResult {
	results := make([]ClaimPostingResult, len(f.Claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	var mu sync.Mutex

	for i := range f.Claims {
		i := i
		g.Go(func() error {
			res := p.postOne(gctx, &f.Claims[i], f, fileID, postedBy, alreadyPosted)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

func (p *Poster) postOne(ctx context.Context, rc *Claim, f *ERAFile, fileID uuid.UUID, postedBy string, alreadyPosted map[string]bool) ClaimPostingResult {
	res := ClaimPostingResult{
		PatientControlNumber: rc.PatientControlNumber,
		PayerControlNumber:   rc.PayerControlNumber,
	}

	if rc.Unusable {
		res.Status = PostStatusFailed
		res.Reason = ReasonUnusable
		if len(rc.Problems) > 0 {
			res.Detail = rc.Problems[0]
		}
		return res
	}
	if rc.Reversal() {
		res.Status = PostStatusFailed
		res.Reason = ReasonReversalUnsupported
		res.Detail = "claim status 22 payment reversals are not posted"
		return res
	}
	if alreadyPosted[rc.PatientControlNumber] {
		res.Status = PostStatusAlreadyPosted
		res.Detail = "claim settled by a previous posting of this remittance"
		return res
	}

	matched, err := p.matcher.Match(ctx, rc)
	if err != nil {
		var me *MatchError
		if errors.As(err, &me) {
			res.Status = PostStatusFailed
			res.Reason = me.Reason
			res.Detail = me.Detail
		} else {
			res.Status = PostStatusFailed
			res.Reason = ReasonPostingError
			res.Detail = err.Error()
		}
		return res
	}
	res.ClaimID = &matched.ID

	paid, _ := rc.PaidAmount.Round(2).Float64()
	allowed, _ := rc.AllowedAmount.Round(2).Float64()
	patResp, _ := rc.PatientResponsibility.Round(2).Float64()
	rem := claims.Remittance{
		PaidAmount:            paid,
		AllowedAmount:         allowed,
		PatientResponsibility: patResp,
		ReasonCodes:           rc.ReasonCodes(),
		ERAFileID:             &fileID,
		CheckNumber:           f.CheckNumber,
		PostedBy:              postedBy,
	}

	updated, err := p.claims.ApplyRemittance(ctx, matched.ID, rem)
	if err != nil && retryable(err) {
		p.log.Warn().Str("claim_id", matched.ID.String()).Err(err).Msg("posting conflict, retrying once")
		updated, err = p.claims.ApplyRemittance(ctx, matched.ID, rem)
	}
	if err != nil {
		res.Status = PostStatusFailed
		res.Reason = ReasonPostingError
		res.Detail = err.Error()
		return res
	}

	res.Status = PostStatusPosted
	res.PaidAmount = paid
	res.AllowedAmount = allowed
	res.PatientResponsibility = patResp
	res.ClaimStatus = updated.Status
	return res
}

// retryable covers optimistic lock losses and Postgres serialization or
// deadlock aborts, all of which a single replay can clear.
func retryable(err error) bool {
	if errors.Is(err, claims.ErrVersionConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
