package era

import (
	"context"
	"errors"
	"fmt"

	"github.com/remit/remit/internal/domain/claims"
)

// Matcher resolves a remitted claim to exactly one practice claim record.
// The patient control number (CLP01) is authoritative; when the payer
// mangles or drops it, a fallback identity of member ID, service date within
// a configurable window, and billed amount to the cent is tried instead.
type Matcher struct {
	repo       claims.Repository
	windowDays int
}

func NewMatcher(repo claims.Repository, windowDays int) *Matcher {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Matcher{repo: repo, windowDays: windowDays}
}

// MatchError reports why a remitted claim could not be resolved. Reason is
// one of ReasonNotFound or ReasonAmbiguous.
type MatchError struct {
	Reason string
	Detail string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("era: match: %s: %s", e.Reason, e.Detail)
}

// Match returns the unique practice claim for a remitted claim, or a
// MatchError when zero or several candidates fit.
func (m *Matcher) Match(ctx context.Context, rc *Claim) (*claims.Claim, error) {
	if rc.PatientControlNumber != "" {
		c, err := m.repo.GetByControlNumber(ctx, rc.PatientControlNumber)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, claims.ErrNotFound) {
			return nil, err
		}
	}

	if rc.MemberID == "" || rc.ServiceDate == nil {
		return nil, &MatchError{
			Reason: ReasonNotFound,
			Detail: "no claim with control number " + rc.PatientControlNumber + " and insufficient data for fallback match",
		}
	}

	billed, _ := rc.BilledAmount.Round(2).Float64()
	candidates, err := m.repo.FindCandidates(ctx, rc.MemberID, *rc.ServiceDate, billed, m.windowDays)
	if err != nil {
		return nil, err
	}
	switch len(candidates) {
	case 0:
		return nil, &MatchError{
			Reason: ReasonNotFound,
			Detail: fmt.Sprintf("no claim matches member %s, service date %s, billed %.2f", rc.MemberID, rc.ServiceDate.Format("2006-01-02"), billed),
		}
	case 1:
		return candidates[0], nil
	default:
		return nil, &MatchError{
			Reason: ReasonAmbiguous,
			Detail: fmt.Sprintf("%d claims match member %s, service date %s, billed %.2f", len(candidates), rc.MemberID, rc.ServiceDate.Format("2006-01-02"), billed),
		}
	}
}
