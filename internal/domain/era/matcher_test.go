package era

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMatch_ByControlNumber(t *testing.T) {
	repo := newMockClaimsRepo()
	want := repo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	m := NewMatcher(repo, 7)

	got, err := m.Match(context.Background(), &Claim{PatientControlNumber: "CLM100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("matched %s, want %s", got.ID, want.ID)
	}
}

func TestMatch_FallbackIdentity(t *testing.T) {
	repo := newMockClaimsRepo()
	want := repo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	repo.seed("CLM200", "MEM999", 800, date(2024, 1, 2)) // other member
	m := NewMatcher(repo, 7)

	sd := date(2024, 1, 5) // 3 days out, inside window
	rc := &Claim{
		PatientControlNumber: "MANGLED-BY-PAYER",
		MemberID:             "MEM123",
		ServiceDate:          &sd,
		BilledAmount:         decimal.NewFromInt(800),
	}
	got, err := m.Match(context.Background(), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("matched %s, want %s", got.ID, want.ID)
	}
}

func TestMatch_NotFound(t *testing.T) {
	repo := newMockClaimsRepo()
	repo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	m := NewMatcher(repo, 7)

	sd := date(2024, 6, 1) // far outside the window
	rc := &Claim{
		PatientControlNumber: "UNKNOWN",
		MemberID:             "MEM123",
		ServiceDate:          &sd,
		BilledAmount:         decimal.NewFromInt(800),
	}
	_, err := m.Match(context.Background(), rc)
	var me *MatchError
	if !errors.As(err, &me) || me.Reason != ReasonNotFound {
		t.Fatalf("err = %v, want MatchError NOT_FOUND", err)
	}
}

func TestMatch_Ambiguous(t *testing.T) {
	repo := newMockClaimsRepo()
	repo.seed("CLM100", "MEM123", 800, date(2024, 1, 2))
	repo.seed("CLM101", "MEM123", 800, date(2024, 1, 3))
	m := NewMatcher(repo, 7)

	sd := date(2024, 1, 2)
	rc := &Claim{
		PatientControlNumber: "UNKNOWN",
		MemberID:             "MEM123",
		ServiceDate:          &sd,
		BilledAmount:         decimal.NewFromInt(800),
	}
	_, err := m.Match(context.Background(), rc)
	var me *MatchError
	if !errors.As(err, &me) || me.Reason != ReasonAmbiguous {
		t.Fatalf("err = %v, want MatchError AMBIGUOUS", err)
	}
}

func TestMatch_NoFallbackDataIsNotFound(t *testing.T) {
	repo := newMockClaimsRepo()
	m := NewMatcher(repo, 7)

	_, err := m.Match(context.Background(), &Claim{PatientControlNumber: "UNKNOWN"})
	var me *MatchError
	if !errors.As(err, &me) || me.Reason != ReasonNotFound {
		t.Fatalf("err = %v, want MatchError NOT_FOUND", err)
	}
}

func TestMatch_BilledAmountToTheCent(t *testing.T) {
	repo := newMockClaimsRepo()
	repo.seed("CLM100", "MEM123", 800.01, date(2024, 1, 2))
	m := NewMatcher(repo, 7)

	sd := date(2024, 1, 2)
	rc := &Claim{
		PatientControlNumber: "UNKNOWN",
		MemberID:             "MEM123",
		ServiceDate:          &sd,
		BilledAmount:         decimal.NewFromInt(800),
	}
	if _, err := m.Match(context.Background(), rc); err == nil {
		t.Fatal("a one-cent billed difference must not match")
	}
}
