package claims

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service wraps the repository with the status rules that keep a claim's
// lifecycle consistent with its ledger.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "claims").Logger()}
}

// Remittance carries the adjudication amounts being applied to a claim.
type Remittance struct {
	PaidAmount            float64
	AllowedAmount         float64
	PatientResponsibility float64
	ReasonCodes           []string
	ERAFileID             *uuid.UUID
	CheckNumber           string
	PostedBy              string
}

// ApplyRemittance records a payer adjudication on the claim: it updates the
// claim's amounts, derives its new status, and appends a ledger entry, all
// in one guarded write. The returned claim reflects the new state.
func (s *Service) ApplyRemittance(ctx context.Context, claimID uuid.UUID, rem Remittance) (*Claim, error) {
	c, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}

	c.PaidAmount = rem.PaidAmount
	c.AllowedAmount = rem.AllowedAmount
	c.PatientResponsibility = rem.PatientResponsibility
	c.AdjustmentReasonCodes = rem.ReasonCodes
	c.Status = deriveStatus(c.BilledAmount, rem.PaidAmount)

	entryType := EntryPayment
	if c.Status == StatusDenied {
		entryType = EntryDenial
	}
	entry := &LedgerEntry{
		ERAFileID:             rem.ERAFileID,
		EntryType:             entryType,
		Amount:                rem.PaidAmount,
		AllowedAmount:         rem.AllowedAmount,
		PatientResponsibility: rem.PatientResponsibility,
		ReasonCodes:           rem.ReasonCodes,
		CheckNumber:           rem.CheckNumber,
		PostedBy:              rem.PostedBy,
	}

	if err := s.repo.ApplyPayment(ctx, c, entry); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("claim_id", c.ID.String()).
		Str("control_number", c.ControlNumber).
		Float64("paid", rem.PaidAmount).
		Str("status", c.Status).
		Msg("remittance applied")
	return c, nil
}

// deriveStatus maps adjudicated amounts to a claim status. Full payment is
// judged to the cent so fractional float noise cannot hold a claim open.
func deriveStatus(billed, paid float64) string {
	switch {
	case paid == 0:
		return StatusDenied
	case paid >= billed || math.Abs(billed-paid) < 0.005:
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) Ledger(ctx context.Context, claimID uuid.UUID) ([]*LedgerEntry, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.ListLedgerByClaim(ctx, claimID)
}

func (s *Service) Create(ctx context.Context, c *Claim) error {
	if c.ControlNumber == "" {
		return fmt.Errorf("claims: control number is required")
	}
	if c.BilledAmount <= 0 {
		return fmt.Errorf("claims: billed amount must be positive")
	}
	return s.repo.Create(ctx, c)
}
