package claims

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("claim not found")
	ErrVersionConflict = errors.New("claim was modified concurrently")
)

// Repository is the persistence contract for claims and their ledger.
type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByControlNumber(ctx context.Context, controlNumber string) (*Claim, error)
	// FindCandidates returns open claims matching the fallback identity:
	// same member, billed amount equal to the cent, service date within
	// windowDays of the given date.
	FindCandidates(ctx context.Context, memberID string, serviceDate time.Time, billedAmount float64, windowDays int) ([]*Claim, error)
	// ApplyPayment writes the updated claim and its ledger entry in one
	// transaction, guarded by the claim's VersionID. A stale version fails
	// with ErrVersionConflict and writes nothing.
	ApplyPayment(ctx context.Context, c *Claim, entry *LedgerEntry) error
	ListLedgerByClaim(ctx context.Context, claimID uuid.UUID) ([]*LedgerEntry, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Claim, int, error)
}
