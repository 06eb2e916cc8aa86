// Package claims holds the practice's own claim records and their payment
// ledger. Remittance posting mutates claims only through ApplyRemittance so
// the ledger stays append-only and the claim status stays derived.
package claims

import (
	"time"

	"github.com/google/uuid"
)

// Claim lifecycle statuses.
const (
	StatusSubmitted     = "submitted"
	StatusAccepted      = "accepted"
	StatusPaid          = "paid"
	StatusPartiallyPaid = "partially_paid"
	StatusDenied        = "denied"
)

// Claim is a claim this practice submitted to a payer. ControlNumber is the
// patient control number sent on the 837 and echoed back in remittances.
// VersionID implements optimistic locking: every ApplyPayment bumps it, and
// a stale write fails with ErrVersionConflict.
type Claim struct {
	ID                    uuid.UUID  `json:"id"`
	ControlNumber         string     `json:"control_number"`
	PatientID             uuid.UUID  `json:"patient_id"`
	MemberID              string     `json:"member_id"`
	PayerName             string     `json:"payer_name,omitempty"`
	BilledAmount          float64    `json:"billed_amount"`
	AllowedAmount         float64    `json:"allowed_amount"`
	PaidAmount            float64    `json:"paid_amount"`
	PatientResponsibility float64    `json:"patient_responsibility"`
	AdjustmentReasonCodes []string   `json:"adjustment_reason_codes,omitempty"`
	ServiceDate           *time.Time `json:"service_date,omitempty"`
	Status                string     `json:"status"`
	VersionID             int        `json:"version_id"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Ledger entry types.
const (
	EntryPayment = "payment"
	EntryDenial  = "denial"
)

// LedgerEntry is one posted remittance event against a claim. Entries are
// immutable once written; corrections arrive as new entries.
type LedgerEntry struct {
	ID                    uuid.UUID  `json:"id"`
	ClaimID               uuid.UUID  `json:"claim_id"`
	ERAFileID             *uuid.UUID `json:"era_file_id,omitempty"`
	EntryType             string     `json:"entry_type"`
	Amount                float64    `json:"amount"`
	AllowedAmount         float64    `json:"allowed_amount"`
	PatientResponsibility float64    `json:"patient_responsibility"`
	ReasonCodes           []string   `json:"reason_codes,omitempty"`
	CheckNumber           string     `json:"check_number,omitempty"`
	PostedBy              string     `json:"posted_by"`
	PostedAt              time.Time  `json:"posted_at"`
}
