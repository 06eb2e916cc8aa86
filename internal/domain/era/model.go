// Package era implements ingestion of X12 835 Electronic Remittance Advice
// files: mapping parsed loop structures to domain records, matching remitted
// claims against the practice's own claim records, and posting payments,
// adjustments and denials to the claim ledger.
package era

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payer identifies the insurance payer sending the remittance (N1*PR loop).
type Payer struct {
	IdentificationCode string `json:"identification_code,omitempty"`
	Name               string `json:"name"`
	Address            string `json:"address,omitempty"`
	City               string `json:"city,omitempty"`
	State              string `json:"state,omitempty"`
	PostalCode         string `json:"postal_code,omitempty"`
}

// AdjustmentGroup classifies a CAS adjustment by its group code.
type AdjustmentGroup string

const (
	AdjustmentContractual   AdjustmentGroup = "CO" // contractual obligation
	AdjustmentPatientResp   AdjustmentGroup = "PR" // patient responsibility
	AdjustmentOtherAdj      AdjustmentGroup = "OA" // other adjustment
	AdjustmentPayerInitiate AdjustmentGroup = "PI" // payer initiated
)

// Adjustment is one CAS group/reason/amount triple. It has no lifecycle of
// its own; it exists only inside its owning service line or claim.
type Adjustment struct {
	Group      AdjustmentGroup `json:"group"`
	ReasonCode string          `json:"reason_code"`
	Amount     decimal.Decimal `json:"amount"`
}

// Code renders the adjustment as the conventional "CO-45" form.
func (a Adjustment) Code() string {
	return string(a.Group) + "-" + a.ReasonCode
}

// ServiceLine is one SVC loop: a procedure with its charged/paid amounts and
// the adjustments explaining the difference.
type ServiceLine struct {
	ProcedureQualifier string          `json:"procedure_qualifier,omitempty"`
	ProcedureCode      string          `json:"procedure_code"`
	BilledAmount       decimal.Decimal `json:"billed_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	AllowedAmount      decimal.Decimal `json:"allowed_amount"`
	Units              decimal.Decimal `json:"units"`
	ServiceDate        *time.Time      `json:"service_date,omitempty"`
	Adjustments        []Adjustment    `json:"adjustments,omitempty"`
}

// Claim status codes from CLP02 that this system understands.
const (
	ClaimStatusPrimary   = "1"
	ClaimStatusSecondary = "2"
	ClaimStatusTertiary  = "3"
	ClaimStatusDenied    = "4"
	ClaimStatusReversal  = "22"
)

// Claim is one adjudicated claim from a CLP loop. PatientControlNumber is the
// identifier this practice submitted (CLP01, echoed back by the payer);
// PayerControlNumber is the payer's own internal control number (CLP07).
type Claim struct {
	PatientControlNumber  string          `json:"patient_control_number"`
	PayerControlNumber    string          `json:"payer_control_number,omitempty"`
	StatusCode            string          `json:"status_code"`
	BilledAmount          decimal.Decimal `json:"billed_amount"`
	PaidAmount            decimal.Decimal `json:"paid_amount"`
	AllowedAmount         decimal.Decimal `json:"allowed_amount"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`
	MemberID              string          `json:"member_id,omitempty"`
	PatientLastName       string          `json:"patient_last_name,omitempty"`
	PatientFirstName      string          `json:"patient_first_name,omitempty"`
	ServiceDate           *time.Time      `json:"service_date,omitempty"`
	Adjustments           []Adjustment    `json:"adjustments,omitempty"` // claim-level CAS
	ServiceLines          []ServiceLine   `json:"service_lines,omitempty"`
	Unusable              bool            `json:"unusable,omitempty"`
	Problems              []string        `json:"problems,omitempty"`
}

// Denied reports whether the payer denied the claim outright.
func (c *Claim) Denied() bool { return c.StatusCode == ClaimStatusDenied }

// Reversal reports whether the claim is a payment reversal, which this
// system does not post.
func (c *Claim) Reversal() bool { return c.StatusCode == ClaimStatusReversal }

// ReasonCodes collects every adjustment code on the claim and its service
// lines, ordered, without duplicates.
func (c *Claim) ReasonCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	add := func(a Adjustment) {
		if code := a.Code(); !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	for _, a := range c.Adjustments {
		add(a)
	}
	for _, sl := range c.ServiceLines {
		for _, a := range sl.Adjustments {
			add(a)
		}
	}
	return codes
}

// ERAFile is the aggregate root produced by one parse. It is constructed
// once and never mutated afterwards.
type ERAFile struct {
	InterchangeControlNumber string          `json:"interchange_control_number"`
	GroupControlNumber       string          `json:"group_control_number"`
	TransactionControlNumber string          `json:"transaction_control_number"`
	Payer                    Payer           `json:"payer"`
	PaymentMethod            string          `json:"payment_method"`
	TotalPaymentAmount       decimal.Decimal `json:"total_payment_amount"`
	PaymentDate              *time.Time      `json:"payment_date,omitempty"`
	CheckNumber              string          `json:"check_number"`
	ProductionDate           *time.Time      `json:"production_date,omitempty"`
	Claims                   []Claim         `json:"claims"`
}

// ParseResult is the downstream parse contract: either a complete ERAFile
// with accumulated warnings, or nil data with the fatal error recorded.
type ParseResult struct {
	Success  bool     `json:"success"`
	Data     *ERAFile `json:"data"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Per-claim posting outcome statuses.
const (
	PostStatusPosted        = "posted"
	PostStatusAlreadyPosted = "already_posted"
	PostStatusFailed        = "failed"
)

// Per-claim failure reason codes.
const (
	ReasonNotFound            = "NOT_FOUND"
	ReasonAmbiguous           = "AMBIGUOUS"
	ReasonUnusable            = "UNUSABLE"
	ReasonPostingError        = "POSTING_ERROR"
	ReasonReversalUnsupported = "REVERSAL_UNSUPPORTED"
)

// ClaimPostingResult records the outcome of posting a single remitted claim.
type ClaimPostingResult struct {
	PatientControlNumber  string     `json:"patient_control_number"`
	PayerControlNumber    string     `json:"payer_control_number,omitempty"`
	ClaimID               *uuid.UUID `json:"claim_id,omitempty"`
	Status                string     `json:"status"`
	Reason                string     `json:"reason,omitempty"`
	Detail                string     `json:"detail,omitempty"`
	PaidAmount            float64    `json:"paid_amount"`
	AllowedAmount         float64    `json:"allowed_amount"`
	PatientResponsibility float64    `json:"patient_responsibility"`
	ClaimStatus           string     `json:"claim_status,omitempty"`
}

// PostingResult is the aggregate outcome of one posting run. It is persisted
// as an audit record and never mutated; re-posting an already-posted file
// produces a new PostingResult flagged as a repost.
type PostingResult struct {
	ID                       uuid.UUID            `json:"id"`
	ERAFileID                uuid.UUID            `json:"era_file_id"`
	InterchangeControlNumber string               `json:"interchange_control_number"`
	TransactionControlNumber string               `json:"transaction_control_number"`
	TotalClaims              int                  `json:"total_claims"`
	SuccessfulPosts          int                  `json:"successful_posts"`
	FailedPosts              int                  `json:"failed_posts"`
	Repost                   bool                 `json:"repost"`
	PostedBy                 string               `json:"posted_by"`
	PostedAt                 time.Time            `json:"posted_at"`
	Results                  []ClaimPostingResult `json:"results"`
}
