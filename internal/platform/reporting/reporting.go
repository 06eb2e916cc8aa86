// Package reporting renders posting outcomes as spreadsheet workbooks that
// billing staff can work through claim by claim.
package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// PostingSummary is the header block of a posting report.
type PostingSummary struct {
	FileName        string
	CheckNumber     string
	PayerName       string
	PostedBy        string
	PostedAt        time.Time
	TotalPayment    string
	TotalClaims     int
	SuccessfulPosts int
	FailedPosts     int
	Repost          bool
}

// ClaimRow is one claim outcome line in the report.
type ClaimRow struct {
	PatientControlNumber string
	PayerControlNumber   string
	Status               string
	Reason               string
	Detail               string
	PaidAmount           float64
	AllowedAmount        float64
	ClaimStatus          string
}

const (
	summarySheet = "Summary"
	claimsSheet  = "Claims"
)

// BuildPostingWorkbook renders the posting outcome as an xlsx workbook with
// a summary sheet and a per-claim sheet. Failed claims sort first so the
// rows needing manual work sit at the top.
func BuildPostingWorkbook(sum PostingSummary, rows []ClaimRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(claimsSheet); err != nil {
		return nil, err
	}

	if err := writeSummary(f, sum); err != nil {
		return nil, err
	}
	if err := writeClaims(f, rows); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, sum PostingSummary) error {
	lines := [][2]interface{}{
		{"File", sum.FileName},
		{"Check / EFT Number", sum.CheckNumber},
		{"Payer", sum.PayerName},
		{"Posted By", sum.PostedBy},
		{"Posted At", sum.PostedAt.Format(time.RFC3339)},
		{"Total Payment", sum.TotalPayment},
		{"Total Claims", sum.TotalClaims},
		{"Posted", sum.SuccessfulPosts},
		{"Failed", sum.FailedPosts},
		{"Repost", sum.Repost},
	}
	for i, line := range lines {
		if err := f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), line[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), line[1]); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(lines)), bold); err != nil {
		return err
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}

var claimHeaders = []string{
	"Patient Control Number", "Payer Control Number", "Status", "Reason",
	"Detail", "Paid", "Allowed", "Claim Status",
}

func writeClaims(f *excelize.File, rows []ClaimRow) error {
	ordered := make([]ClaimRow, 0, len(rows))
	for _, r := range rows {
		if r.Status == "failed" {
			ordered = append(ordered, r)
		}
	}
	for _, r := range rows {
		if r.Status != "failed" {
			ordered = append(ordered, r)
		}
	}

	for col, h := range claimHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(claimsSheet, cell, h); err != nil {
			return err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(claimsSheet, "A1", "H1", bold); err != nil {
		return err
	}

	for i, r := range ordered {
		values := []interface{}{
			r.PatientControlNumber, r.PayerControlNumber, r.Status, r.Reason,
			r.Detail, r.PaidAmount, r.AllowedAmount, r.ClaimStatus,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(claimsSheet, cell, v); err != nil {
				return err
			}
		}
	}

	return f.SetColWidth(claimsSheet, "A", "H", 22)
}
