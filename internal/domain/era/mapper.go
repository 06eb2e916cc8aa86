package era

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/remit/remit/internal/platform/x12"
)

// Map converts a structurally parsed interchange into the domain model.
// Only the first transaction set is mapped; additional sets produce a
// warning and are skipped. Claims with undecodable amounts or dates are
// marked unusable rather than failing the file.
func Map(ic *x12.Interchange) (*ERAFile, []x12.Warning, error) {
	var warnings []x12.Warning

	if len(ic.Groups) == 0 || len(ic.Groups[0].Transactions) == 0 {
		return nil, nil, &x12.EnvelopeError{Reason: "interchange carries no transaction sets"}
	}
	grp := ic.Groups[0]
	txn := grp.Transactions[0]

	if n := len(grp.Transactions); n > 1 {
		warnings = append(warnings, x12.Warning{
			Segment: "ST",
			Message: fmt.Sprintf("%d additional transaction sets ignored", n-1),
		})
	}
	if len(ic.Groups) > 1 {
		warnings = append(warnings, x12.Warning{
			Segment: "GS",
			Message: fmt.Sprintf("%d additional functional groups ignored", len(ic.Groups)-1),
		})
	}

	f := &ERAFile{
		InterchangeControlNumber: ic.ControlNumber,
		GroupControlNumber:       grp.ControlNumber,
		TransactionControlNumber: txn.ControlNumber,
	}

	// BPR: payment order. BPR02 total, BPR04 method, BPR16 date.
	amt, err := decimal.NewFromString(txn.BPR.Element(2))
	if err != nil {
		return nil, nil, &x12.EnvelopeError{Reason: "BPR02 payment amount is not numeric: " + txn.BPR.Element(2)}
	}
	f.TotalPaymentAmount = amt
	f.PaymentMethod = txn.BPR.Element(4)
	if d, ok := parseDate(txn.BPR.Element(16)); ok {
		f.PaymentDate = &d
	}

	f.CheckNumber = txn.TRN.Element(2)

	for _, seg := range txn.Header {
		switch seg.ID {
		case "DTM":
			if seg.Element(1) == "405" {
				if d, ok := parseDate(seg.Element(2)); ok {
					f.ProductionDate = &d
				}
			}
		}
	}

	f.Payer = mapPayer(txn.PayerLoop)

	for i := range txn.Claims {
		c, ws := mapClaim(&txn.Claims[i], ic.Delims)
		warnings = append(warnings, ws...)
		f.Claims = append(f.Claims, c)
	}

	return f, warnings, nil
}

func mapPayer(loop []x12.Segment) Payer {
	var p Payer
	for _, seg := range loop {
		switch seg.ID {
		case "N1":
			p.Name = seg.Element(2)
			p.IdentificationCode = seg.Element(4)
		case "N3":
			p.Address = seg.Element(1)
		case "N4":
			p.City = seg.Element(1)
			p.State = seg.Element(2)
			p.PostalCode = seg.Element(3)
		}
	}
	return p
}

func mapClaim(loop *x12.ClaimLoop, d x12.Delimiters) (Claim, []x12.Warning) {
	var warnings []x12.Warning
	c := Claim{
		PatientControlNumber: loop.CLP.Element(1),
		StatusCode:           loop.CLP.Element(2),
		PayerControlNumber:   loop.CLP.Element(7),
		Unusable:             loop.Unusable,
		Problems:             loop.Problems,
	}

	fail := func(msg string) {
		c.Unusable = true
		c.Problems = append(c.Problems, msg)
		warnings = append(warnings, x12.Warning{Segment: "CLP", Claim: c.PatientControlNumber, Message: msg})
	}

	if c.Unusable {
		// Already flagged structurally; the parser warned, so only the
		// claim record needs to carry the problems.
		return c, warnings
	}

	var ok bool
	if c.BilledAmount, ok = parseAmount(loop.CLP.Element(3)); !ok {
		fail("CLP03 billed amount is not numeric: " + loop.CLP.Element(3))
		return c, warnings
	}
	if c.PaidAmount, ok = parseAmount(loop.CLP.Element(4)); !ok {
		fail("CLP04 paid amount is not numeric: " + loop.CLP.Element(4))
		return c, warnings
	}
	if c.PatientResponsibility, ok = parseAmount(loop.CLP.Element(5)); !ok && loop.CLP.Element(5) != "" {
		fail("CLP05 patient responsibility is not numeric: " + loop.CLP.Element(5))
		return c, warnings
	}

	if loop.Patient != nil {
		c.PatientLastName = loop.Patient.Element(3)
		c.PatientFirstName = loop.Patient.Element(4)
		c.MemberID = loop.Patient.Element(9)
	}

	for _, seg := range loop.Adjustments {
		adj, err := mapAdjustments(seg)
		if err != nil {
			fail(err.Error())
			return c, warnings
		}
		c.Adjustments = append(c.Adjustments, adj...)
	}

	for _, seg := range loop.Dates {
		switch seg.Element(1) {
		case "232", "472":
			if d, ok := parseDate(seg.Element(2)); ok {
				c.ServiceDate = &d
			} else {
				fail("DTM service date is not CCYYMMDD: " + seg.Element(2))
				return c, warnings
			}
		}
	}

	for _, seg := range loop.Amounts {
		switch seg.Element(1) {
		case "AU", "B6":
			if a, ok := parseAmount(seg.Element(2)); ok {
				c.AllowedAmount = a
			}
		}
	}

	for i := range loop.Services {
		sl, err := mapServiceLine(&loop.Services[i], d)
		if err != nil {
			fail(err.Error())
			return c, warnings
		}
		if c.ServiceDate == nil && sl.ServiceDate != nil {
			c.ServiceDate = sl.ServiceDate
		}
		c.ServiceLines = append(c.ServiceLines, sl)
	}

	return c, warnings
}

func mapServiceLine(loop *x12.ServiceLoop, d x12.Delimiters) (ServiceLine, error) {
	var sl ServiceLine

	// SVC01 is a composite: qualifier, procedure code, modifiers.
	parts := loop.SVC.SubElements(1, d)
	if len(parts) > 0 {
		sl.ProcedureQualifier = parts[0]
	}
	if len(parts) > 1 {
		sl.ProcedureCode = parts[1]
	} else {
		sl.ProcedureCode = parts[0]
		sl.ProcedureQualifier = ""
	}

	var ok bool
	if sl.BilledAmount, ok = parseAmount(loop.SVC.Element(2)); !ok {
		return sl, fmt.Errorf("SVC02 charge amount is not numeric: %s", loop.SVC.Element(2))
	}
	if sl.PaidAmount, ok = parseAmount(loop.SVC.Element(3)); !ok {
		return sl, fmt.Errorf("SVC03 paid amount is not numeric: %s", loop.SVC.Element(3))
	}
	if units := loop.SVC.Element(5); units != "" {
		if sl.Units, ok = parseAmount(units); !ok {
			return sl, fmt.Errorf("SVC05 units is not numeric: %s", units)
		}
	} else {
		sl.Units = decimal.NewFromInt(1)
	}

	for _, seg := range loop.Adjustments {
		adj, err := mapAdjustments(seg)
		if err != nil {
			return sl, err
		}
		sl.Adjustments = append(sl.Adjustments, adj...)
	}

	for _, seg := range loop.Dates {
		if seg.Element(1) == "472" {
			if d, ok := parseDate(seg.Element(2)); ok {
				sl.ServiceDate = &d
			} else {
				return sl, fmt.Errorf("DTM*472 service date is not CCYYMMDD: %s", seg.Element(2))
			}
		}
	}

	for _, seg := range loop.Amounts {
		if seg.Element(1) == "B6" {
			if a, ok := parseAmount(seg.Element(2)); ok {
				sl.AllowedAmount = a
			}
		}
	}

	return sl, nil
}

// mapAdjustments expands one CAS segment into its repeating
// reason/amount/quantity triples (CAS02-04, CAS05-07, ...).
func mapAdjustments(seg x12.Segment) ([]Adjustment, error) {
	group := AdjustmentGroup(seg.Element(1))
	var out []Adjustment
	for i := 2; i <= 17; i += 3 {
		reason := seg.Element(i)
		if reason == "" {
			break
		}
		amt, ok := parseAmount(seg.Element(i + 1))
		if !ok {
			return nil, fmt.Errorf("CAS %s-%s amount is not numeric: %s", group, reason, seg.Element(i+1))
		}
		out = append(out, Adjustment{Group: group, ReasonCode: reason, Amount: amt})
	}
	return out, nil
}

func parseAmount(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseDate(s string) (time.Time, bool) {
	if len(s) != 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ReconcileTotals verifies that the sum of usable claim payments agrees with
// the BPR02 payment total, within a tolerance of one cent per claim. A
// mismatch is advisory, not fatal; the caller records it as a warning.
func ReconcileTotals(f *ERAFile) (decimal.Decimal, bool) {
	sum := decimal.Zero
	n := 0
	for i := range f.Claims {
		if f.Claims[i].Unusable {
			continue
		}
		sum = sum.Add(f.Claims[i].PaidAmount)
		n++
	}
	if n == 0 {
		n = 1
	}
	tolerance := decimal.New(1, -2).Mul(decimal.NewFromInt(int64(n)))
	diff := f.TotalPaymentAmount.Sub(sum).Abs()
	return f.TotalPaymentAmount.Sub(sum), diff.LessThanOrEqual(tolerance)
}
