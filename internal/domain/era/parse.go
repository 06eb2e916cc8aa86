package era

import (
	"fmt"

	"github.com/remit/remit/internal/platform/x12"
)

// ParseBytes runs the full pipeline over a raw remittance file: tokenize,
// structural parse, domain mapping, and the payment total cross-check.
// Structural failures produce an unsuccessful result with the fatal error
// recorded; claim-level trouble surfaces as warnings on a successful result.
func ParseBytes(raw []byte) *ParseResult {
	res := &ParseResult{}

	segs, delims, err := x12.Tokenize(raw)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	ic, warnings, err := x12.Parse(segs, delims)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	f, mapWarnings, err := Map(ic)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}
	warnings = append(warnings, mapWarnings...)

	for _, w := range warnings {
		res.Warnings = append(res.Warnings, w.String())
	}

	if diff, ok := ReconcileTotals(f); !ok {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"payment total %s differs from sum of claim payments by %s",
			f.TotalPaymentAmount.StringFixed(2), diff.StringFixed(2)))
	}

	res.Success = true
	res.Data = f
	return res
}
