package x12

import (
	"fmt"
)

// segKind is the closed set of segment IDs the 835 grammar recognizes.
// Dispatch happens on segKind, never on raw strings, with kindUnknown as the
// explicit pass-through case.
type segKind int

const (
	kindUnknown segKind = iota
	kindISA
	kindIEA
	kindGS
	kindGE
	kindST
	kindSE
	kindBPR
	kindTRN
	kindCUR
	kindREF
	kindDTM
	kindN1
	kindN3
	kindN4
	kindPER
	kindLX
	kindNM1
	kindCLP
	kindCAS
	kindSVC
	kindAMT
	kindQTY
	kindMIA
	kindMOA
	kindPLB
)

func kindOf(id string) segKind {
	switch id {
	case "ISA":
		return kindISA
	case "IEA":
		return kindIEA
	case "GS":
		return kindGS
	case "GE":
		return kindGE
	case "ST":
		return kindST
	case "SE":
		return kindSE
	case "BPR":
		return kindBPR
	case "TRN":
		return kindTRN
	case "CUR":
		return kindCUR
	case "REF":
		return kindREF
	case "DTM":
		return kindDTM
	case "N1":
		return kindN1
	case "N3":
		return kindN3
	case "N4":
		return kindN4
	case "PER":
		return kindPER
	case "LX":
		return kindLX
	case "NM1":
		return kindNM1
	case "CLP":
		return kindCLP
	case "CAS":
		return kindCAS
	case "SVC":
		return kindSVC
	case "AMT":
		return kindAMT
	case "QTY":
		return kindQTY
	case "MIA":
		return kindMIA
	case "MOA":
		return kindMOA
	case "PLB":
		return kindPLB
	default:
		return kindUnknown
	}
}

// EnvelopeError is fatal: the interchange, group, or transaction envelope is
// corrupt and no partial result can be trusted.
type EnvelopeError struct {
	Reason string
}

func (e *EnvelopeError) Error() string {
	return "x12: envelope: " + e.Reason
}

// Warning is a non-fatal finding. Claim-scoped warnings carry the CLP01
// patient control number; file-scoped warnings leave Claim empty.
type Warning struct {
	Segment string `json:"segment,omitempty"`
	Claim   string `json:"claim,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	switch {
	case w.Claim != "":
		return "claim " + w.Claim + ": " + w.Message
	case w.Segment != "":
		return w.Segment + ": " + w.Message
	default:
		return w.Message
	}
}

// Interchange is the parsed ISA...IEA envelope.
type Interchange struct {
	ControlNumber string
	SenderID      string
	ReceiverID    string
	Date          string
	Delims        Delimiters
	Groups        []FunctionalGroup
}

// FunctionalGroup is the parsed GS...GE envelope.
type FunctionalGroup struct {
	ControlNumber string
	Transactions  []Transaction
}

// Transaction is one ST...SE 835 transaction set grouped into loops.
type Transaction struct {
	ControlNumber       string
	BPR                 Segment
	TRN                 Segment
	Header              []Segment // remaining header segments: CUR, REF, DTM
	PayerLoop           []Segment // N1*PR and its N3/N4/PER/REF
	PayeeLoop           []Segment // N1*PE and its N3/N4/REF
	Claims              []ClaimLoop
	ProviderAdjustments []Segment // PLB, surfaced but never posted
}

// ClaimLoop is one CLP loop with its nested service loops. Unusable claims
// stay in the tree so counts and warnings line up, but carry Problems and are
// skipped by the domain mapper.
type ClaimLoop struct {
	CLP         Segment
	Patient     *Segment  // NM1*QC
	Adjustments []Segment // claim-level CAS
	Dates       []Segment // claim-level DTM
	Amounts     []Segment // claim-level AMT
	Refs        []Segment // claim-level REF
	Services    []ServiceLoop
	Unusable    bool
	Problems    []string
}

// ServiceLoop is one SVC loop with its trailing CAS/DTM/AMT/REF segments.
type ServiceLoop struct {
	SVC         Segment
	Adjustments []Segment
	Dates       []Segment
	Amounts     []Segment
	Refs        []Segment
}

// parser threads all structural-parse state explicitly so concurrent parses
// never interfere.
type parser struct {
	segs     []Segment
	pos      int
	warnings []Warning
}

func (p *parser) cur() (Segment, bool) {
	if p.pos >= len(p.segs) {
		return Segment{}, false
	}
	return p.segs[p.pos], true
}

func (p *parser) warnf(seg, claim, format string, args ...interface{}) {
	p.warnings = append(p.warnings, Warning{Segment: seg, Claim: claim, Message: fmt.Sprintf(format, args...)})
}

// Parse walks the tokenized segment sequence and produces the structural
// tree. Envelope corruption is fatal; anything wrong inside an individual
// claim loop demotes just that claim and parsing continues.
func Parse(segs []Segment, d Delimiters) (*Interchange, []Warning, error) {
	p := &parser{segs: segs}

	isa, ok := p.cur()
	if !ok || kindOf(isa.ID) != kindISA {
		return nil, nil, &EnvelopeError{Reason: "interchange does not begin with ISA"}
	}
	p.pos++

	ic := &Interchange{
		ControlNumber: isa.Element(13),
		SenderID:      isa.Element(6),
		ReceiverID:    isa.Element(8),
		Date:          isa.Element(9),
		Delims:        d,
	}
	if ic.ControlNumber == "" {
		return nil, nil, &EnvelopeError{Reason: "ISA13 interchange control number is empty"}
	}

	sawIEA := false
	for {
		seg, ok := p.cur()
		if !ok {
			break
		}
		switch kindOf(seg.ID) {
		case kindGS:
			grp, err := p.parseGroup()
			if err != nil {
				return nil, nil, err
			}
			ic.Groups = append(ic.Groups, *grp)
		case kindIEA:
			if got := seg.Element(2); got != ic.ControlNumber {
				return nil, nil, &EnvelopeError{Reason: fmt.Sprintf("interchange control number mismatch: ISA13=%q IEA02=%q", ic.ControlNumber, got)}
			}
			sawIEA = true
			p.pos++
		default:
			p.warnf(seg.ID, "", "segment %s outside any functional group ignored", seg.ID)
			p.pos++
		}
	}
	if !sawIEA {
		return nil, nil, &EnvelopeError{Reason: "interchange truncated: no IEA trailer"}
	}
	if len(ic.Groups) == 0 {
		return nil, nil, &EnvelopeError{Reason: "interchange contains no functional group"}
	}
	return ic, p.warnings, nil
}

func (p *parser) parseGroup() (*FunctionalGroup, error) {
	gs, _ := p.cur()
	p.pos++
	grp := &FunctionalGroup{ControlNumber: gs.Element(6)}
	if grp.ControlNumber == "" {
		return nil, &EnvelopeError{Reason: "GS06 group control number is empty"}
	}

	for {
		seg, ok := p.cur()
		if !ok {
			return nil, &EnvelopeError{Reason: fmt.Sprintf("group %s truncated: no GE trailer", grp.ControlNumber)}
		}
		switch kindOf(seg.ID) {
		case kindST:
			tx, err := p.parseTransaction()
			if err != nil {
				return nil, err
			}
			grp.Transactions = append(grp.Transactions, *tx)
		case kindGE:
			if got := seg.Element(2); got != grp.ControlNumber {
				return nil, &EnvelopeError{Reason: fmt.Sprintf("group control number mismatch: GS06=%q GE02=%q", grp.ControlNumber, got)}
			}
			p.pos++
			return grp, nil
		default:
			p.warnf(seg.ID, "", "segment %s between transactions ignored", seg.ID)
			p.pos++
		}
	}
}

func (p *parser) parseTransaction() (*Transaction, error) {
	st, _ := p.cur()
	p.pos++
	if id := st.Element(1); id != "835" {
		return nil, &EnvelopeError{Reason: fmt.Sprintf("unsupported transaction set %q, only 835 is accepted", id)}
	}
	tx := &Transaction{ControlNumber: st.Element(2)}
	if tx.ControlNumber == "" {
		return nil, &EnvelopeError{Reason: "ST02 transaction control number is empty"}
	}

	segCount := 1 // ST itself
	var claim *ClaimLoop
	var svc *ServiceLoop
	var n1 *[]Segment // current N1 loop collector, nil outside one

	closeService := func() {
		if svc != nil && claim != nil {
			claim.Services = append(claim.Services, *svc)
		}
		svc = nil
	}
	closeClaim := func() {
		closeService()
		if claim != nil {
			tx.Claims = append(tx.Claims, *claim)
		}
		claim = nil
	}

	for {
		seg, ok := p.cur()
		if !ok {
			return nil, &EnvelopeError{Reason: fmt.Sprintf("transaction %s truncated: no SE trailer", tx.ControlNumber)}
		}
		if k := kindOf(seg.ID); k == kindSE {
			closeClaim()
			if got := seg.Element(2); got != tx.ControlNumber {
				return nil, &EnvelopeError{Reason: fmt.Sprintf("transaction control number mismatch: ST02=%q SE02=%q", tx.ControlNumber, got)}
			}
			segCount++
			if want := seg.Element(1); want != "" && want != fmt.Sprintf("%d", segCount) {
				p.warnf("SE", "", "SE01 declares %s segments, counted %d", want, segCount)
			}
			p.pos++
			break
		}
		segCount++
		p.pos++

		switch kindOf(seg.ID) {
		case kindBPR:
			tx.BPR = seg
		case kindTRN:
			tx.TRN = seg
		case kindN1:
			n1 = nil
			switch seg.Element(1) {
			case "PR":
				tx.PayerLoop = append(tx.PayerLoop, seg)
				n1 = &tx.PayerLoop
			case "PE":
				tx.PayeeLoop = append(tx.PayeeLoop, seg)
				n1 = &tx.PayeeLoop
			default:
				p.warnf("N1", "", "N1 loop with unhandled entity code %q ignored", seg.Element(1))
			}
		case kindN3, kindN4, kindPER:
			if n1 != nil {
				*n1 = append(*n1, seg)
			}
		case kindLX:
			// LX renumbers the claim sequence; nothing to keep.
			closeService()
		case kindCLP:
			closeClaim()
			n1 = nil
			claim = &ClaimLoop{CLP: seg}
			if seg.Element(1) == "" || seg.Element(2) == "" || seg.Element(3) == "" || seg.Element(4) == "" {
				claim.Unusable = true
				claim.Problems = append(claim.Problems, "CLP is missing required elements (CLP01-CLP04)")
				p.warnf("CLP", seg.Element(1), "claim loop unusable: CLP is missing required elements")
			}
		case kindNM1:
			if claim != nil && seg.Element(1) == "QC" {
				qc := seg
				claim.Patient = &qc
			}
		case kindSVC:
			if claim == nil {
				return nil, &EnvelopeError{Reason: "SVC segment outside any claim loop"}
			}
			closeService()
			svc = &ServiceLoop{SVC: seg}
			if seg.Element(1) == "" || seg.Element(2) == "" || seg.Element(3) == "" {
				claim.Unusable = true
				claim.Problems = append(claim.Problems, "SVC is missing required elements (SVC01-SVC03)")
				p.warnf("SVC", claim.CLP.Element(1), "claim loop unusable: SVC is missing required elements")
			}
		case kindCAS:
			switch {
			case svc != nil:
				svc.Adjustments = append(svc.Adjustments, seg)
			case claim != nil:
				claim.Adjustments = append(claim.Adjustments, seg)
			default:
				p.warnf("CAS", "", "CAS segment outside any claim loop ignored")
			}
		case kindDTM:
			switch {
			case svc != nil:
				svc.Dates = append(svc.Dates, seg)
			case claim != nil:
				claim.Dates = append(claim.Dates, seg)
			default:
				tx.Header = append(tx.Header, seg)
			}
		case kindAMT:
			switch {
			case svc != nil:
				svc.Amounts = append(svc.Amounts, seg)
			case claim != nil:
				claim.Amounts = append(claim.Amounts, seg)
			default:
				tx.Header = append(tx.Header, seg)
			}
		case kindREF:
			switch {
			case svc != nil:
				svc.Refs = append(svc.Refs, seg)
			case claim != nil:
				claim.Refs = append(claim.Refs, seg)
			case n1 != nil:
				*n1 = append(*n1, seg)
			default:
				tx.Header = append(tx.Header, seg)
			}
		case kindMIA, kindMOA, kindQTY:
			// Inpatient/outpatient adjudication detail; retained nowhere but
			// tolerated, per-claim money comes from CLP/SVC/CAS.
		case kindCUR:
			tx.Header = append(tx.Header, seg)
		case kindPLB:
			closeClaim()
			tx.ProviderAdjustments = append(tx.ProviderAdjustments, seg)
			p.warnf("PLB", "", "provider-level adjustment present (ref %s); not posted", seg.Element(1))
		case kindISA, kindIEA, kindGS, kindGE, kindST:
			return nil, &EnvelopeError{Reason: fmt.Sprintf("envelope segment %s inside transaction %s", seg.ID, tx.ControlNumber)}
		default:
			p.warnf(seg.ID, "", "unrecognized segment %s passed through", seg.ID)
		}
	}

	if len(tx.BPR.ID) == 0 {
		return nil, &EnvelopeError{Reason: fmt.Sprintf("transaction %s is missing required BPR segment", tx.ControlNumber)}
	}
	if len(tx.TRN.ID) == 0 {
		return nil, &EnvelopeError{Reason: fmt.Sprintf("transaction %s is missing required TRN segment", tx.ControlNumber)}
	}
	return tx, nil
}
