// Package x12 parses ANSI X12 interchanges, specifically the 835 Health Care
// Claim Payment/Advice transaction set. Tokenization and envelope parsing are
// separate passes: Tokenize splits raw bytes into ordered segments using the
// delimiters declared by the ISA header, and Parse walks the segment sequence
// enforcing envelope and loop structure.
package x12

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// isaLength is the fixed byte length of an ISA segment, excluding the segment
// terminator. Every element of ISA is fixed-width, which is what makes the
// delimiters self-describing.
const isaLength = 106

// Delimiters holds the separator characters declared by the interchange
// header. ISA is fixed-width: the element separator is the 4th byte, the
// sub-element separator is ISA16, and the segment terminator follows ISA16.
type Delimiters struct {
	Element    byte
	SubElement byte
	Segment    byte
}

// Segment is a single tokenized X12 segment. Elements[0] is the first element
// after the segment ID (CLP01, SVC01, ...).
type Segment struct {
	ID       string
	Elements []string
}

// Element returns the 1-based element by position, or "" when absent. CLP02
// is seg.Element(2).
func (s Segment) Element(n int) string {
	if n < 1 || n > len(s.Elements) {
		return ""
	}
	return s.Elements[n-1]
}

// SubElements splits the 1-based element on the sub-element separator.
// SVC01 is composite (qualifier:procedure code), so SubElements(1, d) yields
// its parts.
func (s Segment) SubElements(n int, d Delimiters) []string {
	v := s.Element(n)
	if v == "" {
		return nil
	}
	return strings.Split(v, string(d.SubElement))
}

// TokenizeError is fatal: the input cannot be split into segments at all.
type TokenizeError struct {
	Reason string
}

func (e *TokenizeError) Error() string {
	return "x12: tokenize: " + e.Reason
}

// Tokenize splits raw EDI bytes into an ordered segment sequence. The only
// fatal conditions are an empty/undecodable input and an ISA header too short
// to declare its delimiters; unrecognized segment IDs pass through for the
// structural parser to judge.
func Tokenize(raw []byte) ([]Segment, Delimiters, error) {
	if len(raw) == 0 {
		return nil, Delimiters{}, &TokenizeError{Reason: "input is empty"}
	}
	if !utf8.Valid(raw) {
		return nil, Delimiters{}, &TokenizeError{Reason: "input is not valid UTF-8 text"}
	}

	text := strings.TrimLeft(string(raw), " \t\r\n")
	if !strings.HasPrefix(text, "ISA") {
		return nil, Delimiters{}, &TokenizeError{Reason: fmt.Sprintf("interchange must begin with ISA, got %q", head(text, 3))}
	}
	if len(text) < isaLength {
		return nil, Delimiters{}, &TokenizeError{Reason: fmt.Sprintf("ISA header truncated: need %d bytes, have %d", isaLength, len(text))}
	}

	d := Delimiters{
		Element:    text[3],
		SubElement: text[isaLength-2],
		Segment:    text[isaLength-1],
	}
	if !printable(d.Element) || d.Segment == 0 {
		return nil, Delimiters{}, &TokenizeError{Reason: "ISA header declares unusable delimiters"}
	}

	// The segment terminator may be a control character (some payers use \n),
	// in which case line-break stripping must not eat it.
	var segs []Segment
	for _, chunk := range strings.Split(text, string(d.Segment)) {
		chunk = strings.Trim(chunk, " \t\r\n")
		if chunk == "" {
			continue
		}
		parts := strings.Split(chunk, string(d.Element))
		seg := Segment{ID: strings.TrimSpace(parts[0])}
		for _, el := range parts[1:] {
			seg.Elements = append(seg.Elements, strings.TrimSpace(el))
		}
		segs = append(segs, seg)
	}
	if len(segs) == 0 {
		return nil, d, &TokenizeError{Reason: "no segments found"}
	}
	return segs, d, nil
}

func head(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func printable(b byte) bool {
	return b > 0x20 && b < 0x7f
}
