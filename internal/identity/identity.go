// Package identity turns free-text user input into canonical billing
// identifiers. Users type account numbers, DNIs and CUITs with every
// imaginable mix of spaces, hyphens and periods; the normalizer accepts all
// of them and produces one of two canonical shapes.
package identity

import (
	"regexp"
	"strings"
)

// Kind tags the shape of a normalized identifier.
type Kind string

const (
	KindCUIT    Kind = "cuit"       // 11-digit CUIT/CUIL
	KindNumeric Kind = "numeric_id" // DNI or account number, 1-10 digits
)

// Identifier is a canonical search key for the customer directory.
type Identifier struct {
	Kind  Kind
	Value string // digits only
}

var (
	// CUIT/CUIL: two digits, optional hyphen, eight digits, optional
	// hyphen, one check digit. 20-12345678-9 and 20123456789 both match.
	cuitPattern = regexp.MustCompile(`\b\d{2}-?\d{8}-?\d\b`)

	// A standalone run of 6 to 11 digits (DNI or long account number).
	numericPattern = regexp.MustCompile(`\b\d{6,11}\b`)

	// Thousands-grouped documents: 30.123.456, 1 234 567.
	groupedPattern = regexp.MustCompile(`\b\d{1,3}(?:[. ]\d{3}){2,3}\b`)

	digitRun = regexp.MustCompile(`\d+`)

	stripper = strings.NewReplacer(" ", "", "-", "", ".", "", "\t", "")
)

// Normalize parses raw user input into an Identifier. First-match wins, not
// longest-match: an input with several digit runs uses the first CUIT-shaped
// match if one exists, otherwise the first standalone numeric run.
//
// Returns ok=false when no identifier shape can be extracted; the caller
// must re-prompt the user.
func Normalize(raw string) (Identifier, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, false
	}

	if m := cuitPattern.FindString(raw); m != "" {
		digits := stripper.Replace(m)
		if len(digits) == 11 {
			return Identifier{Kind: KindCUIT, Value: digits}, true
		}
	}

	if m := groupedPattern.FindString(raw); m != "" {
		digits := stripper.Replace(m)
		if len(digits) >= 6 && len(digits) <= 11 {
			if len(digits) == 11 {
				return Identifier{Kind: KindCUIT, Value: digits}, true
			}
			return Identifier{Kind: KindNumeric, Value: digits}, true
		}
	}

	if m := numericPattern.FindString(raw); m != "" {
		// An 11-digit run is CUIT-shaped; keep the canonical form stable
		// so normalizing an already-normalized value is a no-op.
		if len(m) == 11 {
			return Identifier{Kind: KindCUIT, Value: m}, true
		}
		return Identifier{Kind: KindNumeric, Value: m}, true
	}

	// Last resort: strip separators from the whole input and accept a pure
	// digit remainder of plausible length.
	stripped := stripper.Replace(raw)
	if stripped != "" && len(stripped) <= 11 && isAllDigits(stripped) {
		if len(stripped) == 11 {
			return Identifier{Kind: KindCUIT, Value: stripped}, true
		}
		return Identifier{Kind: KindNumeric, Value: stripped}, true
	}

	return Identifier{}, false
}

// NormalizeAccountNumber strips every non-digit character from raw. An empty
// result signals invalid input: the caller must re-prompt and count the
// failed attempt.
func NormalizeAccountNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FirstDigitRun returns the first contiguous digit run in raw, or "".
// Used for extracting numeric entities (amounts) out of mixed text.
func FirstDigitRun(raw string) string {
	return digitRun.FindString(raw)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
