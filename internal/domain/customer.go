package domain

// ============================================================
// Customer directory (PLEX)
// ============================================================

// CustomerRecord is a read-only snapshot of a person record in the billing
// system. Not owned by the core — fetched per lookup and never mutated.
type CustomerRecord struct {
	ID                       string `json:"id"`
	Name                     string `json:"nombre"`
	Document                 string `json:"documento,omitempty"`
	Phone                    string `json:"telefono,omitempty"`
	IsValidForIdentification bool   `json:"is_valid_for_identification"`
}

// LookupKind tags the outcome of a directory search.
type LookupKind int

const (
	LookupNotFound LookupKind = iota
	LookupFound
	LookupAmbiguous
)

// LookupOutcome distinguishes the three expected results of a directory
// search. Zero, one, or many matches are all valid outcomes the caller must
// handle; errors are reserved for unexpected failures (network, 5xx).
type LookupOutcome struct {
	Kind       LookupKind
	Record     *CustomerRecord  // set when Kind == LookupFound
	Candidates []CustomerRecord // set when Kind == LookupAmbiguous
}

// NoMatch reports a search that returned zero valid records.
func NoMatch() LookupOutcome {
	return LookupOutcome{Kind: LookupNotFound}
}

// Match reports a search that resolved to exactly one valid record.
func Match(rec CustomerRecord) LookupOutcome {
	return LookupOutcome{Kind: LookupFound, Record: &rec}
}

// AmbiguousMatch reports a search that returned several valid records.
// The caller must surface a disambiguation prompt, never pick the first.
func AmbiguousMatch(candidates []CustomerRecord) LookupOutcome {
	return LookupOutcome{Kind: LookupAmbiguous, Candidates: candidates}
}

// FromCandidates folds a raw result list into a LookupOutcome, dropping
// records the directory marks as unusable for identification.
func FromCandidates(records []CustomerRecord) LookupOutcome {
	valid := make([]CustomerRecord, 0, len(records))
	for _, r := range records {
		if r.IsValidForIdentification {
			valid = append(valid, r)
		}
	}
	switch len(valid) {
	case 0:
		return NoMatch()
	case 1:
		return Match(valid[0])
	default:
		return AmbiguousMatch(valid)
	}
}

// DirectoryQuery carries the optional search keys for a directory lookup.
// At least one field must be set.
type DirectoryQuery struct {
	Document   string `json:"documento,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Phone      string `json:"telefono,omitempty"`
}

// ============================================================
// Debt
// ============================================================

// DebtItem is one billed charge within a customer's outstanding balance.
type DebtItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// DebtSnapshot is the debt state fetched for an authenticated customer.
// The core treats it as opaque beyond these fields.
type DebtSnapshot struct {
	DebtID    string     `json:"debt_id"`
	Total     float64    `json:"total"`
	Items     []DebtItem `json:"items"`
	Reference string     `json:"reference,omitempty"`
}
