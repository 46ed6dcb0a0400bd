package columns

import (
	"context"
	"fmt"
	"strings"
)

// Mapping names the input columns holding the canonical contact fields.
type Mapping struct {
	FirstNameCol string `json:"first_name_col"`
	LastNameCol  string `json:"last_name_col"`
	CompanyCol   string `json:"company_col"`
}

// Mapper detects which input columns map to the canonical fields. The
// enrichment core treats this as an opaque collaborator.
type Mapper interface {
	MapColumns(ctx context.Context, headers []string, samples [][]string) (Mapping, error)
}

var (
	firstNameHeaders = []string{"vorname", "first name", "firstname", "first_name", "ad", "isim"}
	lastNameHeaders  = []string{"nachname", "last name", "lastname", "last_name", "surname", "soyad", "familienname"}
	companyHeaders   = []string{"firma", "company", "unternehmen", "organisation", "organization", "şirket", "sirket", "arbeitgeber"}
)

// HeuristicMapper matches headers against known synonyms in several
// languages. It is the fallback when no Gemini key is configured.
type HeuristicMapper struct{}

func (HeuristicMapper) MapColumns(_ context.Context, headers []string, _ [][]string) (Mapping, error) {
	var mapping Mapping
	mapping.FirstNameCol = matchHeader(headers, firstNameHeaders)
	mapping.LastNameCol = matchHeader(headers, lastNameHeaders)
	mapping.CompanyCol = matchHeader(headers, companyHeaders)

	if mapping.FirstNameCol == "" || mapping.LastNameCol == "" {
		return mapping, fmt.Errorf("could not detect name columns in headers %v", headers)
	}
	if mapping.CompanyCol == "" {
		return mapping, fmt.Errorf("could not detect a company column in headers %v", headers)
	}
	return mapping, nil
}

func matchHeader(headers []string, candidates []string) string {
	for _, h := range headers {
		normalized := strings.ToLower(strings.TrimSpace(h))
		for _, c := range candidates {
			if normalized == c {
				return h
			}
		}
	}
	// Second pass: substring match, e.g. "Vorname (Lead)".
	for _, h := range headers {
		normalized := strings.ToLower(strings.TrimSpace(h))
		for _, c := range candidates {
			if strings.Contains(normalized, c) {
				return h
			}
		}
	}
	return ""
}
