package provider

import "strings"

// Phone classification maps provider-specific phone type values onto the
// two output fields: mobile and direct-dial (landline).

// ApolloPhone is one entry of Apollo's phone_numbers array, shared with
// the webhook payload.
type ApolloPhone struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number"`
	TypeCD          string `json:"type_cd"`
	ConfidenceCD    string `json:"confidence_cd"`
}

// lushaPhone is one entry of Lusha's phoneNumbers array.
type lushaPhone struct {
	Number    string `json:"number"`
	PhoneType string `json:"phoneType"`
	DoNotCall bool   `json:"doNotCall"`
}

var apolloConfidenceRank = map[string]int{
	"very_high": 4,
	"high":      3,
	"medium":    2,
	"low":       1,
}

func apolloDirectType(typeCD string) bool {
	switch typeCD {
	case "work_direct", "direct_dial", "work_hq", "other":
		return true
	}
	return false
}

// ClassifyApolloPhones extracts the best mobile and direct-dial numbers,
// ranked by Apollo's confidence codes.
func ClassifyApolloPhones(phones []ApolloPhone) (mobile, direct string) {
	bestMobile, bestDirect := -1, -1
	for _, p := range phones {
		number := p.SanitizedNumber
		if number == "" {
			number = p.RawNumber
		}
		if number == "" {
			continue
		}
		conf := apolloConfidenceRank[p.ConfidenceCD]
		typeCD := strings.ToLower(p.TypeCD)
		switch {
		case typeCD == "mobile" && conf > bestMobile:
			mobile = number
			bestMobile = conf
		case apolloDirectType(typeCD) && conf > bestDirect:
			direct = number
			bestDirect = conf
		}
	}
	return mobile, direct
}

// classifyLushaPhones extracts mobile and direct-dial numbers. Numbers
// flagged doNotCall are skipped.
func classifyLushaPhones(phones []lushaPhone) (mobile, direct string) {
	for _, p := range phones {
		if p.DoNotCall || p.Number == "" {
			continue
		}
		switch strings.ToLower(p.PhoneType) {
		case "mobile":
			if mobile == "" {
				mobile = p.Number
			}
		case "directdial", "landline":
			if direct == "" {
				direct = p.Number
			}
		}
	}
	return mobile, direct
}
