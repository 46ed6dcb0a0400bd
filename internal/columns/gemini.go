package columns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiMapper asks Gemini to identify the name and company columns from
// the headers and a few sample rows. Spreadsheets in the wild use
// arbitrary languages and labels, which the heuristic list cannot cover.
type GeminiMapper struct {
	client *genai.Client
	model  string
}

// NewGeminiMapper builds a Gemini-backed column mapper.
func NewGeminiMapper(ctx context.Context, apiKey, model string) (*GeminiMapper, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiMapper{client: client, model: model}, nil
}

var mappingSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"first_name_col": {Type: genai.TypeString},
		"last_name_col":  {Type: genai.TypeString},
		"company_col":    {Type: genai.TypeString},
	},
	Required: []string{"first_name_col", "last_name_col", "company_col"},
}

func (m *GeminiMapper) MapColumns(ctx context.Context, headers []string, samples [][]string) (Mapping, error) {
	resp, err := m.client.Models.GenerateContent(
		ctx,
		m.model,
		genai.Text(buildPrompt(headers, samples)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   mappingSchema,
		},
	)
	if err != nil {
		return Mapping{}, fmt.Errorf("gemini column detection failed: %w", err)
	}

	var mapping Mapping
	if err := json.Unmarshal([]byte(resp.Text()), &mapping); err != nil {
		return Mapping{}, fmt.Errorf("failed to parse gemini column mapping: %w", err)
	}

	if err := validateMapping(mapping, headers); err != nil {
		return Mapping{}, err
	}
	return mapping, nil
}

func buildPrompt(headers []string, samples [][]string) string {
	var sampleLines []string
	for i, row := range samples {
		if i >= 3 {
			break
		}
		sampleLines = append(sampleLines, strings.Join(row, ", "))
	}

	return strings.TrimSpace(`
You are analyzing a spreadsheet of contacts. Given the column headers and a
few sample rows, identify which columns contain:
1. First name (e.g. Vorname / first_name / ad / isim)
2. Last name (e.g. Nachname / last_name / soyad / surname / Familienname)
3. Company name (e.g. Firma / company / Unternehmen / sirket / organization)

Return ONLY a JSON object with keys first_name_col, last_name_col and
company_col, each holding the exact column header text.

Column headers: ` + strings.Join(headers, ", ") + `

Sample data (first rows):
` + strings.Join(sampleLines, "\n"))
}

func validateMapping(mapping Mapping, headers []string) error {
	known := map[string]bool{}
	for _, h := range headers {
		known[h] = true
	}
	for _, col := range []string{mapping.FirstNameCol, mapping.LastNameCol, mapping.CompanyCol} {
		if !known[col] {
			return fmt.Errorf("detected column %q is not an input header", col)
		}
	}
	return nil
}
