package provider

import "testing"

func TestClassifyApolloPhones(t *testing.T) {
	cases := []struct {
		name       string
		phones     []ApolloPhone
		wantMobile string
		wantDirect string
	}{
		{
			name: "mobile and direct split by type",
			phones: []ApolloPhone{
				{SanitizedNumber: "+4915112345", TypeCD: "mobile", ConfidenceCD: "high"},
				{SanitizedNumber: "+4930987654", TypeCD: "work_direct", ConfidenceCD: "high"},
			},
			wantMobile: "+4915112345",
			wantDirect: "+4930987654",
		},
		{
			name: "higher confidence wins",
			phones: []ApolloPhone{
				{SanitizedNumber: "+4915100001", TypeCD: "mobile", ConfidenceCD: "low"},
				{SanitizedNumber: "+4915100002", TypeCD: "mobile", ConfidenceCD: "very_high"},
			},
			wantMobile: "+4915100002",
		},
		{
			name: "type comparison is case insensitive",
			phones: []ApolloPhone{
				{SanitizedNumber: "+4915100003", TypeCD: "Mobile", ConfidenceCD: "medium"},
			},
			wantMobile: "+4915100003",
		},
		{
			name: "raw number used when sanitized missing",
			phones: []ApolloPhone{
				{RawNumber: "030 111222", TypeCD: "work_hq", ConfidenceCD: "medium"},
			},
			wantDirect: "030 111222",
		},
		{
			name: "entries without any number are skipped",
			phones: []ApolloPhone{
				{TypeCD: "mobile", ConfidenceCD: "very_high"},
			},
		},
		{
			name: "other counts as direct dial",
			phones: []ApolloPhone{
				{SanitizedNumber: "+4930555666", TypeCD: "other", ConfidenceCD: "low"},
			},
			wantDirect: "+4930555666",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mobile, direct := ClassifyApolloPhones(tc.phones)
			if mobile != tc.wantMobile {
				t.Errorf("mobile = %q, want %q", mobile, tc.wantMobile)
			}
			if direct != tc.wantDirect {
				t.Errorf("direct = %q, want %q", direct, tc.wantDirect)
			}
		})
	}
}

func TestClassifyLushaPhones(t *testing.T) {
	phones := []lushaPhone{
		{Number: "+4915177777", PhoneType: "mobile", DoNotCall: true},
		{Number: "+4915188888", PhoneType: "Mobile"},
		{Number: "+4930999999", PhoneType: "directDial"},
		{Number: "+4930000000", PhoneType: "landline"},
	}

	mobile, direct := classifyLushaPhones(phones)
	if mobile != "+4915188888" {
		t.Errorf("mobile = %q, want do-not-call number skipped", mobile)
	}
	if direct != "+4930999999" {
		t.Errorf("direct = %q, want first direct dial kept", direct)
	}
}
