package domain

import "testing"

func TestFieldStatusTransitions(t *testing.T) {
	cases := []struct {
		from    FieldStatus
		to      FieldStatus
		allowed bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusComplete, true},
		{StatusSent, StatusComplete, true},
		{StatusSent, StatusError, true},
		{StatusSent, StatusTimeout, true},
		{StatusSent, StatusPending, false},
		{StatusComplete, StatusError, false},
		{StatusComplete, StatusTimeout, false},
		{StatusComplete, StatusComplete, false},
		{StatusError, StatusTimeout, false},
		{StatusTimeout, StatusError, false},
		{StatusPending, StatusPending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestFieldStatusTerminal(t *testing.T) {
	terminal := map[FieldStatus]bool{
		StatusPending:  false,
		StatusSent:     false,
		StatusComplete: true,
		StatusError:    true,
		StatusTimeout:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestFieldResultConstructors(t *testing.T) {
	complete := CompleteResult("+49 151 1234567")
	if complete.Status != StatusComplete || complete.Value == nil || *complete.Value != "+49 151 1234567" {
		t.Fatalf("unexpected complete result: %+v", complete)
	}

	failed := ErrorResult("no match found")
	if failed.Status != StatusError || failed.Error == nil || *failed.Error != "no match found" {
		t.Fatalf("unexpected error result: %+v", failed)
	}

	timedOut := TimeoutResult()
	if timedOut.Status != StatusTimeout || timedOut.Value != nil || timedOut.Error != nil {
		t.Fatalf("unexpected timeout result: %+v", timedOut)
	}
}

func TestEnrichedRecordLookups(t *testing.T) {
	value := "anna.schmidt@example.com"
	record := EnrichedRecord{
		Person: Person{RecordID: 1, FirstName: "Anna", LastName: "Schmidt"},
		Fields: map[Provider]map[Field]FieldState{
			ProviderLusha: {
				FieldEmail:  {Status: StatusComplete, Value: &value},
				FieldMobile: {Status: StatusError},
			},
		},
	}

	if got := record.Value(ProviderLusha, FieldEmail); got != value {
		t.Errorf("Value(lusha, email) = %q, want %q", got, value)
	}
	if got := record.Value(ProviderLusha, FieldMobile); got != "" {
		t.Errorf("Value(lusha, mobile) = %q, want empty", got)
	}
	if got := record.Status(ProviderLusha, FieldMobile); got != StatusError {
		t.Errorf("Status(lusha, mobile) = %s, want %s", got, StatusError)
	}
	if got := record.Status(ProviderApollo, FieldEmail); got != StatusPending {
		t.Errorf("Status(apollo, email) = %s, want %s for missing state", got, StatusPending)
	}
}
