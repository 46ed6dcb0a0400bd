package webhook

import "github.com/mleitner/leadenrich/internal/provider"

// Payload is what Apollo POSTs to the callback URL after a people match
// with reveal_phone_number set: one entry per enriched person, keyed by
// the person id returned at submission time.
type Payload struct {
	Status string   `json:"status"`
	People []Person `json:"people"`
}

// Person is one person record in the callback payload.
type Person struct {
	ID           string                 `json:"id"`
	FirstName    string                 `json:"first_name"`
	LastName     string                 `json:"last_name"`
	Email        string                 `json:"email"`
	PhoneNumbers []provider.ApolloPhone `json:"phone_numbers"`
}

// Ack summarizes how a callback was handled; it is always returned with
// HTTP 200 so the provider does not retry endlessly.
type Ack struct {
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Duplicate int    `json:"duplicate,omitempty"`
}
