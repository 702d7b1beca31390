package domain

// Driver is a read-mostly mirror of remote driver master data, kept locally
// for offline lookup and autocomplete. The mirror is fully replaced on each
// successful master-data sync; staleness is bounded by sync frequency.
type Driver struct {
	ID       string `json:"id"`
	Badge    string `json:"badge"`
	FullName string `json:"full_name"`
	Role     string `json:"role,omitempty"`
}

// Vehicle is a read-mostly mirror of remote fleet master data.
// Replacement semantics are identical to Driver.
type Vehicle struct {
	ID    string `json:"id"`
	Plate string `json:"plate"`
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
}
