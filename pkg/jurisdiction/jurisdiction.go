package jurisdiction

// Code identifies a legal/regulatory region.
type Code string

const (
	CodeBR Code = "BR"
	CodePT Code = "PT"
	CodeES Code = "ES"
)

// Backend identifies the durable store governing a jurisdiction's records.
type Backend string

const (
	// BackendDocument is the managed document store (MongoDB).
	BackendDocument Backend = "document"
	// BackendRelational is the relational store (PostgreSQL).
	BackendRelational Backend = "relational"
)

// Jurisdiction describes a region: its calling-code prefix, billing currency
// and the backend holding its subscriber records. Immutable once resolved for
// a subscriber.
type Jurisdiction struct {
	Code        Code
	CallingCode string
	Currency    string // ISO 4217
	Backend     Backend
}
