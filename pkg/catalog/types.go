package catalog

// Dimension represents a metered, quota-limited action.
type Dimension string

const (
	DimensionMessages         Dimension = "messages"
	DimensionConsultations    Dimension = "consultations"
	DimensionDocumentAnalyses Dimension = "document_analyses"
)

// BillingCycle represents the billing frequency of a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether the cycle is a known billing frequency.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Money represents a monetary amount in the smallest currency unit.
// EUR 19.90 is Money{Amount: 1990, Currency: "EUR"}.
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"` // ISO 4217
}

// IsZero reports whether the amount is zero, regardless of currency.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Limit is a convenience constructor for plan limit values, where a nil
// pointer means unlimited.
func Limit(n int64) *int64 {
	return &n
}
