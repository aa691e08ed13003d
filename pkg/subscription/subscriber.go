package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// Subscriber identifies one paying user of the product. Created on first
// contact, never deleted, only deactivated. The jurisdiction is assigned from
// the phone number at creation and immutable afterwards, because it decides
// which backend owns every record belonging to this subscriber.
type Subscriber struct {
	ID           uuid.UUID         `json:"id"`
	Phone        string            `json:"phone"` // normalized, unique
	Jurisdiction jurisdiction.Code `json:"jurisdiction"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
