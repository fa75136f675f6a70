package models

import "time"

// Account is an internal account that charges are billed to.
type Account struct {
	ID             string `gorm:"primaryKey;size:64" json:"id"`
	Email          string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	BillingAddress string `gorm:"type:text" json:"billingAddress,omitempty"`
	TaxNumber      string `gorm:"size:64" json:"taxNumber,omitempty"`
	Country        string `gorm:"size:2" json:"country,omitempty"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subscription links a processor customer to an account. OwnerID is cleared
// by the subscription manager when the subscription is cancelled, so a nil or
// empty OwnerID is a dead link.
type Subscription struct {
	ID                  uint    `gorm:"primaryKey" json:"id"`
	ProcessorCustomerID string  `gorm:"uniqueIndex;size:64;not null" json:"processorCustomerId"`
	OwnerID             *string `gorm:"index;size:64" json:"ownerId,omitempty"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Owner returns the linked account id, or "" for a dead link.
func (s *Subscription) Owner() string {
	if s.OwnerID == nil {
		return ""
	}
	return *s.OwnerID
}
