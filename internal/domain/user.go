// Package domain contains core domain types for the marketing hub.
package domain

import (
	"time"
)

// User represents an anonymous dashboard owner identified per device.
type User struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	CompanyName string    `json:"company_name,omitempty"`
	Tier        string    `json:"tier,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasSubscription returns true if the user has paid for a tier.
func (u *User) HasSubscription() bool {
	return u.Tier != ""
}
