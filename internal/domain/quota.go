package domain

import "time"

// UnlimitedQuota marks an account that is never denied.
const UnlimitedQuota = -1

// QuotaAccount tracks a user's allowance window.
type QuotaAccount struct {
	UserID           string
	Plan             string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	RequestsUsed     int
	RequestsLimit    int
	RequestsReserved int
	UpdatedAt        time.Time
}

// Unlimited reports whether the account uses the unlimited sentinel.
func (a QuotaAccount) Unlimited() bool {
	return a.RequestsLimit == UnlimitedQuota
}

// Remaining returns the units still available, counting in-flight
// reservations as spent. Unlimited accounts return -1.
func (a QuotaAccount) Remaining() int {
	if a.Unlimited() {
		return UnlimitedQuota
	}
	left := a.RequestsLimit - a.RequestsUsed - a.RequestsReserved
	if left < 0 {
		return 0
	}
	return left
}
