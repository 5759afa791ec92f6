package models

import "time"

// SplitMethod selects how an account's total is divided among participants.
type SplitMethod string

const (
	// SplitEqual divides the total into N+1 equal parts, the creator being
	// one of the parties.
	SplitEqual SplitMethod = "equal"
	// SplitCustom uses explicitly entered per-contact amounts; the creator
	// owes the remainder.
	SplitCustom SplitMethod = "custom"
)

// AccountStatus is the user-visible state of an account. Only "cancelled" and
// "deleted" are persisted lifecycle flags; "paid" and "pending" are derived
// from the participants' payment flags.
type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountPaid      AccountStatus = "paid"
	AccountCancelled AccountStatus = "cancelled"
	AccountDeleted   AccountStatus = "deleted"
)

// Account represents a bill: a fixed total amount split among participants.
//
// Accounts are never hard-deleted by the client; cancellation and deletion
// are status flags. Status NULL (nil) means active.
type Account struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description *string     `json:"description,omitempty"`
	TotalAmount float64     `json:"total_amount"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	SplitMethod SplitMethod `json:"split_method"`

	// Status holds the persisted lifecycle flag ("cancelled"/"deleted"),
	// nil while the account is active. Use DeriveAccountStatus for the
	// user-visible status.
	Status *AccountStatus `json:"status,omitempty"`

	// Creator is the joined profile of the creating user, when embedded.
	Creator *User `json:"creator,omitempty"`
}

// AccountParticipant is one user's stake in an account. The creator gets a
// row too, inserted with HasPaid=true.
type AccountParticipant struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"account_id"`
	UserID          string  `json:"user_id"`
	AmountOwed      float64 `json:"amount_owed"`
	HasPaid         bool    `json:"has_paid"`
	PaymentProofURL *string `json:"payment_proof_url,omitempty"`

	// User is the joined profile, when embedded.
	User *User `json:"user,omitempty"`
}

// AccountDetail pairs an account with its participant rows.
type AccountDetail struct {
	Account      Account
	Participants []AccountParticipant
}

// Status returns the derived status of the account.
func (d *AccountDetail) Status() AccountStatus {
	return DeriveAccountStatus(d.Account, d.Participants)
}

// PaidCount returns how many participants have settled up.
func (d *AccountDetail) PaidCount() int {
	n := 0
	for _, p := range d.Participants {
		if p.HasPaid {
			n++
		}
	}
	return n
}

// DeriveAccountStatus computes the user-visible status: cancelled wins over
// everything, otherwise paid when every participant has paid, otherwise
// pending. The result is never persisted.
func DeriveAccountStatus(account Account, participants []AccountParticipant) AccountStatus {
	if account.Status != nil && *account.Status == AccountCancelled {
		return AccountCancelled
	}
	for _, p := range participants {
		if !p.HasPaid {
			return AccountPending
		}
	}
	if len(participants) == 0 {
		return AccountPending
	}
	return AccountPaid
}
