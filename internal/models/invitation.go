package models

import "time"

// InvitationStatus is the lifecycle state of a contact invitation.
//
// Only "pending" and "accepted" are ever persisted. Rejecting or cancelling
// deletes the row outright so the same pair can exchange a fresh invitation
// later; the rejected/cancelled labels exist only in the Resolution result
// the service returns.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationRejected  InvitationStatus = "rejected"
	InvitationCancelled InvitationStatus = "cancelled"
)

// ContactInvitation is a proposed contact relationship from one user to
// another. At most one pending invitation exists per ordered (from, to) pair,
// enforced by the store's conflict target on insert.
type ContactInvitation struct {
	ID         string           `json:"id"`
	FromUserID string           `json:"from_user_id"`
	ToUserID   string           `json:"to_user_id"`
	Status     InvitationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	// Counterpart profiles, populated by the sent/received list queries:
	// FromUser on received invitations, ToUser on sent ones.
	FromUser *User `json:"from_user,omitempty"`
	ToUser   *User `json:"to_user,omitempty"`
}
