package models

import "time"

// Contact is one directed edge of a mutual contact relationship.
//
// A relationship between A and B is materialized as two rows, A→B and B→A,
// inserted together when an invitation is accepted. Removal must delete both
// rows; a failed reverse-edge delete leaves an asymmetric relation visible to
// exactly one side.
type Contact struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ContactUserID string    `json:"contact_user_id"`
	AddedAt       time.Time `json:"added_at"`

	// ContactUser is the joined public profile of the contact, populated
	// when the list query embeds it.
	ContactUser *User `json:"contact_user,omitempty"`
}
