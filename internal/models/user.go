package models

import (
	"regexp"
	"strings"
	"time"
)

// Gender is the optional self-described gender on a user profile.
type Gender string

const (
	GenderMale           Gender = "male"
	GenderFemale         Gender = "female"
	GenderNonBinary      Gender = "non_binary"
	GenderPreferNotToSay Gender = "prefer_not_to_say"
	GenderOther          Gender = "other"
)

// User represents a registered user account.
//
// The ID is assigned by the identity service at sign-up; the users row is
// created by the client immediately after, keyed by the same ID. Reference is
// the unique @handle other users search for.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`

	// Optional profile fields, editable one at a time from the profile
	// screen. Gender is stored as NULL for prefer_not_to_say; GenderOther
	// carries the free-text override only while Gender is "other".
	FullName    *string `json:"full_name,omitempty"`
	BirthDate   *string `json:"birth_date,omitempty"`
	Gender      *Gender `json:"gender,omitempty"`
	GenderOther *string `json:"gender_other,omitempty"`
}

// DisplayName returns the full name when set, otherwise the handle.
func (u *User) DisplayName() string {
	if u.FullName != nil && *u.FullName != "" {
		return *u.FullName
	}
	return u.Reference
}

var referencePattern = regexp.MustCompile(`^@[a-zA-Z0-9]{1,20}$`)

// ValidateReference reports whether ref is a well-formed handle:
// "@" followed by 1-20 alphanumeric characters.
func ValidateReference(ref string) bool {
	return referencePattern.MatchString(ref)
}

// FormatReference normalizes free-form handle input: every "@" and every
// non-alphanumeric character is stripped, the remainder is truncated to 20
// characters and prefixed with a single "@". Empty input yields "".
func FormatReference(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r == '@' {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return ""
	}
	if len(clean) > 20 {
		clean = clean[:20]
	}
	return "@" + clean
}
