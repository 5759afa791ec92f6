// Package service implements the application's operations on top of the
// backend boundary: registration and profiles, the contact-invitation
// lifecycle, contact management, accounts and payment proofs.
//
// Services hold no state of their own; every call is a pass-through to the
// backend plus the business rules the client owns.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/models"
)

// profileColumns is the public subset of a user row embedded into contact
// and invitation listings.
const profileColumns = "id,email,reference,full_name"

// UserService handles registration, login, profile edits and handle search.
type UserService struct {
	records  backend.RecordStore
	sessions backend.SessionStore
	logger   *slog.Logger
}

// NewUserService creates a user service.
func NewUserService(records backend.RecordStore, sessions backend.SessionStore, logger *slog.Logger) *UserService {
	return &UserService{records: records, sessions: sessions, logger: logger}
}

// Register signs up a new identity and creates its users row keyed by the
// identity's ID.
//
// The two steps are not transactional: a failed row insert leaves an identity
// without a profile. The failure is surfaced; a later Register with the same
// email conflicts and the profile has to be repaired out of band.
func (s *UserService) Register(ctx context.Context, email, password, confirmPassword, reference string) (*models.User, error) {
	if email == "" || password == "" || reference == "" {
		return nil, validationf("email, password and reference are required")
	}
	if password != confirmPassword {
		return nil, validationf("passwords do not match")
	}
	if len(password) < 6 {
		return nil, validationf("password must be at least 6 characters")
	}
	reference = models.FormatReference(reference)
	if !models.ValidateReference(reference) {
		return nil, validationf("reference must be @ followed by 1-20 letters or digits")
	}

	session, err := s.sessions.SignUp(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	row, err := s.records.Insert(ctx, "users", backend.Row{
		"id":        session.UserID,
		"email":     email,
		"reference": reference,
	})
	if err != nil {
		s.logger.Error("identity created but profile insert failed",
			"user_id", session.UserID, "error", err)
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	user, err := backend.Decode[models.User](row)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "reference", user.Reference)
	return &user, nil
}

// Login authenticates and returns the user's profile.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, validationf("email and password are required")
	}
	session, err := s.sessions.SignIn(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	return s.GetUser(ctx, session.UserID)
}

// Logout ends the current session.
func (s *UserService) Logout(ctx context.Context) error {
	return s.sessions.SignOut(ctx)
}

// GetUser fetches one profile by ID.
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "users",
		Filters: []backend.Filter{backend.Eq("id", userID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, backend.ErrNotFound)
	}
	user, err := backend.Decode[models.User](rows[0])
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateFullName sets or clears the display name.
func (s *UserService) UpdateFullName(ctx context.Context, userID, fullName string) (*models.User, error) {
	return s.patchProfile(ctx, userID, backend.Row{
		"full_name": nullIfEmpty(strings.TrimSpace(fullName)),
	})
}

// UpdateBirthDate sets or clears the birth date (YYYY-MM-DD).
func (s *UserService) UpdateBirthDate(ctx context.Context, userID, birthDate string) (*models.User, error) {
	return s.patchProfile(ctx, userID, backend.Row{
		"birth_date": nullIfEmpty(birthDate),
	})
}

// UpdateGender sets the gender fields. prefer_not_to_say is stored as NULL;
// the free-text override is kept only while the gender is "other".
func (s *UserService) UpdateGender(ctx context.Context, userID string, gender models.Gender, other string) (*models.User, error) {
	patch := backend.Row{"gender": string(gender), "gender_other": nil}
	if gender == models.GenderPreferNotToSay {
		patch["gender"] = nil
	}
	if gender == models.GenderOther {
		patch["gender_other"] = nullIfEmpty(strings.TrimSpace(other))
	}
	return s.patchProfile(ctx, userID, patch)
}

func (s *UserService) patchProfile(ctx context.Context, userID string, patch backend.Row) (*models.User, error) {
	rows, err := s.records.Update(ctx, "users", patch, backend.Eq("id", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	user, err := backend.Decode[models.User](rows[0])
	if err != nil {
		return nil, err
	}
	s.logger.Info("profile updated", "user_id", userID)
	return &user, nil
}

// SearchByReference finds users by normalized handle, excluding the searcher
// and any IDs already in their contact list.
func (s *UserService) SearchByReference(ctx context.Context, selfID, input string, excludeIDs []string) ([]models.User, error) {
	reference := models.FormatReference(input)
	if reference == "" {
		return nil, validationf("reference must contain letters or digits")
	}

	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table: "users",
		Filters: []backend.Filter{
			backend.Eq("reference", reference),
			backend.Neq("id", selfID),
		},
	})
	if err != nil {
		return nil, err
	}
	users, err := backend.DecodeAll[models.User](rows)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	out := users[:0]
	for _, u := range users {
		if !excluded[u.ID] {
			out = append(out, u)
		}
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
