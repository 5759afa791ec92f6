package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/models"
)

// ContactService manages the directed contact edges.
type ContactService struct {
	records backend.RecordStore
	logger  *slog.Logger
}

// NewContactService creates a contact service.
func NewContactService(records backend.RecordStore, logger *slog.Logger) *ContactService {
	return &ContactService{records: records, logger: logger}
}

// List returns the user's contacts with their public profiles embedded.
func (s *ContactService) List(ctx context.Context, userID string) ([]models.Contact, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "contacts",
		Columns: "*, contact_user:contact_user_id(" + profileColumns + ")",
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[models.Contact](rows)
}

// AreContacts reports whether owner already has other in their contact list.
// Send callers use this as the pre-check the store does not enforce.
func (s *ContactService) AreContacts(ctx context.Context, ownerID, otherID string) (bool, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table: "contacts",
		Filters: []backend.Filter{
			backend.Eq("user_id", ownerID),
			backend.Eq("contact_user_id", otherID),
		},
		Limit: 1,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Remove deletes a contact edge and its reciprocal.
//
// The forward edge is the caller's own row and its deletion is the
// operation's outcome. A failure deleting the reciprocal edge leaves the
// other user with a one-way contact; that failure is logged, not returned,
// so the caller's side is consistent regardless.
func (s *ContactService) Remove(ctx context.Context, userID, contactID string) error {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "contacts",
		Filters: []backend.Filter{backend.Eq("id", contactID)},
		Limit:   1,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("contact %s: %w", contactID, backend.ErrNotFound)
	}
	contact, err := backend.Decode[models.Contact](rows[0])
	if err != nil {
		return err
	}
	if contact.UserID != userID {
		return validationf("contact belongs to another user")
	}

	if err := s.records.Delete(ctx, "contacts", backend.Eq("id", contactID)); err != nil {
		return fmt.Errorf("failed to remove contact: %w", err)
	}

	err = s.records.Delete(ctx, "contacts",
		backend.Eq("user_id", contact.ContactUserID),
		backend.Eq("contact_user_id", userID),
	)
	if err != nil {
		s.logger.Warn("forward edge removed but reciprocal delete failed",
			"contact_id", contactID, "error", err)
	}

	s.logger.Info("contact removed", "contact_id", contactID, "user_id", userID)
	return nil
}
