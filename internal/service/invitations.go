package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/models"
)

// Resolution is the explicit result of rejecting or cancelling an
// invitation. The row is deleted either way; the action label exists only in
// this result, never in storage, so the pair can exchange a fresh invitation
// immediately.
type Resolution struct {
	Action       models.InvitationStatus // InvitationRejected or InvitationCancelled
	InvitationID string
}

// InvitationService implements the contact-invitation lifecycle.
//
// Lifecycle: a pending row is created by Send; Accept marks it accepted and
// materializes the two contact edges; Reject and Cancel delete the row
// outright. At most one pending invitation exists per ordered (from, to)
// pair, enforced by the store's conflict target rather than a prior read.
type InvitationService struct {
	records backend.RecordStore
	logger  *slog.Logger
}

// NewInvitationService creates an invitation service.
func NewInvitationService(records backend.RecordStore, logger *slog.Logger) *InvitationService {
	return &InvitationService{records: records, logger: logger}
}

// Send creates a pending invitation from one user to another. A pending
// invitation already covering the ordered pair yields backend.ErrConflict
// and writes nothing. Callers are responsible for checking the pair is not
// already in contact.
func (s *InvitationService) Send(ctx context.Context, fromUserID, toUserID string) (*models.ContactInvitation, error) {
	if fromUserID == toUserID {
		return nil, validationf("cannot invite yourself")
	}

	row, err := s.records.Upsert(ctx, "contact_invitations", backend.Row{
		"from_user_id": fromUserID,
		"to_user_id":   toUserID,
		"status":       string(models.InvitationPending),
	}, "from_user_id", "to_user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to send invitation: %w", err)
	}

	inv, err := backend.Decode[models.ContactInvitation](row)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invitation sent", "invitation_id", inv.ID, "from", fromUserID, "to", toUserID)
	return &inv, nil
}

// ListSent returns the user's pending outbound invitations, newest first,
// each carrying the recipient's public profile.
func (s *InvitationService) ListSent(ctx context.Context, userID string) ([]models.ContactInvitation, error) {
	return s.list(ctx, "from_user_id", userID, "to_user:to_user_id")
}

// ListReceived returns the user's pending inbound invitations, newest first,
// each carrying the sender's public profile.
func (s *InvitationService) ListReceived(ctx context.Context, userID string) ([]models.ContactInvitation, error) {
	return s.list(ctx, "to_user_id", userID, "from_user:from_user_id")
}

func (s *InvitationService) list(ctx context.Context, filterColumn, userID, embed string) ([]models.ContactInvitation, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "contact_invitations",
		Columns: "*, " + embed + "(" + profileColumns + ")",
		Filters: []backend.Filter{
			backend.Eq(filterColumn, userID),
			backend.Eq("status", string(models.InvitationPending)),
		},
		Order: &backend.Order{Column: "created_at", Descending: true},
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[models.ContactInvitation](rows)
}

// Accept marks a pending invitation accepted and inserts the two contact
// edges, requester to target and target to requester.
//
// The steps are not transactional. To keep a retry convergent, an edge that
// already exists is treated as inserted; a retry after a partial failure
// finishes the remaining edge instead of failing on the first. A missing or
// already-resolved invitation yields backend.ErrNotFound, which callers
// should treat as "already resolved" and refresh.
func (s *InvitationService) Accept(ctx context.Context, invitationID string) (*models.ContactInvitation, error) {
	rows, err := s.records.Update(ctx, "contact_invitations",
		backend.Row{"status": string(models.InvitationAccepted)},
		backend.Eq("id", invitationID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	inv, err := backend.Decode[models.ContactInvitation](rows[0])
	if err != nil {
		return nil, err
	}

	for _, edge := range [][2]string{
		{inv.ToUserID, inv.FromUserID},
		{inv.FromUserID, inv.ToUserID},
	} {
		_, err := s.records.Upsert(ctx, "contacts", backend.Row{
			"user_id":         edge[0],
			"contact_user_id": edge[1],
		}, "user_id", "contact_user_id")
		if err != nil && !errors.Is(err, backend.ErrConflict) {
			s.logger.Error("invitation accepted but edge insert failed",
				"invitation_id", inv.ID, "user_id", edge[0], "error", err)
			return nil, fmt.Errorf("failed to create contact: %w", err)
		}
	}

	s.logger.Info("invitation accepted", "invitation_id", inv.ID)
	return &inv, nil
}

// Reject deletes the invitation and reports the rejection.
func (s *InvitationService) Reject(ctx context.Context, invitationID string) (*Resolution, error) {
	return s.resolve(ctx, invitationID, models.InvitationRejected)
}

// Cancel deletes the invitation and reports the cancellation. Cancelling is
// the sender-side twin of Reject; storage cannot tell them apart.
func (s *InvitationService) Cancel(ctx context.Context, invitationID string) (*Resolution, error) {
	return s.resolve(ctx, invitationID, models.InvitationCancelled)
}

func (s *InvitationService) resolve(ctx context.Context, invitationID string, action models.InvitationStatus) (*Resolution, error) {
	if err := s.records.Delete(ctx, "contact_invitations", backend.Eq("id", invitationID)); err != nil {
		return nil, fmt.Errorf("failed to resolve invitation: %w", err)
	}
	s.logger.Info("invitation resolved", "invitation_id", invitationID, "action", action)
	return &Resolution{Action: action, InvitationID: invitationID}, nil
}
