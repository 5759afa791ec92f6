package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/models"
	"github.com/lromero/splitbill/internal/split"
)

// CreateAccountInput describes a new bill: a name, the total, the split
// policy and the selected contacts. CustomAmounts maps contact user IDs to
// their entered amounts and is consulted only for the custom policy.
type CreateAccountInput struct {
	Name           string
	Description    string
	TotalAmount    float64
	SplitMethod    models.SplitMethod
	ContactUserIDs []string
	CustomAmounts  map[string]float64
}

// AccountService manages accounts and their participants.
type AccountService struct {
	records backend.RecordStore
	logger  *slog.Logger
}

// NewAccountService creates an account service.
func NewAccountService(records backend.RecordStore, logger *slog.Logger) *AccountService {
	return &AccountService{records: records, logger: logger}
}

// Create validates the input and creates the account with all participant
// rows. The account ID is generated client-side and doubles as an
// idempotency token: see CreateWithID.
func (s *AccountService) Create(ctx context.Context, creatorID string, input CreateAccountInput) (*models.AccountDetail, error) {
	return s.CreateWithID(ctx, creatorID, uuid.New().String(), input)
}

// CreateWithID creates an account under a caller-chosen ID.
//
// The write sequence (account row, creator participant, one row per contact)
// has no transactional wrapper, so a mid-sequence failure leaves a partially
// populated account. Every step is an upsert keyed on the client-generated
// IDs, so re-running CreateWithID with the same account ID resumes where the
// failed attempt stopped instead of duplicating rows.
func (s *AccountService) CreateWithID(ctx context.Context, creatorID, accountID string, input CreateAccountInput) (*models.AccountDetail, error) {
	shares, creatorShare, err := computeShares(input)
	if err != nil {
		return nil, err
	}

	accountRow, err := s.records.Upsert(ctx, "accounts", backend.Row{
		"id":           accountID,
		"name":         input.Name,
		"description":  nullIfEmpty(input.Description),
		"total_amount": input.TotalAmount,
		"split_method": string(input.SplitMethod),
		"created_by":   creatorID,
	}, "id")
	if errors.Is(err, backend.ErrConflict) {
		// Resuming a previous attempt: the account row already exists.
		accountRow, err = s.accountRow(ctx, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	participants := make([]backend.Row, 0, len(input.ContactUserIDs)+1)
	participants = append(participants, backend.Row{
		"account_id":  accountID,
		"user_id":     creatorID,
		"amount_owed": creatorShare,
		"has_paid":    true,
	})
	for _, contactID := range input.ContactUserIDs {
		participants = append(participants, backend.Row{
			"account_id":  accountID,
			"user_id":     contactID,
			"amount_owed": shares[contactID],
			"has_paid":    false,
		})
	}

	// Inserted one at a time, each awaited, so a failure is attributable to
	// a specific participant.
	for _, row := range participants {
		_, err := s.records.Upsert(ctx, "account_participants", row, "account_id", "user_id")
		if err != nil && !errors.Is(err, backend.ErrConflict) {
			s.logger.Error("account partially created",
				"account_id", accountID, "user_id", row["user_id"], "error", err)
			return nil, fmt.Errorf("failed to add participant %v: %w", row["user_id"], err)
		}
	}

	account, err := backend.Decode[models.Account](accountRow)
	if err != nil {
		return nil, err
	}
	parts, err := s.participantsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		"account_id", accountID, "name", input.Name,
		"participants", len(parts), "split_method", input.SplitMethod)
	return &models.AccountDetail{Account: account, Participants: parts}, nil
}

// computeShares resolves each contact's owed amount and the creator's share
// for the chosen split policy, enforcing reconciliation for custom splits.
func computeShares(input CreateAccountInput) (map[string]float64, float64, error) {
	if input.Name == "" {
		return nil, 0, validationf("name is required")
	}
	if len(input.ContactUserIDs) == 0 {
		return nil, 0, validationf("select at least one contact")
	}

	shares := make(map[string]float64, len(input.ContactUserIDs))
	switch input.SplitMethod {
	case models.SplitEqual:
		per, err := split.EqualShare(input.TotalAmount, len(input.ContactUserIDs))
		if err != nil {
			return nil, 0, validationf("%v", err)
		}
		for _, id := range input.ContactUserIDs {
			shares[id] = per
		}
		return shares, per, nil

	case models.SplitCustom:
		entered := make([]float64, 0, len(input.ContactUserIDs))
		for _, id := range input.ContactUserIDs {
			amount, ok := input.CustomAmounts[id]
			if !ok {
				return nil, 0, validationf("missing amount for contact %s", id)
			}
			shares[id] = amount
			entered = append(entered, amount)
		}
		if err := split.ValidateCustomShares(input.TotalAmount, entered); err != nil {
			return nil, 0, validationf("%v", err)
		}
		return shares, split.CreatorShare(input.TotalAmount, entered), nil

	default:
		return nil, 0, validationf("unknown split method %q", input.SplitMethod)
	}
}

// Get returns one account with its participants, regardless of status.
func (s *AccountService) Get(ctx context.Context, accountID string) (*models.AccountDetail, error) {
	row, err := s.accountRow(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account, err := backend.Decode[models.Account](row)
	if err != nil {
		return nil, err
	}
	parts, err := s.participantsFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &models.AccountDetail{Account: account, Participants: parts}, nil
}

// ListCreated returns the accounts the user created, newest first, excluding
// soft-deleted ones.
func (s *AccountService) ListCreated(ctx context.Context, userID string) ([]models.AccountDetail, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "accounts",
		Columns: "*, creator:created_by(" + profileColumns + ")",
		Filters: []backend.Filter{
			backend.Eq("created_by", userID),
			backend.Neq("status", string(models.AccountDeleted)),
		},
		Order: &backend.Order{Column: "created_at", Descending: true},
	})
	if err != nil {
		return nil, err
	}
	return s.withParticipants(ctx, rows)
}

// ListParticipating returns the accounts the user was added to by someone
// else, newest first, excluding soft-deleted ones.
func (s *AccountService) ListParticipating(ctx context.Context, userID string) ([]models.AccountDetail, error) {
	memberRows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "account_participants",
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
	})
	if err != nil {
		return nil, err
	}

	var details []models.AccountDetail
	for _, member := range memberRows {
		accountID, _ := member["account_id"].(string)
		row, err := s.accountRow(ctx, accountID)
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		account, err := backend.Decode[models.Account](row)
		if err != nil {
			return nil, err
		}
		if account.CreatedBy == userID {
			continue
		}
		if account.Status != nil && *account.Status == models.AccountDeleted {
			continue
		}
		parts, err := s.participantsFor(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, models.AccountDetail{Account: account, Participants: parts})
	}

	sort.Slice(details, func(i, j int) bool {
		return details[i].Account.CreatedAt.After(details[j].Account.CreatedAt)
	})
	return details, nil
}

// Cancel flags the account cancelled. The flag dominates the derived status.
func (s *AccountService) Cancel(ctx context.Context, creatorID, accountID string) error {
	return s.setStatus(ctx, creatorID, accountID, models.AccountCancelled)
}

// Delete soft-deletes the account; rows are never removed.
func (s *AccountService) Delete(ctx context.Context, creatorID, accountID string) error {
	return s.setStatus(ctx, creatorID, accountID, models.AccountDeleted)
}

func (s *AccountService) setStatus(ctx context.Context, creatorID, accountID string, status models.AccountStatus) error {
	_, err := s.records.Update(ctx, "accounts",
		backend.Row{"status": string(status)},
		backend.Eq("id", accountID),
		backend.Eq("created_by", creatorID),
	)
	if err != nil {
		return fmt.Errorf("failed to mark account %s: %w", status, err)
	}
	s.logger.Info("account status changed", "account_id", accountID, "status", status)
	return nil
}

// SetPaid updates a participant's payment flag.
//
// A participant may only set their own flag, and only to true; the creator
// may set any participant's flag in either direction.
func (s *AccountService) SetPaid(ctx context.Context, actorID, participantID string, paid bool) (*models.AccountParticipant, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "account_participants",
		Filters: []backend.Filter{backend.Eq("id", participantID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("participant %s: %w", participantID, backend.ErrNotFound)
	}
	participant, err := backend.Decode[models.AccountParticipant](rows[0])
	if err != nil {
		return nil, err
	}

	accountRow, err := s.accountRow(ctx, participant.AccountID)
	if err != nil {
		return nil, err
	}
	account, err := backend.Decode[models.Account](accountRow)
	if err != nil {
		return nil, err
	}

	if actorID != account.CreatedBy {
		if actorID != participant.UserID {
			return nil, validationf("only the creator may update other participants")
		}
		if !paid {
			return nil, validationf("a participant cannot revert their own payment")
		}
	}

	updated, err := s.records.Update(ctx, "account_participants",
		backend.Row{"has_paid": paid},
		backend.Eq("id", participantID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment flag: %w", err)
	}
	out, err := backend.Decode[models.AccountParticipant](updated[0])
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment flag updated",
		"participant_id", participantID, "has_paid", paid, "actor", actorID)
	return &out, nil
}

func (s *AccountService) accountRow(ctx context.Context, accountID string) (backend.Row, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "accounts",
		Filters: []backend.Filter{backend.Eq("id", accountID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("account %s: %w", accountID, backend.ErrNotFound)
	}
	return rows[0], nil
}

func (s *AccountService) participantsFor(ctx context.Context, accountID string) ([]models.AccountParticipant, error) {
	rows, err := s.records.Select(ctx, backend.SelectQuery{
		Table:   "account_participants",
		Columns: "*, user:user_id(" + profileColumns + ")",
		Filters: []backend.Filter{backend.Eq("account_id", accountID)},
	})
	if err != nil {
		return nil, err
	}
	return backend.DecodeAll[models.AccountParticipant](rows)
}

func (s *AccountService) withParticipants(ctx context.Context, accountRows []backend.Row) ([]models.AccountDetail, error) {
	details := make([]models.AccountDetail, 0, len(accountRows))
	for _, row := range accountRows {
		account, err := backend.Decode[models.Account](row)
		if err != nil {
			return nil, err
		}
		parts, err := s.participantsFor(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, models.AccountDetail{Account: account, Participants: parts})
	}
	return details, nil
}
