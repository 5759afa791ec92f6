package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/backend/local"
	"github.com/lromero/splitbill/internal/models"
)

type testEnv struct {
	backend *local.Backend
	dataDir string

	users       *UserService
	contacts    *ContactService
	invitations *InvitationService
	accounts    *AccountService
	proofs      *ProofService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	b, err := local.Open(local.Options{
		DataDir:     dataDir,
		TokenSecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("Failed to open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		backend:     b,
		dataDir:     dataDir,
		users:       NewUserService(b, b, logger),
		contacts:    NewContactService(b, logger),
		invitations: NewInvitationService(b, logger),
		accounts:    NewAccountService(b, logger),
		proofs:      NewProofService(b, b, logger),
	}
}

func (e *testEnv) register(t *testing.T, reference string) *models.User {
	t.Helper()
	email := strings.TrimPrefix(reference, "@") + "@example.com"
	user, err := e.users.Register(context.Background(), email, "secret1", "secret1", reference)
	if err != nil {
		t.Fatalf("Failed to register %s: %v", reference, err)
	}
	return user
}

// connect makes two users mutual contacts through the invitation flow.
func (e *testEnv) connect(t *testing.T, from, to *models.User) {
	t.Helper()
	ctx := context.Background()
	inv, err := e.invitations.Send(ctx, from.ID, to.ID)
	if err != nil {
		t.Fatalf("Failed to send invitation: %v", err)
	}
	if _, err := e.invitations.Accept(ctx, inv.ID); err != nil {
		t.Fatalf("Failed to accept invitation: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		email     string
		password  string
		confirm   string
		reference string
	}{
		{"empty email", "", "secret1", "secret1", "@alice"},
		{"password mismatch", "a@example.com", "secret1", "secret2", "@alice"},
		{"short password", "a@example.com", "abc", "abc", "@alice"},
		{"reference without letters", "a@example.com", "secret1", "secret1", "@!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.Register(ctx, tt.email, tt.password, tt.confirm, tt.reference)
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterNormalizesReference(t *testing.T) {
	env := newTestEnv(t)

	user, err := env.users.Register(context.Background(),
		"john@example.com", "secret1", "secret1", "Jo@hn_Doe!!")
	if err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if user.Reference != "@JohnDoe" {
		t.Errorf("Expected reference @JohnDoe, got %s", user.Reference)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.users.Register(ctx, "dup@example.com", "secret1", "secret1", "@first"); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	_, err := env.users.Register(ctx, "dup@example.com", "secret1", "secret1", "@second")
	if !errors.Is(err, backend.ErrConflict) {
		t.Errorf("Expected conflict on duplicate email, got %v", err)
	}
}

func TestLoginAndLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := env.register(t, "@alice")

	user, err := env.users.Login(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Failed to login: %v", err)
	}
	if user.ID != registered.ID {
		t.Errorf("Expected user %s, got %s", registered.ID, user.ID)
	}

	if _, err := env.users.Login(ctx, "alice@example.com", "wrong"); err == nil {
		t.Error("Expected error for wrong password")
	}

	if err := env.users.Logout(ctx); err != nil {
		t.Errorf("Failed to logout: %v", err)
	}
}

func TestSearchByReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	t.Run("finds by messy input", func(t *testing.T) {
		found, err := env.users.SearchByReference(ctx, alice.ID, "bo b!", nil)
		if err != nil {
			t.Fatalf("Failed to search: %v", err)
		}
		if len(found) != 1 || found[0].ID != bob.ID {
			t.Errorf("Expected bob, got %+v", found)
		}
	})

	t.Run("excludes self", func(t *testing.T) {
		found, err := env.users.SearchByReference(ctx, alice.ID, "@alice", nil)
		if err != nil {
			t.Fatalf("Failed to search: %v", err)
		}
		if len(found) != 0 {
			t.Errorf("Expected no results, got %+v", found)
		}
	})

	t.Run("excludes given ids", func(t *testing.T) {
		found, err := env.users.SearchByReference(ctx, alice.ID, "@bob", []string{bob.ID})
		if err != nil {
			t.Fatalf("Failed to search: %v", err)
		}
		if len(found) != 0 {
			t.Errorf("Expected no results, got %+v", found)
		}
	})
}

func TestProfileUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")

	user, err := env.users.UpdateFullName(ctx, alice.ID, "  Alice Doe  ")
	if err != nil {
		t.Fatalf("Failed to update name: %v", err)
	}
	if user.FullName == nil || *user.FullName != "Alice Doe" {
		t.Errorf("Expected trimmed full name, got %v", user.FullName)
	}

	user, err = env.users.UpdateGender(ctx, alice.ID, models.GenderOther, "nonbinary")
	if err != nil {
		t.Fatalf("Failed to update gender: %v", err)
	}
	if user.GenderOther == nil || *user.GenderOther != "nonbinary" {
		t.Errorf("Expected gender_other set, got %v", user.GenderOther)
	}

	user, err = env.users.UpdateGender(ctx, alice.ID, models.GenderPreferNotToSay, "")
	if err != nil {
		t.Fatalf("Failed to update gender: %v", err)
	}
	if user.Gender != nil {
		t.Errorf("Expected gender cleared, got %v", *user.Gender)
	}
	if user.GenderOther != nil {
		t.Errorf("Expected gender_other cleared, got %v", *user.GenderOther)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	t.Run("self invite rejected", func(t *testing.T) {
		_, err := env.invitations.Send(ctx, alice.ID, alice.ID)
		if !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	inv, err := env.invitations.Send(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Failed to send invitation: %v", err)
	}
	if inv.Status != models.InvitationPending {
		t.Errorf("Expected pending status, got %s", inv.Status)
	}

	t.Run("duplicate pending send conflicts", func(t *testing.T) {
		_, err := env.invitations.Send(ctx, alice.ID, bob.ID)
		if !errors.Is(err, backend.ErrConflict) {
			t.Errorf("Expected conflict, got %v", err)
		}
	})

	t.Run("listed for both sides", func(t *testing.T) {
		sent, err := env.invitations.ListSent(ctx, alice.ID)
		if err != nil {
			t.Fatalf("Failed to list sent: %v", err)
		}
		if len(sent) != 1 || sent[0].ToUser == nil || sent[0].ToUser.Reference != "@bob" {
			t.Errorf("Expected one sent invitation with recipient embed, got %+v", sent)
		}
		received, err := env.invitations.ListReceived(ctx, bob.ID)
		if err != nil {
			t.Fatalf("Failed to list received: %v", err)
		}
		if len(received) != 1 || received[0].FromUser == nil || received[0].FromUser.Reference != "@alice" {
			t.Errorf("Expected one received invitation with sender embed, got %+v", received)
		}
	})

	accepted, err := env.invitations.Accept(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Failed to accept: %v", err)
	}
	if accepted.Status != models.InvitationAccepted {
		t.Errorf("Expected accepted status, got %s", accepted.Status)
	}

	t.Run("accept creates both edges", func(t *testing.T) {
		for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
			ok, err := env.contacts.AreContacts(ctx, pair[0], pair[1])
			if err != nil {
				t.Fatalf("Failed to check contacts: %v", err)
			}
			if !ok {
				t.Errorf("Expected %s -> %s edge", pair[0], pair[1])
			}
		}
	})

	t.Run("accept retry converges", func(t *testing.T) {
		if _, err := env.invitations.Accept(ctx, inv.ID); err != nil {
			t.Errorf("Expected retried accept to succeed, got %v", err)
		}
	})

	t.Run("accepted invitation leaves pending lists", func(t *testing.T) {
		sent, err := env.invitations.ListSent(ctx, alice.ID)
		if err != nil {
			t.Fatalf("Failed to list sent: %v", err)
		}
		if len(sent) != 0 {
			t.Errorf("Expected no pending sent invitations, got %d", len(sent))
		}
	})
}

func TestInvitationRejectFreesPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	inv, err := env.invitations.Send(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Failed to send invitation: %v", err)
	}

	res, err := env.invitations.Reject(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Failed to reject: %v", err)
	}
	if res.Action != models.InvitationRejected || res.InvitationID != inv.ID {
		t.Errorf("Unexpected resolution %+v", res)
	}

	// The row is gone, so the same pair can exchange a fresh invitation.
	if _, err := env.invitations.Send(ctx, alice.ID, bob.ID); err != nil {
		t.Errorf("Expected re-invite to succeed after reject, got %v", err)
	}
}

func TestInvitationCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	inv, err := env.invitations.Send(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("Failed to send invitation: %v", err)
	}
	res, err := env.invitations.Cancel(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}
	if res.Action != models.InvitationCancelled {
		t.Errorf("Expected cancelled action, got %s", res.Action)
	}

	// Cancelling again reports the row already resolved.
	if _, err := env.invitations.Cancel(ctx, inv.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Expected not found for resolved invitation, got %v", err)
	}
}

func TestContactRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")
	env.connect(t, alice, bob)

	contacts, err := env.contacts.List(ctx, alice.ID)
	if err != nil {
		t.Fatalf("Failed to list contacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("Expected one contact, got %d", len(contacts))
	}
	if contacts[0].ContactUser == nil || contacts[0].ContactUser.Reference != "@bob" {
		t.Errorf("Expected embedded bob profile, got %+v", contacts[0].ContactUser)
	}

	t.Run("other user's row is rejected", func(t *testing.T) {
		if err := env.contacts.Remove(ctx, bob.ID, contacts[0].ID); !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	if err := env.contacts.Remove(ctx, alice.ID, contacts[0].ID); err != nil {
		t.Fatalf("Failed to remove contact: %v", err)
	}

	t.Run("both edges gone", func(t *testing.T) {
		for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
			ok, err := env.contacts.AreContacts(ctx, pair[0], pair[1])
			if err != nil {
				t.Fatalf("Failed to check contacts: %v", err)
			}
			if ok {
				t.Errorf("Expected %s -> %s edge removed", pair[0], pair[1])
			}
		}
	})

	t.Run("unknown contact id", func(t *testing.T) {
		err := env.contacts.Remove(ctx, alice.ID, "missing")
		if !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("Expected not found, got %v", err)
		}
	})
}

func TestContactRemoveAsymmetricEdge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	// A one-way relation, as left behind by a failed reciprocal insert or
	// delete: only the forward edge exists.
	forward, err := env.backend.Insert(ctx, "contacts", backend.Row{
		"user_id":         alice.ID,
		"contact_user_id": bob.ID,
	})
	if err != nil {
		t.Fatalf("Failed to insert forward edge: %v", err)
	}

	// Removal succeeds even though the reverse-edge delete finds nothing;
	// the caller's own side is the operation's outcome.
	if err := env.contacts.Remove(ctx, alice.ID, forward["id"].(string)); err != nil {
		t.Fatalf("Expected removal to succeed without a reverse edge, got %v", err)
	}

	for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		ok, err := env.contacts.AreContacts(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("Failed to check contacts: %v", err)
		}
		if ok {
			t.Errorf("Expected no %s -> %s edge", pair[0], pair[1])
		}
	}
}

func TestAccountCreateEqualSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")
	carol := env.register(t, "@carol")
	env.connect(t, alice, bob)
	env.connect(t, alice, carol)

	detail, err := env.accounts.Create(ctx, alice.ID, CreateAccountInput{
		Name:           "Dinner",
		TotalAmount:    90,
		SplitMethod:    models.SplitEqual,
		ContactUserIDs: []string{bob.ID, carol.ID},
	})
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	if len(detail.Participants) != 3 {
		t.Fatalf("Expected 3 participants, got %d", len(detail.Participants))
	}
	for _, p := range detail.Participants {
		if math.Abs(p.AmountOwed-30) > 0.01 {
			t.Errorf("Expected share 30 for %s, got %.2f", p.UserID, p.AmountOwed)
		}
		if p.UserID == alice.ID && !p.HasPaid {
			t.Error("Expected creator participant marked paid")
		}
		if p.UserID != alice.ID && p.HasPaid {
			t.Errorf("Expected %s unpaid", p.UserID)
		}
		if p.User == nil {
			t.Errorf("Expected embedded profile for %s", p.UserID)
		}
	}
	if got := detail.Status(); got != models.AccountPending {
		t.Errorf("Expected pending status, got %s", got)
	}
	if detail.PaidCount() != 1 {
		t.Errorf("Expected paid count 1, got %d", detail.PaidCount())
	}
}

func TestAccountCreateCustomSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")
	carol := env.register(t, "@carol")

	t.Run("entered amounts above total are blocked", func(t *testing.T) {
		_, err := env.accounts.Create(ctx, alice.ID, CreateAccountInput{
			Name:           "Trip",
			TotalAmount:    100,
			SplitMethod:    models.SplitCustom,
			ContactUserIDs: []string{bob.ID, carol.ID},
			CustomAmounts:  map[string]float64{bob.ID: 80, carol.ID: 40},
		})
		if !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("missing amount is blocked", func(t *testing.T) {
		_, err := env.accounts.Create(ctx, alice.ID, CreateAccountInput{
			Name:           "Trip",
			TotalAmount:    100,
			SplitMethod:    models.SplitCustom,
			ContactUserIDs: []string{bob.ID, carol.ID},
			CustomAmounts:  map[string]float64{bob.ID: 40},
		})
		if !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("creator owes the remainder", func(t *testing.T) {
		detail, err := env.accounts.Create(ctx, alice.ID, CreateAccountInput{
			Name:           "Trip",
			TotalAmount:    100,
			SplitMethod:    models.SplitCustom,
			ContactUserIDs: []string{bob.ID, carol.ID},
			CustomAmounts:  map[string]float64{bob.ID: 40, carol.ID: 25},
		})
		if err != nil {
			t.Fatalf("Failed to create account: %v", err)
		}
		var creatorShare float64
		for _, p := range detail.Participants {
			if p.UserID == alice.ID {
				creatorShare = p.AmountOwed
			}
		}
		if math.Abs(creatorShare-35) > 0.01 {
			t.Errorf("Expected creator share 35, got %.2f", creatorShare)
		}
	})
}

func TestAccountCreateResumes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	accountID := "11111111-2222-3333-4444-555555555555"
	input := CreateAccountInput{
		Name:           "Rent",
		TotalAmount:    50,
		SplitMethod:    models.SplitEqual,
		ContactUserIDs: []string{bob.ID},
	}
	if _, err := env.accounts.CreateWithID(ctx, alice.ID, accountID, input); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}

	// A retry with the same client-generated ID converges on the same rows
	// instead of duplicating the account or its participants.
	detail, err := env.accounts.CreateWithID(ctx, alice.ID, accountID, input)
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if detail.Account.ID != accountID {
		t.Errorf("Expected account %s, got %s", accountID, detail.Account.ID)
	}
	if len(detail.Participants) != 2 {
		t.Errorf("Expected 2 participants after retry, got %d", len(detail.Participants))
	}
}

func TestAccountLists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	mustCreate := func(creator *models.User, name string, contacts []string) *models.AccountDetail {
		t.Helper()
		detail, err := env.accounts.Create(ctx, creator.ID, CreateAccountInput{
			Name:           name,
			TotalAmount:    10,
			SplitMethod:    models.SplitEqual,
			ContactUserIDs: contacts,
		})
		if err != nil {
			t.Fatalf("Failed to create account %s: %v", name, err)
		}
		return detail
	}

	byAlice := mustCreate(alice, "Alice's bill", []string{bob.ID})
	byBob := mustCreate(bob, "Bob's bill", []string{alice.ID})
	deleted := mustCreate(alice, "Old bill", []string{bob.ID})
	if err := env.accounts.Delete(ctx, alice.ID, deleted.Account.ID); err != nil {
		t.Fatalf("Failed to delete account: %v", err)
	}

	t.Run("created excludes deleted", func(t *testing.T) {
		created, err := env.accounts.ListCreated(ctx, alice.ID)
		if err != nil {
			t.Fatalf("Failed to list created: %v", err)
		}
		if len(created) != 1 || created[0].Account.ID != byAlice.Account.ID {
			t.Errorf("Expected only Alice's active bill, got %+v", created)
		}
		if created[0].Account.Creator == nil || created[0].Account.Creator.Reference != "@alice" {
			t.Errorf("Expected creator embed, got %+v", created[0].Account.Creator)
		}
	})

	t.Run("participating excludes own", func(t *testing.T) {
		participating, err := env.accounts.ListParticipating(ctx, alice.ID)
		if err != nil {
			t.Fatalf("Failed to list participating: %v", err)
		}
		if len(participating) != 1 || participating[0].Account.ID != byBob.Account.ID {
			t.Errorf("Expected only Bob's bill, got %+v", participating)
		}
	})

	t.Run("cancel dominates derived status", func(t *testing.T) {
		if err := env.accounts.Cancel(ctx, alice.ID, byAlice.Account.ID); err != nil {
			t.Fatalf("Failed to cancel: %v", err)
		}
		detail, err := env.accounts.Get(ctx, byAlice.Account.ID)
		if err != nil {
			t.Fatalf("Failed to get account: %v", err)
		}
		if got := detail.Status(); got != models.AccountCancelled {
			t.Errorf("Expected cancelled, got %s", got)
		}
	})

	t.Run("non-creator cannot change status", func(t *testing.T) {
		err := env.accounts.Delete(ctx, bob.ID, byAlice.Account.ID)
		if !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("Expected not found for non-creator, got %v", err)
		}
	})
}

func TestSetPaidPermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")
	carol := env.register(t, "@carol")

	detail, err := env.accounts.Create(ctx, alice.ID, CreateAccountInput{
		Name:           "Groceries",
		TotalAmount:    30,
		SplitMethod:    models.SplitEqual,
		ContactUserIDs: []string{bob.ID, carol.ID},
	})
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	participantID := func(userID string) string {
		for _, p := range detail.Participants {
			if p.UserID == userID {
				return p.ID
			}
		}
		t.Fatalf("No participant row for %s", userID)
		return ""
	}

	t.Run("participant marks own row paid", func(t *testing.T) {
		p, err := env.accounts.SetPaid(ctx, bob.ID, participantID(bob.ID), true)
		if err != nil {
			t.Fatalf("Failed to set paid: %v", err)
		}
		if !p.HasPaid {
			t.Error("Expected has_paid true")
		}
	})

	t.Run("participant cannot revert own row", func(t *testing.T) {
		_, err := env.accounts.SetPaid(ctx, bob.ID, participantID(bob.ID), false)
		if !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("participant cannot touch another row", func(t *testing.T) {
		_, err := env.accounts.SetPaid(ctx, bob.ID, participantID(carol.ID), true)
		if !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("creator updates any row either way", func(t *testing.T) {
		if _, err := env.accounts.SetPaid(ctx, alice.ID, participantID(carol.ID), true); err != nil {
			t.Fatalf("Failed to set paid as creator: %v", err)
		}
		if _, err := env.accounts.SetPaid(ctx, alice.ID, participantID(bob.ID), false); err != nil {
			t.Fatalf("Failed to revert as creator: %v", err)
		}
	})

	t.Run("status derives paid once everyone paid", func(t *testing.T) {
		if _, err := env.accounts.SetPaid(ctx, alice.ID, participantID(bob.ID), true); err != nil {
			t.Fatalf("Failed to set paid: %v", err)
		}
		got, err := env.accounts.Get(ctx, detail.Account.ID)
		if err != nil {
			t.Fatalf("Failed to get account: %v", err)
		}
		if status := got.Status(); status != models.AccountPaid {
			t.Errorf("Expected paid, got %s", status)
		}
	})
}

func TestProofAttachDetach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "@alice")
	bob := env.register(t, "@bob")

	detail, err := env.accounts.Create(ctx, alice.ID, CreateAccountInput{
		Name:           "Taxi",
		TotalAmount:    20,
		SplitMethod:    models.SplitEqual,
		ContactUserIDs: []string{bob.ID},
	})
	if err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	var participantID string
	for _, p := range detail.Participants {
		if p.UserID == bob.ID {
			participantID = p.ID
		}
	}

	pinned := time.UnixMilli(1700000000000)
	env.proofs.now = func() time.Time { return pinned }

	wantPath := fmt.Sprintf("%s/%s_%d.png", participantID, participantID, pinned.UnixMilli())
	onDisk := filepath.Join(env.dataDir, "blobs", ProofBucket, filepath.FromSlash(wantPath))

	t.Run("attach uploads and records url", func(t *testing.T) {
		p, err := env.proofs.Attach(ctx, participantID, []byte("png-bytes"), ".png", "image/png")
		if err != nil {
			t.Fatalf("Failed to attach proof: %v", err)
		}
		if p.PaymentProofURL == nil || !strings.HasSuffix(*p.PaymentProofURL, wantPath) {
			t.Errorf("Expected url ending in %s, got %v", wantPath, p.PaymentProofURL)
		}
		if _, err := os.Stat(onDisk); err != nil {
			t.Errorf("Expected blob on disk at %s: %v", onDisk, err)
		}
	})

	t.Run("detach removes blob and clears url", func(t *testing.T) {
		p, err := env.proofs.Detach(ctx, participantID)
		if err != nil {
			t.Fatalf("Failed to detach proof: %v", err)
		}
		if p.PaymentProofURL != nil {
			t.Errorf("Expected url cleared, got %v", *p.PaymentProofURL)
		}
		if _, err := os.Stat(onDisk); !os.IsNotExist(err) {
			t.Errorf("Expected blob removed, stat err %v", err)
		}
	})

	t.Run("detach without proof is a no-op", func(t *testing.T) {
		if _, err := env.proofs.Detach(ctx, participantID); err != nil {
			t.Errorf("Expected no-op detach, got %v", err)
		}
	})

	t.Run("failed row update removes the blob again", func(t *testing.T) {
		_, err := env.proofs.Attach(ctx, "missing-participant", []byte("png-bytes"), "png", "image/png")
		if err == nil {
			t.Fatal("Expected error for missing participant")
		}
		orphan := filepath.Join(env.dataDir, "blobs", ProofBucket, "missing-participant")
		if _, err := os.Stat(orphan); !os.IsNotExist(err) {
			t.Errorf("Expected orphan blob removed, stat err %v", err)
		}
	})

	t.Run("empty image is rejected", func(t *testing.T) {
		_, err := env.proofs.Attach(ctx, participantID, nil, "png", "image/png")
		if !IsValidation(err) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}
