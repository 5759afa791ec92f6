// Command splitbill is a terminal client for the shared-bill backend:
// registration, contacts and invitations, accounts with splits and payment
// proofs, plus a watch mode that polls for changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lromero/splitbill/internal/backend"
	"github.com/lromero/splitbill/internal/backend/local"
	"github.com/lromero/splitbill/internal/backend/rest"
	"github.com/lromero/splitbill/internal/config"
	"github.com/lromero/splitbill/internal/models"
	"github.com/lromero/splitbill/internal/service"
	"github.com/lromero/splitbill/internal/state"
	syncpkg "github.com/lromero/splitbill/internal/sync"
	"github.com/lromero/splitbill/pkg/logging"
)

const usage = `Usage: splitbill [flags] <command> [args]

Commands:
  register      Create an account (-email -password -handle)
  login         Verify credentials (-email -password)
  profile       Update profile fields (-name -birth -gender -gender-other)
  search        Find users by handle (args: handle)
  contacts      List contacts
  uncontact     Remove a contact (args: contact-id)
  invite        Send a contact invitation (args: handle)
  invitations   List pending invitations, both directions
  accept        Accept an invitation (args: invitation-id)
  reject        Reject an invitation (args: invitation-id)
  cancel        Cancel a sent invitation (args: invitation-id)
  accounts      List accounts, created and participating
  show          Show one account with participants (args: account-id)
  create        Create an account (-name -total -split -with -amounts)
  pay           Mark a participant paid (args: participant-id)
  unpay         Revert a payment flag (args: participant-id)
  drop          Soft-delete an account (args: account-id)
  cancel-bill   Cancel an account (args: account-id)
  proof         Attach a payment proof (args: participant-id image-file)
  unproof       Remove a payment proof (args: participant-id)
  watch         Poll for changes and print updates

Global flags:
  -config PATH  Config file (default splitbill.yaml)
  -email        Account email for commands that need a session
  -password     Account password for commands that need a session
`

// app bundles the wired services for the command handlers.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	records  backend.RecordStore
	sessions backend.SessionStore

	users       *service.UserService
	contacts    *service.ContactService
	invitations *service.InvitationService
	accounts    *service.AccountService
	proofs      *service.ProofService

	closers []func()
}

func main() {
	logging.Setup()

	globals := flag.NewFlagSet("splitbill", flag.ExitOnError)
	configPath := globals.String("config", "", "config file path")
	email := globals.String("email", os.Getenv("SPLITBILL_EMAIL"), "account email")
	password := globals.String("password", os.Getenv("SPLITBILL_PASSWORD"), "account password")
	globals.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	globals.Parse(os.Args[1:])

	args := globals.Args()
	if len(args) == 0 {
		globals.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	a, err := newApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, args[0], args[1:], *email, *password); err != nil {
		if service.IsValidation(err) {
			fmt.Fprintln(os.Stderr, "invalid input:", err)
			os.Exit(2)
		}
		slog.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}

	if cfg.Backend.URL != "" {
		client := rest.New(cfg.Backend.URL, cfg.Backend.APIKey)
		a.records, a.sessions = client, client
		a.proofs = service.NewProofService(client, client, a.logger)
		a.closers = append(a.closers, client.Close)
	} else {
		b, err := local.Open(local.Options{
			DataDir:     cfg.Local.DataDir,
			TokenSecret: cfg.Local.TokenSecret,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open local backend: %w", err)
		}
		a.records, a.sessions = b, b
		a.proofs = service.NewProofService(b, b, a.logger)
		a.closers = append(a.closers, func() { b.Close() })
	}

	a.users = service.NewUserService(a.records, a.sessions, a.logger)
	a.contacts = service.NewContactService(a.records, a.logger)
	a.invitations = service.NewInvitationService(a.records, a.logger)
	a.accounts = service.NewAccountService(a.records, a.logger)
	return a, nil
}

func (a *app) close() {
	for _, fn := range a.closers {
		fn()
	}
}

// login signs in with the global credentials and returns the user.
func (a *app) login(ctx context.Context, email, password string) (*models.User, error) {
	if email == "" || password == "" {
		return nil, errors.New("this command needs -email and -password (or SPLITBILL_EMAIL / SPLITBILL_PASSWORD)")
	}
	return a.users.Login(ctx, email, password)
}

func (a *app) run(ctx context.Context, command string, args []string, email, password string) error {
	switch command {
	case "register":
		return a.cmdRegister(ctx, args)
	case "login":
		user, err := a.login(ctx, email, password)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s)\n", user.Reference, user.ID)
		return nil
	case "profile":
		return a.cmdProfile(ctx, args, email, password)
	case "search":
		return a.cmdSearch(ctx, args, email, password)
	case "contacts":
		return a.cmdContacts(ctx, email, password)
	case "uncontact":
		return a.withUserArg(ctx, args, email, password, "contact-id", func(user *models.User, id string) error {
			return a.contacts.Remove(ctx, user.ID, id)
		})
	case "invite":
		return a.cmdInvite(ctx, args, email, password)
	case "invitations":
		return a.cmdInvitations(ctx, email, password)
	case "accept":
		return a.withUserArg(ctx, args, email, password, "invitation-id", func(_ *models.User, id string) error {
			inv, err := a.invitations.Accept(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("accepted invitation %s\n", inv.ID)
			return nil
		})
	case "reject":
		return a.withUserArg(ctx, args, email, password, "invitation-id", func(_ *models.User, id string) error {
			_, err := a.invitations.Reject(ctx, id)
			return err
		})
	case "cancel":
		return a.withUserArg(ctx, args, email, password, "invitation-id", func(_ *models.User, id string) error {
			_, err := a.invitations.Cancel(ctx, id)
			return err
		})
	case "accounts":
		return a.cmdAccounts(ctx, email, password)
	case "show":
		return a.withUserArg(ctx, args, email, password, "account-id", func(_ *models.User, id string) error {
			detail, err := a.accounts.Get(ctx, id)
			if err != nil {
				return err
			}
			printAccount(detail)
			return nil
		})
	case "create":
		return a.cmdCreate(ctx, args, email, password)
	case "pay":
		return a.withUserArg(ctx, args, email, password, "participant-id", func(user *models.User, id string) error {
			_, err := a.accounts.SetPaid(ctx, user.ID, id, true)
			return err
		})
	case "unpay":
		return a.withUserArg(ctx, args, email, password, "participant-id", func(user *models.User, id string) error {
			_, err := a.accounts.SetPaid(ctx, user.ID, id, false)
			return err
		})
	case "drop":
		return a.withUserArg(ctx, args, email, password, "account-id", func(user *models.User, id string) error {
			return a.accounts.Delete(ctx, user.ID, id)
		})
	case "cancel-bill":
		return a.withUserArg(ctx, args, email, password, "account-id", func(user *models.User, id string) error {
			return a.accounts.Cancel(ctx, user.ID, id)
		})
	case "proof":
		return a.cmdProof(ctx, args, email, password)
	case "unproof":
		return a.withUserArg(ctx, args, email, password, "participant-id", func(_ *models.User, id string) error {
			_, err := a.proofs.Detach(ctx, id)
			return err
		})
	case "watch":
		return a.cmdWatch(ctx, email, password)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// withUserArg handles the common shape: sign in, take exactly one positional
// argument, run the action.
func (a *app) withUserArg(ctx context.Context, args []string, email, password, argName string, fn func(user *models.User, arg string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one argument: %s", argName)
	}
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	return fn(user, args[0])
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password (6+ characters)")
	handle := fs.String("handle", "", "unique handle, e.g. @alice")
	fs.Parse(args)

	user, err := a.users.Register(ctx, *email, *password, *password, *handle)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s as %s\n", user.Email, user.Reference)
	return nil
}

func (a *app) cmdProfile(ctx context.Context, args []string, email, password string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "full name")
	birth := fs.String("birth", "", "birth date YYYY-MM-DD")
	gender := fs.String("gender", "", "male|female|non_binary|other|prefer_not_to_say")
	genderOther := fs.String("gender-other", "", "free-text gender when -gender=other")
	fs.Parse(args)

	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	if *name != "" {
		if user, err = a.users.UpdateFullName(ctx, user.ID, *name); err != nil {
			return err
		}
	}
	if *birth != "" {
		if user, err = a.users.UpdateBirthDate(ctx, user.ID, *birth); err != nil {
			return err
		}
	}
	if *gender != "" {
		if user, err = a.users.UpdateGender(ctx, user.ID, models.Gender(*gender), *genderOther); err != nil {
			return err
		}
	}
	fmt.Printf("profile: %s (%s)\n", user.DisplayName(), user.Reference)
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string, email, password string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one argument: handle")
	}
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}

	contacts, err := a.contacts.List(ctx, user.ID)
	if err != nil {
		return err
	}
	exclude := make([]string, 0, len(contacts))
	for _, c := range contacts {
		exclude = append(exclude, c.ContactUserID)
	}

	found, err := a.users.SearchByReference(ctx, user.ID, args[0], exclude)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("no users found")
		return nil
	}
	for _, u := range found {
		fmt.Printf("%s  %s  %s\n", u.ID, u.Reference, u.DisplayName())
	}
	return nil
}

func (a *app) cmdContacts(ctx context.Context, email, password string) error {
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	contacts, err := a.contacts.List(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Println("no contacts")
		return nil
	}
	for _, c := range contacts {
		name := c.ContactUserID
		if c.ContactUser != nil {
			name = fmt.Sprintf("%s  %s", c.ContactUser.Reference, c.ContactUser.DisplayName())
		}
		fmt.Printf("%s  %s\n", c.ID, name)
	}
	return nil
}

func (a *app) cmdInvite(ctx context.Context, args []string, email, password string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one argument: handle")
	}
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	found, err := a.users.SearchByReference(ctx, user.ID, args[0], nil)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return fmt.Errorf("no user with handle %s", args[0])
	}
	target := found[0]

	already, err := a.contacts.AreContacts(ctx, user.ID, target.ID)
	if err != nil {
		return err
	}
	if already {
		return fmt.Errorf("%s is already a contact", target.Reference)
	}

	inv, err := a.invitations.Send(ctx, user.ID, target.ID)
	if errors.Is(err, backend.ErrConflict) {
		return fmt.Errorf("an invitation to %s is already pending", target.Reference)
	}
	if err != nil {
		return err
	}
	fmt.Printf("invited %s (invitation %s)\n", target.Reference, inv.ID)
	return nil
}

func (a *app) cmdInvitations(ctx context.Context, email, password string) error {
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	sent, err := a.invitations.ListSent(ctx, user.ID)
	if err != nil {
		return err
	}
	received, err := a.invitations.ListReceived(ctx, user.ID)
	if err != nil {
		return err
	}
	printInvitations("sent", sent, func(inv models.ContactInvitation) *models.User { return inv.ToUser })
	printInvitations("received", received, func(inv models.ContactInvitation) *models.User { return inv.FromUser })
	return nil
}

func printInvitations(heading string, invs []models.ContactInvitation, counterpart func(models.ContactInvitation) *models.User) {
	fmt.Printf("%s (%d):\n", heading, len(invs))
	for _, inv := range invs {
		who := "?"
		if u := counterpart(inv); u != nil {
			who = u.Reference
		}
		fmt.Printf("  %s  %s  %s\n", inv.ID, who, inv.CreatedAt.Format("2006-01-02"))
	}
}

func (a *app) cmdAccounts(ctx context.Context, email, password string) error {
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}
	created, err := a.accounts.ListCreated(ctx, user.ID)
	if err != nil {
		return err
	}
	participating, err := a.accounts.ListParticipating(ctx, user.ID)
	if err != nil {
		return err
	}

	fmt.Printf("created (%d):\n", len(created))
	for _, d := range created {
		printAccountLine(&d)
	}
	fmt.Printf("participating (%d):\n", len(participating))
	for _, d := range participating {
		printAccountLine(&d)
	}
	return nil
}

func printAccountLine(d *models.AccountDetail) {
	fmt.Printf("  %s  %-20s  %8.2f  %s  %d/%d paid\n",
		d.Account.ID, d.Account.Name, d.Account.TotalAmount,
		d.Status(), d.PaidCount(), len(d.Participants))
}

func printAccount(d *models.AccountDetail) {
	fmt.Printf("%s  %s\n", d.Account.Name, d.Status())
	fmt.Printf("total %.2f, split %s\n", d.Account.TotalAmount, d.Account.SplitMethod)
	for _, p := range d.Participants {
		who := p.UserID
		if p.User != nil {
			who = p.User.Reference
		}
		paid := " "
		if p.HasPaid {
			paid = "x"
		}
		proof := ""
		if p.PaymentProofURL != nil {
			proof = "  proof: " + *p.PaymentProofURL
		}
		fmt.Printf("  [%s] %s  %s owes %.2f%s\n", paid, p.ID, who, p.AmountOwed, proof)
	}
}

func (a *app) cmdCreate(ctx context.Context, args []string, email, password string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "account name")
	description := fs.String("description", "", "optional description")
	total := fs.Float64("total", 0, "total amount")
	splitMethod := fs.String("split", "equal", "equal|custom")
	with := fs.String("with", "", "comma-separated contact handles")
	amounts := fs.String("amounts", "", "comma-separated amounts for -split=custom, matching -with order")
	fs.Parse(args)

	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}

	handles := splitList(*with)
	if len(handles) == 0 {
		return errors.New("-with must name at least one contact handle")
	}
	contactIDs := make([]string, 0, len(handles))
	for _, handle := range handles {
		found, err := a.users.SearchByReference(ctx, user.ID, handle, nil)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no user with handle %s", handle)
		}
		contactIDs = append(contactIDs, found[0].ID)
	}

	input := service.CreateAccountInput{
		Name:           *name,
		Description:    *description,
		TotalAmount:    *total,
		SplitMethod:    models.SplitMethod(*splitMethod),
		ContactUserIDs: contactIDs,
	}
	if input.SplitMethod == models.SplitCustom {
		entries := splitList(*amounts)
		if len(entries) != len(contactIDs) {
			return fmt.Errorf("-amounts must list %d values", len(contactIDs))
		}
		input.CustomAmounts = make(map[string]float64, len(entries))
		for i, entry := range entries {
			var amount float64
			if _, err := fmt.Sscanf(entry, "%g", &amount); err != nil {
				return fmt.Errorf("bad amount %q: %w", entry, err)
			}
			input.CustomAmounts[contactIDs[i]] = amount
		}
	}

	detail, err := a.accounts.Create(ctx, user.ID, input)
	if err != nil {
		return err
	}
	printAccount(detail)
	return nil
}

func (a *app) cmdProof(ctx context.Context, args []string, email, password string) error {
	if len(args) != 2 {
		return errors.New("expected arguments: participant-id image-file")
	}
	if _, err := a.login(ctx, email, password); err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(args[1])), ".")
	if ext == "" {
		ext = "jpg"
	}
	contentType := "image/" + ext
	if ext == "jpg" {
		contentType = "image/jpeg"
	}

	participant, err := a.proofs.Attach(ctx, args[0], data, ext, contentType)
	if err != nil {
		return err
	}
	fmt.Printf("proof attached: %s\n", *participant.PaymentProofURL)
	return nil
}

// cmdWatch polls for changes and prints each refreshed view until
// interrupted. With Metrics.Addr set, a Prometheus endpoint exposes the
// poller counters.
func (a *app) cmdWatch(ctx context.Context, email, password string) error {
	user, err := a.login(ctx, email, password)
	if err != nil {
		return err
	}

	authState := state.NewAuthState()
	invState := state.NewInvitationState()

	registry := prometheus.NewRegistry()
	poller := syncpkg.NewPoller(a.cfg.Sync.Interval, a.logger, registry)

	poller.Register("contacts", func(ctx context.Context) error {
		contacts, err := a.contacts.List(ctx, user.ID)
		if err != nil {
			return err
		}
		authState.Set(user, contacts)
		return nil
	})
	poller.Register("invitations", func(ctx context.Context) error {
		sent, err := a.invitations.ListSent(ctx, user.ID)
		if err != nil {
			return err
		}
		received, err := a.invitations.ListReceived(ctx, user.ID)
		if err != nil {
			return err
		}
		invState.Set(sent, received)
		return nil
	})

	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
		a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
	}

	contactUpdates, cancelContacts, err := poller.Subscribe("contacts")
	if err != nil {
		return err
	}
	defer cancelContacts()
	invitationUpdates, cancelInvitations, err := poller.Subscribe("invitations")
	if err != nil {
		return err
	}
	defer cancelInvitations()

	poller.Start(ctx)
	defer poller.Stop()

	fmt.Printf("watching as %s, interval %s (ctrl-c to stop)\n", user.Reference, a.cfg.Sync.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-contactUpdates:
			snap := authState.Snapshot()
			fmt.Printf("[v%d] %d contacts\n", snap.Version, len(snap.Contacts))
		case <-invitationUpdates:
			snap := invState.Snapshot()
			fmt.Printf("[v%d] invitations: %d sent, %d received\n",
				snap.Version, len(snap.Sent), len(snap.Received))
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
