// Package state holds the client-side caches the UI reads from.
//
// Each container owns one slice of the remote data and replaces it wholesale
// on refresh. A refresh produces an immutable snapshot with a monotonically
// increasing version; consumers either read the latest snapshot or subscribe
// to a channel that carries the newest one. Containers are independent; there
// are no cross-container invariants.
package state

import (
	"sync"
	"time"

	"github.com/lromero/splitbill/internal/models"
)

// store is the publish/subscribe core shared by both containers.
type store[T any] struct {
	mu      sync.Mutex
	current T
	version uint64
	nextSub int
	subs    map[int]chan T
}

func newStore[T any]() *store[T] {
	return &store[T]{subs: make(map[int]chan T)}
}

// publish stamps the snapshot via the stamp callback and fans it out. A
// subscriber that has not drained its previous snapshot loses it; only the
// newest one matters.
func (s *store[T]) publish(stamp func(version uint64, at time.Time) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	snap := stamp(s.version, time.Now())
	s.current = snap
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	return snap
}

func (s *store[T]) get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// subscribe returns a channel carrying the newest snapshot and a cancel
// func. The channel has capacity one; cancel removes the subscription and
// closes it. Cancel is idempotent.
func (s *store[T]) subscribe() (<-chan T, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan T, 1)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// AuthSnapshot is one immutable view of the signed-in user and their
// contacts. User nil means signed out.
type AuthSnapshot struct {
	User        *models.User
	Contacts    []models.Contact
	Version     uint64
	RefreshedAt time.Time
}

// SignedIn reports whether the snapshot belongs to an authenticated user.
func (s AuthSnapshot) SignedIn() bool { return s.User != nil }

// AuthState caches the current user and their contact list.
type AuthState struct {
	core *store[AuthSnapshot]
}

// NewAuthState creates an empty, signed-out auth state.
func NewAuthState() *AuthState {
	return &AuthState{core: newStore[AuthSnapshot]()}
}

// Set replaces the cached user and contacts.
func (s *AuthState) Set(user *models.User, contacts []models.Contact) AuthSnapshot {
	return s.core.publish(func(version uint64, at time.Time) AuthSnapshot {
		return AuthSnapshot{User: user, Contacts: contacts, Version: version, RefreshedAt: at}
	})
}

// Clear resets to the signed-out state, bumping the version so subscribers
// observe the sign-out.
func (s *AuthState) Clear() AuthSnapshot {
	return s.Set(nil, nil)
}

// Snapshot returns the latest snapshot.
func (s *AuthState) Snapshot() AuthSnapshot { return s.core.get() }

// Subscribe returns a channel of new snapshots and a cancel func.
func (s *AuthState) Subscribe() (<-chan AuthSnapshot, func()) { return s.core.subscribe() }

// InvitationSnapshot is one immutable view of the pending invitations in
// both directions.
type InvitationSnapshot struct {
	Sent        []models.ContactInvitation
	Received    []models.ContactInvitation
	Version     uint64
	RefreshedAt time.Time
}

// InvitationState caches the pending sent and received invitations.
type InvitationState struct {
	core *store[InvitationSnapshot]
}

// NewInvitationState creates an empty invitation state.
func NewInvitationState() *InvitationState {
	return &InvitationState{core: newStore[InvitationSnapshot]()}
}

// Set replaces both invitation lists.
func (s *InvitationState) Set(sent, received []models.ContactInvitation) InvitationSnapshot {
	return s.core.publish(func(version uint64, at time.Time) InvitationSnapshot {
		return InvitationSnapshot{Sent: sent, Received: received, Version: version, RefreshedAt: at}
	})
}

// Snapshot returns the latest snapshot.
func (s *InvitationState) Snapshot() InvitationSnapshot { return s.core.get() }

// Subscribe returns a channel of new snapshots and a cancel func.
func (s *InvitationState) Subscribe() (<-chan InvitationSnapshot, func()) {
	return s.core.subscribe()
}
